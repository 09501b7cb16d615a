package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqline/souqline/internal/shared"
)

// Repository provides PostgreSQL backed persistence for audit events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one event.
func (r *Repository) Insert(ctx context.Context, event *Event) error {
	var meta []byte
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
		meta = encoded
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_audit_events
			(user_id, action, severity, resource_type, resource_id, required_permission,
			 success, failure_reason, ip, user_agent, path, method, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.UserID, event.Action, event.Severity, event.ResourceType, event.ResourceID,
		event.RequiredPermission, event.Success, event.FailureReason, event.IP,
		event.UserAgent, event.Path, event.Method, meta, event.CreatedAt)
	return err
}

// List returns events matching the filters, newest first, with the total count.
func (r *Repository) List(ctx context.Context, f Filters) ([]Event, int, error) {
	where, args := buildFilterClause(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.ClampPaging(f.Page, f.PerPage)
	offset := (page - 1) * perPage

	query := `
		SELECT id, user_id, action, severity, resource_type, resource_id, required_permission,
		       success, failure_reason, ip, user_agent, path, method, metadata, created_at
		FROM security_audit_events` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, perPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event Event
			meta  []byte
		)
		if err := rows.Scan(&event.ID, &event.UserID, &event.Action, &event.Severity,
			&event.ResourceType, &event.ResourceID, &event.RequiredPermission,
			&event.Success, &event.FailureReason, &event.IP, &event.UserAgent,
			&event.Path, &event.Method, &meta, &event.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &event.Metadata); err != nil {
				return nil, 0, fmt.Errorf("audit: decode metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

// PurgeBefore deletes events older than cutoff, returning the removed count.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("audit: purge cutoff required")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func buildFilterClause(f Filters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != nil {
		conds = append(conds, "user_id = "+arg(*f.UserID))
	}
	if f.Action != "" {
		conds = append(conds, "action = "+arg(f.Action))
	}
	if f.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(f.ResourceType))
	}
	if f.Success != nil {
		conds = append(conds, "success = "+arg(*f.Success))
	}
	if f.IP != "" {
		conds = append(conds, "ip = "+arg(f.IP))
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= "+arg(f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
