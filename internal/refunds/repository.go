package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqline/souqline/internal/platform/db"
	"github.com/souqline/souqline/internal/shared"
)

const refundColumns = `id, order_id, customer_id, vendor_id, amount_syp, reason, status,
	reviewer_id, review_note, created_at, updated_at`

// ErrStaleTransition reports that the refund changed state underneath the
// caller.
var ErrStaleTransition = errors.New("refunds: refund state changed concurrently")

// Repository provides PostgreSQL backed persistence for refunds.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a refund request in the requested state.
func (r *Repository) Create(ctx context.Context, refund *Refund) (*Refund, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO refunds (order_id, customer_id, vendor_id, amount_syp, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+refundColumns,
		refund.OrderID, refund.CustomerID, refund.VendorID, refund.AmountSYP, refund.Reason, StatusRequested)
	created, err := scanRefund(row)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Get returns one refund.
func (r *Repository) Get(ctx context.Context, id int64) (*Refund, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
	refund, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// List returns refunds matching the filters plus the total count.
func (r *Repository) List(ctx context.Context, f Filters) ([]Refund, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if f.VendorID != nil {
		conds = append(conds, "vendor_id = "+arg(*f.VendorID))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM refunds`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.ClampPaging(f.Page, f.PerPage)
	query := `SELECT ` + refundColumns + ` FROM refunds` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var refunds []Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, 0, err
		}
		refunds = append(refunds, refund)
	}
	return refunds, total, rows.Err()
}

// Transition moves a refund from one state to another inside a transaction.
// The row is locked so concurrent reviewers cannot double-apply a decision;
// if the state moved underneath the caller, ErrStaleTransition is returned.
func (r *Repository) Transition(ctx context.Context, id int64, from, to Status, reviewerID *int64, note string) (*Refund, error) {
	var updated Refund
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var current Status
		err := tx.QueryRow(ctx, `SELECT status FROM refunds WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return err
		}
		if current != from {
			return ErrStaleTransition
		}
		row := tx.QueryRow(ctx, `
			UPDATE refunds
			SET status = $2, reviewer_id = COALESCE($3, reviewer_id), review_note = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING `+refundColumns, id, to, reviewerID, note)
		updated, err = scanRefund(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefund(row rowScanner) (Refund, error) {
	var refund Refund
	err := row.Scan(&refund.ID, &refund.OrderID, &refund.CustomerID, &refund.VendorID,
		&refund.AmountSYP, &refund.Reason, &refund.Status, &refund.ReviewerID,
		&refund.ReviewNote, &refund.CreatedAt, &refund.UpdatedAt)
	return refund, err
}
