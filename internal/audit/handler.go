package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
	maxExportRows    = 10000
)

// Lister serves audit event queries.
type Lister interface {
	List(ctx context.Context, f Filters) ([]Event, int, error)
}

// Handler exposes the compliance read side of the audit trail.
type Handler struct {
	logger *slog.Logger
	lister Lister
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, lister Lister) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, lister: lister}
}

// MountRoutes registers the audit listing and export endpoints. Exports are
// rate limited per principal.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.Get("/", h.list)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/export.csv", h.exportCSV)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id := shared.IdentityFromContext(r.Context()); id != nil {
		return "user:" + strconv.FormatInt(id.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type eventResponse struct {
	ID                 int64          `json:"id"`
	UserID             *int64         `json:"user_id"`
	Action             string         `json:"action"`
	Severity           string         `json:"severity"`
	ResourceType       string         `json:"resource_type,omitempty"`
	ResourceID         string         `json:"resource_id,omitempty"`
	RequiredPermission *string        `json:"required_permission,omitempty"`
	Success            bool           `json:"success"`
	FailureReason      *string        `json:"failure_reason,omitempty"`
	IP                 string         `json:"ip"`
	UserAgent          string         `json:"user_agent,omitempty"`
	Path               string         `json:"path"`
	Method             string         `json:"method"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	events, total, err := h.lister.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list audit events", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	paging := shared.NewPagination(filters.Page, filters.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"events": out,
		"paging": map[string]int{
			"page":        paging.Page,
			"per_page":    paging.PerPage,
			"total":       paging.Total,
			"total_pages": paging.TotalPages,
		},
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	filters.Page = 1
	filters.PerPage = maxExportRows
	events, _, err := h.lister.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("export audit events", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write([]string{"id", "user_id", "action", "severity", "resource_type", "resource_id",
		"required_permission", "success", "failure_reason", "ip", "user_agent", "path", "method", "metadata", "created_at"})
	for _, e := range events {
		_ = cw.Write(eventCSVRow(e))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("encode audit csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="security-audit.csv"`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write audit csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	filters := Filters{
		Action:       strings.TrimSpace(q.Get("action")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		IP:           strings.TrimSpace(q.Get("ip")),
		Page:         1,
		PerPage:      20,
	}
	if v := strings.TrimSpace(q.Get("user_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Filters{}, errInvalidFilter("user_id")
		}
		filters.UserID = &id
	}
	if v := strings.TrimSpace(q.Get("success")); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			return Filters{}, errInvalidFilter("success")
		}
		filters.Success = &success
	}
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return Filters{}, errInvalidFilter("from")
		}
		filters.From = from
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return Filters{}, errInvalidFilter("to")
		}
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return Filters{}, errInvalidFilter("range")
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return Filters{}, errInvalidFilter("page")
		}
		filters.Page = page
	}
	if v := strings.TrimSpace(q.Get("per_page")); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage <= 0 {
			return Filters{}, errInvalidFilter("per_page")
		}
		if perPage > 100 {
			perPage = 100
		}
		filters.PerPage = perPage
	}
	return filters, nil
}

type errInvalidFilter string

func (e errInvalidFilter) Error() string {
	return "invalid filter: " + string(e)
}

func eventCSVRow(e Event) []string {
	userID := ""
	if e.UserID != nil {
		userID = strconv.FormatInt(*e.UserID, 10)
	}
	required := ""
	if e.RequiredPermission != nil {
		required = *e.RequiredPermission
	}
	reason := ""
	if e.FailureReason != nil {
		reason = *e.FailureReason
	}
	meta := ""
	if len(e.Metadata) > 0 {
		if encoded, err := json.Marshal(e.Metadata); err == nil {
			meta = string(encoded)
		}
	}
	return []string{
		strconv.FormatInt(e.ID, 10),
		userID,
		e.Action,
		e.Severity,
		e.ResourceType,
		e.ResourceID,
		required,
		strconv.FormatBool(e.Success),
		reason,
		e.IP,
		e.UserAgent,
		e.Path,
		e.Method,
		meta,
		e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toEventResponse(e Event) eventResponse {
	return eventResponse{
		ID:                 e.ID,
		UserID:             e.UserID,
		Action:             e.Action,
		Severity:           e.Severity,
		ResourceType:       e.ResourceType,
		ResourceID:         e.ResourceID,
		RequiredPermission: e.RequiredPermission,
		Success:            e.Success,
		FailureReason:      e.FailureReason,
		IP:                 e.IP,
		UserAgent:          e.UserAgent,
		Path:               e.Path,
		Method:             e.Method,
		Metadata:           e.Metadata,
		CreatedAt:          e.CreatedAt,
	}
}
