// Package vendors serves the seller-facing dashboard summary.
package vendors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/shared"
)

// Summary aggregates a vendor's trading position. Amounts are whole SYP.
type Summary struct {
	VendorID          int64 `json:"vendor_id"`
	ProductCount      int64 `json:"product_count"`
	OrderCount        int64 `json:"order_count"`
	RevenueSYP        int64 `json:"revenue_syp"`
	PendingRefunds    int64 `json:"pending_refunds"`
	RefundedAmountSYP int64 `json:"refunded_amount_syp"`
}

// Repository reads dashboard aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Summary computes the vendor's aggregates in one round trip.
func (r *Repository) Summary(ctx context.Context, vendorID int64) (*Summary, error) {
	summary := &Summary{VendorID: vendorID}
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products WHERE vendor_id = $1),
			(SELECT COUNT(*) FROM orders WHERE vendor_id = $1),
			(SELECT COALESCE(SUM(total_syp), 0) FROM orders WHERE vendor_id = $1 AND status = 'completed'),
			(SELECT COUNT(*) FROM refunds WHERE vendor_id = $1 AND status IN ('requested', 'under_review')),
			(SELECT COALESCE(SUM(amount_syp), 0) FROM refunds WHERE vendor_id = $1 AND status = 'refunded')`,
		vendorID).Scan(&summary.ProductCount, &summary.OrderCount, &summary.RevenueSYP,
		&summary.PendingRefunds, &summary.RefundedAmountSYP)
	if err != nil {
		return nil, fmt.Errorf("vendors: load summary: %w", err)
	}
	return summary, nil
}

// SummaryStore reads one vendor's dashboard summary.
type SummaryStore interface {
	Summary(ctx context.Context, vendorID int64) (*Summary, error)
}

var _ SummaryStore = (*Repository)(nil)

// Handler exposes the dashboard endpoints.
type Handler struct {
	logger *slog.Logger
	store  SummaryStore
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store SummaryStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store}
}

// MountRoutes registers the dashboard routes. /dashboard serves the calling
// vendor; /{id}/dashboard lets support look at any vendor and is gated by its
// own route mapping.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.ownDashboard)
	r.Get("/{id}/dashboard", h.vendorDashboard)
}

func (h *Handler) ownDashboard(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	h.respondSummary(w, r, identity.UserID)
}

func (h *Handler) vendorDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
		return
	}
	h.respondSummary(w, r, id)
}

func (h *Handler) respondSummary(w http.ResponseWriter, r *http.Request, vendorID int64) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	summary, err := h.store.Summary(ctx, vendorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("vendor dashboard", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
