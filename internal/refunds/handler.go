package refunds

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/shared"
)

// Handler exposes the refund workflow API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the refund endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.request)
	r.Get("/{id}", h.get)
	r.Post("/{id}/review", h.transitionTo(StatusUnderReview))
	r.Post("/{id}/approve", h.transitionTo(StatusApproved))
	r.Post("/{id}/reject", h.transitionTo(StatusRejected))
	r.Post("/{id}/complete", h.transitionTo(StatusRefunded))
}

type refundResponse struct {
	ID         int64     `json:"id"`
	OrderID    int64     `json:"order_id"`
	CustomerID int64     `json:"customer_id"`
	VendorID   int64     `json:"vendor_id"`
	AmountSYP  int64     `json:"amount_syp"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason"`
	Status     Status    `json:"status"`
	ReviewerID *int64    `json:"reviewer_id,omitempty"`
	ReviewNote string    `json:"review_note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type requestRefundRequest struct {
	OrderID   int64  `json:"order_id" validate:"required,gt=0"`
	VendorID  int64  `json:"vendor_id" validate:"required,gt=0"`
	AmountSYP int64  `json:"amount_syp" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required,min=3,max=512"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	var req requestRefundRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	refund, err := h.service.Request(r.Context(), actorFrom(r), req.OrderID, req.VendorID, req.AmountSYP, req.Reason)
	if err != nil {
		h.respondError(w, "request refund", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRefundResponse(*refund))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid refund id")
		return
	}
	refund, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get refund", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRefundResponse(*refund))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	refunds, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, "list refunds", err)
		return
	}
	out := make([]refundResponse, 0, len(refunds))
	for _, refund := range refunds {
		out = append(out, toRefundResponse(refund))
	}
	paging := shared.NewPagination(filters.Page, filters.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"refunds": out,
		"paging": map[string]int{
			"page":        paging.Page,
			"per_page":    paging.PerPage,
			"total":       paging.Total,
			"total_pages": paging.TotalPages,
		},
	})
}

type transitionRequest struct {
	Note string `json:"note" validate:"max=512"`
}

func (h *Handler) transitionTo(to Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid refund id")
			return
		}
		var req transitionRequest
		if r.ContentLength > 0 {
			if err := httpx.DecodeAndValidate(r, &req); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		refund, err := h.service.Transition(r.Context(), actorFrom(r), id, to, req.Note)
		if err != nil {
			h.respondError(w, "transition refund", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toRefundResponse(*refund))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrBadTransition), errors.Is(err, ErrStaleTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrReasonNeeded):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("refunds: %s: %w", op, err))
	}
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	filters := Filters{Page: 1, PerPage: 20}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		status := Status(v)
		switch status {
		case StatusRequested, StatusUnderReview, StatusApproved, StatusRejected, StatusRefunded:
			filters.Status = status
		default:
			return Filters{}, fmt.Errorf("invalid filter: status")
		}
	}
	if v := strings.TrimSpace(q.Get("vendor_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return Filters{}, fmt.Errorf("invalid filter: vendor_id")
		}
		filters.VendorID = &id
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return Filters{}, fmt.Errorf("invalid filter: page")
		}
		filters.Page = page
	}
	if v := strings.TrimSpace(q.Get("per_page")); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage <= 0 {
			return Filters{}, fmt.Errorf("invalid filter: per_page")
		}
		if perPage > 100 {
			perPage = 100
		}
		filters.PerPage = perPage
	}
	return filters, nil
}

func actorFrom(r *http.Request) Actor {
	actor := Actor{UserAgent: r.UserAgent()}
	if identity := shared.IdentityFromContext(r.Context()); identity != nil {
		actor.UserID = identity.UserID
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		actor.IP = host
	} else {
		actor.IP = r.RemoteAddr
	}
	return actor
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func toRefundResponse(refund Refund) refundResponse {
	return refundResponse{
		ID:         refund.ID,
		OrderID:    refund.OrderID,
		CustomerID: refund.CustomerID,
		VendorID:   refund.VendorID,
		AmountSYP:  refund.AmountSYP,
		Currency:   "SYP",
		Reason:     refund.Reason,
		Status:     refund.Status,
		ReviewerID: refund.ReviewerID,
		ReviewNote: refund.ReviewNote,
		CreatedAt:  refund.CreatedAt,
		UpdatedAt:  refund.UpdatedAt,
	}
}
