package routemap

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/souqline/internal/platform/httpx"
	"github.com/souqline/souqline/internal/shared"
)

// Handler exposes the route-mapping administration API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	routes  chi.Routes
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// SetRoutes injects the live router for discovery. Called once after the
// router tree is fully built.
func (h *Handler) SetRoutes(routes chi.Routes) {
	h.routes = routes
}

// MountRoutes registers mapping administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/bulk", h.bulkCreate)
	r.Get("/discover", h.discover)
}

type mappingResponse struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Permission *string   `json:"permission"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type mappingRequest struct {
	Path         string `json:"path" validate:"required,startswith=/"`
	Method       string `json:"method" validate:"required"`
	PermissionID *int64 `json:"permission_id" validate:"omitempty,gt=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.service.List(r.Context(), r.URL.Query().Get("permission"))
	if err != nil {
		h.respondError(w, "list mappings", err)
		return
	}
	out := make([]mappingResponse, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, toMappingResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"mappings": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.Create(r.Context(), Mapping{Path: req.Path, Method: req.Method, PermissionID: req.PermissionID})
	if err != nil {
		h.respondError(w, "create mapping", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMappingResponse(*m))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid mapping id")
		return
	}
	var req mappingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.Update(r.Context(), id, Mapping{Path: req.Path, Method: req.Method, PermissionID: req.PermissionID})
	if err != nil {
		h.respondError(w, "update mapping", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMappingResponse(*m))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid mapping id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete mapping", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkCreateRequest struct {
	Mappings []mappingRequest `json:"mappings" validate:"required,min=1,dive"`
}

func (h *Handler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mappings := make([]Mapping, 0, len(req.Mappings))
	for _, m := range req.Mappings {
		mappings = append(mappings, Mapping{Path: m.Path, Method: m.Method, PermissionID: m.PermissionID})
	}
	inserted, err := h.service.BulkCreate(r.Context(), mappings)
	if err != nil {
		h.respondError(w, "bulk create mappings", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"inserted": inserted, "requested": len(mappings)})
}

func (h *Handler) discover(w http.ResponseWriter, r *http.Request) {
	if h.routes == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "route discovery not configured")
		return
	}
	proposals, err := h.service.Discover(r.Context(), h.routes)
	if err != nil {
		h.respondError(w, "discover routes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, httpx.ErrDuplicate):
		httpx.RespondError(w, err)
	case errors.Is(err, ErrInvalidMapping):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toMappingResponse(m Mapping) mappingResponse {
	return mappingResponse{
		ID:         m.ID,
		Path:       m.Path,
		Method:     m.Method,
		Permission: m.PermissionName,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
