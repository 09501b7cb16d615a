package users

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
	"github.com/souqline/souqline/internal/rbac"
	"github.com/souqline/souqline/internal/shared"
)

// Handler exposes the account administration API.
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

// MountRoutes registers account administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/ban", h.ban)
	r.Post("/{id}/unban", h.unban)
	r.Post("/{id}/suspend", h.suspend)
	r.Post("/{id}/unsuspend", h.unsuspend)
	r.Put("/{id}/roles", h.assignRole)
}

type userResponse struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	IsActive       bool       `json:"is_active"`
	IsBanned       bool       `json:"is_banned"`
	BanReason      string     `json:"ban_reason,omitempty"`
	BannedUntil    *time.Time `json:"banned_until,omitempty"`
	IsSuspended    bool       `json:"is_suspended"`
	RoleID         *int64     `json:"role_id"`
	AssignedRoleID *int64     `json:"assigned_role_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	users, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, "list users", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	paging := shared.NewPagination(filters.Page, filters.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users": out,
		"paging": map[string]int{
			"page":        paging.Page,
			"per_page":    paging.PerPage,
			"total":       paging.Total,
			"total_pages": paging.TotalPages,
		},
	})
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=2,max=128"`
	Password string `json:"password" validate:"required,min=10,max=128"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Create(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.respondError(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(*user))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(*user))
}

type banRequest struct {
	Reason string     `json:"reason" validate:"required,min=3,max=512"`
	Until  *time.Time `json:"until,omitempty"`
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	var req banRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Ban(r.Context(), actorFrom(r), id, Ban{Reason: req.Reason, Until: req.Until}); err != nil {
		h.respondError(w, "ban user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unban(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	if err := h.service.Unban(r.Context(), actorFrom(r), id); err != nil {
		h.respondError(w, "unban user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	if err := h.service.Suspend(r.Context(), actorFrom(r), id); err != nil {
		h.respondError(w, "suspend user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unsuspend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	if err := h.service.Unsuspend(r.Context(), actorFrom(r), id); err != nil {
		h.respondError(w, "unsuspend user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	Slot   string `json:"slot" validate:"required,oneof=business admin"`
	RoleID *int64 `json:"role_id" validate:"omitempty,gt=0"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignment := RoleAssignment{Slot: rbac.RoleType(req.Slot), RoleID: req.RoleID}
	if err := h.service.AssignRole(r.Context(), actorFrom(r), id, assignment); err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrSelfModeration), errors.Is(err, ErrBanReason), errors.Is(err, ErrSlotMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("users: %s: %w", op, err))
	}
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	filters := Filters{
		Query:   strings.TrimSpace(q.Get("q")),
		Page:    1,
		PerPage: 20,
	}
	if v := strings.TrimSpace(q.Get("banned")); v != "" {
		banned, err := strconv.ParseBool(v)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid filter: banned")
		}
		filters.Banned = &banned
	}
	if v := strings.TrimSpace(q.Get("suspended")); v != "" {
		suspended, err := strconv.ParseBool(v)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid filter: suspended")
		}
		filters.Suspended = &suspended
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

func toUserResponse(u User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		IsActive:       u.IsActive,
		IsBanned:       u.IsBanned,
		BanReason:      u.BanReason,
		BannedUntil:    u.BannedUntil,
		IsSuspended:    u.IsSuspended,
		RoleID:         u.RoleID,
		AssignedRoleID: u.AssignedRoleID,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}
