package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/auth"
	"github.com/souqline/souqline/internal/authz"
	"github.com/souqline/souqline/internal/observability"
	"github.com/souqline/souqline/internal/rbac"
	"github.com/souqline/souqline/internal/refunds"
	"github.com/souqline/souqline/internal/routemap"
	"github.com/souqline/souqline/internal/users"
	"github.com/souqline/souqline/internal/vendors"
	"github.com/souqline/souqline/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Metrics  *observability.Metrics
	Engine   *authz.Engine
	Auth     *auth.Service
	AuthH    *auth.Handler
	RBACH    *rbac.Handler
	RouteMap *routemap.Handler
	AuditH   *audit.Handler
	UsersH   *users.Handler
	RefundsH *refunds.Handler
	VendorsH *vendors.Handler
	JobsH    *jobs.Handler
}

// NewRouter constructs the chi router. Every /api/v1 route passes first
// through bearer identity resolution and then through the authorization
// engine; what each route requires is data in route_mappings, not code here.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Group(func(gr chi.Router) {
		gr.Use(params.Auth.Middleware(params.Logger))
		gr.Use(params.Engine.Middleware)

		gr.Route("/api/v1", func(api chi.Router) {
			api.Route("/auth", params.AuthH.MountRoutes)
			api.Route("/admin", func(admin chi.Router) {
				params.RBACH.MountRoutes(admin)
				admin.Route("/route-mappings", params.RouteMap.MountRoutes)
				admin.Route("/audit-events", params.AuditH.MountRoutes)
				admin.Route("/users", params.UsersH.MountRoutes)
				if params.JobsH != nil {
					admin.Route("/jobs", params.JobsH.MountRoutes)
				}
			})
			api.Route("/refunds", params.RefundsH.MountRoutes)
			api.Route("/vendors", params.VendorsH.MountRoutes)
		})
	})

	// Login must be reachable anonymously; everything else under /api/v1
	// answers to the route policy.
	params.Engine.Public().MarkPublic(http.MethodPost, "/api/v1/auth/login")

	// Route discovery proposals need the final routing table.
	params.RouteMap.SetRoutes(r)

	return r
}
