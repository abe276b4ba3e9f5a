package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-hms/meridian-hms/internal/audit"
	"github.com/meridian-hms/meridian-hms/internal/auth"
	"github.com/meridian-hms/meridian-hms/internal/authz"
	"github.com/meridian-hms/meridian-hms/internal/observability"
	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/roles"
	"github.com/meridian-hms/meridian-hms/internal/shared"
	"github.com/meridian-hms/meridian-hms/internal/users"
	"github.com/meridian-hms/meridian-hms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	Guard              *authz.Guard
	AuthHandler        *auth.Handler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *authz.PermissionsHandler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.RolesHandler != nil {
		r.Route("/roles", func(r chi.Router) {
			params.RolesHandler.MountRoutes(r)
		})
	}
	if params.UsersHandler != nil {
		r.Route("/users", func(r chi.Router) {
			params.UsersHandler.MountRoutes(r)
			if params.PermissionsHandler != nil {
				params.PermissionsHandler.MountUserRoutes(r)
			}
		})
	}
	if params.PermissionsHandler != nil {
		params.PermissionsHandler.MountRoutes(r)
	}
	r.Route("/admin", func(r chi.Router) {
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
		if params.Guard != nil {
			r.Route("/backups", func(r chi.Router) {
				r.Use(params.Guard.Require(shared.PermBackupsRun))
				r.Post("/", notImplemented)
			})
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Guard != nil {
		mountClinicalRoutes(r, params.Guard)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// mountClinicalRoutes wires the clinical module surfaces. The handlers are
// placeholders until each module lands; the full authorization pipeline runs
// in front of them so module access, MFA gating and SoD checks already apply.
func mountClinicalRoutes(r chi.Router, guard *authz.Guard) {
	mounts := []struct {
		path string
		view string
		edit string
	}{
		{path: "/patients", view: shared.PermPatientsView, edit: shared.PermPatientsEdit},
		{path: "/appointments", view: shared.PermAppointmentsView, edit: shared.PermAppointmentsEdit},
		{path: "/pharmacy", view: shared.PermPharmacyView, edit: shared.PermPharmacySell},
		{path: "/laboratory", view: shared.PermLaboratoryView, edit: shared.PermLaboratoryOrder},
	}
	for _, m := range mounts {
		m := m
		r.Route(m.path, func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(guard.Require(m.view))
				r.Get("/", notImplemented)
				r.Get("/{id}", notImplemented)
			})
			r.Group(func(r chi.Router) {
				r.Use(guard.Require(m.edit))
				r.Post("/", notImplemented)
				r.Put("/{id}", notImplemented)
				r.Delete("/{id}", notImplemented)
			})
		})
	}
	r.Route("/billing", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(guard.Require(shared.PermBillingView))
			r.Get("/", notImplemented)
			r.Get("/{id}", notImplemented)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard.Require(shared.PermBillingRefund))
			r.Post("/refund", notImplemented)
		})
		r.Group(func(r chi.Router) {
			r.Use(guard.Require(shared.PermBillingVoid))
			r.Post("/void", notImplemented)
		})
	})
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "this module is not available yet")
}
