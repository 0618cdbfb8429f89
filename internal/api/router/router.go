package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/patient-sheets/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/patient-sheets/internal/http/middleware"
	"github.com/wolfman30/patient-sheets/internal/http/respond"
	"github.com/wolfman30/patient-sheets/internal/patients"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger     *logging.Logger
	Session    *handlers.SessionHandler
	Containers *handlers.ContainerHandler
	Patients   *patients.Handler
	Exports    *handlers.ExportHandler
	Selection  httpmiddleware.SelectionChecker

	StaffAuthSecret    string
	RateLimitPerSecond float64
	RateLimitBurst     int
	MetricsHandler     http.Handler
	MetricsToken       string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured. ctx bounds
// background work owned by the middleware stack.
func New(ctx context.Context, cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.With(requireMetricsToken(cfg.MetricsToken)).Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Session != nil {
			public.Get("/oauth/callback", cfg.Session.Callback)
		}
	})

	r.Route("/api", func(api chi.Router) {
		if cfg.StaffAuthSecret != "" {
			api.Use(httpmiddleware.StaffJWT(cfg.StaffAuthSecret))
		} else if cfg.Logger != nil {
			cfg.Logger.Warn("staff auth secret not set; /api is unauthenticated")
		}
		if cfg.RateLimitPerSecond > 0 {
			api.Use(httpmiddleware.RateLimit(ctx, cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}

		if cfg.Session != nil {
			api.Mount("/session", cfg.Session.Routes())
		}
		if cfg.Containers != nil {
			api.Mount("/containers", cfg.Containers.Routes())
			api.Mount("/selection", cfg.Containers.SelectionRoutes())
		}

		api.Group(func(selected chi.Router) {
			if cfg.Selection != nil {
				selected.Use(httpmiddleware.RequireSelection(cfg.Selection))
			}
			if cfg.Patients != nil {
				selected.Mount("/patients", cfg.Patients.Routes())
			}
			if cfg.Exports != nil {
				selected.Post("/exports", cfg.Exports.Create)
			}
		})
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
