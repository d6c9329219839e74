package route

import (
	"net/http"
	"time"

	"watchover/internal/config"
	"watchover/internal/handler"
	"watchover/internal/logger"
	"watchover/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const slowRequest = 2 * time.Second

// Dependencies are what the HTTP surface needs from the application.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Pipeline handler.Pipeline
	Hub      handler.ViewerHub
}

// SetupRoutes registers the control API, the viewer stream, log and auth
// endpoints, and wraps them with the authentication middleware.
func SetupRoutes(deps Dependencies) http.Handler {
	cfg, log, p := deps.Config, deps.Logger.Named("http"), deps.Pipeline

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(log, slowRequest))
	r.Use(middleware.AuthMiddleware(cfg.Password))

	// Probes
	r.Get("/health", handler.HealthHandler())
	r.Get("/readiness", handler.ReadinessHandler(p))

	// API endpoints
	r.Route("/api", func(r chi.Router) {
		r.Get("/alarm", handler.AlarmStateHandler(p))
		r.Post("/alarm/toggle", handler.ToggleAlarmHandler(p))
		r.Post("/alarm/arm", handler.ArmHandler(p))
		r.Post("/alarm/disarm", handler.DisarmHandler(p))

		r.Get("/alerts", handler.RecentAlertsHandler(p, cfg.AlertLogCapacity))
		r.Get("/status", handler.StatusHandler(p))

		r.Post("/pipeline/start", handler.StartPipelineHandler(p, log))
		r.Post("/pipeline/stop", handler.StopPipelineHandler(p, log))

		r.Get("/view", handler.ViewWebsocketHandler(deps.Hub, log))
	})

	// Log endpoints
	r.Get("/logs/{level}", handler.ShowLogsHandler(deps.Logger))
	r.Post("/logs/{level}/clear", handler.ClearLogsHandler(deps.Logger))

	// Auth endpoints
	r.Post("/auth/login", handler.LoginHandler(cfg, log))
	r.Post("/auth/logout", handler.LogoutHandler)

	return r
}
