package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vigilant-otter/pulsefeed/internal/api/alerts"
	"github.com/vigilant-otter/pulsefeed/internal/api/goals"
	"github.com/vigilant-otter/pulsefeed/internal/api/middleware"
	"github.com/vigilant-otter/pulsefeed/internal/api/readings"
	"github.com/vigilant-otter/pulsefeed/pkg/config"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Rate limiter for the ingest endpoint
	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.PrometheusMiddleware)

	alertsHandler := alerts.NewHandler(s.bus, s.engine, alerts.Options{
		HeartbeatInterval: s.config.HeartbeatInterval,
		MaxStreamDuration: s.config.StreamMaxDuration,
		DefaultHistory:    s.config.DefaultHistory,
	}, s.logger)
	readingsHandler := readings.NewHandler(s.engine, s.logger)
	goalsHandler := goals.NewHandler(s.engine, s.logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/stream", alertsHandler.Stream)
			r.Get("/history", alertsHandler.History)
			r.Get("/stats", alertsHandler.Stats)
			r.Post("/test", alertsHandler.Test)
		})

		r.Route("/readings", func(r chi.Router) {
			// Ingest is the only write path; rate limit it per client IP.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(ipLimiter))
				r.Post("/", readingsHandler.Ingest)
			})
			r.Get("/latest", readingsHandler.Latest)
		})

		r.Get("/baselines", readingsHandler.Baselines)
		r.Get("/goals", goalsHandler.Progress)
	})

	// Health check (public, no rate limit)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]any{
			"status":         "ok",
			"version":        config.Version,
			"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
			"subscribers":    s.bus.Stats().Subscribers,
		})
	})

	return r
}
