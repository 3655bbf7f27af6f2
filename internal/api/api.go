// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
	"github.com/vigilant-otter/pulsefeed/internal/engine"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address           string
	RateLimitPerIP    int           // ingest requests per minute per IP
	HeartbeatInterval time.Duration // SSE heartbeat cadence
	StreamMaxDuration time.Duration // max lifetime for one SSE connection
	DefaultHistory    int           // backlog size when unspecified
	ShutdownTimeout   time.Duration // graceful shutdown budget
	Verbose           bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 120 // 120 readings per minute
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.StreamMaxDuration == 0 {
		c.StreamMaxDuration = 30 * time.Minute
	}
	if c.DefaultHistory == 0 {
		c.DefaultHistory = 10
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config    *Config
	engine    *engine.Engine
	bus       *alert.Bus
	logger    *zap.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server.
func New(cfg *Config, eng *engine.Engine, bus *alert.Bus, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("alert bus is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config:    cfg,
		engine:    eng,
		bus:       bus,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays 0 because alert streams are long-lived SSE
		// connections; a global write timeout would cut them off.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("http api listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}
