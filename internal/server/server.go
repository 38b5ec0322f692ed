// Package server exposes the ingestion workflows over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"portfolio-ingestion-service/internal/reconciler"
	"portfolio-ingestion-service/pkg/logger"
)

// Config holds configuration options for the HTTP server
type Config struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	RateLimit       float64       `json:"rate_limit" mapstructure:"rate_limit"`
	RateBurst       int           `json:"rate_burst" mapstructure:"rate_burst"`
	CacheTTL        time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns a default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxUploadBytes:  32 << 20,
		RateLimit:       10,
		RateBurst:       30,
		CacheTTL:        15 * time.Minute,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate validates the server configuration
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate limit and burst must be positive, got %v/%d", c.RateLimit, c.RateBurst)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative, got %v", c.CacheTTL)
	}
	return nil
}

// Server routes HTTP requests to a reconciler.Service.
type Server struct {
	service *reconciler.Service
	config  Config
	logger  logger.Logger
	limiter *rate.Limiter
	results *cache.Cache
	router  chi.Router
}

// New creates a Server.
func New(service *reconciler.Service, config Config, log logger.Logger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		service: service,
		config:  config,
		logger:  logger.OrGlobal(log).WithComponent("server"),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		results: cache.New(config.CacheTTL, 2*config.CacheTTL),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schema/{table}", s.handleSchema)
		r.Delete("/{table}/records", s.handleDelete)

		r.Group(func(r chi.Router) {
			r.Use(s.limitBody)
			r.Post("/upload/consolidated-sheet", s.handleConsolidate)
			r.Post("/upload/{table}", s.handleUpload)
		})
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
