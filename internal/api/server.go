package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/sheetguard/internal/config"
	"github.com/ignite/sheetguard/internal/notify"
	"github.com/ignite/sheetguard/internal/storage"
	"github.com/ignite/sheetguard/internal/validation"
)

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	validator *validation.Service,
	notifier *notify.Service,
	store storage.Store,
) *Server {
	handlers := NewHandlers(validator, notifier, store)
	router := SetupRoutes(handlers)

	return &Server{
		config:  cfg,
		handler: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Generous read/write timeouts to support large workbook uploads.
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
