// Package httpapi is the HTTP REST adapter over control.Service, grounded
// on the teacher's hand-rolled net/http gateway: http.ServeMux, manual
// path-prefix parsing, and a shared writeJSON/writeError helper pair (no
// web framework, matching the teacher's own choice).
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/control"
)

// Config configures the Server.
type Config struct {
	Address   string
	AuthToken string // empty disables auth enforcement
}

// Server is the HTTP REST adapter.
type Server struct {
	svc       *control.Service
	config    Config
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New builds a Server. logger may be nil.
func New(svc *control.Service, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":3000"
	}
	return &Server{svc: svc, config: cfg, logger: logger.With("component", "httpapi")}
}

// Start begins listening in the background. It does not block.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.HandleFunc("/api/templates", s.handleTemplates)
	mux.HandleFunc("/api/templates/", s.handleTemplateByID)

	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskByID)

	mux.HandleFunc("/api/executions", s.handleExecutions)
	mux.HandleFunc("/api/executions/", s.handleExecutionByID)

	mux.HandleFunc("/api/credentials", s.handleCredentials)
	mux.HandleFunc("/api/credentials/", s.handleCredentialByID)

	handler := s.securityHeadersMiddleware(s.authMiddleware(mux))
	s.server = &http.Server{Addr: s.config.Address, Handler: handler}

	if s.config.AuthToken == "" {
		host, _, _ := net.SplitHostPort(s.config.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			s.logger.Warn("no auth token configured and listening on a non-loopback address",
				"address", s.config.Address)
		}
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("http api started", "address", s.config.Address)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
