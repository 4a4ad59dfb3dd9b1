// Package server assembles the HTTP surface: routes, middleware chain, and
// graceful lifecycle around the orchestrator and the trust ledger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/triton/pkg/config"
	"mercator-hq/triton/pkg/orchestrator"
	"mercator-hq/triton/pkg/server/handlers"
	"mercator-hq/triton/pkg/server/middleware"
	"mercator-hq/triton/pkg/telemetry/metrics"
	"mercator-hq/triton/pkg/trace"
)

// DisclosureHeader marks every response as machine-mediated output.
const DisclosureHeader = "X-AI-Generated"

// Server is the control plane's HTTP server.
type Server struct {
	config       config.ServerConfig
	orch         *orchestrator.Orchestrator
	ledger       *trace.Ledger
	collector    *metrics.Collector
	readyChecks  []handlers.ReadyCheck
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a server. collector may be nil to disable /metrics.
func New(cfg config.ServerConfig, orch *orchestrator.Orchestrator, ledger *trace.Ledger, collector *metrics.Collector, readyChecks []handlers.ReadyCheck) *Server {
	return &Server{
		config:      cfg,
		orch:        orch,
		ledger:      ledger,
		collector:   collector,
		readyChecks: readyChecks,
	}
}

// Start runs the server and blocks until the context is cancelled, a
// shutdown signal arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}
		slog.Info("server stopped")
	})
	return shutdownErr
}

// setupRoutes builds the mux and wraps it in the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	chat := handlers.NewChatHandler(s.orch)
	approve := handlers.NewApproveHandler(s.orch)
	execute := handlers.NewExecuteHandler(s.orch)
	trust := handlers.NewTrustHandler(s.ledger)
	health := handlers.NewHealthHandler(s.readyChecks)

	auth := middleware.BearerAuth(s.authToken())

	mux.Handle("POST /v1/chat/completions", auth(chat))
	mux.Handle("POST /v1/tools/approve", auth(approve))
	mux.Handle("POST /v1/tools/execute", auth(execute))
	mux.Handle("GET /v1/trust/events", auth(http.HandlerFunc(trust.Events)))
	mux.Handle("GET /v1/trust/trace/{id}", auth(http.HandlerFunc(trust.Trace)))
	mux.Handle("GET /v1/trust/verify/{id}", auth(http.HandlerFunc(trust.Verify)))
	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /ready", health.Ready)
	if s.collector != nil {
		mux.Handle("GET /metrics", s.collector.Handler())
	}

	var handler http.Handler = disclose(mux)
	handler = middleware.RateLimit(middleware.NewRateLimiter(s.config.RateLimitPerMinute))(handler)
	handler = middleware.MaxBody(s.config.MaxBodyBytes)(handler)
	var rm *metrics.RequestMetrics
	if s.collector != nil {
		rm = s.collector.Requests
	}
	handler = middleware.Logging(rm)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)
	return handler
}

func (s *Server) authToken() string {
	if !s.config.AuthEnabled {
		return ""
	}
	return s.config.AuthToken
}

// disclose stamps the AI disclosure header on every response.
func disclose(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(DisclosureHeader, "true")
		next.ServeHTTP(w, r)
	})
}
