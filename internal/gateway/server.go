// Package gateway serves the toolgate HTTP surface: the health and
// metrics endpoints and the WebSocket conversation channel. Each
// accepted WebSocket connection gets one session, one orchestrator
// context, and one dispatch goroutine; disconnects cancel the
// connection context, which aborts in-flight LLM runs and upstream
// tool calls.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tesserahq/toolgate/internal/config"
	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/internal/observability"
	"github.com/tesserahq/toolgate/internal/orchestrator"
)

// Server is the toolgate gateway server.
type Server struct {
	config  *config.Config
	deps    orchestrator.Deps
	health  *infra.HealthRegistry
	metrics *observability.Metrics
	logger  *slog.Logger

	httpServer   *http.Server
	httpListener net.Listener
	startTime    time.Time
}

// NewServer creates a gateway server. The orchestrator deps are handed
// to every conversation session as-is; health and metrics may be nil,
// in which case /healthz always reports ok and the connection gauge
// goes unrecorded.
func NewServer(cfg *config.Config, deps orchestrator.Deps, health *infra.HealthRegistry, metrics *observability.Metrics, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("gateway: command bus is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    cfg,
		deps:      deps,
		health:    health,
		metrics:   metrics,
		logger:    logger.With("component", "gateway"),
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/ws", s.newConversationHandler())
	s.registerAdminRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Stop gracefully shuts down the HTTP server. Open WebSocket
// connections are closed by the shutdown's connection context
// cancellation.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := s.httpServer.Shutdown(shutdownCtx)
	s.httpServer = nil
	s.httpListener = nil
	if err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
		return
	}
	report := s.health.CheckAll(r.Context())
	if report.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report) //nolint:errcheck
}
