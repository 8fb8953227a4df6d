package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/infrastructure/config"
	"github.com/grcops/compliance-core/internal/infrastructure/telemetry"
	"github.com/grcops/compliance-core/internal/service/orchestrator"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

// EventDispatcher fans an external event out to subscribed workflows.
// Implemented by the scheduler.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event string, payload map[string]interface{}) error
}

// Server is the HTTP surface over the orchestrator.
type Server struct {
	orch       *orchestrator.Service
	registry   *workflowsvc.Registry
	dispatcher EventDispatcher
	stream     http.Handler
	metrics    http.Handler
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer builds the server and its routes. stream and metrics may be nil
// to disable those endpoints.
func NewServer(cfg *config.ServerConfig, orch *orchestrator.Service, registry *workflowsvc.Registry, dispatcher EventDispatcher, stream, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		orch:       orch,
		registry:   registry,
		dispatcher: dispatcher,
		stream:     stream,
		metrics:    metrics,
		logger:     logger,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("POST /api/v1/workflows", s.handleRegisterWorkflow)
	mux.HandleFunc("GET /api/v1/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{id}/versions", s.handleRegisterVersion)

	mux.HandleFunc("POST /api/v1/triggers/{id}", s.handleTrigger)
	mux.HandleFunc("POST /api/v1/events/{name}", s.handleEvent)

	mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/approval", s.handleApproval)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.handleCancelExecution)

	mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	mux.HandleFunc("PUT /api/v1/alerts/{id}/status", s.handleAlertStatus)
	if s.stream != nil {
		mux.Handle("GET /api/v1/alerts/stream", s.stream)
	}

	mux.HandleFunc("POST /api/v1/risks", s.handleCreateRisk)
	mux.HandleFunc("POST /api/v1/risks/{id}/analyze", s.handleAnalyzeRisk)

	mux.HandleFunc("GET /api/v1/dashboard", s.handleDashboard)

	return s.logRequests(mux)
}

// Use wraps the whole route tree in a middleware. Call before Start.
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.httpServer.Handler = mw(s.httpServer.Handler)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		telemetry.LoggerWithTrace(r.Context(), s.logger).Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		writeJSON(w, appErr.StatusCode, map[string]interface{}{
			"error": map[string]interface{}{
				"type":    appErr.Type,
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			},
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errors.ErrorTypeInternal,
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
