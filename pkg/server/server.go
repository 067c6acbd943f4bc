package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/auth"
	"github.com/circlemon/circlemon/pkg/monitor"
	"github.com/circlemon/circlemon/pkg/observability"
)

// PassService runs passes and remembers the last one
type PassService interface {
	monitor.PassRunner
	LastReport() *api.PassReport
}

// Config configures the trigger server
type Config struct {
	Addr   string
	Passes PassService
	Events *observability.EventStream

	// Tokens validates bearer tokens on POST /api/v1/passes; nil disables authentication
	Tokens *auth.TokenManager

	// Ready reports whether the service can run passes; nil means always ready
	Ready func() bool

	Logger *zap.Logger
}

// Server exposes the on-demand pass trigger, the last report, audit events,
// metrics and health probes over HTTP
type Server struct {
	config   Config
	logger   *zap.Logger
	handler  http.Handler
	server   *http.Server
	listener net.Listener
}

// PassResponse is the body returned for a pass
type PassResponse struct {
	*api.PassReport
	Failed      int             `json:"failed"`
	Provisioned int             `json:"provisioned"`
	Rows        []api.StatusRow `json:"rows"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a server
func New(config Config) (*Server, error) {
	if config.Passes == nil {
		return nil, errors.New("pass service is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Tokens == nil {
		config.Logger.Warn("Trigger endpoint is not authenticated")
	}

	s := &Server{config: config, logger: config.Logger}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/passes", s.requireScope(auth.ScopeRunPass, http.HandlerFunc(s.handleRunPass)))
	mux.HandleFunc("GET /api/v1/passes/last", s.handleLastPass)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	s.handler = otelhttp.NewHandler(observability.RequestIDMiddleware(mux), "circlemon",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	s.logger.Info("Starting trigger server",
		zap.String("address", listener.Addr().String()),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Trigger server error",
				zap.Error(err),
			)
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping trigger server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown trigger server: %w", err)
	}
	return nil
}

func (s *Server) handleRunPass(w http.ResponseWriter, r *http.Request) {
	// A pass is not abandoned when the caller disconnects.
	ctx := context.WithoutCancel(r.Context())

	report, err := s.config.Passes.RunPass(ctx, monitor.SourceHTTP)
	if err != nil {
		observability.ContextLogger(r.Context(), s.logger).Error("On-demand pass failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newPassResponse(report))
}

func (s *Server) handleLastPass(w http.ResponseWriter, r *http.Request) {
	report := s.config.Passes.LastReport()
	if report == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no pass has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, newPassResponse(report))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.config.Events == nil {
		writeJSON(w, http.StatusOK, []observability.Event{})
		return
	}

	query := r.URL.Query()
	filter := observability.EventFilter{
		PassID:   query.Get("pass"),
		CircleID: query.Get("circle"),
	}
	for _, t := range query["type"] {
		filter.Types = append(filter.Types, observability.EventType(t))
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid limit %q", limit)})
			return
		}
		filter.Limit = n
	}
	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid since %q", since)})
			return
		}
		filter.StartTime = t
	}

	writeJSON(w, http.StatusOK, s.config.Events.GetEvents(filter))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.config.Ready != nil && !s.config.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// requireScope rejects requests without a valid bearer token for scope
func (s *Server) requireScope(scope string, next http.Handler) http.Handler {
	if s.config.Tokens == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.rejectAuth(w, r, "anonymous", "missing bearer token")
			return
		}

		claims, err := s.config.Tokens.Validate(token, scope)
		if err != nil {
			s.rejectAuth(w, r, "unknown", err.Error())
			return
		}

		observability.ContextLogger(r.Context(), s.logger).Debug("Authenticated trigger request",
			zap.String("subject", claims.Subject),
			zap.String("token_id", claims.ID),
		)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rejectAuth(w http.ResponseWriter, r *http.Request, actor, reason string) {
	if s.config.Events != nil {
		s.config.Events.RecordEvent(r.Context(), observability.NewAuthenticationFailedEvent(actor, reason))
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="circlemon"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

func newPassResponse(report *api.PassReport) PassResponse {
	rows := []api.StatusRow{}
	for _, o := range report.Outcomes {
		rows = append(rows, o.Rows()...)
	}
	return PassResponse{
		PassReport:  report,
		Failed:      report.Failures(),
		Provisioned: report.Provisioned(),
		Rows:        rows,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
