package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bookshelf/internal/authctx"
	"bookshelf/internal/util"
	"bookshelf/services/api/internal/app"
	"bookshelf/services/api/internal/security"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Monitor        *security.FailureMonitor
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	// Ready reports backend health for /readyz; nil means always ready.
	Ready func(context.Context) error
}

// Server exposes the operation endpoint over HTTP.
type Server struct {
	app     *app.App
	monitor *security.FailureMonitor
	trusted *util.TrustedProxies
	origins []string
	ready   func(context.Context) error
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		monitor: cfg.Monitor,
		trusted: cfg.TrustedProxies,
		origins: cfg.AllowedOrigins,
		ready:   cfg.Ready,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", s.trusted, util.WithSecurityHeaders(s.trusted, util.WithCORS(s.origins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/api/operations", s.handleOperation)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			util.LoggerFromContext(r.Context()).Warn("readiness check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type operationRequest struct {
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

type operationError struct {
	Kind    app.Kind `json:"kind"`
	Message string   `json:"message"`
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, app.KindInvalid, "method not allowed")
		return
	}
	var req operationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, app.KindInvalid, "invalid JSON body")
		return
	}
	ac := authctx.FromRequest(r, s.app.Tokens())
	logger := util.LoggerFromContext(r.Context()).With("operation", req.OperationName, "caller", ac.String())

	result, err := s.app.Execute(r.Context(), ac, req.OperationName, req.Variables)
	if err != nil {
		kind := app.KindOf(err)
		if kind == app.KindInternal {
			logger.Error("operation failed", "kind", kind, "err", err)
		} else {
			logger.Warn("operation rejected", "kind", kind, "err", err)
		}
		s.observeFailure(r, logger, kind)
		writeError(w, statusForKind(kind), kind, app.PublicMessage(err))
		return
	}
	logger.Debug("operation completed")
	writeJSON(w, http.StatusOK, map[string]any{"data": result})
}

func (s *Server) observeFailure(r *http.Request, logger *slog.Logger, kind app.Kind) {
	if s.monitor == nil {
		return
	}
	client := util.ClientIP(r, s.trusted)
	alert, err := s.monitor.Observe(r.Context(), string(kind), client)
	if err != nil {
		logger.Warn("failure monitor unavailable", "err", err)
		return
	}
	if alert.Triggered {
		logger.Warn("security_alert",
			"kind", kind,
			"client_ip", client,
			"count", alert.Count,
			"threshold", alert.Rule.Threshold,
			"window", alert.Rule.Window.String(),
		)
	}
}

func statusForKind(kind app.Kind) int {
	switch kind {
	case app.KindUnauthenticated, app.KindInvalidCredentials:
		return http.StatusUnauthorized
	case app.KindConflict:
		return http.StatusConflict
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind app.Kind, msg string) {
	writeJSON(w, status, map[string]operationError{"error": {Kind: kind, Message: msg}})
}
