// Package api exposes the HTTP interface for the audit service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/auth"
	"github.com/speedindex/pageaudit/internal/metrics"
	"github.com/speedindex/pageaudit/internal/scheduler"
)

// Server wires HTTP handlers to the auth validator and the run scheduler.
type Server struct {
	router    chi.Router
	validator *auth.Validator
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(validator *auth.Validator, sched *scheduler.Scheduler, logger *zap.Logger) *Server {
	s := &Server{
		validator: validator,
		scheduler: sched,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.createRun)
		r.Get("/runs/{runID}", s.getRunStatus)
		r.Get("/results/{runID}", s.getResult)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRunRequest struct {
	URL             string `json:"url"`
	WaitForResponse bool   `json:"waitForResponse"`
	Device          string `json:"device"`
}

type runStatus struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error,omitempty"`
}

type runStatusResponse struct {
	RunID  string    `json:"runId"`
	Status runStatus `json:"status"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateTargetURL(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := s.validator.Validate(r.Header.Get("X-Api-Key"))
	if err != nil {
		metrics.ObserveRejection("auth")
		s.writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	params := audit.RunParams{
		URL:             req.URL,
		WaitForResponse: req.WaitForResponse,
		Device:          req.Device,
	}
	runID, err := s.scheduler.CreateRun(r.Context(), params, identity.Class, identity.Owner)
	if err != nil {
		if errors.Is(err, audit.ErrQuotaExceeded) {
			s.writeError(w, http.StatusTooManyRequests, "too many anonymous runs in progress")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !req.WaitForResponse {
		s.writeJSON(w, http.StatusOK, map[string]string{"runId": runID})
		return
	}
	s.waitAndRedirect(w, r, runID)
}

// waitAndRedirect suspends the originating request until the run finishes.
// Other requests are served normally while this one parks on the waiter
// channel.
func (s *Server) waitAndRedirect(w http.ResponseWriter, r *http.Request, runID string) {
	outcome, err := s.scheduler.Wait(r.Context(), runID)
	if err != nil {
		// The client went away or the server is shutting down; the run
		// itself continues and stays pollable.
		s.writeError(w, http.StatusGatewayTimeout, "wait interrupted")
		return
	}
	if outcome.Status == audit.RunStatusComplete {
		w.Header().Set("Location", fmt.Sprintf("/api/results/%s", runID))
		s.writeJSON(w, http.StatusFound, map[string]string{"runId": runID})
		return
	}
	s.writeError(w, http.StatusInternalServerError, outcome.ErrorText)
}

func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.scheduler.Status(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	status := runStatus{StatusCode: run.Status.StatusCode()}
	if run.Status == audit.RunStatusError {
		status.Error = run.ErrorText
	}
	s.writeJSON(w, http.StatusOK, runStatusResponse{RunID: run.ID, Status: status})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	result, err := s.scheduler.Result(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func validateTargetURL(raw string) error {
	if raw == "" {
		return errors.New("url required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("url must be absolute http or https")
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
