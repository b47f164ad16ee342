// Package api exposes the HTTP control surface for the acquisition service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/challenge"
	"github.com/veilhq/stealthcrawler/internal/config"
	"github.com/veilhq/stealthcrawler/internal/metrics"
	"github.com/veilhq/stealthcrawler/internal/orchestrator"
	"github.com/veilhq/stealthcrawler/internal/profile"
	"github.com/veilhq/stealthcrawler/internal/scheduler"
	"github.com/veilhq/stealthcrawler/internal/stealth"
	"github.com/veilhq/stealthcrawler/internal/storage"
)

// Executor runs a single acquisition attempt outside the queue. Synchronous
// scrapes go straight through here without touching the job store.
type Executor interface {
	Execute(ctx context.Context, job acquire.Job) (*acquire.Result, orchestrator.Attempt, error)
}

// Server wires HTTP handlers to the scheduler, job store and orchestrator.
type Server struct {
	router     chi.Router
	sched      *scheduler.Scheduler
	store      acquire.JobStore
	executor   Executor
	catalog    *profile.Catalog
	challenges *challenge.Pipeline
	clock      acquire.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sched *scheduler.Scheduler,
	store acquire.JobStore,
	executor Executor,
	catalog *profile.Catalog,
	challenges *challenge.Pipeline,
	clock acquire.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		sched:      sched,
		store:      store,
		executor:   executor,
		catalog:    catalog,
		challenges: challenges,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger, clock))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey, clock))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrape", s.scrape)
		r.Get("/stats", s.stats)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.enqueueJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.CountByStatus(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	URL          string `json:"url"`
	Priority     string `json:"priority"`
	StealthLevel int    `json:"stealthLevel"`
}

type enqueueResponse struct {
	JobID    string `json:"jobId"`
	URL      string `json:"url"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.sched.Enqueue(r.Context(), req.URL, acquire.Priority(req.Priority), req.StealthLevel)
	if err != nil {
		s.writeAcquireError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{
		JobID:    job.ID,
		URL:      job.URL,
		Priority: string(job.Priority),
		Status:   "queued",
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.sched.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, storage.ErrInvalidTransition):
			s.writeError(w, http.StatusConflict, "job already finished")
		default:
			s.writeError(w, http.StatusInternalServerError, "cancel failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": string(acquire.JobStatusFailed)})
}

type scrapeRequest struct {
	URL          string `json:"url"`
	StealthLevel int    `json:"stealthLevel"`
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateTarget(req.URL); err != nil {
		s.writeAcquireError(w, err)
		return
	}
	level := req.StealthLevel
	if level == 0 {
		level = s.cfg.Stealth.DefaultLevel
	}
	// Transient job: never persisted, never queued. An empty ID also keeps
	// the orchestrator from publishing a completion event for it.
	job := acquire.Job{
		URL:          req.URL,
		Priority:     acquire.PriorityHigh,
		StealthLevel: stealth.Clamp(level),
		MaxAttempts:  1,
		Status:       acquire.JobStatusProcessing,
		CreatedAt:    s.clock.Now(),
	}
	result, _, err := s.executor.Execute(r.Context(), job)
	if err != nil {
		s.writeAcquireError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statsResponse struct {
	Total                     int   `json:"total"`
	Pending                   int   `json:"pending"`
	Processing                int   `json:"processing"`
	Completed                 int   `json:"completed"`
	Failed                    int   `json:"failed"`
	AvailableProfiles         int   `json:"availableProfiles"`
	ChallengeSolverConfigured bool  `json:"challengeSolverConfigured"`
	StealthLevels             []int `json:"stealthLevels"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.sched.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Total:                     counts.Total,
		Pending:                   counts.Pending,
		Processing:                counts.Processing,
		Completed:                 counts.Completed,
		Failed:                    counts.Failed,
		AvailableProfiles:         s.catalog.Len(),
		ChallengeSolverConfigured: s.challenges.SolverConfigured(),
		StealthLevels:             stealth.Levels(),
	})
}

func validateTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return acquire.WrapError(acquire.CodeInvalidTarget, "target URL does not parse", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return acquire.NewError(acquire.CodeInvalidTarget, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return acquire.NewError(acquire.CodeInvalidTarget, "target URL has no host")
	}
	return nil
}

// codeStatus maps failure classes to HTTP status codes.
func codeStatus(code acquire.Code) int {
	switch code {
	case acquire.CodeInvalidTarget:
		return http.StatusBadRequest
	case acquire.CodeComplianceDenied:
		return http.StatusForbidden
	case acquire.CodePathExhausted:
		return http.StatusServiceUnavailable
	case acquire.CodeNavigationTimeout:
		return http.StatusGatewayTimeout
	case acquire.CodeChallengeUnresolved:
		return http.StatusBadGateway
	case acquire.CodeExtractionValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAcquireError(w http.ResponseWriter, err error) {
	var ae *acquire.Error
	if errors.As(err, &ae) {
		s.writeError(w, codeStatus(ae.Code), ae.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusGatewayTimeout, "request timed out")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

type errorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Timestamp: s.clock.Now()})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger, clk acquire.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeJSON(w, http.StatusInternalServerError, errorResponse{
						Error:     "internal server error",
						Timestamp: clk.Now(),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string, clk acquire.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(w, http.StatusForbidden, errorResponse{
					Error:     "unauthorized",
					Timestamp: clk.Now(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
