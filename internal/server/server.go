// Package server exposes the job API over HTTP: submission, status,
// cancellation and a liveness probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"go.uber.org/zap"

	"scraperd/internal/browser"
	"scraperd/internal/entity"
	"scraperd/internal/orchestrator"
	"scraperd/internal/queue"
	"scraperd/internal/script"
	"scraperd/internal/sink"
)

// defaultAwait bounds how long an "await": true submission may hold the
// request open when no await_ms is given.
const defaultAwait = 30 * time.Second

type Server struct {
	orch    *orchestrator.Orchestrator
	results *sink.Memory
	pool    *browser.Pool
	log     *zap.Logger
}

func New(orch *orchestrator.Orchestrator, results *sink.Memory, pool *browser.Pool, log *zap.Logger) *Server {
	return &Server{orch: orch, results: results, pool: pool, log: log}
}

func (s *Server) Router() http.Handler {
	httpLogger := httplog.NewLogger("scraperd", httplog.Options{
		JSON:    true,
		Concise: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(httpLogger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/{jobID}", s.handleStatus)
		r.Delete("/{jobID}", s.handleCancel)
	})
	return r
}

type submitRequest struct {
	Steps       json.RawMessage `json:"steps"`
	Priority    int             `json:"priority"`
	TimeoutMs   int             `json:"timeout_ms"`
	MaxAttempts int             `json:"max_attempts"`
	Await       bool            `json:"await"`
	AwaitMs     int             `json:"await_ms"`
}

type jobView struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type outcomeView struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	ElapsedMs  int64           `json:"elapsed_ms"`
	FinishedAt time.Time       `json:"finished_at"`
}

type statusResponse struct {
	Job     jobView      `json:"job"`
	Outcome *outcomeView `json:"outcome,omitempty"`
}

type healthResponse struct {
	Status   string   `json:"status"`
	Pool     poolView `json:"pool"`
	QueueLen int      `json:"queue_len"`
}

type poolView struct {
	Slots    int `json:"slots"`
	Idle     int `json:"idle"`
	Inflight int `json:"inflight"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.pool.Stats()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Pool:     poolView{Slots: st.Slots, Idle: st.Idle, Inflight: st.Inflight},
		QueueLen: s.orch.QueueLen(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	steps, err := script.Parse(req.Steps)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	job, err := s.orch.Submit(orchestrator.SubmitRequest{
		Script:         steps,
		Priority:       req.Priority,
		AttemptTimeout: time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxAttempts:    req.MaxAttempts,
	})
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrFull):
			s.writeError(w, http.StatusTooManyRequests, err)
		case errors.Is(err, queue.ErrClosed):
			s.writeError(w, http.StatusServiceUnavailable, err)
		default:
			s.writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	if req.Await {
		bound := defaultAwait
		if req.AwaitMs > 0 {
			bound = time.Duration(req.AwaitMs) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(r.Context(), bound)
		defer cancel()
		if out, err := s.results.Wait(ctx, job.ID); err == nil {
			s.writeJSON(w, http.StatusOK, outcomeViewFrom(out))
			return
		}
		// Not finished within the bound; report where it stands.
		if current, err := s.orch.Job(job.ID); err == nil {
			job = current
		}
	}

	s.writeJSON(w, http.StatusAccepted, jobViewFrom(job))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.orch.Job(jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	resp := statusResponse{Job: jobViewFrom(job)}
	if out, ok := s.results.Get(jobID); ok {
		v := outcomeViewFrom(out)
		resp.Outcome = &v
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	switch err := s.orch.Cancel(jobID); {
	case errors.Is(err, orchestrator.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, orchestrator.ErrTerminal):
		s.writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		job, jerr := s.orch.Job(jobID)
		if jerr != nil {
			s.writeError(w, http.StatusNotFound, jerr)
			return
		}
		s.writeJSON(w, http.StatusAccepted, jobViewFrom(job))
	}
}

func jobViewFrom(job entity.Job) jobView {
	return jobView{
		ID:          job.ID,
		Status:      string(job.Status),
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		SubmittedAt: job.SubmittedAt,
	}
}

func outcomeViewFrom(out entity.Outcome) outcomeView {
	return outcomeView{
		JobID:      out.JobID,
		Status:     string(out.Status),
		Payload:    out.Payload,
		ErrorKind:  string(out.ErrorKind),
		Error:      out.Error,
		Attempts:   out.Attempts,
		ElapsedMs:  out.Elapsed.Milliseconds(),
		FinishedAt: out.FinishedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
