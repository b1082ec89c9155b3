// Package server exposes the HTTP API: job submission, status, human
// resolution, and health.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-cli/internal/admission"
	"github.com/sells-group/dispatch-cli/internal/config"
	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/monitoring"
	"github.com/sells-group/dispatch-cli/internal/store"
)

// Submitter admits new jobs. Implemented by admission.Controller.
type Submitter interface {
	Submit(ctx context.Context, sub admission.Submission) (*model.JobHandle, error)
}

// Resolver applies human review decisions. Implemented by pipeline.Executor.
type Resolver interface {
	Resolve(ctx context.Context, jobID string, action model.DecisionAction, reviewer, note string) (*model.Job, error)
}

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	cfg       config.ServerConfig
	submitter Submitter
	resolver  Resolver
	store     store.Store
	prober    *monitoring.Prober
}

// New creates the API server.
func New(cfg config.ServerConfig, submitter Submitter, resolver Resolver, st store.Store, prober *monitoring.Prober) *Server {
	return &Server{
		cfg:       cfg,
		submitter: submitter,
		resolver:  resolver,
		store:     st,
		prober:    prober,
	}
}

// Router builds the chi router with the full middleware stack. Health is
// mounted outside auth and rate limiting so probes always get through.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(correlationID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Correlation-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(apiKeyAuth(s.cfg.APIKey))
		r.Use(rateLimit(s.cfg.RatePerSec, s.cfg.RateBurst))

		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs", s.handleList)
		r.Get("/jobs/{jobID}", s.handleGet)
		r.Post("/jobs/{jobID}/resolve", s.handleResolve)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

type submitRequest struct {
	AudioBase64   string `json:"audio_base64"`
	LanguageHint  string `json:"language_hint,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AudioBase64 == "" {
		writeError(w, http.StatusBadRequest, "audio_base64 is required")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64")
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = correlationIDFrom(r.Context())
	}

	handle, err := s.submitter.Submit(r.Context(), admission.Submission{
		Audio:         audio,
		LanguageHint:  req.LanguageHint,
		CorrelationID: correlationID,
	})
	if err != nil {
		switch {
		case eris.Is(err, admission.ErrPayloadTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "audio payload too large")
		case eris.Is(err, admission.ErrUnsupportedAudio):
			writeError(w, http.StatusUnsupportedMediaType, "unsupported audio format")
		case eris.Is(err, admission.ErrAdmissionRejected):
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusTooManyRequests, "queue at capacity, retry later")
		default:
			zap.L().Error("server: submit failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, handle)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		zap.L().Error("server: job lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	audit, err := s.store.ListAudit(r.Context(), job.CorrelationID)
	if err != nil {
		zap.L().Warn("server: audit lookup failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, struct {
		*model.Job
		Audit []model.AuditRecord `json:"audit,omitempty"`
	}{Job: job, Audit: audit})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{Limit: 100}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.JobStatus(status)
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: job list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

type resolveRequest struct {
	Action   string `json:"action"`
	Reviewer string `json:"reviewer"`
	Note     string `json:"note,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}

	action := model.DecisionAction(req.Action)
	switch action {
	case model.ActionAutoDispatch, model.ActionFlaggedDispatch, model.ActionHumanEscalation:
	default:
		writeError(w, http.StatusBadRequest, "action must be one of auto_dispatch, flagged_dispatch, human_escalation")
		return
	}

	job, err := s.resolver.Resolve(r.Context(), jobID, action, req.Reviewer, req.Note)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.prober.Check(r.Context())
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
