// Package http serves the workflow API, health endpoints and Prometheus
// metrics.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"moodlist/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	service *core.Service
	metrics *Metrics
}

type Metrics struct {
	WorkflowsTotal  *prometheus.CounterVec
	LLMCallsTotal   *prometheus.CounterVec
	CatalogCalls    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	PlaylistSize    prometheus.Histogram
	ActiveWorkflows prometheus.Gauge
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		WorkflowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_workflows_total",
				Help: "Total number of workflows by outcome",
			},
			[]string{"status"},
		),
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"provider", "status"},
		),
		CatalogCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_catalog_calls_total",
				Help: "Total number of catalog API calls",
			},
			[]string{"operation", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodlist_errors_total",
				Help: "Total number of errors by stage and kind",
			},
			[]string{"stage", "kind"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moodlist_stage_duration_seconds",
				Help:    "Time spent per pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		PlaylistSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "moodlist_playlist_size",
				Help:    "Final playlist sizes",
				Buckets: []float64{10, 15, 16, 18, 20, 22, 25, 30},
			},
		),
		ActiveWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "moodlist_active_workflows",
				Help: "Number of workflows currently running",
			},
		),
	}

	prometheus.MustRegister(
		metrics.WorkflowsTotal,
		metrics.LLMCallsTotal,
		metrics.CatalogCalls,
		metrics.ErrorsTotal,
		metrics.StageDuration,
		metrics.PlaylistSize,
		metrics.ActiveWorkflows,
	)
	return metrics
}

// The recorder methods are nil-safe so components run unchanged when no
// metrics are wired. They satisfy the instrumentation ports declared by the
// core, llm and spotify packages.

func (m *Metrics) RecordWorkflow(status string) {
	if m == nil {
		return
	}
	m.WorkflowsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordLLMCall(provider, status string) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) RecordCatalogCall(operation, status string) {
	if m == nil {
		return
	}
	m.CatalogCalls.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordError(stage, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) RecordStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) RecordPlaylistSize(size int) {
	if m == nil {
		return
	}
	m.PlaylistSize.Observe(float64(size))
}

func (m *Metrics) RecordActiveWorkflows(delta int) {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Add(float64(delta))
}

func NewServer(config *core.ServerConfig, service *core.Service, metrics *Metrics, logger *zap.Logger) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		service: service,
		metrics: metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "moodlist"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "moodlist"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/workflows", s.handleStart)
	mux.HandleFunc("GET /v1/workflows/{session}", s.handleGet)
	mux.HandleFunc("DELETE /v1/workflows/{session}", s.handleCancel)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

type startRequest struct {
	UserID     string `json:"user_id"`
	MoodPrompt string `json:"mood_prompt"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MoodPrompt == "" {
		writeError(w, http.StatusBadRequest, "mood_prompt is required")
		return
	}

	sessionID, err := s.service.StartWorkflow(r.Context(), req.UserID, req.MoodPrompt)
	if err != nil {
		s.logger.Warn("workflow start rejected",
			zap.String("user", req.UserID),
			zap.Error(err))
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	s.metrics.RecordWorkflow("started")
	writeJSON(w, http.StatusAccepted, startResponse{SessionID: sessionID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetWorkflowState(r.PathValue("session"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(r.PathValue("session")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.metrics.RecordWorkflow("cancel_requested")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
