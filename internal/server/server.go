// Package server exposes the HTTP trigger, webhook, and reporting endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/analyzer"
	"github.com/sells-group/leadcheck/internal/health"
	"github.com/sells-group/leadcheck/internal/ledger"
	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/scheduler"
	"github.com/sells-group/leadcheck/internal/transcript"
	"github.com/sells-group/leadcheck/pkg/bitrix"
)

// Triggerer starts batches on demand, sharing the scheduler's in-flight slot.
type Triggerer interface {
	Trigger(ctx context.Context, mode analyzer.Mode, dryRun bool) (*model.BatchResult, error)
	Running() bool
}

// LeadAnalyzer analyzes a single lead by CRM id.
type LeadAnalyzer interface {
	AnalyzeLeadByID(ctx context.Context, leadID string, dryRun bool) (*model.LeadAnalysisResult, error)
}

// StatsSource reads aggregate history from the ledger.
type StatsSource interface {
	AnalysisStats(ctx context.Context, since time.Time) (*ledger.AnalysisStats, error)
	TranscriptStats(ctx context.Context) (*ledger.TranscriptStats, error)
}

// CacheStats reports the in-process transcript cache counters.
type CacheStats interface {
	Stats() transcript.Stats
}

// JunkCounter reports the current junk queue size in the CRM.
type JunkCounter interface {
	CountJunkLeads(ctx context.Context) (int, error)
}

// Server wires the handlers. Stats, cache, and checker may be nil; their
// endpoints then report accordingly.
type Server struct {
	trigger  Triggerer
	analyzer LeadAnalyzer
	checker  *health.Checker
	stats    StatsSource
	cache    CacheStats
	counter  JunkCounter
	port     int

	// Settings is echoed on /statistics. Secrets never belong here.
	Settings map[string]any
}

// New creates a Server.
func New(trigger Triggerer, la LeadAnalyzer, checker *health.Checker, stats StatsSource, cache CacheStats, counter JunkCounter, port int) *Server {
	return &Server{
		trigger:  trigger,
		analyzer: la,
		checker:  checker,
		stats:    stats,
		cache:    cache,
		counter:  counter,
		port:     port,
	}
}

// Handler builds the router. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/statistics", s.handleStatistics)

	r.Route("/analyze", func(r chi.Router) {
		r.Post("/new-leads", s.handleBatch(analyzer.ModeNewLeads))
		r.Post("/all-junk", s.handleBatch(analyzer.ModeAllJunk))
		r.Post("/lead/{id}", s.handleLead)
	})

	r.Post("/webhook/lead-updated", s.handleWebhook)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", s.port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

// handleBatch starts a batch in the background and answers immediately. The
// scheduler's guard keeps concurrent triggers from doubling up.
func (s *Server) handleBatch(mode analyzer.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dryRun := boolQuery(r, "dry_run")
		if s.trigger.Running() {
			writeError(w, http.StatusConflict, "a batch is already running")
			return
		}

		go func() {
			// The request context dies with the response; batches outlive it.
			if _, err := s.trigger.Trigger(context.Background(), mode, dryRun); err != nil && !errors.Is(err, scheduler.ErrBusy) {
				zap.L().Error("triggered batch failed",
					zap.String("mode", string(mode)),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "accepted",
			"mode":    string(mode),
			"dry_run": dryRun,
		})
	}
}

func (s *Server) handleLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "id")
	dryRun := boolQuery(r, "dry_run")

	res, err := s.analyzer.AnalyzeLeadByID(r.Context(), leadID, dryRun)
	if err != nil {
		if errors.Is(err, bitrix.ErrLeadNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		zap.L().Error("lead analysis failed", zap.String("lead_id", leadID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "lead analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleWebhook accepts a CRM lead-change notification and re-analyzes the
// lead in the background.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadID string `json:"lead_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LeadID == "" {
		writeError(w, http.StatusBadRequest, "lead_id is required")
		return
	}

	go func() {
		res, err := s.analyzer.AnalyzeLeadByID(context.Background(), req.LeadID, false)
		if err != nil {
			zap.L().Error("webhook analysis failed",
				zap.String("lead_id", req.LeadID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("webhook analysis complete",
			zap.String("lead_id", req.LeadID),
			zap.String("action", string(res.Action)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"lead_id": req.LeadID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	report := s.checker.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "no ledger configured")
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	analyses, err := s.stats.AnalysisStats(r.Context(), since)
	if err != nil {
		zap.L().Error("analysis stats read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	transcripts, err := s.stats.TranscriptStats(r.Context())
	if err != nil {
		zap.L().Error("transcript stats read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	body := map[string]any{
		"since":       since,
		"analyses":    analyses,
		"transcripts": transcripts,
	}
	if s.cache != nil {
		st := s.cache.Stats()
		body["cache"] = map[string]any{
			"hits":     st.Hits,
			"misses":   st.Misses,
			"hit_rate": st.HitRate(),
		}
	}
	if s.counter != nil {
		// Advisory only; a CRM hiccup must not break the stats page.
		if count, err := s.counter.CountJunkLeads(r.Context()); err != nil {
			zap.L().Warn("junk lead count unavailable", zap.Error(err))
		} else {
			body["junk_leads"] = count
		}
	}
	if s.Settings != nil {
		body["config"] = s.Settings
	}
	writeJSON(w, http.StatusOK, body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func boolQuery(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
