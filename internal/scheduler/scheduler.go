// Package scheduler triggers analysis batches on a fixed interval, with a
// single-in-flight guarantee shared with manual triggers.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/analyzer"
	"github.com/sells-group/leadcheck/internal/model"
)

// ErrBusy is returned when a trigger arrives while a batch is in flight.
var ErrBusy = eris.New("scheduler: a batch is already running")

// BatchRunner runs one analysis batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, mode analyzer.Mode, dryRun bool) (*model.BatchResult, error)
}

// Config tunes the trigger loop.
type Config struct {
	// Interval between scheduled batches.
	Interval time.Duration

	// Mode for scheduled batches. Defaults to ModeNewLeads.
	Mode analyzer.Mode

	// DryRun makes scheduled batches report-only.
	DryRun bool

	// ShutdownTimeout bounds how long Stop waits for an in-flight batch.
	ShutdownTimeout time.Duration
}

// Scheduler owns the periodic trigger loop. Scheduled ticks and manual
// triggers share one in-flight slot; whoever loses simply skips, because the
// running batch already covers the same leads.
type Scheduler struct {
	runner BatchRunner
	cfg    Config

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// New creates a Scheduler.
func New(runner BatchRunner, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Mode == "" {
		cfg.Mode = analyzer.ModeNewLeads
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Scheduler{runner: runner, cfg: cfg}
}

// Run starts the trigger loop and blocks until ctx is cancelled. The first
// batch runs immediately; later ones follow the interval.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "scheduler"))
	log.Info("starting batch scheduler",
		zap.Duration("interval", s.cfg.Interval),
		zap.String("mode", string(s.cfg.Mode)),
		zap.Bool("dry_run", s.cfg.DryRun),
	)

	s.runOnce(ctx, log)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("batch scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, log)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, log *zap.Logger) {
	if !s.running.CompareAndSwap(false, true) {
		log.Warn("scheduled batch skipped, previous batch still running")
		return
	}
	defer s.running.Store(false)

	if _, err := s.runner.RunBatch(ctx, s.cfg.Mode, s.cfg.DryRun); err != nil {
		log.Error("scheduled batch failed", zap.Error(err))
	}
}

// Trigger runs a batch immediately with the given mode, honoring the
// single-in-flight guard. Returns ErrBusy when a batch is already running.
func (s *Scheduler) Trigger(ctx context.Context, mode analyzer.Mode, dryRun bool) (*model.BatchResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.running.Store(false)

	return s.runner.RunBatch(ctx, mode, dryRun)
}

// Running reports whether a batch is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start runs the loop in a background goroutine. Use Stop to shut it down.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Stop cancels the loop and waits for any in-flight batch, bounded by the
// shutdown timeout. Returns an error if the batch did not finish in time.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return eris.New("scheduler: shutdown timed out with a batch in flight")
	}
}
