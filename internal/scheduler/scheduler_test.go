package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadcheck/internal/analyzer"
	"github.com/sells-group/leadcheck/internal/model"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   []runCall
	block   chan struct{} // when non-nil, RunBatch waits for a receive
	started chan struct{} // signalled once per RunBatch entry
	err     error
}

type runCall struct {
	mode   analyzer.Mode
	dryRun bool
}

func newStubRunner() *stubRunner {
	return &stubRunner{started: make(chan struct{}, 16)}
}

func (r *stubRunner) RunBatch(ctx context.Context, mode analyzer.Mode, dryRun bool) (*model.BatchResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runCall{mode: mode, dryRun: dryRun})
	block := r.block
	r.mu.Unlock()

	r.started <- struct{}{}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &model.BatchResult{Mode: string(mode), DryRun: dryRun}, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestTrigger_RunsBatch(t *testing.T) {
	runner := newStubRunner()
	s := New(runner, Config{Mode: analyzer.ModeNewLeads})

	batch, err := s.Trigger(context.Background(), analyzer.ModeAllJunk, true)
	require.NoError(t, err)
	assert.Equal(t, string(analyzer.ModeAllJunk), batch.Mode)
	assert.True(t, batch.DryRun)

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, analyzer.ModeAllJunk, runner.calls[0].mode)
	assert.False(t, s.Running())
}

func TestTrigger_BusyWhileBatchInFlight(t *testing.T) {
	runner := newStubRunner()
	runner.block = make(chan struct{})
	s := New(runner, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Trigger(context.Background(), analyzer.ModeAllJunk, false)
		assert.NoError(t, err)
	}()
	<-runner.started

	assert.True(t, s.Running())
	_, err := s.Trigger(context.Background(), analyzer.ModeNewLeads, false)
	require.ErrorIs(t, err, ErrBusy)

	close(runner.block)
	<-done
	assert.False(t, s.Running())
	assert.Equal(t, 1, runner.callCount(), "the busy trigger never reached the runner")
}

func TestTrigger_ErrorReleasesSlot(t *testing.T) {
	runner := newStubRunner()
	runner.err = errors.New("crm down")
	s := New(runner, Config{})

	_, err := s.Trigger(context.Background(), analyzer.ModeNewLeads, false)
	require.Error(t, err)
	assert.False(t, s.Running(), "a failed batch must free the in-flight slot")

	runner.err = nil
	_, err = s.Trigger(context.Background(), analyzer.ModeNewLeads, false)
	require.NoError(t, err)
}

func TestRun_FirstBatchImmediate(t *testing.T) {
	runner := newStubRunner()
	s := New(runner, Config{Interval: time.Hour, Mode: analyzer.ModeNewLeads, DryRun: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first scheduled batch never started")
	}
	cancel()
	<-done

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, analyzer.ModeNewLeads, runner.calls[0].mode)
	assert.True(t, runner.calls[0].dryRun)
}

func TestRun_TicksOnInterval(t *testing.T) {
	runner := newStubRunner()
	s := New(runner, Config{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// Immediate run plus at least one tick.
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("batch %d never started", i)
		}
	}
	cancel()
	<-done
	assert.GreaterOrEqual(t, runner.callCount(), 2)
}

func TestStartStop(t *testing.T) {
	runner := newStubRunner()
	s := New(runner, Config{Interval: time.Hour, ShutdownTimeout: time.Second})

	s.Start()
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never started a batch")
	}

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stopping twice is a no-op")
}

func TestStop_CancelsInFlightBatch(t *testing.T) {
	runner := newStubRunner()
	runner.block = make(chan struct{})
	defer close(runner.block)

	s := New(runner, Config{Interval: time.Hour, ShutdownTimeout: time.Second})
	s.Start()
	<-runner.started

	// The blocked batch observes ctx cancellation, so Stop finishes inside
	// the shutdown timeout.
	assert.NoError(t, s.Stop())
	assert.False(t, s.Running())
}

func TestNew_Defaults(t *testing.T) {
	s := New(newStubRunner(), Config{})
	assert.Equal(t, 24*time.Hour, s.cfg.Interval)
	assert.Equal(t, analyzer.ModeNewLeads, s.cfg.Mode)
	assert.Equal(t, 30*time.Second, s.cfg.ShutdownTimeout)
}
