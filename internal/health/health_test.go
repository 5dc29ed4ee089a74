package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err   error
	delay time.Duration
}

func (p *stubPinger) Ping(ctx context.Context) error {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.err
}

func TestCheck_AllHealthy(t *testing.T) {
	c := NewChecker(time.Second,
		Dependency{Name: "crm", Pinger: &stubPinger{}},
		Dependency{Name: "transcribe", Pinger: &stubPinger{}},
		Dependency{Name: "ledger", Pinger: &stubPinger{}},
	)

	report := c.Check(context.Background())
	assert.True(t, report.Healthy)
	require.Len(t, report.Probes, 3)
	// Probes come back sorted by name regardless of completion order.
	assert.Equal(t, "crm", report.Probes[0].Name)
	assert.Equal(t, "ledger", report.Probes[1].Name)
	assert.Equal(t, "transcribe", report.Probes[2].Name)
	for _, p := range report.Probes {
		assert.True(t, p.Healthy)
		assert.Empty(t, p.Error)
	}
	assert.False(t, report.CheckedAt.IsZero())
}

func TestCheck_OneUnhealthy(t *testing.T) {
	c := NewChecker(time.Second,
		Dependency{Name: "crm", Pinger: &stubPinger{}},
		Dependency{Name: "transcribe", Pinger: &stubPinger{err: errors.New("connection refused")}},
	)

	report := c.Check(context.Background())
	assert.False(t, report.Healthy)
	require.Len(t, report.Probes, 2)

	assert.True(t, report.Probes[0].Healthy)
	assert.False(t, report.Probes[1].Healthy)
	assert.Contains(t, report.Probes[1].Error, "connection refused")
}

func TestCheck_TimeoutMarksUnhealthy(t *testing.T) {
	c := NewChecker(20*time.Millisecond,
		Dependency{Name: "slow", Pinger: &stubPinger{delay: 5 * time.Second}},
	)

	start := time.Now()
	report := c.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Less(t, time.Since(start), time.Second, "probe timeout must bound the check")
}

func TestCheck_NilPingerSkipped(t *testing.T) {
	c := NewChecker(time.Second,
		Dependency{Name: "crm", Pinger: &stubPinger{}},
		Dependency{Name: "optional", Pinger: nil},
	)

	report := c.Check(context.Background())
	require.Len(t, report.Probes, 1)
	assert.Equal(t, "crm", report.Probes[0].Name)
	assert.True(t, report.Healthy)
}

func TestCheck_NoDependencies(t *testing.T) {
	report := NewChecker(time.Second).Check(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Probes)
}
