// Package health probes the service's external dependencies.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pinger is the probe surface every dependency exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency pairs a probe with its reported name.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// Probe is the outcome of one dependency check.
type Probe struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Report aggregates all probes. Healthy is true only when every dependency
// answered its ping.
type Report struct {
	Healthy   bool      `json:"healthy"`
	Probes    []Probe   `json:"probes"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker fans probes out concurrently with a per-probe timeout.
type Checker struct {
	deps    []Dependency
	timeout time.Duration
}

// NewChecker creates a Checker. Nil pingers are skipped, so callers can pass
// optional dependencies unconditionally.
func NewChecker(timeout time.Duration, deps ...Dependency) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	kept := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		if d.Pinger != nil {
			kept = append(kept, d)
		}
	}
	return &Checker{deps: kept, timeout: timeout}
}

// Check pings every dependency concurrently and returns the aggregate report.
// A failing probe is captured in the report, not returned as an error.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Healthy:   true,
		Probes:    make([]Probe, 0, len(c.deps)),
		CheckedAt: time.Now().UTC(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range c.deps {
		dep := dep
		g.Go(func() error {
			probe := c.ping(gctx, dep)
			mu.Lock()
			report.Probes = append(report.Probes, probe)
			if !probe.Healthy {
				report.Healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	// Goroutines never return errors, so Wait only synchronizes.
	_ = g.Wait()

	sort.Slice(report.Probes, func(i, j int) bool {
		return report.Probes[i].Name < report.Probes[j].Name
	})

	if !report.Healthy {
		zap.L().Warn("health check found unhealthy dependencies",
			zap.Int("total", len(report.Probes)),
		)
	}
	return report
}

func (c *Checker) ping(ctx context.Context, dep Dependency) Probe {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := dep.Pinger.Ping(pctx)
	probe := Probe{
		Name:    dep.Name,
		Healthy: err == nil,
		Latency: time.Since(start),
	}
	if err != nil {
		probe.Error = err.Error()
		zap.L().Warn("dependency ping failed",
			zap.String("dependency", dep.Name),
			zap.Error(err),
		)
	}
	return probe
}
