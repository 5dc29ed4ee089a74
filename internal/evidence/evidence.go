// Package evidence gathers the call history a lead decision is based on.
package evidence

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
)

// CallSource provides telephony history for a lead.
type CallSource interface {
	CallStatistics(ctx context.Context, leadID string) ([]model.CallRecord, error)
}

// Evidence is everything gathered about one lead's calls. Counting and
// recording selection are derived here, once, so every downstream rule reads
// the same numbers.
type Evidence struct {
	LeadID string
	Calls  []model.CallRecord
}

// UnsuccessfulCount counts calls that did not reach the customer.
func (e *Evidence) UnsuccessfulCount() int {
	var n int
	for _, c := range e.Calls {
		if c.Unsuccessful() {
			n++
		}
	}
	return n
}

// Recordings returns connected calls that produced a usable recording.
// A recording URL on a call that never connected is telephony noise and is
// never transcribed.
func (e *Evidence) Recordings() []model.CallRecord {
	var out []model.CallRecord
	for _, c := range e.Calls {
		if c.Connected && c.RecordingURL != "" {
			out = append(out, c)
		}
	}
	return out
}

// HasRecordings reports whether any usable recording exists.
func (e *Evidence) HasRecordings() bool {
	return len(e.Recordings()) > 0
}

// Gatherer fetches call evidence from the CRM.
type Gatherer struct {
	calls CallSource
}

// NewGatherer creates a Gatherer over the given call source.
func NewGatherer(calls CallSource) *Gatherer {
	return &Gatherer{calls: calls}
}

// Gather fetches the full call history for a lead. A fetch failure is
// returned as an error, never as empty evidence: downstream rules must not
// mistake an outage for a lead with no calls.
func (g *Gatherer) Gather(ctx context.Context, leadID string) (*Evidence, error) {
	calls, err := g.calls.CallStatistics(ctx, leadID)
	if err != nil {
		return nil, err
	}

	ev := &Evidence{LeadID: leadID, Calls: calls}
	zap.L().Debug("call evidence gathered",
		zap.String("lead_id", leadID),
		zap.Int("calls", len(calls)),
		zap.Int("unsuccessful", ev.UnsuccessfulCount()),
		zap.Int("recordings", len(ev.Recordings())),
	)
	return ev, nil
}
