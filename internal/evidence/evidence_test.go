package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadcheck/internal/model"
)

type stubCallSource struct {
	calls []model.CallRecord
	err   error
}

func (s *stubCallSource) CallStatistics(ctx context.Context, leadID string) ([]model.CallRecord, error) {
	return s.calls, s.err
}

func TestGather_CountsAndRecordings(t *testing.T) {
	src := &stubCallSource{calls: []model.CallRecord{
		{ID: "1", Outcome: model.OutcomeAnswered, Connected: true, Duration: 40 * time.Second, RecordingURL: "https://cdn/1.mp3"},
		{ID: "2", Outcome: model.OutcomeNoAnswer, Duration: 0},
		{ID: "3", Outcome: model.OutcomeBusy, Duration: 0},
		{ID: "4", Outcome: model.OutcomeFailed, Duration: 2 * time.Second},
		// Connected but the PBX attached no recording.
		{ID: "5", Outcome: model.OutcomeAnswered, Connected: true, Duration: 10 * time.Second},
		// Recording URL on a call that never connected: ignored.
		{ID: "6", Outcome: model.OutcomeNoAnswer, Duration: 0, RecordingURL: "https://cdn/6.mp3"},
	}}

	ev, err := NewGatherer(src).Gather(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "42", ev.LeadID)
	assert.Len(t, ev.Calls, 6)
	assert.Equal(t, 4, ev.UnsuccessfulCount())

	recs := ev.Recordings()
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].ID)
	assert.True(t, ev.HasRecordings())
}

func TestGather_ZeroDurationAnsweredIsUnsuccessful(t *testing.T) {
	src := &stubCallSource{calls: []model.CallRecord{
		{ID: "1", Outcome: model.OutcomeAnswered, Connected: true, Duration: 0},
	}}

	ev, err := NewGatherer(src).Gather(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.UnsuccessfulCount())
}

func TestGather_NoCalls(t *testing.T) {
	ev, err := NewGatherer(&stubCallSource{}).Gather(context.Background(), "42")
	require.NoError(t, err)
	assert.Zero(t, ev.UnsuccessfulCount())
	assert.False(t, ev.HasRecordings())
}

func TestGather_FetchFailurePropagates(t *testing.T) {
	src := &stubCallSource{err: errors.New("crm unavailable")}

	ev, err := NewGatherer(src).Gather(context.Background(), "42")
	require.Error(t, err)
	assert.Nil(t, ev, "an outage must not look like a lead with no calls")
}
