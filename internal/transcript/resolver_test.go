package transcript

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/pkg/transcribe"
)

type stubTranscriber struct {
	downloads   int
	transcribes int
	downloadErr error
	result      *transcribe.Result
	resultErr   error
}

func (s *stubTranscriber) DownloadRecording(ctx context.Context, url string) ([]byte, error) {
	s.downloads++
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	return []byte("audio"), nil
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (*transcribe.Result, error) {
	s.transcribes++
	if s.resultErr != nil {
		return nil, s.resultErr
	}
	return s.result, nil
}

type memCache struct {
	entries map[string]model.Transcript
	getErr  error
	putErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]model.Transcript)}
}

func (c *memCache) GetTranscript(ctx context.Context, hash string) (*model.Transcript, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	if tr, ok := c.entries[hash]; ok {
		return &tr, nil
	}
	return nil, nil
}

func (c *memCache) PutTranscript(ctx context.Context, tr model.Transcript) error {
	if c.putErr != nil {
		return c.putErr
	}
	if _, ok := c.entries[tr.AudioHash]; !ok {
		c.entries[tr.AudioHash] = tr
	}
	return nil
}

func rec(url string) model.CallRecord {
	return model.CallRecord{RecordingURL: url, Connected: true}
}

func TestResolve_MissThenHit(t *testing.T) {
	svc := &stubTranscriber{result: &transcribe.Result{Text: "salom", Language: "uz"}}
	cache := newMemCache()
	r := NewResolver(svc, cache)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "42", rec("https://cdn/a.mp3"))
	require.NoError(t, err)
	assert.True(t, first.Successful)
	assert.Equal(t, "salom", first.Text)
	assert.Equal(t, model.AudioHash("https://cdn/a.mp3"), first.AudioHash)

	second, err := r.Resolve(ctx, "42", rec("https://cdn/a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)

	// One downstream pass for two resolutions of the same URL.
	assert.Equal(t, 1, svc.downloads)
	assert.Equal(t, 1, svc.transcribes)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestResolve_FailureIsCachedAndNotRetried(t *testing.T) {
	svc := &stubTranscriber{resultErr: errors.New("unsupported codec")}
	cache := newMemCache()
	r := NewResolver(svc, cache)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "42", rec("https://cdn/bad.mp3"))
	require.NoError(t, err)
	assert.False(t, first.Successful)
	assert.Contains(t, first.Error, "unsupported codec")

	second, err := r.Resolve(ctx, "42", rec("https://cdn/bad.mp3"))
	require.NoError(t, err)
	assert.False(t, second.Successful)

	assert.Equal(t, 1, svc.transcribes, "cached failure must not trigger a retry")
}

func TestResolve_DownloadFailure(t *testing.T) {
	svc := &stubTranscriber{downloadErr: errors.New("cdn timeout")}
	r := NewResolver(svc, newMemCache())

	tr, err := r.Resolve(context.Background(), "42", rec("https://cdn/x.mp3"))
	require.NoError(t, err)
	assert.False(t, tr.Successful)
	assert.Contains(t, tr.Error, "cdn timeout")
	assert.Zero(t, svc.transcribes)
}

func TestResolve_EmptyTextIsUnsuccessful(t *testing.T) {
	svc := &stubTranscriber{result: &transcribe.Result{Text: ""}}
	r := NewResolver(svc, newMemCache())

	tr, err := r.Resolve(context.Background(), "42", rec("https://cdn/silent.mp3"))
	require.NoError(t, err)
	assert.False(t, tr.Successful)
	assert.Equal(t, "empty transcription", tr.Error)
}

func TestResolve_WhitespaceTextIsUnsuccessful(t *testing.T) {
	svc := &stubTranscriber{result: &transcribe.Result{Text: "   \n\t "}}
	r := NewResolver(svc, newMemCache())

	tr, err := r.Resolve(context.Background(), "42", rec("https://cdn/noise.mp3"))
	require.NoError(t, err)
	assert.False(t, tr.Successful)
	assert.Equal(t, "empty transcription", tr.Error)
}

func TestResolve_CacheReadFailurePropagates(t *testing.T) {
	cache := newMemCache()
	cache.getErr = errors.New("db locked")
	r := NewResolver(&stubTranscriber{}, cache)

	_, err := r.Resolve(context.Background(), "42", rec("https://cdn/a.mp3"))
	require.Error(t, err)
}

func TestResolve_CacheWriteFailureIsNonFatal(t *testing.T) {
	svc := &stubTranscriber{result: &transcribe.Result{Text: "ok"}}
	cache := newMemCache()
	cache.putErr = errors.New("disk full")
	r := NewResolver(svc, cache)

	tr, err := r.Resolve(context.Background(), "42", rec("https://cdn/a.mp3"))
	require.NoError(t, err)
	assert.True(t, tr.Successful)
}

func TestResolveAll_OrderPreserved(t *testing.T) {
	svc := &stubTranscriber{result: &transcribe.Result{Text: "text"}}
	r := NewResolver(svc, newMemCache())

	recs := []model.CallRecord{
		rec("https://cdn/1.mp3"),
		rec("https://cdn/2.mp3"),
		rec("https://cdn/3.mp3"),
	}
	out, err := r.ResolveAll(context.Background(), "42", recs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, tr := range out {
		assert.Equal(t, model.AudioHash(recs[i].RecordingURL), tr.AudioHash)
	}
}

func TestRecordingFilename(t *testing.T) {
	assert.Equal(t, "call.wav", recordingFilename("https://cdn.example.com/recs/call.wav?token=abc"))
	assert.Equal(t, "recording.mp3", recordingFilename("https://cdn.example.com/"))
	assert.Equal(t, "recording.mp3", recordingFilename("://bad"))
}
