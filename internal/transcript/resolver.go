// Package transcript resolves call recordings to text, backed by a durable
// cache keyed on the recording URL hash.
package transcript

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/pkg/transcribe"
)

// Transcriber downloads and transcribes a single recording.
type Transcriber interface {
	DownloadRecording(ctx context.Context, url string) ([]byte, error)
	Transcribe(ctx context.Context, audio []byte, filename string) (*transcribe.Result, error)
}

// Cache is the transcript store surface the resolver needs.
type Cache interface {
	GetTranscript(ctx context.Context, audioHash string) (*model.Transcript, error)
	PutTranscript(ctx context.Context, tr model.Transcript) error
}

// Stats reports cache effectiveness since the resolver was created.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate is Hits over lookups; 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Resolver turns recording references into transcripts, consulting the cache
// before paying for a download and recognition pass.
type Resolver struct {
	svc   Transcriber
	cache Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResolver creates a Resolver over the given service and cache.
func NewResolver(svc Transcriber, cache Cache) *Resolver {
	return &Resolver{svc: svc, cache: cache}
}

// Resolve returns the transcript for one recording. Cache hits are returned
// as-is, including cached failures: a recording that could not be transcribed
// once will not be retried on every batch. A fresh attempt is stored before
// returning, successful or not. Only cache-read failures surface as errors.
func (r *Resolver) Resolve(ctx context.Context, leadID string, rec model.CallRecord) (model.Transcript, error) {
	hash := model.AudioHash(rec.RecordingURL)

	cached, err := r.cache.GetTranscript(ctx, hash)
	if err != nil {
		return model.Transcript{}, err
	}
	if cached != nil {
		r.hits.Add(1)
		zap.L().Debug("transcript cache hit",
			zap.String("lead_id", leadID),
			zap.String("audio_hash", hash),
			zap.Bool("successful", cached.Successful),
		)
		return *cached, nil
	}
	r.misses.Add(1)

	tr := r.transcribeFresh(ctx, leadID, hash, rec)

	// The cache is an optimization: a write failure costs a repeat
	// transcription later, not the current result.
	if err := r.cache.PutTranscript(ctx, tr); err != nil {
		zap.L().Warn("transcript cache write failed",
			zap.String("audio_hash", hash),
			zap.Error(err),
		)
	}
	return tr, nil
}

func (r *Resolver) transcribeFresh(ctx context.Context, leadID, hash string, rec model.CallRecord) model.Transcript {
	start := time.Now()
	tr := model.Transcript{
		AudioHash: hash,
		AudioURL:  rec.RecordingURL,
		LeadID:    leadID,
		CreatedAt: start.UTC(),
	}

	fail := func(err error) model.Transcript {
		tr.Successful = false
		tr.Error = err.Error()
		tr.Elapsed = time.Since(start)
		return tr
	}

	audio, err := r.svc.DownloadRecording(ctx, rec.RecordingURL)
	if err != nil {
		return fail(err)
	}

	result, err := r.svc.Transcribe(ctx, audio, recordingFilename(rec.RecordingURL))
	if err != nil {
		return fail(err)
	}

	tr.Text = result.Text
	tr.Confidence = result.Confidence
	tr.Duration = result.Duration
	tr.Language = result.Language
	// Whitespace-only output counts as empty: it must never read as a
	// usable transcript downstream.
	tr.Successful = strings.TrimSpace(result.Text) != ""
	if !tr.Successful {
		tr.Error = "empty transcription"
	}
	tr.Elapsed = time.Since(start)
	return tr
}

// ResolveAll resolves every recording, in order. One broken recording does
// not block the rest; its failure is carried in the transcript entry.
func (r *Resolver) ResolveAll(ctx context.Context, leadID string, recs []model.CallRecord) ([]model.Transcript, error) {
	out := make([]model.Transcript, 0, len(recs))
	for _, rec := range recs {
		tr, err := r.Resolve(ctx, leadID, rec)
		if err != nil {
			return out, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// Stats returns cache hit/miss counters.
func (r *Resolver) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

// recordingFilename derives an upload filename from the recording URL so the
// transcription service can pick a decoder from the extension.
func recordingFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || path.Base(u.Path) == "." || path.Base(u.Path) == "/" {
		return "recording.mp3"
	}
	return path.Base(u.Path)
}
