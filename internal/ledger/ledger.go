// Package ledger persists the audit trail of the re-validation pipeline: lead
// snapshots, the transcript cache, per-lead analysis history, and the batch
// watermark. SQLite backs single-node deployments; Postgres backs shared ones.
package ledger

import (
	"context"
	"time"

	"github.com/sells-group/leadcheck/internal/model"
)

// watermarkKey is the settings row holding the batch watermark.
const watermarkKey = "batch_watermark"

// TranscriptStats summarizes the transcript cache.
type TranscriptStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// SuccessRate is Successful over Total; 0 when the cache is empty.
func (s TranscriptStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total)
}

// AnalysisStats summarizes analysis history since a cutoff.
type AnalysisStats struct {
	Total    int                  `json:"total"`
	Batches  int                  `json:"batches"`
	ByAction map[model.Action]int `json:"by_action"`
	ByReason map[model.Reason]int `json:"by_reason"`
}

// Store defines the persistence interface for the re-validation pipeline.
type Store interface {
	// Lead snapshots
	UpsertLeadSnapshot(ctx context.Context, lead model.Lead) error

	// Transcript cache, keyed by the hex SHA-256 of the recording URL.
	// GetTranscript returns (nil, nil) on a cache miss. PutTranscript is
	// first-writer-wins: a concurrent duplicate insert is not an error.
	GetTranscript(ctx context.Context, audioHash string) (*model.Transcript, error)
	PutTranscript(ctx context.Context, tr model.Transcript) error
	TranscriptStats(ctx context.Context) (*TranscriptStats, error)

	// Analysis history
	RecordAnalysis(ctx context.Context, batchID string, res *model.LeadAnalysisResult, dryRun bool) error
	RecordBatch(ctx context.Context, batch *model.BatchResult) error
	AnalysisStats(ctx context.Context, since time.Time) (*AnalysisStats, error)

	// Watermark for incremental batches. Watermark returns the zero time
	// when none has been recorded yet.
	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, t time.Time) error

	// Retention. DeleteHistoryBefore prunes analyses and batch summaries;
	// DeleteFailedTranscriptsBefore prunes only failed transcript rows, since
	// successful transcript text is a durable cache.
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteFailedTranscriptsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
