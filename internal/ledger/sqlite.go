package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadcheck/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lead_snapshots (
	lead_id     TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	status_id   TEXT NOT NULL DEFAULT '',
	junk_reason INTEGER,
	payload     TEXT,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	audio_hash TEXT PRIMARY KEY,
	audio_url  TEXT NOT NULL,
	lead_id    TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	confidence REAL,
	duration   REAL,
	language   TEXT NOT NULL DEFAULT '',
	successful INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	dry_run    INTEGER NOT NULL,
	total      INTEGER NOT NULL,
	succeeded  INTEGER NOT NULL,
	failed     INTEGER NOT NULL,
	updated    INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME
);

CREATE TABLE IF NOT EXISTS analyses (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT,
	lead_id     TEXT NOT NULL,
	junk_reason INTEGER,
	action      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	dry_run     INTEGER NOT NULL,
	verdict     TEXT,
	error       TEXT NOT NULL DEFAULT '',
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_lead_id ON analyses(lead_id);
CREATE INDEX IF NOT EXISTS idx_analyses_batch_id ON analyses(batch_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertLeadSnapshot(ctx context.Context, lead model.Lead) error {
	payload, err := json.Marshal(lead.Raw)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lead payload")
	}

	var junkReason any
	if lead.JunkReason != nil {
		junkReason = int(*lead.JunkReason)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_snapshots (lead_id, title, status_id, junk_reason, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(lead_id) DO UPDATE SET
		   title = excluded.title,
		   status_id = excluded.status_id,
		   junk_reason = excluded.junk_reason,
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		lead.ID, lead.Title, lead.StatusID, junkReason, string(payload), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert lead snapshot")
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, audioHash string) (*model.Transcript, error) {
	var tr model.Transcript
	var elapsedMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT audio_hash, audio_url, lead_id, text, confidence, duration, language, successful, error, elapsed_ms, created_at
		 FROM transcripts WHERE audio_hash = ?`,
		audioHash,
	).Scan(&tr.AudioHash, &tr.AudioURL, &tr.LeadID, &tr.Text, &tr.Confidence,
		&tr.Duration, &tr.Language, &tr.Successful, &tr.Error, &elapsedMS, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get transcript")
	}
	tr.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return &tr, nil
}

func (s *SQLiteStore) PutTranscript(ctx context.Context, tr model.Transcript) error {
	createdAt := tr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (audio_hash, audio_url, lead_id, text, confidence, duration, language, successful, error, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(audio_hash) DO NOTHING`,
		tr.AudioHash, tr.AudioURL, tr.LeadID, tr.Text, tr.Confidence, tr.Duration,
		tr.Language, tr.Successful, tr.Error, tr.Elapsed.Milliseconds(), createdAt,
	)
	return eris.Wrap(err, "sqlite: put transcript")
}

func (s *SQLiteStore) TranscriptStats(ctx context.Context) (*TranscriptStats, error) {
	var stats TranscriptStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(successful), 0) FROM transcripts`,
	).Scan(&stats.Total, &stats.Successful)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: transcript stats")
	}
	stats.Failed = stats.Total - stats.Successful
	return &stats, nil
}

func (s *SQLiteStore) RecordAnalysis(ctx context.Context, batchID string, res *model.LeadAnalysisResult, dryRun bool) error {
	var junkReason any
	if res.OriginalJunkReason != nil {
		junkReason = int(*res.OriginalJunkReason)
	}

	var verdictJSON any
	if res.Verdict != nil {
		data, err := json.Marshal(res.Verdict)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal verdict")
		}
		verdictJSON = string(data)
	}

	var batch any
	if batchID != "" {
		batch = batchID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, batch_id, lead_id, junk_reason, action, reason, dry_run, verdict, error, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), batch, res.LeadID, junkReason, string(res.Action), string(res.Reason),
		dryRun, verdictJSON, res.Error, res.ProcessingTime().Milliseconds(), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record analysis")
}

func (s *SQLiteStore) RecordBatch(ctx context.Context, batch *model.BatchResult) error {
	var endedAt any
	if !batch.EndedAt.IsZero() {
		endedAt = batch.EndedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, mode, dry_run, total, succeeded, failed, updated, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.BatchID, batch.Mode, batch.DryRun, batch.Total(), batch.Succeeded(),
		batch.Failed(), batch.Updated(), batch.StartedAt, endedAt,
	)
	return eris.Wrap(err, "sqlite: record batch")
}

func (s *SQLiteStore) AnalysisStats(ctx context.Context, since time.Time) (*AnalysisStats, error) {
	stats := &AnalysisStats{
		ByAction: make(map[model.Action]int),
		ByReason: make(map[model.Reason]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT action, reason, COUNT(*) FROM analyses WHERE created_at >= ? GROUP BY action, reason`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: analysis stats")
	}
	defer rows.Close()

	for rows.Next() {
		var action, reason string
		var count int
		if err := rows.Scan(&action, &reason, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis stats")
		}
		stats.Total += count
		stats.ByAction[model.Action(action)] += count
		if reason != "" {
			stats.ByReason[model.Reason(reason)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: analysis stats rows")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batches WHERE started_at >= ?`, since,
	).Scan(&stats.Batches)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: batch count")
	}

	return stats, nil
}

func (s *SQLiteStore) Watermark(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, watermarkKey,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, eris.Wrap(err, "sqlite: get watermark")
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: parse watermark")
	}
	return t, nil
}

func (s *SQLiteStore) SetWatermark(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		watermarkKey, t.UTC().Format(time.RFC3339Nano), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set watermark")
}

func (s *SQLiteStore) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analyses WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete analyses")
	}
	analyses, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM batches WHERE started_at < ?`, cutoff,
	)
	if err != nil {
		return int(analyses), eris.Wrap(err, "sqlite: delete batches")
	}
	batches, _ := res.RowsAffected()

	return int(analyses + batches), nil
}

func (s *SQLiteStore) DeleteFailedTranscriptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transcripts WHERE successful = 0 AND created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete failed transcripts")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
