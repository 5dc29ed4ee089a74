package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadcheck/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests to inject pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lead_snapshots (
	lead_id     TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	status_id   TEXT NOT NULL DEFAULT '',
	junk_reason INTEGER,
	payload     JSONB,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	audio_hash TEXT PRIMARY KEY,
	audio_url  TEXT NOT NULL,
	lead_id    TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION,
	duration   DOUBLE PRECISION,
	language   TEXT NOT NULL DEFAULT '',
	successful BOOLEAN NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	dry_run    BOOLEAN NOT NULL,
	total      INTEGER NOT NULL,
	succeeded  INTEGER NOT NULL,
	failed     INTEGER NOT NULL,
	updated    INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS analyses (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT,
	lead_id     TEXT NOT NULL,
	junk_reason INTEGER,
	action      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	dry_run     BOOLEAN NOT NULL,
	verdict     JSONB,
	error       TEXT NOT NULL DEFAULT '',
	elapsed_ms  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_lead_id ON analyses(lead_id);
CREATE INDEX IF NOT EXISTS idx_analyses_batch_id ON analyses(batch_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertLeadSnapshot(ctx context.Context, lead model.Lead) error {
	payload, err := json.Marshal(lead.Raw)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal lead payload")
	}

	var junkReason any
	if lead.JunkReason != nil {
		junkReason = int(*lead.JunkReason)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO lead_snapshots (lead_id, title, status_id, junk_reason, payload, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (lead_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   status_id = EXCLUDED.status_id,
		   junk_reason = EXCLUDED.junk_reason,
		   payload = EXCLUDED.payload,
		   updated_at = EXCLUDED.updated_at`,
		lead.ID, lead.Title, lead.StatusID, junkReason, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: upsert lead snapshot")
}

func (s *PostgresStore) GetTranscript(ctx context.Context, audioHash string) (*model.Transcript, error) {
	var tr model.Transcript
	var elapsedMS int64
	err := s.pool.QueryRow(ctx,
		`SELECT audio_hash, audio_url, lead_id, text, confidence, duration, language, successful, error, elapsed_ms, created_at
		 FROM transcripts WHERE audio_hash = $1`,
		audioHash,
	).Scan(&tr.AudioHash, &tr.AudioURL, &tr.LeadID, &tr.Text, &tr.Confidence,
		&tr.Duration, &tr.Language, &tr.Successful, &tr.Error, &elapsedMS, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get transcript")
	}
	tr.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return &tr, nil
}

func (s *PostgresStore) PutTranscript(ctx context.Context, tr model.Transcript) error {
	createdAt := tr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (audio_hash, audio_url, lead_id, text, confidence, duration, language, successful, error, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (audio_hash) DO NOTHING`,
		tr.AudioHash, tr.AudioURL, tr.LeadID, tr.Text, tr.Confidence, tr.Duration,
		tr.Language, tr.Successful, tr.Error, tr.Elapsed.Milliseconds(), createdAt,
	)
	return eris.Wrap(err, "postgres: put transcript")
}

func (s *PostgresStore) TranscriptStats(ctx context.Context) (*TranscriptStats, error) {
	var stats TranscriptStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE successful) FROM transcripts`,
	).Scan(&stats.Total, &stats.Successful)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: transcript stats")
	}
	stats.Failed = stats.Total - stats.Successful
	return &stats, nil
}

func (s *PostgresStore) RecordAnalysis(ctx context.Context, batchID string, res *model.LeadAnalysisResult, dryRun bool) error {
	var junkReason any
	if res.OriginalJunkReason != nil {
		junkReason = int(*res.OriginalJunkReason)
	}

	var verdictJSON any
	if res.Verdict != nil {
		data, err := json.Marshal(res.Verdict)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal verdict")
		}
		verdictJSON = data
	}

	var batch any
	if batchID != "" {
		batch = batchID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (id, batch_id, lead_id, junk_reason, action, reason, dry_run, verdict, error, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New().String(), batch, res.LeadID, junkReason, string(res.Action), string(res.Reason),
		dryRun, verdictJSON, res.Error, res.ProcessingTime().Milliseconds(), time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record analysis")
}

func (s *PostgresStore) RecordBatch(ctx context.Context, batch *model.BatchResult) error {
	var endedAt any
	if !batch.EndedAt.IsZero() {
		endedAt = batch.EndedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (id, mode, dry_run, total, succeeded, failed, updated, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		batch.BatchID, batch.Mode, batch.DryRun, batch.Total(), batch.Succeeded(),
		batch.Failed(), batch.Updated(), batch.StartedAt, endedAt,
	)
	return eris.Wrap(err, "postgres: record batch")
}

func (s *PostgresStore) AnalysisStats(ctx context.Context, since time.Time) (*AnalysisStats, error) {
	stats := &AnalysisStats{
		ByAction: make(map[model.Action]int),
		ByReason: make(map[model.Reason]int),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT action, reason, COUNT(*) FROM analyses WHERE created_at >= $1 GROUP BY action, reason`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: analysis stats")
	}
	defer rows.Close()

	for rows.Next() {
		var action, reason string
		var count int
		if err := rows.Scan(&action, &reason, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis stats")
		}
		stats.Total += count
		stats.ByAction[model.Action(action)] += count
		if reason != "" {
			stats.ByReason[model.Reason(reason)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: analysis stats rows")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM batches WHERE started_at >= $1`, since,
	).Scan(&stats.Batches)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: batch count")
	}

	return stats, nil
}

func (s *PostgresStore) Watermark(ctx context.Context) (time.Time, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`, watermarkKey,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, eris.Wrap(err, "postgres: get watermark")
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "postgres: parse watermark")
	}
	return t, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		watermarkKey, t.UTC().Format(time.RFC3339Nano), time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: set watermark")
}

func (s *PostgresStore) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analyses WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete analyses")
	}
	deleted := int(tag.RowsAffected())

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM batches WHERE started_at < $1`, cutoff,
	)
	if err != nil {
		return deleted, eris.Wrap(err, "postgres: delete batches")
	}
	return deleted + int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteFailedTranscriptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transcripts WHERE NOT successful AND created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete failed transcripts")
	}
	return int(tag.RowsAffected()), nil
}
