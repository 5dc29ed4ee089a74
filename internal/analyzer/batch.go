package analyzer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/pkg/bitrix"
)

// Mode selects which junk leads a batch covers.
type Mode string

const (
	// ModeNewLeads analyzes leads created since the last completed batch.
	ModeNewLeads Mode = "new_leads"
	// ModeAllJunk analyzes every junk lead with a recognized reason.
	ModeAllJunk Mode = "all_junk"
)

// RunBatch lists the target leads and analyzes them sequentially, pacing
// between leads. A failure to list aborts the batch; per-lead failures are
// carried in the results. The watermark advances only after a completed
// non-dry-run incremental batch, so an aborted run re-covers its leads.
func (a *Analyzer) RunBatch(ctx context.Context, mode Mode, dryRun bool) (*model.BatchResult, error) {
	batch := &model.BatchResult{
		BatchID:   uuid.New().String(),
		Mode:      string(mode),
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	log := zap.L().With(
		zap.String("batch_id", batch.BatchID),
		zap.String("mode", string(mode)),
		zap.Bool("dry_run", dryRun),
	)

	filter := bitrix.LeadFilter{Limit: a.cfg.LeadBatchLimit}
	if mode == ModeNewLeads && a.ledger != nil {
		wm, err := a.ledger.Watermark(ctx)
		if err != nil {
			return nil, err
		}
		filter.CreatedAfter = wm
	}

	leads, err := a.crm.ListJunkLeads(ctx, filter)
	if err != nil {
		return nil, err
	}
	log.Info("batch started", zap.Int("leads", len(leads)))

	for i, lead := range leads {
		if err := ctx.Err(); err != nil {
			log.Warn("batch interrupted", zap.Int("processed", i))
			return batch, err
		}

		res := a.analyzeLead(ctx, lead, dryRun, batch.BatchID)
		batch.Add(*res)

		if i < len(leads)-1 && a.cfg.DelayBetweenLeads > 0 {
			if err := sleepCtx(ctx, a.cfg.DelayBetweenLeads); err != nil {
				log.Warn("batch interrupted during pacing", zap.Int("processed", i+1))
				return batch, err
			}
		}
	}
	batch.Complete()

	if a.ledger != nil {
		if err := a.ledger.RecordBatch(ctx, batch); err != nil {
			log.Warn("batch record write failed", zap.Error(err))
		}
		// Advance to batch start, not end: leads created mid-batch fall
		// after the new watermark and are picked up next run.
		if mode == ModeNewLeads && !dryRun {
			if err := a.ledger.SetWatermark(ctx, batch.StartedAt); err != nil {
				log.Warn("watermark advance failed", zap.Error(err))
			}
		}
	}

	log.Info("batch completed",
		zap.Int("total", batch.Total()),
		zap.Int("updated", batch.Updated()),
		zap.Int("kept", batch.Kept()),
		zap.Int("skipped", batch.Skipped()),
		zap.Int("failed", batch.Failed()),
		zap.Float64("success_rate", batch.SuccessRate()),
		zap.Duration("elapsed", batch.EndedAt.Sub(batch.StartedAt)),
	)
	return batch, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
