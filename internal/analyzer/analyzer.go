// Package analyzer decides, per junk lead, whether its junk status still
// holds, and applies the decision to the CRM.
package analyzer

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/evidence"
	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/pkg/bitrix"
)

// EvidenceSource gathers call history for a lead.
type EvidenceSource interface {
	Gather(ctx context.Context, leadID string) (*evidence.Evidence, error)
}

// TranscriptSource resolves recordings to transcripts.
type TranscriptSource interface {
	ResolveAll(ctx context.Context, leadID string, recs []model.CallRecord) ([]model.Transcript, error)
}

// VerdictSource judges a transcript against a junk reason.
type VerdictSource interface {
	Classify(ctx context.Context, reason model.JunkReasonCode, transcript string) (*model.Verdict, error)
}

// Recorder is the ledger surface the analyzer writes to. A nil Recorder
// disables auditing and the incremental watermark.
type Recorder interface {
	UpsertLeadSnapshot(ctx context.Context, lead model.Lead) error
	RecordAnalysis(ctx context.Context, batchID string, res *model.LeadAnalysisResult, dryRun bool) error
	RecordBatch(ctx context.Context, batch *model.BatchResult) error
	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, t time.Time) error
}

// Config tunes the decision rules.
type Config struct {
	// MinUnsuccessfulCalls is the threshold for confirming the
	// "no response after repeated calls" reason. Default 5.
	MinUnsuccessfulCalls int

	// ActiveStatus is the STATUS_ID a reactivated lead is moved to.
	ActiveStatus string

	// JunkStatus is the STATUS_ID for junk leads.
	JunkStatus string

	// LeadBatchLimit caps leads per batch run. Zero means no cap.
	LeadBatchLimit int

	// DelayBetweenLeads paces batch processing to stay inside CRM and AI
	// rate budgets.
	DelayBetweenLeads time.Duration
}

// Analyzer runs the per-lead decision pipeline.
type Analyzer struct {
	crm        bitrix.Client
	evidence   EvidenceSource
	resolver   TranscriptSource
	classifier VerdictSource
	ledger     Recorder
	cfg        Config
}

// New creates an Analyzer. ledger may be nil.
func New(crm bitrix.Client, ev EvidenceSource, resolver TranscriptSource, classifier VerdictSource, ledger Recorder, cfg Config) *Analyzer {
	if cfg.MinUnsuccessfulCalls <= 0 {
		cfg.MinUnsuccessfulCalls = 5
	}
	if cfg.ActiveStatus == "" {
		cfg.ActiveStatus = model.StatusNew
	}
	if cfg.JunkStatus == "" {
		cfg.JunkStatus = model.StatusJunk
	}
	return &Analyzer{
		crm:        crm,
		evidence:   ev,
		resolver:   resolver,
		classifier: classifier,
		ledger:     ledger,
		cfg:        cfg,
	}
}

// AnalyzeLead runs the full decision pipeline for one lead and, unless dryRun
// is set, applies any status change to the CRM. Failures are captured in the
// result, never returned: one broken lead must not abort a batch.
func (a *Analyzer) AnalyzeLead(ctx context.Context, lead model.Lead, dryRun bool) *model.LeadAnalysisResult {
	return a.analyzeLead(ctx, lead, dryRun, "")
}

func (a *Analyzer) analyzeLead(ctx context.Context, lead model.Lead, dryRun bool, batchID string) *model.LeadAnalysisResult {
	res := model.NewLeadAnalysisResult(lead)
	log := zap.L().With(zap.String("lead_id", lead.ID))

	a.decideAndApply(ctx, lead, res, dryRun, log)
	res.Seal()

	if res.RequiresUpdate() && dryRun {
		log.Info("dry run, update suppressed",
			zap.String("new_status", res.NewStatus),
			zap.Any("new_junk_reason", res.NewJunkReason),
		)
	}

	a.record(ctx, lead, res, dryRun, batchID, log)

	log.Info("lead analyzed",
		zap.String("action", string(res.Action)),
		zap.String("reason", string(res.Reason)),
		zap.Bool("dry_run", dryRun),
		zap.Duration("elapsed", res.ProcessingTime()),
	)
	return res
}

// decideAndApply runs the decision and the CRM write under a panic guard:
// a panicking collaborator becomes an Error result, not an aborted batch.
func (a *Analyzer) decideAndApply(ctx context.Context, lead model.Lead, res *model.LeadAnalysisResult, dryRun bool, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			res.SetError(fmt.Sprintf("panic: %v", r))
			log.Error("lead analysis panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	a.decide(ctx, lead, res, log)

	if res.RequiresUpdate() && !dryRun {
		if err := a.crm.UpdateLead(ctx, lead.ID, res.NewStatus, res.NewJunkReason); err != nil {
			// The decision stands; only the write failed.
			res.SetError(err.Error())
			log.Error("lead update failed", zap.Error(err))
		}
	}
}

// decide computes the action without touching the CRM.
func (a *Analyzer) decide(ctx context.Context, lead model.Lead, res *model.LeadAnalysisResult, log *zap.Logger) {
	if !lead.IsJunk() || !lead.HasTargetJunkReason() {
		res.SetAction(model.ActionSkip, model.ReasonNotTargetStatus)
		return
	}
	reason := *lead.JunkReason
	entry, _ := model.LookupJunkReason(reason)

	ev, err := a.evidence.Gather(ctx, lead.ID)
	if err != nil {
		res.SetError(err.Error())
		log.Error("evidence gathering failed", zap.Error(err))
		return
	}
	res.UnsuccessfulCalls = ev.UnsuccessfulCount()

	switch entry.Strategy {
	case model.StrategyCallCount:
		a.decideByCallCount(res)
	case model.StrategyAI:
		a.decideByTranscript(ctx, reason, ev, res, log)
	}
}

// decideByCallCount confirms the "no response" reason only when the operators
// really did exhaust the attempt budget.
func (a *Analyzer) decideByCallCount(res *model.LeadAnalysisResult) {
	if res.UnsuccessfulCalls >= a.cfg.MinUnsuccessfulCalls {
		res.SetAction(model.ActionKeepStatus, model.ReasonSufficientCalls)
		return
	}
	// Fewer attempts than claimed: back to the active queue, reason cleared.
	res.SetChange(model.ReasonInsufficientCalls, a.cfg.ActiveStatus, nil)
}

func (a *Analyzer) decideByTranscript(ctx context.Context, reason model.JunkReasonCode, ev *evidence.Evidence, res *model.LeadAnalysisResult, log *zap.Logger) {
	recs := ev.Recordings()
	if len(recs) == 0 {
		res.SetAction(model.ActionSkip, model.ReasonNoAudioFiles)
		return
	}

	transcripts, err := a.resolver.ResolveAll(ctx, res.LeadID, recs)
	res.Transcripts = transcripts
	if err != nil {
		res.SetError(err.Error())
		log.Error("transcript resolution failed", zap.Error(err))
		return
	}

	combined := res.CombinedTranscriptText()
	if strings.TrimSpace(combined) == "" {
		res.SetAction(model.ActionSkip, model.ReasonNoTranscription)
		return
	}

	verdict, err := a.classifier.Classify(ctx, reason, combined)
	if err != nil {
		res.Verdict = &model.Verdict{Error: err.Error()}
		res.SetError(err.Error())
		log.Error("classification failed", zap.Error(err))
		return
	}
	res.Verdict = verdict

	switch {
	case verdict.CurrentReasonValid && verdict.AlternativeReason != nil:
		// Still junk, but filed under the wrong reason: refile it.
		res.SetChange(model.ReasonAINotSuitable, a.cfg.JunkStatus, verdict.AlternativeReason)
	case verdict.CurrentReasonValid:
		res.SetAction(model.ActionKeepStatus, model.ReasonAISuitable)
	default:
		res.SetChange(model.ReasonAINotSuitable, a.cfg.ActiveStatus, nil)
	}
}

// record writes the audit trail. Ledger failures are logged, not surfaced:
// the CRM is the system of record, the ledger is history.
func (a *Analyzer) record(ctx context.Context, lead model.Lead, res *model.LeadAnalysisResult, dryRun bool, batchID string, log *zap.Logger) {
	if a.ledger == nil {
		return
	}
	if err := a.ledger.UpsertLeadSnapshot(ctx, lead); err != nil {
		log.Warn("lead snapshot write failed", zap.Error(err))
	}
	if err := a.ledger.RecordAnalysis(ctx, batchID, res, dryRun); err != nil {
		log.Warn("analysis record write failed", zap.Error(err))
	}
}

// AnalyzeLeadByID fetches one lead and analyzes it.
func (a *Analyzer) AnalyzeLeadByID(ctx context.Context, leadID string, dryRun bool) (*model.LeadAnalysisResult, error) {
	lead, err := a.crm.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeLead(ctx, *lead, dryRun), nil
}
