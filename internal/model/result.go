package model

import (
	"time"
)

// Action is the decision taken for one lead.
type Action string

const (
	ActionKeepStatus   Action = "keep_status"
	ActionChangeStatus Action = "change_status"
	ActionSkip         Action = "skip"
	ActionError        Action = "error"
)

// Reason explains why an action was chosen.
type Reason string

const (
	ReasonSufficientCalls   Reason = "sufficient_calls"
	ReasonInsufficientCalls Reason = "insufficient_calls"
	ReasonAISuitable        Reason = "ai_suitable"
	ReasonAINotSuitable     Reason = "ai_not_suitable"
	ReasonNoAudioFiles      Reason = "no_audio_files"
	ReasonNoTranscription   Reason = "no_transcription"
	ReasonNotTargetStatus   Reason = "not_target_status"
	ReasonAPIError          Reason = "api_error"
)

// Verdict is the Suitability Classifier's structured output.
type Verdict struct {
	CurrentReasonValid bool            `json:"current_reason_valid"`
	AlternativeReason  *JunkReasonCode `json:"alternative_reason,omitempty"`
	Justification      string          `json:"justification,omitempty"`
	Model              string          `json:"model,omitempty"`
	Elapsed            time.Duration   `json:"elapsed"`
	Error              string          `json:"error,omitempty"`
}

// Successful reports whether classification itself completed (regardless of
// which way it decided).
func (v Verdict) Successful() bool {
	return v.Error == ""
}

// LeadAnalysisResult records one per-lead decision from start to seal.
type LeadAnalysisResult struct {
	LeadID             string          `json:"lead_id"`
	OriginalStatus     string          `json:"original_status"`
	OriginalJunkReason *JunkReasonCode `json:"original_junk_reason,omitempty"`

	Action        Action          `json:"action,omitempty"`
	Reason        Reason          `json:"reason,omitempty"`
	NewStatus     string          `json:"new_status,omitempty"`
	NewJunkReason *JunkReasonCode `json:"new_junk_reason,omitempty"`

	UnsuccessfulCalls int          `json:"unsuccessful_calls"`
	Transcripts       []Transcript `json:"transcripts,omitempty"`
	Verdict           *Verdict     `json:"verdict,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewLeadAnalysisResult opens a result for the given lead.
func NewLeadAnalysisResult(lead Lead) *LeadAnalysisResult {
	return &LeadAnalysisResult{
		LeadID:             lead.ID,
		OriginalStatus:     lead.StatusID,
		OriginalJunkReason: lead.JunkReason,
		StartedAt:          time.Now().UTC(),
	}
}

// SetAction records the chosen action and its reason.
func (r *LeadAnalysisResult) SetAction(action Action, reason Reason) {
	r.Action = action
	r.Reason = reason
}

// SetChange records a ChangeStatus action with the target status fields.
func (r *LeadAnalysisResult) SetChange(reason Reason, newStatus string, newJunkReason *JunkReasonCode) {
	r.Action = ActionChangeStatus
	r.Reason = reason
	r.NewStatus = newStatus
	r.NewJunkReason = newJunkReason
}

// SetError marks the analysis as failed. An already-computed ChangeStatus
// action is preserved: a write failure after a successful analysis keeps the
// decision and records only the persistence error.
func (r *LeadAnalysisResult) SetError(msg string) {
	r.Error = msg
	if r.Action == "" || r.Action == ActionSkip {
		r.Action = ActionError
		r.Reason = ReasonAPIError
	}
}

// Seal stamps the end time.
func (r *LeadAnalysisResult) Seal() {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
}

// ProcessingTime returns the wall time between start and seal.
func (r *LeadAnalysisResult) ProcessingTime() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Successful reports whether the analysis itself completed without error.
func (r *LeadAnalysisResult) Successful() bool {
	return r.Action != ActionError && r.Error == ""
}

// RequiresUpdate reports whether the decision calls for a CRM write.
func (r *LeadAnalysisResult) RequiresUpdate() bool {
	return r.Action == ActionChangeStatus
}

// TranscriptSuccessRate returns the fraction of transcripts that succeeded.
func (r *LeadAnalysisResult) TranscriptSuccessRate() float64 {
	if len(r.Transcripts) == 0 {
		return 0
	}
	var ok int
	for _, t := range r.Transcripts {
		if t.Successful {
			ok++
		}
	}
	return float64(ok) / float64(len(r.Transcripts))
}

// CombinedTranscriptText joins successful transcript texts in gathering order,
// separated by blank lines.
func (r *LeadAnalysisResult) CombinedTranscriptText() string {
	var out string
	for _, t := range r.Transcripts {
		if !t.Successful {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += t.Text
	}
	return out
}

// BatchResult aggregates the results of one orchestrator run. Counts and
// rates are derived on read, never stored redundantly.
type BatchResult struct {
	BatchID   string               `json:"batch_id"`
	Mode      string               `json:"mode"` // "new_leads", "all_junk", "single"
	DryRun    bool                 `json:"dry_run"`
	Results   []LeadAnalysisResult `json:"results"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at,omitempty"`
}

// Add appends one lead result.
func (b *BatchResult) Add(r LeadAnalysisResult) {
	b.Results = append(b.Results, r)
}

// Complete stamps the end time.
func (b *BatchResult) Complete() {
	b.EndedAt = time.Now().UTC()
}

// Total is the number of leads analyzed.
func (b *BatchResult) Total() int { return len(b.Results) }

// Succeeded counts analyses that completed without error.
func (b *BatchResult) Succeeded() int {
	var n int
	for i := range b.Results {
		if b.Results[i].Successful() {
			n++
		}
	}
	return n
}

// Failed counts analyses that ended in error.
func (b *BatchResult) Failed() int { return b.Total() - b.Succeeded() }

// Updated counts leads whose decision called for a CRM write.
func (b *BatchResult) Updated() int { return b.countAction(ActionChangeStatus) }

// Kept counts leads whose status was confirmed.
func (b *BatchResult) Kept() int { return b.countAction(ActionKeepStatus) }

// Skipped counts leads that were not analyzable.
func (b *BatchResult) Skipped() int { return b.countAction(ActionSkip) }

func (b *BatchResult) countAction(a Action) int {
	var n int
	for i := range b.Results {
		if b.Results[i].Action == a {
			n++
		}
	}
	return n
}

// SuccessRate is Succeeded over Total; 0 when the batch is empty.
func (b *BatchResult) SuccessRate() float64 {
	if b.Total() == 0 {
		return 0
	}
	return float64(b.Succeeded()) / float64(b.Total())
}

// ByReason breaks results down by decision reason.
func (b *BatchResult) ByReason() map[Reason]int {
	out := make(map[Reason]int)
	for i := range b.Results {
		if r := b.Results[i].Reason; r != "" {
			out[r]++
		}
	}
	return out
}

// ByAction breaks results down by action.
func (b *BatchResult) ByAction() map[Action]int {
	out := make(map[Action]int)
	for i := range b.Results {
		if a := b.Results[i].Action; a != "" {
			out[a]++
		}
	}
	return out
}
