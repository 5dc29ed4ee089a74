package model

import (
	"time"
)

// Lead statuses as stored in the CRM's STATUS_ID field.
const (
	StatusNew       = "NEW"
	StatusInProcess = "IN_PROCESS"
	StatusJunk      = "JUNK"
	StatusConverted = "CONVERTED"
)

// JunkReasonCode identifies why a lead was marked junk.
type JunkReasonCode int

// The five recognized junk reasons. Any other value means the lead is not a
// target of re-validation and must be skipped.
const (
	ReasonNoAnswer5x    JunkReasonCode = 158 // no response after 5+ call attempts
	ReasonWrongNumber   JunkReasonCode = 227
	ReasonNoApplication JunkReasonCode = 229
	ReasonWrongClient   JunkReasonCode = 783
	ReasonWrongAge      JunkReasonCode = 807
)

// Strategy selects how a junk reason is re-validated.
type Strategy string

const (
	StrategyCallCount Strategy = "call_count"
	StrategyAI        Strategy = "ai_transcript"
)

// JunkReason describes one entry in the closed junk-reason table.
type JunkReason struct {
	Code     JunkReasonCode
	Label    string
	Strategy Strategy
}

// junkReasons is the single source of truth for the recognized reasons.
// Every reason check in the codebase goes through this table.
var junkReasons = map[JunkReasonCode]JunkReason{
	ReasonNoAnswer5x:    {Code: ReasonNoAnswer5x, Label: "5 marta javob bermadi", Strategy: StrategyCallCount},
	ReasonWrongNumber:   {Code: ReasonWrongNumber, Label: "Notog'ri raqam", Strategy: StrategyAI},
	ReasonNoApplication: {Code: ReasonNoApplication, Label: "Ariza qoldirmagan", Strategy: StrategyAI},
	ReasonWrongClient:   {Code: ReasonWrongClient, Label: "Notog'ri mijoz", Strategy: StrategyAI},
	ReasonWrongAge:      {Code: ReasonWrongAge, Label: "Yoshi to'g'ri kelmadi", Strategy: StrategyAI},
}

// LookupJunkReason returns the table entry for code, or ok=false when the code
// is not one of the five recognized reasons.
func LookupJunkReason(code JunkReasonCode) (JunkReason, bool) {
	r, ok := junkReasons[code]
	return r, ok
}

// IsRecognizedJunkReason reports whether code belongs to the closed reason set.
func IsRecognizedJunkReason(code JunkReasonCode) bool {
	_, ok := junkReasons[code]
	return ok
}

// JunkReasonCodes returns all recognized codes in ascending order.
func JunkReasonCodes() []JunkReasonCode {
	return []JunkReasonCode{
		ReasonNoAnswer5x,
		ReasonWrongNumber,
		ReasonNoApplication,
		ReasonWrongClient,
		ReasonWrongAge,
	}
}

// JunkReasonLabel returns the human-readable label for code, or "Unknown".
func JunkReasonLabel(code JunkReasonCode) string {
	if r, ok := junkReasons[code]; ok {
		return r.Label
	}
	return "Unknown"
}

// Contact holds lead contact details.
type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Lead is a CRM lead as read at analysis time. It is never mutated locally;
// status changes go through the CRM update call.
type Lead struct {
	ID         string          `json:"id"`
	Title      string          `json:"title,omitempty"`
	StatusID   string          `json:"status_id"`
	JunkReason *JunkReasonCode `json:"junk_reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Contact    Contact         `json:"contact"`
	Raw        map[string]any  `json:"-"` // original payload, retained for audit
}

// IsJunk reports whether the lead's main status is junk.
func (l Lead) IsJunk() bool {
	return l.StatusID == StatusJunk
}

// HasTargetJunkReason reports whether the lead carries one of the five
// recognized junk reasons.
func (l Lead) HasTargetJunkReason() bool {
	return l.JunkReason != nil && IsRecognizedJunkReason(*l.JunkReason)
}

// CallOutcome classifies how a call attempt ended.
type CallOutcome string

const (
	OutcomeAnswered CallOutcome = "answered"
	OutcomeNoAnswer CallOutcome = "no_answer"
	OutcomeBusy     CallOutcome = "busy"
	OutcomeFailed   CallOutcome = "failed"
	OutcomeUnknown  CallOutcome = "unknown"
)

// CallRecord is one attempted outreach to the lead.
type CallRecord struct {
	ID           string        `json:"id"`
	Outcome      CallOutcome   `json:"outcome"`
	Duration     time.Duration `json:"duration"`
	RecordingURL string        `json:"recording_url,omitempty"`
	Connected    bool          `json:"connected"` // transport-level attempt reached the callee
	StartedAt    time.Time     `json:"started_at"`
}

// Unsuccessful reports whether the attempt failed to produce a conversation.
// A zero-duration call is always unsuccessful, regardless of the reported
// outcome code (covers calls misreported as answered).
func (c CallRecord) Unsuccessful() bool {
	if c.Duration <= 0 {
		return true
	}
	switch c.Outcome {
	case OutcomeNoAnswer, OutcomeBusy, OutcomeFailed:
		return true
	}
	return false
}
