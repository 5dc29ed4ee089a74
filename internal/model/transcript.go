package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AudioHash returns the stable cache key for a recording reference: the hex
// SHA-256 of the URL string.
func AudioHash(recordingURL string) string {
	sum := sha256.Sum256([]byte(recordingURL))
	return hex.EncodeToString(sum[:])
}

// Transcript is the outcome of transcribing one recording. Immutable once
// stored; failed attempts are stored too so a permanently broken recording
// becomes a cheap cache hit instead of a repeated failure.
type Transcript struct {
	AudioHash  string        `json:"audio_hash"`
	AudioURL   string        `json:"audio_url"`
	LeadID     string        `json:"lead_id"`
	Text       string        `json:"text"`
	Confidence *float64      `json:"confidence,omitempty"`
	Duration   *float64      `json:"duration,omitempty"` // seconds of audio
	Language   string        `json:"language,omitempty"`
	Successful bool          `json:"successful"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	CreatedAt  time.Time     `json:"created_at"`
}
