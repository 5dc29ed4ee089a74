// Package classify asks an LLM whether a lead's recorded junk reason matches
// its call transcripts, and parses the structured reply.
package classify

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/resilience"
	"github.com/sells-group/leadcheck/pkg/anthropic"
)

// Classifier reviews transcripts against a recorded junk reason.
type Classifier struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// Option configures the classifier.
type Option func(*Classifier)

// WithRetry overrides the default retry policy for API calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Classifier) { c.retry = cfg }
}

// NewClassifier creates a Classifier using the given model.
func NewClassifier(ai anthropic.Client, modelID string, maxTokens int64, opts ...Option) *Classifier {
	c := &Classifier{
		ai:        ai,
		model:     modelID,
		maxTokens: maxTokens,
		retry:     resilience.ForService("anthropic", "classify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify judges whether reason is correct for the given transcript text.
// An API failure returns an error, never a fabricated verdict; the caller
// must not write anything to the CRM in that case.
func (c *Classifier) Classify(ctx context.Context, reason model.JunkReasonCode, transcript string) (*model.Verdict, error) {
	if !Classifiable(reason) {
		return nil, eris.Errorf("classify: reason %d is not transcript-reviewed", int(reason))
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, eris.New("classify: empty transcript")
	}

	start := time.Now()
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
			Messages: []anthropic.Message{
				{Role: "user", Content: buildUserPrompt(reason, transcript)},
			},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: create message")
	}
	resp.Usage.LogCost(c.model, "classify")

	parsed := parseResponse(resp.Text())
	for _, w := range parsed.Warnings {
		zap.L().Warn("classifier response deviation",
			zap.Int("junk_reason", int(reason)),
			zap.String("warning", w),
		)
	}

	verdict := &model.Verdict{
		CurrentReasonValid: parsed.Decision,
		Justification:      parsed.Justification(),
		Model:              resp.Model,
		Elapsed:            time.Since(start),
	}

	// An alternative only matters when the current reason was confirmed: the
	// model may refine which junk bucket the lead belongs to, but a false
	// decision always means reactivation.
	if parsed.Decision && parsed.Alternative != nil && *parsed.Alternative != reason {
		verdict.AlternativeReason = parsed.Alternative
	}

	zap.L().Info("transcript classified",
		zap.Int("junk_reason", int(reason)),
		zap.Bool("reason_valid", verdict.CurrentReasonValid),
		zap.Any("alternative", verdict.AlternativeReason),
		zap.Duration("elapsed", verdict.Elapsed),
	)
	return verdict, nil
}
