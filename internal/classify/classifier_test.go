package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/resilience"
	"github.com/sells-group/leadcheck/pkg/anthropic"
)

type stubAI struct {
	calls    int
	lastReq  anthropic.MessageRequest
	response string
	err      error
}

func (s *stubAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: s.response}},
	}, nil
}

func (s *stubAI) Ping(ctx context.Context) error { return s.err }

func newTestClassifier(ai *stubAI) *Classifier {
	return NewClassifier(ai, "claude-haiku-4-5-20251001", 1024,
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
}

func TestClassify_ConfirmedReason(t *testing.T) {
	ai := &stubAI{response: `DECISION: true
ALTERNATIVE_REASON: none
REASONS:
- number owner denied any application
EXPLANATION: Wrong number confirmed.`}

	v, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonWrongNumber, "transcript text")
	require.NoError(t, err)
	assert.True(t, v.CurrentReasonValid)
	assert.Nil(t, v.AlternativeReason)
	assert.Contains(t, v.Justification, "denied any application")
	assert.Equal(t, "claude-haiku-4-5-20251001", v.Model)
	assert.True(t, v.Successful())
}

func TestClassify_RejectedReason(t *testing.T) {
	ai := &stubAI{response: `DECISION: false
ALTERNATIVE_REASON: none
REASONS:
- customer confirmed interest and asked for pricing
EXPLANATION: The lead is viable.`}

	v, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonNoApplication, "transcript text")
	require.NoError(t, err)
	assert.False(t, v.CurrentReasonValid)
	assert.NotEmpty(t, v.Justification)
}

func TestClassify_ConfirmedWithAlternative(t *testing.T) {
	ai := &stubAI{response: `DECISION: true
ALTERNATIVE_REASON: 807
REASONS:
- caller is 12 years old
EXPLANATION: Junk, but the reason is age, not client fit.`}

	v, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonWrongClient, "transcript text")
	require.NoError(t, err)
	assert.True(t, v.CurrentReasonValid)
	require.NotNil(t, v.AlternativeReason)
	assert.Equal(t, model.ReasonWrongAge, *v.AlternativeReason)
}

func TestClassify_AlternativeDiscardedOnFalse(t *testing.T) {
	ai := &stubAI{response: `DECISION: false
ALTERNATIVE_REASON: 227
EXPLANATION: Lead should be reactivated.`}

	v, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonNoApplication, "transcript text")
	require.NoError(t, err)
	assert.False(t, v.CurrentReasonValid)
	assert.Nil(t, v.AlternativeReason, "false decision always means reactivation")
}

func TestClassify_AlternativeEqualToCurrentDropped(t *testing.T) {
	ai := &stubAI{response: "DECISION: true\nALTERNATIVE_REASON: 227"}

	v, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonWrongNumber, "transcript text")
	require.NoError(t, err)
	assert.Nil(t, v.AlternativeReason)
}

func TestClassify_APIFailure(t *testing.T) {
	ai := &stubAI{err: errors.New("api down")}

	v, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonWrongNumber, "transcript text")
	require.Error(t, err)
	assert.Nil(t, v, "no fabricated verdict on API failure")
}

func TestClassify_RejectsCallCountReason(t *testing.T) {
	ai := &stubAI{}
	_, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonNoAnswer5x, "transcript text")
	require.Error(t, err)
	assert.Zero(t, ai.calls)
}

func TestClassify_RejectsEmptyTranscript(t *testing.T) {
	ai := &stubAI{}
	_, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonWrongNumber, "")
	require.Error(t, err)
	assert.Zero(t, ai.calls)
}

func TestClassify_RejectsWhitespaceTranscript(t *testing.T) {
	ai := &stubAI{}
	_, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonWrongNumber, "   \n\t ")
	require.Error(t, err)
	assert.Zero(t, ai.calls, "whitespace-only transcript must never reach the API")
}

func TestClassify_PromptCarriesCriteriaAndTranscript(t *testing.T) {
	ai := &stubAI{response: "DECISION: true"}

	_, err := newTestClassifier(ai).Classify(context.Background(), model.ReasonWrongAge, "men o'n olti yoshdaman")
	require.NoError(t, err)

	require.Len(t, ai.lastReq.Messages, 1)
	prompt := ai.lastReq.Messages[0].Content
	assert.Contains(t, prompt, "807")
	assert.Contains(t, prompt, "men o'n olti yoshdaman")
	assert.Contains(t, prompt, "DECISION:")
	assert.NotContains(t, prompt, "158:", "call-count reason must not be offered as an alternative")

	require.Len(t, ai.lastReq.System, 1)
	require.NotNil(t, ai.lastReq.System[0].CacheControl)
}

func TestClassifiable(t *testing.T) {
	assert.False(t, Classifiable(model.ReasonNoAnswer5x))
	assert.True(t, Classifiable(model.ReasonWrongNumber))
	assert.True(t, Classifiable(model.ReasonNoApplication))
	assert.True(t, Classifiable(model.ReasonWrongClient))
	assert.True(t, Classifiable(model.ReasonWrongAge))
	assert.False(t, Classifiable(model.JunkReasonCode(999)))
}
