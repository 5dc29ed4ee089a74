package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadcheck/internal/model"
)

func TestParseResponse_WellFormed(t *testing.T) {
	raw := `DECISION: true
ALTERNATIVE_REASON: none
REASONS:
- customer said the number belongs to someone else
- customer never heard of the company
EXPLANATION: The transcript clearly supports a wrong number.`

	p := parseResponse(raw)
	assert.True(t, p.Decision)
	assert.Nil(t, p.Alternative)
	require.Len(t, p.Bullets, 2)
	assert.Equal(t, "customer said the number belongs to someone else", p.Bullets[0])
	assert.Equal(t, "The transcript clearly supports a wrong number.", p.Explanation)
	assert.Empty(t, p.Warnings)
}

func TestParseResponse_FalseWithAlternativeIgnoredLater(t *testing.T) {
	raw := `DECISION: false
ALTERNATIVE_REASON: 229
REASONS:
- customer confirmed they submitted a request
EXPLANATION: The lead is active.`

	p := parseResponse(raw)
	assert.False(t, p.Decision)
	// The parser keeps the alternative; the classifier discards it for
	// false decisions.
	require.NotNil(t, p.Alternative)
	assert.Equal(t, model.ReasonNoApplication, *p.Alternative)
}

func TestParseResponse_CaseAndWhitespaceTolerant(t *testing.T) {
	raw := `  decision:   TRUE
  alternative_reason:  783
  Reasons:
  * caller was a parent asking for unrelated services
  explanation: different audience entirely`

	p := parseResponse(raw)
	assert.True(t, p.Decision)
	require.NotNil(t, p.Alternative)
	assert.Equal(t, model.ReasonWrongClient, *p.Alternative)
	require.Len(t, p.Bullets, 1)
	assert.Equal(t, "different audience entirely", p.Explanation)
}

func TestParseResponse_BulletVariants(t *testing.T) {
	raw := `DECISION: true
REASONS:
- dash bullet
• dot bullet
* star bullet`

	p := parseResponse(raw)
	require.Len(t, p.Bullets, 3)
	assert.Equal(t, []string{"dash bullet", "dot bullet", "star bullet"}, p.Bullets)
}

func TestParseResponse_BareTrue(t *testing.T) {
	p := parseResponse("true")
	assert.True(t, p.Decision)
	require.NotEmpty(t, p.Warnings)
}

func TestParseResponse_BareFalse(t *testing.T) {
	p := parseResponse("The answer is false.")
	assert.False(t, p.Decision)
	require.NotEmpty(t, p.Warnings)
}

func TestParseResponse_BothTokensDefaultsFalse(t *testing.T) {
	p := parseResponse("it could be true or false depending on interpretation")
	assert.False(t, p.Decision)
	require.NotEmpty(t, p.Warnings)
}

func TestParseResponse_NoDecisionDefaultsFalse(t *testing.T) {
	p := parseResponse("I cannot determine this from the transcript.")
	assert.False(t, p.Decision)
	require.NotEmpty(t, p.Warnings)
}

func TestParseResponse_TokenBoundaries(t *testing.T) {
	// "untrue" must not count as a bare true token.
	p := parseResponse("the claim is untrue")
	assert.False(t, p.Decision)
}

func TestParseResponse_AlternativeNoneVariants(t *testing.T) {
	for _, v := range []string{"none", "N/A", "-", "null", ""} {
		p := parseResponse("DECISION: true\nALTERNATIVE_REASON: " + v)
		assert.Nil(t, p.Alternative, "value %q", v)
	}
}

func TestParseResponse_AlternativeUnrecognizedCode(t *testing.T) {
	p := parseResponse("DECISION: true\nALTERNATIVE_REASON: 999")
	assert.Nil(t, p.Alternative)
	require.NotEmpty(t, p.Warnings)
}

func TestParseResponse_Alternative158Rejected(t *testing.T) {
	// 158 is call-count territory; the model must not route leads there.
	p := parseResponse("DECISION: true\nALTERNATIVE_REASON: 158")
	assert.Nil(t, p.Alternative)
	require.NotEmpty(t, p.Warnings)
}

func TestParseResponse_AlternativeWithTrailingProse(t *testing.T) {
	p := parseResponse("DECISION: true\nALTERNATIVE_REASON: 227 (wrong number)")
	require.NotNil(t, p.Alternative)
	assert.Equal(t, model.ReasonWrongNumber, *p.Alternative)
}

func TestParseResponse_MultilineExplanation(t *testing.T) {
	raw := `DECISION: false
EXPLANATION: The customer confirmed the application
and asked to be called back tomorrow.`

	p := parseResponse(raw)
	assert.Equal(t, "The customer confirmed the application and asked to be called back tomorrow.", p.Explanation)
}

func TestJustification_FalseNeverEmpty(t *testing.T) {
	p := parseResponse("DECISION: false")
	assert.NotEmpty(t, p.Justification())
}

func TestJustification_CombinesBulletsAndExplanation(t *testing.T) {
	raw := `DECISION: false
REASONS:
- first
- second
EXPLANATION: summary`

	p := parseResponse(raw)
	assert.Equal(t, "first; second | summary", p.Justification())
}
