package classify

import (
	"strconv"
	"strings"

	"github.com/sells-group/leadcheck/internal/model"
)

// parsedResponse is the tolerant reading of a model reply. Warnings record
// every deviation from the requested grammar; they are logged, never fatal.
type parsedResponse struct {
	Decision    bool
	Alternative *model.JunkReasonCode
	Bullets     []string
	Explanation string
	Warnings    []string
}

// Justification flattens bullets and explanation into one audit string. It is
// never empty for a false decision: an operator reading the ledger must see
// why a lead was reactivated.
func (p *parsedResponse) Justification() string {
	parts := make([]string, 0, 2)
	if len(p.Bullets) > 0 {
		parts = append(parts, strings.Join(p.Bullets, "; "))
	}
	if p.Explanation != "" {
		parts = append(parts, p.Explanation)
	}
	out := strings.Join(parts, " | ")
	if out == "" && !p.Decision {
		out = "model gave no justification"
	}
	return out
}

// parseResponse reads a model reply against the requested grammar, tolerating
// the deviations models actually produce: case drift in headers, stray
// whitespace, markdown bullets, or a bare true/false with no headers at all.
func parseResponse(raw string) *parsedResponse {
	p := &parsedResponse{}

	var (
		decisionSeen bool
		inReasons    bool
		inExplain    bool
		explainLines []string
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "DECISION:"):
			inReasons, inExplain = false, false
			value := strings.ToLower(strings.TrimSpace(line[len("DECISION:"):]))
			switch {
			case strings.HasPrefix(value, "true"):
				p.Decision = true
				decisionSeen = true
			case strings.HasPrefix(value, "false"):
				p.Decision = false
				decisionSeen = true
			default:
				p.Warnings = append(p.Warnings, "unparseable DECISION value: "+value)
			}

		case strings.HasPrefix(upper, "ALTERNATIVE_REASON:"):
			inReasons, inExplain = false, false
			value := strings.ToLower(strings.TrimSpace(line[len("ALTERNATIVE_REASON:"):]))
			p.Alternative = parseAlternative(value, p)

		case strings.HasPrefix(upper, "REASONS:"):
			inReasons, inExplain = true, false

		case strings.HasPrefix(upper, "EXPLANATION:"):
			inReasons, inExplain = false, true
			if rest := strings.TrimSpace(line[len("EXPLANATION:"):]); rest != "" {
				explainLines = append(explainLines, rest)
			}

		case inReasons && isBullet(line):
			if b := strings.TrimSpace(strings.TrimLeft(line, "-•* \t")); b != "" {
				p.Bullets = append(p.Bullets, b)
			}

		case inExplain:
			explainLines = append(explainLines, line)
		}
	}
	p.Explanation = strings.Join(explainLines, " ")

	if !decisionSeen {
		p.Decision = bareDecision(raw, p)
	}

	return p
}

// bareDecision handles replies with no DECISION header: a lone true or false
// token anywhere in the text is accepted. Both present, or neither, defaults
// to false, the conservative reading that keeps the lead junked.
func bareDecision(raw string, p *parsedResponse) bool {
	lower := strings.ToLower(raw)
	hasTrue := containsToken(lower, "true")
	hasFalse := containsToken(lower, "false")

	switch {
	case hasTrue && !hasFalse:
		p.Warnings = append(p.Warnings, "no DECISION header; bare true token used")
		return true
	case hasFalse && !hasTrue:
		p.Warnings = append(p.Warnings, "no DECISION header; bare false token used")
		return false
	default:
		p.Warnings = append(p.Warnings, "no usable decision in response; defaulting to false")
		return false
	}
}

// containsToken reports whether word appears in s bounded by non-letters.
func containsToken(s, word string) bool {
	for idx := 0; ; {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isLetter(s[i-1])
		after := i+len(word) >= len(s) || !isLetter(s[i+len(word)])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "-") ||
		strings.HasPrefix(line, "•") ||
		strings.HasPrefix(line, "*")
}

func parseAlternative(value string, p *parsedResponse) *model.JunkReasonCode {
	value = strings.TrimSpace(value)
	switch value {
	case "", "none", "n/a", "-", "null":
		return nil
	}

	// Tolerate trailing prose after the code.
	if i := strings.IndexFunc(value, func(r rune) bool { return r < '0' || r > '9' }); i > 0 {
		value = value[:i]
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		p.Warnings = append(p.Warnings, "unparseable ALTERNATIVE_REASON value")
		return nil
	}

	code := model.JunkReasonCode(n)
	if !model.IsRecognizedJunkReason(code) || code == model.ReasonNoAnswer5x {
		p.Warnings = append(p.Warnings, "ALTERNATIVE_REASON not a reviewable junk code: "+value)
		return nil
	}
	return &code
}
