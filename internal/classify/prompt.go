package classify

import (
	"fmt"
	"strings"

	"github.com/sells-group/leadcheck/internal/model"
)

// systemPrompt frames the task. It is identical for every lead so prompt
// caching amortizes it across a batch.
const systemPrompt = `You are a lead quality analyst for an education company. Leads are marked junk by sales operators after phone calls, with a reason code explaining why. Operators sometimes pick the wrong reason or mark salvageable leads as junk. You review call transcripts (typically in Uzbek or Russian, sometimes mixed) and judge whether the recorded junk reason matches what was actually said on the call. Base your judgment only on the transcript. If the transcript is ambiguous, err toward confirming the operator's reason.`

// reasonCriteria describes, per junk reason, what the transcript must show
// for the reason to be considered correct.
var reasonCriteria = map[model.JunkReasonCode]string{
	model.ReasonWrongNumber: `The reason "wrong number" is correct when the person who answered indicates the number does not belong to the expected customer: they say it is a wrong number, they never heard of the company or any application, they are a different person than the lead name suggests, or they ask to stop calling because the number was reassigned.`,

	model.ReasonNoApplication: `The reason "no application" is correct when the customer denies ever submitting a request: they say they did not sign up, did not fill any form, do not know why they are being called, or that someone else used their number without their knowledge.`,

	model.ReasonWrongClient: `The reason "wrong client" is correct when the person is not a viable customer for the courses: they are not the decision maker, they were asking for someone else who is not interested, they are a competitor or recruiter, or their goals have nothing to do with what the company teaches.`,

	model.ReasonWrongAge: `The reason "wrong age" is correct when the customer's age falls outside the accepted range for the courses: they state an age that is too young or too old, or they are calling on behalf of a child or relative whose age does not fit.`,
}

// otherReasonLines lists the alternative codes the model may propose.
func otherReasonLines(current model.JunkReasonCode) string {
	var sb strings.Builder
	for _, code := range model.JunkReasonCodes() {
		if code == current || code == model.ReasonNoAnswer5x {
			// 158 is decided by call counting, never by transcript review.
			continue
		}
		fmt.Fprintf(&sb, "- %d: %s\n", int(code), model.JunkReasonLabel(code))
	}
	return sb.String()
}

// buildUserPrompt assembles the per-lead message: criteria, the transcript,
// and the exact response grammar the parser expects.
func buildUserPrompt(reason model.JunkReasonCode, transcript string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "A lead was marked junk with reason %d (%s).\n\n", int(reason), model.JunkReasonLabel(reason))
	sb.WriteString("Criteria for this reason being correct:\n")
	sb.WriteString(reasonCriteria[reason])
	sb.WriteString("\n\nOther junk reasons you may propose instead, if the transcript clearly supports one:\n")
	sb.WriteString(otherReasonLines(reason))
	sb.WriteString("\nCall transcript(s):\n---\n")
	sb.WriteString(transcript)
	sb.WriteString("\n---\n\n")
	sb.WriteString(`Respond in exactly this format:

DECISION: <true|false>
ALTERNATIVE_REASON: <numeric code or none>
REASONS:
- <key observation from the transcript>
- <key observation from the transcript>
EXPLANATION: <one or two sentences summarizing your judgment>

DECISION is true when the recorded junk reason is correct for this transcript, false when it is not. Set ALTERNATIVE_REASON only when DECISION is true but a different junk reason from the list fits better; otherwise write none.`)

	return sb.String()
}

// Classifiable reports whether a junk reason is reviewed by transcript
// analysis at all.
func Classifiable(reason model.JunkReasonCode) bool {
	_, ok := reasonCriteria[reason]
	return ok
}
