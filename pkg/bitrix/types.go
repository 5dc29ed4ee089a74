package bitrix

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sells-group/leadcheck/internal/model"
)

// apiResponse is the envelope every webhook method returns. Bitrix embeds
// application-level errors in an otherwise-200 response; Error/ErrorDescription
// must be checked before Result is trusted.
type apiResponse struct {
	Result           json.RawMessage `json:"result"`
	Total            int             `json:"total"`
	Next             int             `json:"next"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// APIError is an application-level error payload from Bitrix. It is never
// transient: retrying an invalid filter or a revoked webhook does not help.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return "bitrix: " + e.Code + ": " + e.Description
	}
	return "bitrix: " + e.Code
}

// Lead list/get payloads arrive as loosely-typed JSON objects whose junk-reason
// field name is deployment-specific. parseLead converts one record into a typed
// model.Lead at the boundary; business logic never sees raw maps.
func parseLead(data map[string]any, junkReasonField string) model.Lead {
	lead := model.Lead{
		ID:       str(data["ID"]),
		Title:    str(data["TITLE"]),
		StatusID: str(data["STATUS_ID"]),
		Contact: model.Contact{
			Name:  str(data["NAME"]),
			Phone: firstMultiField(data["PHONE"]),
			Email: firstMultiField(data["EMAIL"]),
		},
		Raw: data,
	}

	if t, ok := parseBitrixTime(str(data["DATE_CREATE"])); ok {
		lead.CreatedAt = t
	}

	if code, ok := integer(data[junkReasonField]); ok && code != 0 {
		jr := model.JunkReasonCode(code)
		lead.JunkReason = &jr
	}

	return lead
}

// parseCallRecord converts one voximplant.statistic.get record.
func parseCallRecord(data map[string]any) model.CallRecord {
	failedCode := str(data["CALL_FAILED_CODE"])
	durationSecs, _ := integer(data["CALL_DURATION"])

	rec := model.CallRecord{
		ID:           str(data["ID"]),
		Outcome:      outcomeFromFailedCode(failedCode),
		Duration:     time.Duration(durationSecs) * time.Second,
		RecordingURL: str(data["CALL_RECORD_URL"]),
		Connected:    failedCode == "200",
	}

	if t, ok := parseBitrixTime(str(data["CALL_START_DATE"])); ok {
		rec.StartedAt = t
	}

	return rec
}

// outcomeFromFailedCode maps telephony result codes to call outcomes.
// 200 means the call connected; SIP-style codes cover the failure modes.
func outcomeFromFailedCode(code string) model.CallOutcome {
	switch code {
	case "200":
		return model.OutcomeAnswered
	case "304", "480":
		return model.OutcomeNoAnswer
	case "486":
		return model.OutcomeBusy
	case "403", "603", "404":
		return model.OutcomeFailed
	case "":
		return model.OutcomeUnknown
	default:
		return model.OutcomeUnknown
	}
}

func parseBitrixTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// str reads a string field that Bitrix may encode as string or number.
func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// integer reads an int field that Bitrix may encode as string or number.
func integer(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// firstMultiField extracts the first VALUE from a Bitrix multi-field
// (PHONE/EMAIL arrive as [{"VALUE": "...", "VALUE_TYPE": "WORK"}, ...]).
func firstMultiField(v any) string {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	entry, ok := items[0].(map[string]any)
	if !ok {
		return ""
	}
	return str(entry["VALUE"])
}
