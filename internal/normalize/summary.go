package normalize

import (
	"bytes"
	"encoding/json"

	"github.com/ashureev/mentor-labs/internal/domain"
)

const (
	fallbackText       = "N/A"
	fallbackMotivation = "Keep learning!"
)

var summaryKeys = []string{"recap", "strengths", "areas_for_improvement", "next_step_suggestion", "motivation"}

// RepairSummary returns a five-field summary for any JSON value. A complete
// summary object is kept as is and repaired is false. Anything else becomes a
// fallback summary whose recap is the string form of the value.
func RepairSummary(raw json.RawMessage) (summary domain.Summary, repaired bool) {
	var obj map[string]json.RawMessage
	if isObject(raw) && json.Unmarshal(raw, &obj) == nil && len(missingKeys(obj, summaryKeys)) == 0 {
		return domain.Summary{
			Recap:               stringForm(obj["recap"]),
			Strengths:           stringForm(obj["strengths"]),
			AreasForImprovement: stringForm(obj["areas_for_improvement"]),
			NextStepSuggestion:  stringForm(obj["next_step_suggestion"]),
			Motivation:          stringForm(obj["motivation"]),
		}, false
	}

	recap := fallbackText
	if !isNull(raw) {
		recap = stringForm(raw)
	}
	return domain.Summary{
		Recap:               recap,
		Strengths:           fallbackText,
		AreasForImprovement: fallbackText,
		NextStepSuggestion:  fallbackText,
		Motivation:          fallbackMotivation,
	}, true
}

// stringForm renders a JSON string as its text and any other value as compact JSON.
func stringForm(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
