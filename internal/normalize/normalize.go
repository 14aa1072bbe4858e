// Package normalize turns raw generator text into validated step results.
//
// Decoding runs in a fixed order: fence stripping, JSON parsing, error
// envelope detection, per-step shape checks, then summary repair.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/mentor-labs/internal/domain"
	"github.com/ashureev/mentor-labs/internal/metrics"
)

var interactionKeys = []string{"material", "question_for_user", "session_finished", "summary"}

var analysisKeys = []string{
	"learning_goal", "familiarity_level", "preferred_styles", "time_available_per_session",
	"specific_focus_notes", "immediate_achievement_goal", "desired_session_scope",
}

// endpoint names the public operation in client-facing messages.
var endpoint = map[domain.Step]string{
	domain.StepAnalyze: "analyze_form",
	domain.StepPaths:   "get_learning_paths",
	domain.StepStart:   "start_quiz",
	domain.StepAnswer:  "submit_answer",
}

// Mode selects how control fields of an interaction are treated.
type Mode int

const (
	// Decide trusts the generator's session_finished flag.
	Decide Mode = iota
	// ForceOpen forces session_finished=false and summary=null.
	ForceOpen
)

// Result is a validated interaction.
type Result struct {
	Interaction domain.Interaction
	// Repaired is set when the summary was synthesized by RepairSummary.
	Repaired bool
}

// StripFences removes a leading ``` or ```json fence and a trailing ``` fence.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 7 && strings.EqualFold(s[:7], "```json") {
		s = strings.TrimSpace(s[7:])
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(s[3:])
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(s[:len(s)-3])
	}
	return s
}

func fail(step domain.Step, err *domain.Error) *domain.Error {
	metrics.NormalizeFailures.WithLabelValues(string(step), string(err.Kind)).Inc()
	return err
}

func parseFailure(step domain.Step) string {
	return fmt.Sprintf("Failed to parse or validate AI response (%s).", endpoint[step])
}

// parse strips fences, decodes JSON and surfaces an embedded error envelope.
func parse(step domain.Step, raw string) (json.RawMessage, error) {
	text := StripFences(raw)

	var value json.RawMessage
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, fail(step, domain.Malformed(parseFailure(step), err))
	}

	if isObject(value) {
		var envelope struct {
			Status  *string `json:"status"`
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(value, &envelope); err == nil && envelope.Status != nil && *envelope.Status == "error" {
			msg := "AI processing error"
			if envelope.Message != nil && *envelope.Message != "" {
				msg = *envelope.Message
			}
			return nil, fail(step, domain.Upstream(msg, nil))
		}
	}
	return value, nil
}

func firstByte(v json.RawMessage) byte {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isObject(v json.RawMessage) bool { return firstByte(v) == '{' }
func isArray(v json.RawMessage) bool  { return firstByte(v) == '[' }
func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func missingKeys(obj map[string]json.RawMessage, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// Paths validates a learning path list. With strictCount the list must hold
// exactly three elements.
func Paths(raw string, strictCount bool) ([]domain.LearningPath, error) {
	value, err := parse(domain.StepPaths, raw)
	if err != nil {
		return nil, err
	}
	if !isArray(value) {
		return nil, fail(domain.StepPaths, domain.Shape(parseFailure(domain.StepPaths)+" Expected a list of paths."))
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(value, &entries); err != nil {
		return nil, fail(domain.StepPaths, domain.Shape(parseFailure(domain.StepPaths)+" Path entries are malformed."))
	}
	if len(entries) == 0 {
		return nil, fail(domain.StepPaths, domain.Shape(parseFailure(domain.StepPaths)+" No paths returned."))
	}
	if strictCount && len(entries) != 3 {
		return nil, fail(domain.StepPaths, domain.Shape(fmt.Sprintf("%s Expected 3 paths, got %d.", parseFailure(domain.StepPaths), len(entries))))
	}

	paths := make([]domain.LearningPath, 0, len(entries))
	for i, entry := range entries {
		var p domain.LearningPath
		if !isObject(entry) || json.Unmarshal(entry, &p) != nil {
			return nil, fail(domain.StepPaths, domain.Shape(fmt.Sprintf("%s Path %d is malformed.", parseFailure(domain.StepPaths), i+1)))
		}
		if strings.TrimSpace(p.Name) == "" {
			return nil, fail(domain.StepPaths, domain.Shape(fmt.Sprintf("%s Path %d has no name.", parseFailure(domain.StepPaths), i+1)))
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Interaction validates a START or ANSWER response.
func Interaction(step domain.Step, raw string, mode Mode) (Result, error) {
	value, err := parse(step, raw)
	if err != nil {
		return Result{}, err
	}
	if !isObject(value) {
		return Result{}, fail(step, domain.Shape(parseFailure(step)+" Expected a JSON object."))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(value, &obj); err != nil {
		return Result{}, fail(step, domain.Shape(parseFailure(step)))
	}
	if missing := missingKeys(obj, interactionKeys); len(missing) > 0 {
		return Result{}, fail(step, domain.Shape(fmt.Sprintf("%s Missing keys: %s.", parseFailure(step), strings.Join(missing, ", "))))
	}

	finished := false
	if mode == Decide {
		flag := obj["session_finished"]
		if isNull(flag) || json.Unmarshal(flag, &finished) != nil {
			return Result{}, fail(step, domain.Shape(parseFailure(step)+" session_finished must be a boolean."))
		}
	}

	var material, question *string
	materialErr := json.Unmarshal(obj["material"], &material)
	questionErr := json.Unmarshal(obj["question_for_user"], &question)

	if !finished {
		if materialErr != nil || questionErr != nil || material == nil || question == nil {
			return Result{}, fail(step, domain.Shape(parseFailure(step)+" material and question_for_user must be strings."))
		}
		return Result{Interaction: domain.Interaction{
			Material:        material,
			QuestionForUser: question,
		}}, nil
	}

	if materialErr != nil {
		material = nil
	}
	if questionErr != nil {
		question = nil
	}
	summary, repaired := RepairSummary(obj["summary"])
	if repaired {
		metrics.SummaryRepairs.Inc()
	}
	return Result{
		Interaction: domain.Interaction{
			Material:        material,
			QuestionForUser: question,
			SessionFinished: true,
			Summary:         &summary,
		},
		Repaired: repaired,
	}, nil
}

// Analysis validates a generator-normalized learner profile.
func Analysis(raw string) (domain.Analysis, error) {
	value, err := parse(domain.StepAnalyze, raw)
	if err != nil {
		return domain.Analysis{}, err
	}
	var obj map[string]json.RawMessage
	if !isObject(value) || json.Unmarshal(value, &obj) != nil {
		return domain.Analysis{}, fail(domain.StepAnalyze, domain.Shape(parseFailure(domain.StepAnalyze)+" Expected a JSON object."))
	}
	if missing := missingKeys(obj, analysisKeys); len(missing) > 0 {
		return domain.Analysis{}, fail(domain.StepAnalyze, domain.Shape(fmt.Sprintf("%s Missing keys: %s.", parseFailure(domain.StepAnalyze), strings.Join(missing, ", "))))
	}

	var a domain.Analysis
	if err := json.Unmarshal(value, &a); err != nil {
		return domain.Analysis{}, fail(domain.StepAnalyze, domain.Shape(parseFailure(domain.StepAnalyze)+" Profile fields have the wrong types."))
	}
	if a.PreferredStyles == nil {
		a.PreferredStyles = []string{}
	}
	return a, nil
}
