// Package domain contains core domain types for the mentor application.
package domain

// Document keys used for the flat session record.
const (
	KeyAnalysis           = "analysis"
	KeyChosenPath         = "chosen_path"
	KeyCurrentInteraction = "current_interaction"
	KeyFinalSummary       = "final_summary"
	KeyAnsweredSteps      = "answered_steps"
)

// ResumeToken is the reserved answer value that continues a finished session.
const ResumeToken = "SYSTEM_CONTINUE_SIGNAL"

// State is the derived position of a session in the learning flow.
type State string

const (
	StateEmpty      State = "EMPTY"
	StateAnalyzed   State = "ANALYZED"
	StatePathChosen State = "PATH_CHOSEN"
	StateInProgress State = "IN_PROGRESS"
	StateFinished   State = "FINISHED"
)

// Step names one of the four request types that drive the flow.
type Step string

const (
	StepAnalyze Step = "analyze"
	StepPaths   Step = "paths"
	StepStart   Step = "start"
	StepAnswer  Step = "answer"
)

// Analysis is the normalized learner profile stored at the start of a session.
type Analysis struct {
	LearningGoal             string   `json:"learning_goal"`
	FamiliarityLevel         string   `json:"familiarity_level"`
	PreferredStyles          []string `json:"preferred_styles"`
	TimeAvailablePerSession  string   `json:"time_available_per_session"`
	SpecificFocusNotes       string   `json:"specific_focus_notes"`
	ImmediateAchievementGoal string   `json:"immediate_achievement_goal"`
	DesiredSessionScope      string   `json:"desired_session_scope"`
}

// Summary is the end-of-session synthesis.
type Summary struct {
	Recap               string `json:"recap"`
	Strengths           string `json:"strengths"`
	AreasForImprovement string `json:"areas_for_improvement"`
	NextStepSuggestion  string `json:"next_step_suggestion"`
	Motivation          string `json:"motivation"`
}

// Interaction is the latest step payload shown to the learner.
type Interaction struct {
	Material        *string  `json:"material"`
	QuestionForUser *string  `json:"question_for_user"`
	SessionFinished bool     `json:"session_finished"`
	Summary         *Summary `json:"summary"`
}

// MaterialText returns the material or "N/A" when absent.
func (i *Interaction) MaterialText() string {
	if i == nil || i.Material == nil {
		return "N/A"
	}
	return *i.Material
}

// QuestionText returns the question or "N/A" when absent.
func (i *Interaction) QuestionText() string {
	if i == nil || i.QuestionForUser == nil {
		return "N/A"
	}
	return *i.QuestionForUser
}

// LearningPath is one generated path option.
type LearningPath struct {
	Name     string `json:"name"`
	Duration string `json:"duration"`
	Overview string `json:"overview"`
}

// Session is the decoded per-session record.
type Session struct {
	ID                 string
	Analysis           *Analysis
	ChosenPath         string
	CurrentInteraction *Interaction
	FinalSummary       *Summary
	AnsweredSteps      int
}

// State derives the flow position from the stored fields.
func (s *Session) State() State {
	switch {
	case s == nil || s.Analysis == nil:
		return StateEmpty
	case s.ChosenPath == "" || s.CurrentInteraction == nil:
		return StateAnalyzed
	case s.CurrentInteraction.SessionFinished:
		return StateFinished
	case s.AnsweredSteps > 0:
		return StateInProgress
	default:
		return StatePathChosen
	}
}

// ReadyForAnswer reports whether every prerequisite of an answer step is present.
func (s *Session) ReadyForAnswer() bool {
	return s != nil && s.Analysis != nil && s.ChosenPath != "" && s.CurrentInteraction != nil
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}
