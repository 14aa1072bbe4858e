package mentor

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/mentor-labs/internal/domain"
)

// defaultFocusNotes is stored when the learner leaves specificFocus empty.
const defaultFocusNotes = "None"

// formValidate is the validator instance for analyze form submissions.
var formValidate *validator.Validate

func init() {
	formValidate = validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names so messages match the request body.
	formValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Form is the learner profile submitted to analyze_form.
//
// Styles must be present but may be an empty list: required only rejects a
// nil slice, which is what an absent or null "styles" decodes to.
type Form struct {
	Goal          string   `json:"goal" validate:"required"`
	Familiarity   string   `json:"familiarity" validate:"required"`
	Styles        []string `json:"styles" validate:"required"`
	TimeAvailable string   `json:"timeAvailable" validate:"required"`
	SpecificFocus string   `json:"specificFocus"`
	AchieveGoal   string   `json:"achieveGoal" validate:"required"`
	SessionScope  string   `json:"sessionScope" validate:"required"`
}

// Validate reports every missing required field in one ValidationError.
func (f Form) Validate() error {
	err := formValidate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validation("Invalid form data.")
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return domain.Validation("Missing required form fields: " + strings.Join(missing, ", "))
}

// Analysis maps the form onto the canonical profile schema.
func (f Form) Analysis() domain.Analysis {
	focus := f.SpecificFocus
	if focus == "" {
		focus = defaultFocusNotes
	}
	styles := f.Styles
	if styles == nil {
		styles = []string{}
	}
	return domain.Analysis{
		LearningGoal:             f.Goal,
		FamiliarityLevel:         f.Familiarity,
		PreferredStyles:          styles,
		TimeAvailablePerSession:  f.TimeAvailable,
		SpecificFocusNotes:       focus,
		ImmediateAchievementGoal: f.AchieveGoal,
		DesiredSessionScope:      f.SessionScope,
	}
}
