// Package prompt builds the generation prompts for each flow step.
//
// Every builder asks for strict JSON with a fixed key set; the normalize
// package is keyed on the same names, so they must stay in sync.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/mentor-labs/internal/domain"
)

const mentorPersona = `Your task is to help the user to upgrade their education process.
You are a friendly and encouraging AI Learning Mentor who combines proven learning
methods and techniques to personalize education.
The user is always the student and you are the mentor.`

func profileJSON(a *domain.Analysis) string {
	if a == nil {
		return "{}"
	}
	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

func styles(a *domain.Analysis) string {
	if a == nil || len(a.PreferredStyles) == 0 {
		return "none stated"
	}
	return strings.Join(a.PreferredStyles, ", ")
}

// Analyze asks the generator to normalize a raw learner profile.
func Analyze(form domain.Analysis) string {
	return fmt.Sprintf(`
Analyze the input learner profile below and return it normalized for a tutoring system.
Keep the learner's intent; fix obvious typos, expand abbreviations and make each value concise.

Learner Profile:
%s

Output ONLY a valid JSON object with exactly these keys:
{
  "learning_goal": "...",
  "familiarity_level": "...",
  "preferred_styles": ["..."],
  "time_available_per_session": "...",
  "specific_focus_notes": "...",
  "immediate_achievement_goal": "...",
  "desired_session_scope": "..."
}
`, profileJSON(&form))
}

// Paths asks for exactly three learning path options.
func Paths(a *domain.Analysis) string {
	return fmt.Sprintf(`
Based on the following user profile analysis, generate exactly 3 distinct learning path options
suitable for a short session (%s).

User Profile Analysis:
%s

Focus on the user's goal: "%s" and level: "%s".
Consider preferred styles: %s.
If a specific focus exists (%s), incorporate it into at least one path.
The user wants to achieve: "%s" within this scope: "%s".

Output ONLY a valid JSON array of exactly 3 objects, each with these keys:
- name: A short, descriptive name for the path (e.g., "Core Concepts Review", "Practical Example Task").
- duration: An estimated duration string (e.g., "Approx. 15 mins").
- overview: A brief (1-2 sentence) overview of what the path covers.
`, a.TimeAvailablePerSession, profileJSON(a), a.LearningGoal, a.FamiliarityLevel, styles(a),
		a.SpecificFocusNotes, a.ImmediateAchievementGoal, a.DesiredSessionScope)
}

// Start asks for the first material and question on the chosen path.
func Start(a *domain.Analysis, path string) string {
	return fmt.Sprintf(`
%s

The user has provided their profile analysis and chosen a learning path.
Generate the VERY FIRST learning item (material and a question) for an interactive session.

User Profile Analysis:
%s

Chosen Learning Path: "%s"

Keep questions engaging and suitable for the user's level (%s).
The goal is to start the learning process based on the chosen path.

Output ONLY a valid JSON object:
{
  "material": "initial learning material (text, explanation, concept)",
  "question_for_user": "a question the user answers based on the material",
  "session_finished": false,
  "summary": null
}
`, mentorPersona, profileJSON(a), path, a.FamiliarityLevel)
}

// Answer asks the generator to assess an answer and either continue or end the session.
func Answer(a *domain.Analysis, path string, current *domain.Interaction, answer string) string {
	return fmt.Sprintf(`
You are an AI Tutor assessing a user's answer during a learning session.

User Profile Analysis:
%s

Chosen Learning Path: "%s"

Previous Interaction Step:
Material Presented: %s
Question Asked: %s

User's Latest Answer: %q

Task:
1. Analyze the user's answer based on the previous question, their profile (level: %s) and the overall goal ('%s').
2. Decide if the session should continue with the next logical step in the "%s" path OR if the session should end
   (e.g., the path's objective for this short session is met, the user seems stuck, or the user wants to stop).
3. Generate a JSON response based on your decision:
   - If CONTINUING: set "session_finished" to false, provide the NEXT "material" and "question_for_user", set "summary" to null.
   - If ENDING: set "session_finished" to true, set "material" and "question_for_user" to null and provide a "summary"
     which MUST be a JSON object containing:
     - recap: brief summary of what the user practiced or learned in this interaction block.
     - strengths: positive feedback or areas where the user did well.
     - areas_for_improvement: gentle suggestions on what to focus on next.
     - next_step_suggestion: what the user could learn or do next time related to their main goal.
     - motivation: a brief encouraging closing remark.

Output ONLY a valid JSON object adhering to this structure:
{
  "material": "..." or null,
  "question_for_user": "..." or null,
  "session_finished": boolean,
  "summary": { "recap": "...", "strengths": "...", "areas_for_improvement": "...", "next_step_suggestion": "...", "motivation": "..." } or null
}
`, profileJSON(a), path, current.MaterialText(), current.QuestionText(), answer,
		a.FamiliarityLevel, a.LearningGoal, path)
}

// Resume asks for the next item after the learner chose to continue past a summary.
func Resume(a *domain.Analysis, path string, current *domain.Interaction) string {
	return fmt.Sprintf(`
The user previously reached a session summary point for the path "%s" but wants to continue
learning on the SAME path. Generate the NEXT logical learning item (material and question)
based on their profile and the path.

User Profile Analysis:
%s

Chosen Learning Path: "%s"

Last Interaction (before summary):
Material Presented: %s
Question Asked: %s

Task: Generate the next step. Keep the material concise and the question engaging.

Output ONLY the required valid JSON object:
{
  "material": "...",
  "question_for_user": "...",
  "session_finished": false,
  "summary": null
}
`, path, profileJSON(a), path, current.MaterialText(), current.QuestionText())
}
