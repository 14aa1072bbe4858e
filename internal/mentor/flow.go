// Package mentor implements the learning session state machine.
//
// Each step loads the session, checks its preconditions, calls the generator,
// normalizes the response and merges the result back. Steps that write hold
// the per-session lock for the whole read, generate, write span, so two
// requests for one session never interleave. A failed generation or
// normalization returns before the merge and leaves the session unchanged.
package mentor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/mentor-labs/internal/domain"
	"github.com/ashureev/mentor-labs/internal/metrics"
	"github.com/ashureev/mentor-labs/internal/normalize"
	"github.com/ashureev/mentor-labs/internal/prompt"
	"github.com/ashureev/mentor-labs/internal/store"
)

// Client-facing precondition and validation messages.
const (
	msgNoAnalysis   = "User analysis not found. Please submit the form first."
	msgNoContext    = "Session context not found. Please start over."
	msgNoPathName   = "No path name provided."
	msgNoAnswer     = "No answer provided."
	msgFormAnalyzed = "Form analyzed successfully."
)

// Generator produces raw text for a session step.
type Generator interface {
	Generate(ctx context.Context, sessionID string, step domain.Step, prompt string) (string, error)
}

// Options tunes flow behavior.
type Options struct {
	// StrictPathCount rejects path lists that do not hold exactly three entries.
	StrictPathCount bool
	// EnrichAnalysis asks the generator to normalize the profile at ANALYZE.
	EnrichAnalysis bool
}

// Flow drives sessions through ANALYZE, PATHS, START and ANSWER.
type Flow struct {
	sessions *store.Sessions
	gen      Generator
	opts     Options
	logger   *slog.Logger
}

// NewFlow creates a flow over sessions and gen.
func NewFlow(sessions *store.Sessions, gen Generator, opts Options, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{sessions: sessions, gen: gen, opts: opts, logger: logger}
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	SessionID          string              `json:"session_id"`
	State              domain.State        `json:"state"`
	Analysis           *domain.Analysis    `json:"analysis"`
	ChosenPath         *string             `json:"chosen_path"`
	CurrentInteraction *domain.Interaction `json:"current_interaction"`
	FinalSummary       *domain.Summary     `json:"final_summary"`
	AnsweredSteps      int                 `json:"answered_steps"`
}

// Analyze validates form and starts a fresh session under id, discarding any
// earlier path, interaction and summary. It returns the confirmation message.
func (f *Flow) Analyze(ctx context.Context, id string, form Form) (string, error) {
	if err := form.Validate(); err != nil {
		return "", err
	}
	analysis := form.Analysis()

	unlock := f.sessions.Lock(id)
	defer unlock()

	if f.opts.EnrichAnalysis {
		raw, err := f.gen.Generate(ctx, id, domain.StepAnalyze, prompt.Analyze(analysis))
		if err != nil {
			return "", err
		}
		enriched, err := normalize.Analysis(raw)
		if err != nil {
			f.logRejected(id, domain.StepAnalyze, raw, err)
			return "", err
		}
		analysis = enriched
	}

	f.sessions.Merge(ctx, id, store.Patch{
		domain.KeyAnalysis:           analysis,
		domain.KeyChosenPath:         store.Delete,
		domain.KeyCurrentInteraction: store.Delete,
		domain.KeyFinalSummary:       store.Delete,
		domain.KeyAnsweredSteps:      store.Delete,
	})
	f.transition(id, domain.StepAnalyze, domain.StateAnalyzed)
	return msgFormAnalyzed, nil
}

// Paths generates learning path options. Nothing is persisted.
func (f *Flow) Paths(ctx context.Context, id string) ([]domain.LearningPath, error) {
	sess := f.sessions.Get(ctx, id)
	if sess.Analysis == nil {
		return nil, domain.Precondition(msgNoAnalysis)
	}

	raw, err := f.gen.Generate(ctx, id, domain.StepPaths, prompt.Paths(sess.Analysis))
	if err != nil {
		return nil, err
	}
	paths, err := normalize.Paths(raw, f.opts.StrictPathCount)
	if err != nil {
		f.logRejected(id, domain.StepPaths, raw, err)
		return nil, err
	}
	f.logger.Info("Learning paths generated", "session_id", id, "count", len(paths))
	return paths, nil
}

// Start chooses pathName and stores the first, always open, interaction.
func (f *Flow) Start(ctx context.Context, id, pathName string) (domain.Interaction, error) {
	pathName = strings.TrimSpace(pathName)
	if pathName == "" {
		return domain.Interaction{}, domain.Validation(msgNoPathName)
	}

	unlock := f.sessions.Lock(id)
	defer unlock()

	sess := f.sessions.Get(ctx, id)
	if sess.Analysis == nil {
		return domain.Interaction{}, domain.Precondition(msgNoAnalysis)
	}

	raw, err := f.gen.Generate(ctx, id, domain.StepStart, prompt.Start(sess.Analysis, pathName))
	if err != nil {
		return domain.Interaction{}, err
	}
	res, err := normalize.Interaction(domain.StepStart, raw, normalize.ForceOpen)
	if err != nil {
		f.logRejected(id, domain.StepStart, raw, err)
		return domain.Interaction{}, err
	}

	f.sessions.Merge(ctx, id, store.Patch{
		domain.KeyChosenPath:         pathName,
		domain.KeyCurrentInteraction: res.Interaction,
		domain.KeyFinalSummary:       store.Delete,
		domain.KeyAnsweredSteps:      0,
	})
	f.transition(id, domain.StepStart, domain.StatePathChosen)
	return res.Interaction, nil
}

// Answer assesses answer and stores the next interaction. The resume token
// continues on the same path with a forced open interaction. An empty answer
// is a real answer; a nil one is rejected.
func (f *Flow) Answer(ctx context.Context, id string, answer *string) (domain.Interaction, error) {
	if answer == nil {
		return domain.Interaction{}, domain.Validation(msgNoAnswer)
	}

	unlock := f.sessions.Lock(id)
	defer unlock()

	sess := f.sessions.Get(ctx, id)
	if !sess.ReadyForAnswer() {
		return domain.Interaction{}, domain.Precondition(msgNoContext)
	}

	resume := *answer == domain.ResumeToken
	mode := normalize.Decide
	text := prompt.Answer(sess.Analysis, sess.ChosenPath, sess.CurrentInteraction, *answer)
	if resume {
		mode = normalize.ForceOpen
		text = prompt.Resume(sess.Analysis, sess.ChosenPath, sess.CurrentInteraction)
		f.logger.Info("Resuming finished session", "session_id", id, "from_state", sess.State())
	}

	raw, err := f.gen.Generate(ctx, id, domain.StepAnswer, text)
	if err != nil {
		return domain.Interaction{}, err
	}
	res, err := normalize.Interaction(domain.StepAnswer, raw, mode)
	if err != nil {
		f.logRejected(id, domain.StepAnswer, raw, err)
		return domain.Interaction{}, err
	}
	if res.Repaired {
		f.logger.Warn("Repaired malformed session summary", "session_id", id)
	}

	patch := store.Patch{
		domain.KeyCurrentInteraction: res.Interaction,
		domain.KeyAnsweredSteps:      sess.AnsweredSteps + 1,
		domain.KeyFinalSummary:       store.Delete,
	}
	next := domain.StateInProgress
	if res.Interaction.SessionFinished {
		patch[domain.KeyFinalSummary] = res.Interaction.Summary
		next = domain.StateFinished
	}
	f.sessions.Merge(ctx, id, patch)
	f.transition(id, domain.StepAnswer, next)
	return res.Interaction, nil
}

// Snapshot returns the stored session for id.
func (f *Flow) Snapshot(ctx context.Context, id string) SessionView {
	sess := f.sessions.Get(ctx, id)
	view := SessionView{
		SessionID:          id,
		State:              sess.State(),
		Analysis:           sess.Analysis,
		CurrentInteraction: sess.CurrentInteraction,
		FinalSummary:       sess.FinalSummary,
		AnsweredSteps:      sess.AnsweredSteps,
	}
	if sess.ChosenPath != "" {
		view.ChosenPath = domain.StringPtr(sess.ChosenPath)
	}
	return view
}

func (f *Flow) transition(id string, step domain.Step, to domain.State) {
	metrics.StepTransitions.WithLabelValues(string(step), string(to)).Inc()
	f.logger.Info("Session step committed", "session_id", id, "step", step, "state", to)
}

// maxLoggedRaw caps how much rejected generator text is logged.
const maxLoggedRaw = 2 << 10

// logRejected keeps the raw generator text in logs only.
func (f *Flow) logRejected(id string, step domain.Step, raw string, err error) {
	if len(raw) > maxLoggedRaw {
		raw = raw[:maxLoggedRaw] + "...(truncated)"
	}
	f.logger.Warn("Generator response rejected",
		"session_id", id,
		"step", step,
		"kind", domain.KindOf(err),
		"error", err,
		"raw", raw,
	)
}
