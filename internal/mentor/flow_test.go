package mentor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/mentor-labs/internal/domain"
	"github.com/ashureev/mentor-labs/internal/store"
)

const (
	pathsJSON = `[{"name":"Core Concepts","duration":"Approx. 15 mins","overview":"The basics."},
		{"name":"Practical Example Task","duration":"Approx. 20 mins","overview":"Build something."},
		{"name":"Deep Dive","duration":"Approx. 30 mins","overview":"Go further."}]`
	openJSON     = `{"material":"Variables hold values.","question_for_user":"What is a variable?","session_finished":false,"summary":null}`
	nextJSON     = `{"material":"Types constrain values.","question_for_user":"Name a type.","session_finished":false,"summary":null}`
	finishedJSON = "```json\n" + `{"material":null,"question_for_user":null,"session_finished":true,"summary":{
		"recap":"You learned variables.","strengths":"Clear answers.","areas_for_improvement":"Naming.",
		"next_step_suggestion":"Try functions.","motivation":"Keep going!"}}` + "\n```"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses map[domain.Step][]string
	err       error
	prompts   []string
	calls     int
	delay     time.Duration
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{responses: map[domain.Step][]string{
		domain.StepPaths:  {pathsJSON},
		domain.StepStart:  {openJSON},
		domain.StepAnswer: {nextJSON},
	}}
}

// script queues responses for step; the last one repeats.
func (g *fakeGenerator) script(step domain.Step, responses ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[step] = responses
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, step domain.Step, prompt string) (string, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxFlight.Load()
		if n <= m || g.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	queue := g.responses[step]
	if len(queue) == 0 {
		return "", errors.New("no scripted response")
	}
	if len(queue) > 1 {
		g.responses[step] = queue[1:]
	}
	return queue[0], nil
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func sampleForm() Form {
	return Form{
		Goal:          "Learn X",
		Familiarity:   "beginner",
		Styles:        []string{"visual"},
		TimeAvailable: "15m",
		AchieveGoal:   "understand basics",
		SessionScope:  "one concept",
	}
}

func newTestFlow(t *testing.T, opts Options) (*Flow, *fakeGenerator) {
	t.Helper()
	backend := store.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })
	gen := newFakeGenerator()
	return NewFlow(store.NewSessions(backend, nil), gen, opts, nil), gen
}

func answer(s string) *string { return &s }

// assertSummaryInvariant checks finished ⇔ final_summary ⇔ complete summary.
func assertSummaryInvariant(t *testing.T, v SessionView) {
	t.Helper()
	if v.CurrentInteraction == nil {
		assert.Nil(t, v.FinalSummary)
		return
	}
	if v.CurrentInteraction.SessionFinished {
		require.NotNil(t, v.FinalSummary)
		require.NotNil(t, v.CurrentInteraction.Summary)
		assert.Equal(t, *v.CurrentInteraction.Summary, *v.FinalSummary)
		return
	}
	assert.Nil(t, v.FinalSummary)
	assert.Nil(t, v.CurrentInteraction.Summary)
	assert.NotNil(t, v.CurrentInteraction.Material)
	assert.NotNil(t, v.CurrentInteraction.QuestionForUser)
}

func TestAnalyzeRejectsMissingFields(t *testing.T) {
	t.Parallel()
	flow, gen := newTestFlow(t, Options{})

	form := sampleForm()
	form.Goal = ""
	form.SessionScope = ""
	form.Styles = nil
	_, err := flow.Analyze(context.Background(), "s1", form)

	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, "Missing required form fields: goal, styles, sessionScope", err.(*domain.Error).Message)
	assert.Equal(t, domain.StateEmpty, flow.Snapshot(context.Background(), "s1").State)
	assert.Zero(t, gen.callCount())
}

func TestAnalyzeToleratesEmptyStylesAndDefaultsFocus(t *testing.T) {
	t.Parallel()
	flow, gen := newTestFlow(t, Options{})

	form := sampleForm()
	form.Styles = []string{}
	msg, err := flow.Analyze(context.Background(), "s1", form)
	require.NoError(t, err)
	assert.Equal(t, "Form analyzed successfully.", msg)

	view := flow.Snapshot(context.Background(), "s1")
	assert.Equal(t, domain.StateAnalyzed, view.State)
	require.NotNil(t, view.Analysis)
	assert.Equal(t, "Learn X", view.Analysis.LearningGoal)
	assert.Equal(t, "None", view.Analysis.SpecificFocusNotes)
	assert.Empty(t, view.Analysis.PreferredStyles)
	assert.Zero(t, gen.callCount(), "analyze stores the form without calling the generator")
}

func TestAnalyzeClearsPriorSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	gen.script(domain.StepAnswer, finishedJSON)

	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)
	_, err = flow.Answer(ctx, "s1", answer("a box for values"))
	require.NoError(t, err)
	require.Equal(t, domain.StateFinished, flow.Snapshot(ctx, "s1").State)

	form := sampleForm()
	form.Goal = "Learn Y"
	_, err = flow.Analyze(ctx, "s1", form)
	require.NoError(t, err)

	view := flow.Snapshot(ctx, "s1")
	assert.Equal(t, domain.StateAnalyzed, view.State)
	assert.Equal(t, "Learn Y", view.Analysis.LearningGoal)
	assert.Nil(t, view.ChosenPath)
	assert.Nil(t, view.CurrentInteraction)
	assert.Nil(t, view.FinalSummary)
	assert.Zero(t, view.AnsweredSteps)
}

func TestAnalyzeEnrichUsesGenerator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{EnrichAnalysis: true})
	gen.script(domain.StepAnalyze, `{"learning_goal":"Learn the X language","familiarity_level":"beginner",
		"preferred_styles":["visual"],"time_available_per_session":"15 minutes","specific_focus_notes":"None",
		"immediate_achievement_goal":"understand basics","desired_session_scope":"one concept"}`)

	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	assert.Equal(t, "Learn the X language", flow.Snapshot(ctx, "s1").Analysis.LearningGoal)
	assert.Contains(t, gen.lastPrompt(), `"learning_goal": "Learn X"`)
}

func TestAnalyzeEnrichFailureKeepsPriorSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)
	before := flow.Snapshot(ctx, "s1")

	enriching := NewFlow(flow.sessions, gen, Options{EnrichAnalysis: true}, nil)
	gen.script(domain.StepAnalyze, `{"learning_goal":"only one key"}`)
	_, err = enriching.Analyze(ctx, "s1", sampleForm())
	assert.Equal(t, domain.KindUnexpectedShape, domain.KindOf(err))
	assert.Equal(t, before, flow.Snapshot(ctx, "s1"))
}

func TestPathsRequiresAnalysis(t *testing.T) {
	t.Parallel()
	flow, gen := newTestFlow(t, Options{})

	_, err := flow.Paths(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, domain.KindPreconditionMissing, domain.KindOf(err))
	assert.Equal(t, "User analysis not found. Please submit the form first.", err.(*domain.Error).Message)
	assert.Zero(t, gen.callCount())
}

func TestPathsReturnsGeneratedListWithoutStateChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	before := flow.Snapshot(ctx, "s1")

	paths, err := flow.Paths(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "Core Concepts", paths[0].Name)
	assert.Contains(t, gen.lastPrompt(), `goal: "Learn X"`)
	assert.Equal(t, before, flow.Snapshot(ctx, "s1"))
}

func TestPathsStrictCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{StrictPathCount: true})
	gen.script(domain.StepPaths, `[{"name":"Only","duration":"5m","overview":"x"}]`)
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)

	_, err = flow.Paths(ctx, "s1")
	assert.Equal(t, domain.KindUnexpectedShape, domain.KindOf(err))
}

func TestStartRequiresPathName(t *testing.T) {
	t.Parallel()
	flow, _ := newTestFlow(t, Options{})

	_, err := flow.Start(context.Background(), "s1", "  ")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, "No path name provided.", err.(*domain.Error).Message)
}

func TestStartRequiresAnalysis(t *testing.T) {
	t.Parallel()
	flow, _ := newTestFlow(t, Options{})

	_, err := flow.Start(context.Background(), "s1", "Core Concepts")
	assert.Equal(t, domain.KindPreconditionMissing, domain.KindOf(err))
}

func TestStartForcesOpenInteraction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	gen.script(domain.StepStart, `{"material":"m","question_for_user":"q","session_finished":true,"summary":{"recap":"r"}}`)
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)

	it, err := flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)
	assert.False(t, it.SessionFinished)
	assert.Nil(t, it.Summary)

	view := flow.Snapshot(ctx, "s1")
	assert.Equal(t, domain.StatePathChosen, view.State)
	require.NotNil(t, view.ChosenPath)
	assert.Equal(t, "Core Concepts", *view.ChosenPath)
	assert.False(t, view.CurrentInteraction.SessionFinished)
	assertSummaryInvariant(t, view)
}

func TestStartFailureCommitsNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	gen.script(domain.StepStart, "I cannot produce JSON today")
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)

	_, err = flow.Start(ctx, "s1", "Core Concepts")
	assert.Equal(t, domain.KindMalformedAIResponse, domain.KindOf(err))

	view := flow.Snapshot(ctx, "s1")
	assert.Equal(t, domain.StateAnalyzed, view.State)
	assert.Nil(t, view.ChosenPath)
	assert.Nil(t, view.CurrentInteraction)
}

func TestAnswerRequiresContext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)

	_, err = flow.Answer(ctx, "s1", answer("x"))
	assert.Equal(t, domain.KindPreconditionMissing, domain.KindOf(err))
	assert.Equal(t, "Session context not found. Please start over.", err.(*domain.Error).Message)
	assert.Zero(t, gen.callCount())
}

func TestAnswerNilIsValidationError(t *testing.T) {
	t.Parallel()
	flow, _ := newTestFlow(t, Options{})

	_, err := flow.Answer(context.Background(), "s1", nil)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, "No answer provided.", err.(*domain.Error).Message)
}

func TestAnswerEmptyStringIsARealAnswer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)

	it, err := flow.Answer(ctx, "s1", answer(""))
	require.NoError(t, err)
	assert.False(t, it.SessionFinished)
	assert.Contains(t, gen.lastPrompt(), `User's Latest Answer: ""`)
	assert.Contains(t, gen.lastPrompt(), "Material Presented: Variables hold values.")

	view := flow.Snapshot(ctx, "s1")
	assert.Equal(t, domain.StateInProgress, view.State)
	assert.Equal(t, 1, view.AnsweredSteps)
	assert.Equal(t, "Types constrain values.", *view.CurrentInteraction.Material)
	assertSummaryInvariant(t, view)
}

func TestAnswerFinishStoresFinalSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	gen.script(domain.StepAnswer, finishedJSON)
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)

	it, err := flow.Answer(ctx, "s1", answer("a named box"))
	require.NoError(t, err)
	assert.True(t, it.SessionFinished)
	require.NotNil(t, it.Summary)
	assert.Equal(t, "You learned variables.", it.Summary.Recap)

	view := flow.Snapshot(ctx, "s1")
	assert.Equal(t, domain.StateFinished, view.State)
	assertSummaryInvariant(t, view)
}

func TestAnswerRepairsBareStringSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	gen.script(domain.StepAnswer, `{"material":null,"question_for_user":null,"session_finished":true,"summary":"Well done today."}`)
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)

	it, err := flow.Answer(ctx, "s1", answer("done"))
	require.NoError(t, err)
	require.NotNil(t, it.Summary)
	assert.Equal(t, domain.Summary{
		Recap:               "Well done today.",
		Strengths:           "N/A",
		AreasForImprovement: "N/A",
		NextStepSuggestion:  "N/A",
		Motivation:          "Keep learning!",
	}, *it.Summary)
	assertSummaryInvariant(t, flow.Snapshot(ctx, "s1"))
}

func TestResumeFromFinishedClearsFinalSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	gen.script(domain.StepAnswer, finishedJSON,
		`{"material":"More on variables.","question_for_user":"Why name them?","session_finished":true,"summary":{"recap":"x"}}`)
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)
	_, err = flow.Answer(ctx, "s1", answer("a box"))
	require.NoError(t, err)
	require.Equal(t, domain.StateFinished, flow.Snapshot(ctx, "s1").State)

	it, err := flow.Answer(ctx, "s1", answer(domain.ResumeToken))
	require.NoError(t, err)
	assert.False(t, it.SessionFinished, "resume forces an open interaction")
	assert.Nil(t, it.Summary)
	assert.Contains(t, gen.lastPrompt(), "SAME path")
	assert.Contains(t, gen.lastPrompt(), "Material Presented: N/A")

	view := flow.Snapshot(ctx, "s1")
	assert.Equal(t, domain.StateInProgress, view.State)
	assert.Nil(t, view.FinalSummary)
	assertSummaryInvariant(t, view)
}

func TestAnswerFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)
	before := flow.Snapshot(ctx, "s1")

	gen.script(domain.StepAnswer, `{"material":"m"}`)
	_, err = flow.Answer(ctx, "s1", answer("x"))
	assert.Equal(t, domain.KindUnexpectedShape, domain.KindOf(err))
	assert.Equal(t, before, flow.Snapshot(ctx, "s1"))

	gen.mu.Lock()
	gen.err = domain.Upstream("AI API call failed: boom", errors.New("boom"))
	gen.mu.Unlock()
	_, err = flow.Answer(ctx, "s1", answer("x"))
	assert.Equal(t, domain.KindUpstreamFailure, domain.KindOf(err))
	assert.Equal(t, before, flow.Snapshot(ctx, "s1"))
}

func TestErrorEnvelopeIsUpstreamFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	gen.script(domain.StepPaths, `{"status":"error","message":"API key not configured in environment"}`)
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)

	_, err = flow.Paths(ctx, "s1")
	assert.Equal(t, domain.KindUpstreamFailure, domain.KindOf(err))
	assert.Equal(t, "API key not configured in environment", err.(*domain.Error).Message)
}

func TestSessionsAreIsolatedByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, _ := newTestFlow(t, Options{})
	_, err := flow.Analyze(ctx, "a", sampleForm())
	require.NoError(t, err)

	_, err = flow.Paths(ctx, "b")
	assert.Equal(t, domain.KindPreconditionMissing, domain.KindOf(err))
	_, err = flow.Paths(ctx, "a")
	assert.NoError(t, err)
}

func TestConcurrentAnswersOnOneSessionSerialize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flow, gen := newTestFlow(t, Options{})
	_, err := flow.Analyze(ctx, "s1", sampleForm())
	require.NoError(t, err)
	_, err = flow.Start(ctx, "s1", "Core Concepts")
	require.NoError(t, err)

	gen.delay = 20 * time.Millisecond
	gen.maxFlight.Store(0)

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := flow.Answer(ctx, "s1", answer("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), gen.maxFlight.Load())
	assert.Equal(t, n, flow.Snapshot(ctx, "s1").AnsweredSteps)
}
