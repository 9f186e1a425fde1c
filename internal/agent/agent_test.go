package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/registry"
)

type fakeBrain struct {
	planJSON []byte
	answer   string
	err      error
}

func (f *fakeBrain) Plan(ctx context.Context, goal, missionContext string, inputs map[string]interface{}) ([]byte, string, error) {
	return f.planJSON, f.answer, f.err
}

func (f *fakeBrain) Converse(ctx context.Context, message string) (string, error) {
	return "hello yourself", nil
}

type fakeCapabilities struct {
	outputs []models.PluginOutput
	err     error
}

func (f *fakeCapabilities) Execute(ctx context.Context, missionID, stepID, actionVerb string, inputs map[string]models.InputValue) ([]models.PluginOutput, error) {
	return f.outputs, f.err
}

type fakeSink struct {
	events []string
}

func (f *fakeSink) Emit(eventType string, fields map[string]interface{}) {
	f.events = append(f.events, eventType)
}

type fakePublisher struct{ updates []string }

func (f *fakePublisher) PublishStatusUpdate(agentID, status, missionID string) {
	f.updates = append(f.updates, status)
}

func newTestAgent(brain Brain, caps Capabilities) *Agent {
	return New(Config{
		ID: "agent-1", MissionID: "mission-1", Role: models.RoleExecutor,
		Goal: "do the thing",
		Brain: brain, Capabilities: caps,
		Registry: registry.New(), Sink: &fakeSink{}, Publisher: &fakePublisher{},
	})
}

func TestNewSeedsAccomplishStep(t *testing.T) {
	a := newTestAgent(&fakeBrain{}, &fakeCapabilities{})
	require.Len(t, a.Steps, 1)
	assert.Equal(t, models.VerbAccomplish, a.Steps[0].ActionVerb)
	assert.Equal(t, models.StepPending, a.Steps[0].Status)
}

func TestExecuteStepCompletesOnFinalAnswer(t *testing.T) {
	a := newTestAgent(&fakeBrain{answer: "done"}, &fakeCapabilities{})
	a.Status = models.AgentRunning
	err := a.executeStep(context.Background(), a.Steps[0])
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, a.Steps[0].Status)
}

func TestExecuteStepExpandsPlan(t *testing.T) {
	plan := `[{"id":"agent-1-step-2","actionVerb":"DO","description":"do it"}]`
	a := newTestAgent(&fakeBrain{planJSON: []byte(plan)}, &fakeCapabilities{})
	a.Status = models.AgentRunning

	err := a.executeStep(context.Background(), a.Steps[0])
	require.NoError(t, err)
	assert.Equal(t, models.StepReplaced, a.Steps[0].Status)
	require.Len(t, a.Steps, 2)
	assert.Equal(t, "agent-1-step-2", a.Steps[1].ID)
}

func TestHandleUserInputResponseIdempotent(t *testing.T) {
	a := newTestAgent(&fakeBrain{}, &fakeCapabilities{})
	askStep := models.NewStep("agent-1-ask", "mission-1", "agent-1", models.VerbAsk, 2)
	askStep.Status = models.StepWaiting
	a.Steps = append(a.Steps, askStep)
	a.WaitingSteps["req-1"] = askStep.ID

	a.handleUserInputResponse("req-1", "the answer")
	require.Equal(t, models.StepCompleted, askStep.Status)
	require.Len(t, askStep.Result, 1)
	assert.Equal(t, "the answer", askStep.Result[0].Result)

	// Second delivery of the same response is a no-op.
	askStep.Result[0].Result = "untouched"
	a.handleUserInputResponse("req-1", "a different answer")
	assert.Equal(t, "untouched", askStep.Result[0].Result)
}

func TestIsSimpleConversational(t *testing.T) {
	assert.True(t, isSimpleConversational("hello there"))
	assert.True(t, isSimpleConversational("thanks!"))
	assert.False(t, isSimpleConversational("can you build me a new microservice for billing"))
	assert.False(t, isSimpleConversational("please create a detailed research report on battery chemistry trends for 2026"))
}

func TestHandleUserMessageSimpleDoesNotCreateStep(t *testing.T) {
	a := newTestAgent(&fakeBrain{}, &fakeCapabilities{})
	before := len(a.Steps)
	a.handleUserMessage(context.Background(), "hi!")
	assert.Len(t, a.Steps, before)
	require.Len(t, a.Conversation, 2)
	assert.Equal(t, "hello yourself", a.Conversation[1].Content)
}

func TestHandleUserMessageTaskCreatesStep(t *testing.T) {
	a := newTestAgent(&fakeBrain{}, &fakeCapabilities{})
	before := len(a.Steps)
	a.handleUserMessage(context.Background(), "please build a data pipeline for ingesting sensor telemetry")
	assert.Len(t, a.Steps, before+1)
}

func TestPauseRevertsRunningStepsToPending(t *testing.T) {
	a := newTestAgent(&fakeBrain{}, &fakeCapabilities{})
	a.Steps[0].Status = models.StepRunning
	a.Pause()
	assert.Equal(t, models.AgentPaused, a.Status)
	assert.Equal(t, models.StepPending, a.Steps[0].Status)
}

func TestHasActiveWorkReflectsDelegatedSteps(t *testing.T) {
	a := newTestAgent(&fakeBrain{}, &fakeCapabilities{})
	a.Steps[0].Status = models.StepCompleted
	assert.False(t, a.hasActiveWork())
	a.DelegatedSteps["x"] = true
	assert.True(t, a.hasActiveWork())
}

func TestStartTransitionsToRunningAndEventuallyCompletes(t *testing.T) {
	a := newTestAgent(&fakeBrain{answer: "final"}, &fakeCapabilities{})
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	a.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.StatusSnapshot().IsTerminal() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, models.AgentCompleted, a.StatusSnapshot())
}
