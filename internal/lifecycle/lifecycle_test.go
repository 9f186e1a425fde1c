package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpravetz/agentset/internal/agent"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/registry"
)

type fakeBrain struct{}

func (fakeBrain) Plan(ctx context.Context, goal, missionContext string, inputs map[string]interface{}) ([]byte, string, error) {
	return nil, "", nil
}
func (fakeBrain) Converse(ctx context.Context, message string) (string, error) { return "", nil }

type fakeCapabilities struct{}

func (fakeCapabilities) Execute(ctx context.Context, missionID, stepID, actionVerb string, inputs map[string]models.InputValue) ([]models.PluginOutput, error) {
	return nil, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved map[string]json.RawMessage
}

func newFakeStore() *fakeStore { return &fakeStore{saved: make(map[string]json.RawMessage)} }

func (f *fakeStore) SaveAgentState(ctx context.Context, agentKey, agentID, missionID string, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[agentKey] = state
	return nil
}

func (f *fakeStore) LoadAgentState(ctx context.Context, agentKey string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.saved[agentKey]
	return state, ok, nil
}

func newTestAgent() *agent.Agent {
	return agent.New(agent.Config{
		ID: "agent-1", MissionID: "mission-1", Role: models.RoleExecutor, Goal: "do it",
		Brain: fakeBrain{}, Capabilities: fakeCapabilities{}, Registry: registry.New(),
	})
}

func TestHealthScoreFormula(t *testing.T) {
	assert.Equal(t, 100, HealthScore(models.AgentRunning, 0))
	assert.Equal(t, 90, HealthScore(models.AgentRunning, 1))
	assert.Equal(t, 80, HealthScore(models.AgentPaused, 0))
	assert.Equal(t, 0, HealthScore(models.AgentError, 50))
}

func TestCheckpointSavesState(t *testing.T) {
	store := newFakeStore()
	m := New(store, "secret", time.Hour)
	ag := newTestAgent()

	require.NoError(t, m.Checkpoint(context.Background(), ag))
	raw, ok, err := store.LoadAgentState(context.Background(), ag.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, raw)
}

func TestMonitorHealthForcesCheckpointBelowThreshold(t *testing.T) {
	store := newFakeStore()
	m := New(store, "secret", time.Hour)
	ag := newTestAgent()
	ag.Status = models.AgentError
	ag.Steps[0].Status = models.StepError
	ag.Steps = append(ag.Steps, ag.Steps[0], ag.Steps[0], ag.Steps[0], ag.Steps[0])

	m.Register(ag)
	m.MonitorHealth(context.Background())

	_, ok, err := store.LoadAgentState(context.Background(), ag.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	history := m.HealthHistory(ag.ID)
	require.Len(t, history, 1)
	assert.Less(t, history[0], healthCheckpointThreshold)
}

func TestRestoreReplacesStateAndResumes(t *testing.T) {
	store := newFakeStore()
	m := New(store, "secret", time.Hour)
	ag := newTestAgent()
	ag.Conversation = append(ag.Conversation, models.ConversationTurn{Role: "user", Content: "hi"})
	require.NoError(t, m.Checkpoint(context.Background(), ag))

	ag.Conversation = nil
	ag.Status = models.AgentPaused
	require.NoError(t, m.Restore(context.Background(), ag))

	assert.Equal(t, models.AgentRunning, ag.Status)
	require.Len(t, ag.Conversation, 1)
	assert.Equal(t, "hi", ag.Conversation[0].Content)
}

func TestUnregisterStopsTracking(t *testing.T) {
	store := newFakeStore()
	m := New(store, "secret", time.Hour)
	ag := newTestAgent()
	m.Register(ag)
	m.Unregister(ag.ID)
	assert.Nil(t, m.HealthHistory(ag.ID))
}
