package agentset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpravetz/agentset/internal/delegation"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/registry"
)

type fakeBrain struct{}

func (fakeBrain) Plan(ctx context.Context, goal, missionContext string, inputs map[string]interface{}) ([]byte, string, error) {
	return nil, "noop", nil
}
func (fakeBrain) Converse(ctx context.Context, message string) (string, error) { return "", nil }

type fakeCapabilities struct{}

func (fakeCapabilities) Execute(ctx context.Context, missionID, stepID, actionVerb string, inputs map[string]models.InputValue) ([]models.PluginOutput, error) {
	return []models.PluginOutput{{Success: true, Name: "result", ResultType: models.ResultFinal, Result: "ok"}}, nil
}

func newTestSet(maxAgents int) *AgentSet {
	s := New(Config{MaxAgents: maxAgents, Registry: registry.New(), Brain: fakeBrain{}, Capabilities: fakeCapabilities{}})
	s.SetDelegation(delegation.New(s.LookupAgentStatus, s.TransferStep, nil, nil))
	return s
}

func TestCreateAgentAssignsDefaultRoleFromVerb(t *testing.T) {
	s := newTestSet(0)
	ag, err := s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", ActionVerb: "research", Goal: "find stuff"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleResearcher, ag.Role)
}

func TestCreateAgentEnforcesMaxAgents(t *testing.T) {
	s := newTestSet(1)
	_, err := s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", Goal: "g"})
	require.NoError(t, err)
	_, err = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a2", MissionID: "m1", Goal: "g"})
	assert.Error(t, err)
}

func TestCreateAgentRejectsDuplicateID(t *testing.T) {
	s := newTestSet(0)
	_, err := s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", Goal: "g"})
	require.NoError(t, err)
	_, err = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", Goal: "g"})
	assert.Error(t, err)
}

func TestStatisticsCountsOnlyMatchingMission(t *testing.T) {
	s := newTestSet(0)
	_, _ = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", Goal: "g"})
	_, _ = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a2", MissionID: "m1", Goal: "g"})
	_, _ = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a3", MissionID: "m2", Goal: "g"})

	stats := s.Statistics("m1")
	assert.Equal(t, 2, stats.AgentsCount)
}

func TestRemoveAgentFromSetIsIdempotent(t *testing.T) {
	s := newTestSet(0)
	_, _ = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", Goal: "g"})
	s.RemoveAgentFromSet("a1", models.AgentCompleted)
	assert.Equal(t, 0, s.Len())
	s.RemoveAgentFromSet("a1", models.AgentCompleted) // second call is a no-op, not an error
	assert.Equal(t, 0, s.Len())
}

func TestStepLocationRegistryAtMostOneOwner(t *testing.T) {
	s := newTestSet(0)
	s.RegisterStepLocation("step-1", models.StepLocation{AgentID: "a1"})
	err := s.UpdateStepLocation("step-1", models.StepLocation{AgentID: "a2"})
	require.NoError(t, err)
	loc, ok := s.GetStepLocation("step-1")
	require.True(t, ok)
	assert.Equal(t, "a2", loc.AgentID)
}

func TestUpdateStepLocationFailsIfUnregistered(t *testing.T) {
	s := newTestSet(0)
	err := s.UpdateStepLocation("never-registered", models.StepLocation{AgentID: "a1"})
	assert.Error(t, err)
}

func TestTransferStepMovesOwnership(t *testing.T) {
	s := newTestSet(0)
	a1, err := s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", Goal: "g"})
	require.NoError(t, err)
	a2, err := s.CreateAgent(context.Background(), AddAgentRequest{ID: "a2", MissionID: "m1", Goal: "g"})
	require.NoError(t, err)

	stepID := a1.Steps[0].ID
	s.RegisterStepLocation(stepID, models.StepLocation{AgentID: "a1"})

	err = s.TransferStep(context.Background(), "task-1", stepID, "a1", "a2")
	require.NoError(t, err)

	loc, ok := s.GetStepLocation(stepID)
	require.True(t, ok)
	assert.Equal(t, "a2", loc.AgentID)

	found := false
	for _, step := range a2.Steps {
		if step.ID == stepID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAbortMissionAgentsRemovesAll(t *testing.T) {
	s := newTestSet(0)
	_, _ = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a1", MissionID: "m1", Goal: "g"})
	_, _ = s.CreateAgent(context.Background(), AddAgentRequest{ID: "a2", MissionID: "m1", Goal: "g"})

	count := s.AbortMissionAgents("m1")
	assert.Equal(t, 2, count)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.Len() > 0 {
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 0, s.Len())
}
