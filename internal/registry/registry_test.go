package registry

import (
	"testing"

	"github.com/cpravetz/agentset/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register("step-1", models.StepLocation{AgentID: "agent-1", AgentSetURL: "set-a:9000"})

	loc, ok := r.Get("step-1")
	require.True(t, ok)
	assert.Equal(t, "agent-1", loc.AgentID)
}

func TestUpdateUnregisteredFails(t *testing.T) {
	r := New()
	err := r.Update("missing", models.StepLocation{AgentID: "agent-1"})
	assert.Error(t, err)
}

func TestUpdateMovesOwnership(t *testing.T) {
	r := New()
	r.Register("step-1", models.StepLocation{AgentID: "agent-1", AgentSetURL: "set-a:9000"})
	require.NoError(t, r.Update("step-1", models.StepLocation{AgentID: "agent-2", AgentSetURL: "set-a:9000"}))

	loc, ok := r.Get("step-1")
	require.True(t, ok)
	assert.Equal(t, "agent-2", loc.AgentID)
}

// Invariant 5 (spec §8): at most one agent may hold a given stepId at a time —
// the map itself enforces this since Register overwrites rather than appends.
func TestAtMostOneOwnerPerStep(t *testing.T) {
	r := New()
	r.Register("step-1", models.StepLocation{AgentID: "agent-1"})
	r.Register("step-1", models.StepLocation{AgentID: "agent-2"})
	assert.Equal(t, 1, r.Len())
	loc, _ := r.Get("step-1")
	assert.Equal(t, "agent-2", loc.AgentID)
}
