package collaboration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpravetz/agentset/internal/bus"
)

func TestRouteMessageDeliversLocally(t *testing.T) {
	var delivered bus.CollaborationMessage
	lookup := func(agentID string) bool { return agentID == "agent-b" }
	deliver := func(ctx context.Context, msg bus.CollaborationMessage) error {
		delivered = msg
		return nil
	}
	m := New(lookup, deliver, nil, nil)

	err := m.RouteMessage(context.Background(), bus.CollaborationMessage{ToAgentID: "agent-b", Type: "NOTE"})
	require.NoError(t, err)
	assert.Equal(t, "NOTE", delivered.Type)
	assert.False(t, delivered.Timestamp.IsZero())
}

func TestRouteMessageWithoutForwardingConfiguredErrors(t *testing.T) {
	lookup := func(agentID string) bool { return false }
	m := New(lookup, nil, nil, nil)

	err := m.RouteMessage(context.Background(), bus.CollaborationMessage{ToAgentID: "agent-remote"})
	assert.Error(t, err)
}

func TestRouteMessageMissingDeliverFuncErrors(t *testing.T) {
	lookup := func(agentID string) bool { return true }
	m := New(lookup, nil, nil, nil)

	err := m.RouteMessage(context.Background(), bus.CollaborationMessage{ToAgentID: "agent-b"})
	assert.Error(t, err)
}

func TestNotifyStepCompletedRoutesAsStepCompletedType(t *testing.T) {
	var delivered bus.CollaborationMessage
	lookup := func(agentID string) bool { return true }
	deliver := func(ctx context.Context, msg bus.CollaborationMessage) error {
		delivered = msg
		return nil
	}
	m := New(lookup, deliver, nil, nil)

	err := m.NotifyStepCompleted(context.Background(), "mission-1", "step-1", "agent-a", "agent-b")
	require.NoError(t, err)
	assert.Equal(t, "STEP_COMPLETED", delivered.Type)
	assert.Equal(t, "step-1", delivered.Payload["stepId"])
}
