package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishStatusUpdateOnDegradedBusIsNoop(t *testing.T) {
	b := &Bus{degraded: true, log: newTestLogger()}
	// Must not panic even with no live connection.
	b.PublishStatusUpdate(context.Background(), StatusUpdate{AgentID: "a1", Status: "RUNNING"})
	assert.True(t, b.IsDegraded())
}

func TestSubscribeOnDegradedBusReturnsError(t *testing.T) {
	b := &Bus{degraded: true, log: newTestLogger()}
	_, err := b.SubscribeStatusUpdates(func(StatusUpdate) {})
	assert.Error(t, err)
}

func TestPublishCollaborationMessageOnDegradedBusIsNoop(t *testing.T) {
	b := &Bus{degraded: true, log: newTestLogger()}
	b.PublishCollaborationMessage(context.Background(), CollaborationMessage{ToAgentID: "a1"})
	assert.True(t, b.IsDegraded())
}

func TestSubscribeCollaborationOnDegradedBusReturnsError(t *testing.T) {
	b := &Bus{degraded: true, log: newTestLogger()}
	_, err := b.SubscribeCollaborationMessages(func(CollaborationMessage) {})
	assert.Error(t, err)
}
