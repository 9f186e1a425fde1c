package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpravetz/agentset/internal/models"
)

func TestDelegateTaskRunningRecipientTransfersImmediately(t *testing.T) {
	lookup := func(id string) (models.AgentStatus, bool) { return models.AgentRunning, true }
	var transferred bool
	transfer := func(ctx context.Context, taskID, stepID, delegatorID, recipientID string) error {
		transferred = true
		return nil
	}
	m := New(lookup, transfer, nil, nil)

	resp, err := m.DelegateTask(context.Background(), "agent-a", "agent-b", Request{TaskID: "t1", StepID: "s1"})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.True(t, transferred)
}

func TestDelegateTaskTerminalRecipientRejects(t *testing.T) {
	lookup := func(id string) (models.AgentStatus, bool) { return models.AgentError, true }
	m := New(lookup, nil, nil, nil)

	resp, err := m.DelegateTask(context.Background(), "agent-a", "agent-b", Request{TaskID: "t1", StepID: "s1"})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
}

func TestDelegateTaskPendingResolvesOnStatusUpdate(t *testing.T) {
	lookup := func(id string) (models.AgentStatus, bool) { return models.AgentInitializing, true }
	transferCalled := make(chan struct{}, 1)
	transfer := func(ctx context.Context, taskID, stepID, delegatorID, recipientID string) error {
		transferCalled <- struct{}{}
		return nil
	}
	m := New(lookup, transfer, nil, nil)
	m.pendingTimeout = 2 * time.Second

	respCh := make(chan Response, 1)
	go func() {
		resp, _ := m.DelegateTask(context.Background(), "agent-a", "agent-b", Request{TaskID: "t1", StepID: "s1"})
		respCh <- resp
	}()

	time.Sleep(50 * time.Millisecond)
	m.OnStatusUpdate(struct {
		AgentID string
		Status  string
	}{AgentID: "agent-b", Status: string(models.AgentRunning)})

	select {
	case resp := <-respCh:
		assert.True(t, resp.Accepted)
	case <-time.After(3 * time.Second):
		t.Fatal("delegation did not resolve after status update")
	}
	<-transferCalled
}

func TestExpirySweepMarksPastDeadline(t *testing.T) {
	lookup := func(id string) (models.AgentStatus, bool) { return models.AgentRunning, true }
	transfer := func(ctx context.Context, taskID, stepID, delegatorID, recipientID string) error { return nil }
	m := New(lookup, transfer, nil, nil)

	past := time.Now().Add(-time.Hour)
	m.tasks["t1"] = &models.DelegatedTask{ID: "t1", Status: models.DelegationInProgress, Deadline: past}

	expired := m.ExpirySweep(time.Now())
	require.Len(t, expired, 1)
	task, _ := m.Task("t1")
	assert.Equal(t, models.DelegationExpired, task.Status)
}
