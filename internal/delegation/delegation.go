// Package delegation implements TaskDelegation: cross-agent step hand-off
// with an event-driven handshake that waits for the recipient to reach
// RUNNING before transferring ownership (spec §4.4).
package delegation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/logging"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/telemetry"
	"github.com/cpravetz/agentset/internal/trafficclient"
)

// AgentLookup resolves a locally-hosted agent's current status.
type AgentLookup func(agentID string) (models.AgentStatus, bool)

// TransferFunc performs the actual ownership transfer of a step from
// delegator to recipient once the recipient is ready to accept it.
type TransferFunc func(ctx context.Context, taskID, stepID, delegatorID, recipientID string) error

// ForwardFunc forwards a delegation request to a remote AgentSet when the
// recipient isn't hosted locally.
type ForwardFunc func(ctx context.Context, agentSetURL string, task models.DelegatedTask) (accepted bool, reason string, err error)

// Request is a caller's request to delegate a step.
type Request struct {
	TaskID      string
	StepID      string
	TaskType    string
	Description string
	Inputs      map[string]interface{}
	Priority    models.Priority
	Deadline    time.Time
}

// Response is returned to the caller of DelegateTask.
type Response struct {
	TaskID              string
	Accepted            bool
	Reason              string
	EstimatedCompletion time.Time
}

type pending struct {
	task      *models.DelegatedTask
	stepID    string
	recipient string
	resultCh  chan Response
	expiresAt time.Time
}

// Manager is the TaskDelegation subsystem for one AgentSet.
type Manager struct {
	mu       sync.Mutex
	tasks    map[string]*models.DelegatedTask
	pendings map[string][]*pending // keyed by recipient agent id

	lookupAgent AgentLookup
	transfer    TransferFunc
	forward     ForwardFunc
	traffic     *trafficclient.Client
	log         *logging.Logger

	pendingTimeout time.Duration
}

// New builds a Manager. traffic may be nil if cross-set forwarding isn't wired.
func New(lookup AgentLookup, transfer TransferFunc, forward ForwardFunc, traffic *trafficclient.Client) *Manager {
	return &Manager{
		tasks:          make(map[string]*models.DelegatedTask),
		pendings:       make(map[string][]*pending),
		lookupAgent:    lookup,
		transfer:       transfer,
		forward:        forward,
		traffic:        traffic,
		log:            logging.New().WithComponent("delegation"),
		pendingTimeout: 60 * time.Second,
	}
}

// DelegateTask runs the algorithm in spec §4.4.
func (m *Manager) DelegateTask(ctx context.Context, delegatorID, recipientID string, req Request) (resp Response, err error) {
	ctx, span := telemetry.StartDelegationSpan(ctx, req.TaskID, recipientID)
	defer func() { telemetry.EndDelegationSpan(span, resp.Reason, err) }()

	task := &models.DelegatedTask{
		ID: req.TaskID, TaskType: req.TaskType, Description: req.Description,
		Inputs: req.Inputs, DelegatedBy: delegatorID, DelegatedTo: recipientID,
		Status: models.DelegationPending, Deadline: req.Deadline, Priority: req.Priority,
		Metrics: models.DelegatedTaskMetrics{StartTime: time.Now()},
	}
	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	status, local := m.lookupAgent(recipientID)
	if !local {
		if m.traffic == nil || m.forward == nil {
			return Response{}, apperrors.TransientExternal("delegation.delegateTask", fmt.Errorf("recipient %q not hosted locally and no cross-set forwarding configured", recipientID))
		}
		url, err := m.traffic.ResolveAgentSet(ctx, recipientID)
		if err != nil {
			return Response{}, err
		}
		accepted, reason, err := m.forward(ctx, url, *task)
		if err != nil {
			return Response{}, err
		}
		m.finish(task, accepted, reason)
		return Response{TaskID: task.ID, Accepted: accepted, Reason: reason}, nil
	}

	if status == models.AgentError || status == models.AgentAborted {
		m.finish(task, false, "recipient is in a terminal state")
		return Response{TaskID: task.ID, Accepted: false, Reason: "recipient is in a terminal state"}, nil
	}

	if status == models.AgentRunning {
		if err := m.transfer(ctx, task.ID, req.StepID, delegatorID, recipientID); err != nil {
			m.finish(task, false, err.Error())
			return Response{TaskID: task.ID, Accepted: false, Reason: err.Error()}, nil
		}
		m.finish(task, true, "")
		return Response{TaskID: task.ID, Accepted: true, EstimatedCompletion: time.Now().Add(5 * time.Minute)}, nil
	}

	return m.awaitRunning(ctx, task, req.StepID, delegatorID, recipientID)
}

func (m *Manager) awaitRunning(ctx context.Context, task *models.DelegatedTask, stepID, delegatorID, recipientID string) (Response, error) {
	p := &pending{
		task: task, stepID: stepID, recipient: recipientID,
		resultCh: make(chan Response, 1), expiresAt: time.Now().Add(m.pendingTimeout),
	}
	m.mu.Lock()
	m.pendings[recipientID] = append(m.pendings[recipientID], p)
	m.mu.Unlock()

	timer := time.NewTimer(m.pendingTimeout)
	defer timer.Stop()

	select {
	case resp := <-p.resultCh:
		return resp, nil
	case <-timer.C:
		m.removePending(recipientID, p)
		m.finish(task, false, "Task deadline expired")
		return Response{TaskID: task.ID, Accepted: false, Reason: "pending delegation timed out after 60s"}, nil
	case <-ctx.Done():
		m.removePending(recipientID, p)
		return Response{}, apperrors.SignalAbort("delegation.awaitRunning", ctx.Err())
	}
}

// OnStatusUpdate resolves or rejects pending delegations for the agent named
// in update (spec §4.4 "Event-driven handshake"), subscribed via the bus.
func (m *Manager) OnStatusUpdate(update struct {
	AgentID string
	Status  string
}) {
	m.mu.Lock()
	queue := m.pendings[update.AgentID]
	m.mu.Unlock()

	for _, p := range queue {
		switch models.AgentStatus(update.Status) {
		case models.AgentRunning:
			if err := m.transfer(context.Background(), p.task.ID, p.stepID, p.task.DelegatedBy, p.recipient); err != nil {
				m.finish(p.task, false, err.Error())
				p.resultCh <- Response{TaskID: p.task.ID, Accepted: false, Reason: err.Error()}
			} else {
				m.finish(p.task, true, "")
				p.resultCh <- Response{TaskID: p.task.ID, Accepted: true, EstimatedCompletion: time.Now().Add(5 * time.Minute)}
			}
			m.removePending(update.AgentID, p)
		case models.AgentError, models.AgentAborted:
			m.finish(p.task, false, "recipient transitioned to a terminal state while pending")
			p.resultCh <- Response{TaskID: p.task.ID, Accepted: false, Reason: "recipient transitioned to a terminal state while pending"}
			m.removePending(update.AgentID, p)
		}
	}
}

func (m *Manager) removePending(recipientID string, target *pending) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pendings[recipientID]
	for i, p := range list {
		if p == target {
			m.pendings[recipientID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (m *Manager) finish(task *models.DelegatedTask, accepted bool, reason string) {
	m.mu.Lock()
	task.Metrics.EndTime = time.Now()
	task.Metrics.Duration = task.Metrics.EndTime.Sub(task.Metrics.StartTime)
	if accepted {
		task.Status = models.DelegationAccepted
	} else {
		task.Status = models.DelegationRejected
		task.Error = reason
	}
	m.mu.Unlock()
	m.log.DelegationPhase(task.ID, string(task.Status), reason)
}

// ExpirySweep marks any task past its deadline and not in a terminal status
// as EXPIRED (spec §4.4 "Expiry sweep"). Intended to run on a ≥60s cadence.
func (m *Manager) ExpirySweep(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for id, t := range m.tasks {
		if t.IsTerminal() {
			continue
		}
		if !t.Deadline.IsZero() && now.After(t.Deadline) {
			t.Status = models.DelegationExpired
			t.Error = "Task deadline expired"
			expired = append(expired, id)
		}
	}
	return expired
}

// Task returns the delegated task by id.
func (m *Manager) Task(id string) (*models.DelegatedTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}
