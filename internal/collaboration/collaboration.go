// Package collaboration implements the CollaborationManager: routing of
// inter-agent collaboration messages to locally hosted agents or forwarding
// them to a remote AgentSet over the message bus (spec §4 item 9).
package collaboration

import (
	"context"
	"fmt"
	"time"

	"github.com/cpravetz/agentset/internal/bus"
	"github.com/cpravetz/agentset/internal/logging"
	"github.com/cpravetz/agentset/internal/trafficclient"
)

// AgentLookup reports whether agentID is hosted locally.
type AgentLookup func(agentID string) bool

// LocalDeliver hands a collaboration message to a locally hosted agent.
type LocalDeliver func(ctx context.Context, msg bus.CollaborationMessage) error

// Manager is the CollaborationManager for one AgentSet.
type Manager struct {
	lookup  AgentLookup
	deliver LocalDeliver
	b       *bus.Bus
	traffic *trafficclient.Client
	log     *logging.Logger
}

// New builds a Manager. b and traffic may be nil if cross-set
// collaboration isn't wired, in which case only local delivery is attempted.
func New(lookup AgentLookup, deliver LocalDeliver, b *bus.Bus, traffic *trafficclient.Client) *Manager {
	return &Manager{
		lookup: lookup, deliver: deliver, b: b, traffic: traffic,
		log: logging.New().WithComponent("collaboration"),
	}
}

// RouteMessage delivers msg locally when ToAgentID is hosted on this
// AgentSet, or forwards it over the bus otherwise (spec §4 item 9,
// POST /collaboration/message).
func (m *Manager) RouteMessage(ctx context.Context, msg bus.CollaborationMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if m.lookup != nil && m.lookup(msg.ToAgentID) {
		if m.deliver == nil {
			return fmt.Errorf("collaboration.routeMessage: no local deliver function configured")
		}
		return m.deliver(ctx, msg)
	}

	if m.traffic == nil || m.b == nil {
		return fmt.Errorf("collaboration.routeMessage: %q is not local and no cross-set forwarding is configured", msg.ToAgentID)
	}
	if _, err := m.traffic.ResolveAgentSet(ctx, msg.ToAgentID); err != nil {
		return err
	}
	m.b.PublishCollaborationMessage(ctx, msg)
	return nil
}

// NotifyStepCompleted publishes the explicit STEP_COMPLETED message used for
// cross-AgentSet delegation-completion routing, in place of the source's
// direct in-process agent map lookup, which cannot reach across AgentSets
// (spec §9 open question (a)).
func (m *Manager) NotifyStepCompleted(ctx context.Context, missionID, stepID, delegatorID, recipientID string) error {
	msg := bus.CollaborationMessage{
		Type: "STEP_COMPLETED", FromAgentID: recipientID, ToAgentID: delegatorID, MissionID: missionID,
		Payload: map[string]interface{}{"stepId": stepID},
	}
	return m.RouteMessage(ctx, msg)
}
