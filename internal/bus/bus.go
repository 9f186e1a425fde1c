// Package bus implements the MessageBus: a topic-exchange publisher/
// subscriber over NATS with automatic reconnect and exponential backoff,
// grounded on the connect-authenticate-then-pub/sub shape of
// dataparency-dev-AI-delegation's Engine, adapted from its bespoke
// natsclient wrapper to the stock github.com/nats-io/nats.go client (the
// in-pack concrete NATS library).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/logging"
)

// TopicExchange is the durable topic used for agent lifecycle events (spec §6).
const TopicExchange = "agent.events"

// RouteStatusUpdate is the routing key for agent.status.update messages.
const RouteStatusUpdate = "agent.status.update"

// RouteCollaborationMessage is the routing key for cross-AgentSet
// collaboration traffic, including the explicit STEP_COMPLETED notification
// used for cross-set delegation completion (spec §9 open question (a)).
const RouteCollaborationMessage = "agent.collaboration.message"

// StatusUpdate is the payload published on RouteStatusUpdate.
type StatusUpdate struct {
	AgentID   string    `json:"agentId"`
	Status    string    `json:"status"`
	MissionID string    `json:"missionId"`
	Timestamp time.Time `json:"timestamp"`
}

// CollaborationMessage is the payload published on RouteCollaborationMessage.
type CollaborationMessage struct {
	Type        string                 `json:"type"`
	FromAgentID string                 `json:"fromAgentId"`
	ToAgentID   string                 `json:"toAgentId"`
	MissionID   string                 `json:"missionId"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Handler processes one received StatusUpdate.
type Handler func(StatusUpdate)

// CollaborationHandler processes one received CollaborationMessage.
type CollaborationHandler func(CollaborationMessage)

// Bus wraps a NATS connection with reconnect/backoff matching spec §6:
// exponential backoff starting at 2s, capped at 30s, up to 5 attempts before
// the bus is considered fatally disconnected.
type Bus struct {
	url     string
	conn    *nats.Conn
	log     *logging.Logger
	degraded bool
}

// New dials url and returns a connected Bus, or a TransientExternal error if
// the initial connect fails after the retry budget.
func New(url string) (*Bus, error) {
	b := &Bus{url: url, log: logging.New().WithComponent("bus")}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) connect() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var attempt int
	var conn *nats.Conn
	op := func() error {
		attempt++
		var err error
		conn, err = nats.Connect(b.url,
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			b.log.Warn("bus connect attempt failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			return err
		}
		return nil
	}

	boundedRetries := backoff.WithMaxRetries(bo, 4) // 5 total attempts
	if err := backoff.Retry(op, boundedRetries); err != nil {
		b.degraded = true
		return apperrors.TransientExternal("bus.connect", fmt.Errorf("exhausted reconnect budget to %s: %w", b.url, err))
	}
	b.conn = conn
	b.degraded = false
	return nil
}

// IsDegraded reports whether the bus has exhausted its reconnect budget and
// publishes/subscribes should be treated as unavailable.
func (b *Bus) IsDegraded() bool { return b.degraded }

// PublishStatusUpdate publishes a StatusUpdate on RouteStatusUpdate.
// Publishes are fire-and-forget with logged failure (spec §5).
func (b *Bus) PublishStatusUpdate(ctx context.Context, update StatusUpdate) {
	if b.degraded || b.conn == nil {
		b.log.Warn("dropping status update, bus degraded", map[string]interface{}{"agentId": update.AgentID})
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		b.log.Error("failed to marshal status update", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := b.conn.Publish(RouteStatusUpdate, payload); err != nil {
		b.log.Error("failed to publish status update", map[string]interface{}{"error": err.Error()})
	}
}

// SubscribeStatusUpdates registers handler for every StatusUpdate published
// on RouteStatusUpdate. The subscription survives transient NATS reconnects
// handled internally by the client library.
func (b *Bus) SubscribeStatusUpdates(handler Handler) (*nats.Subscription, error) {
	if b.degraded || b.conn == nil {
		return nil, apperrors.TransientExternal("bus.subscribe", fmt.Errorf("bus to %s is degraded", b.url))
	}
	sub, err := b.conn.Subscribe(RouteStatusUpdate, func(msg *nats.Msg) {
		var update StatusUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			b.log.Warn("discarding malformed status update", map[string]interface{}{"error": err.Error()})
			return
		}
		handler(update)
	})
	if err != nil {
		return nil, apperrors.TransientExternal("bus.subscribe", err)
	}
	return sub, nil
}

// PublishCollaborationMessage publishes msg on RouteCollaborationMessage.
func (b *Bus) PublishCollaborationMessage(ctx context.Context, msg CollaborationMessage) {
	if b.degraded || b.conn == nil {
		b.log.Warn("dropping collaboration message, bus degraded", map[string]interface{}{"toAgentId": msg.ToAgentID})
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("failed to marshal collaboration message", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := b.conn.Publish(RouteCollaborationMessage, payload); err != nil {
		b.log.Error("failed to publish collaboration message", map[string]interface{}{"error": err.Error()})
	}
}

// SubscribeCollaborationMessages registers handler for every message
// published on RouteCollaborationMessage.
func (b *Bus) SubscribeCollaborationMessages(handler CollaborationHandler) (*nats.Subscription, error) {
	if b.degraded || b.conn == nil {
		return nil, apperrors.TransientExternal("bus.subscribe", fmt.Errorf("bus to %s is degraded", b.url))
	}
	sub, err := b.conn.Subscribe(RouteCollaborationMessage, func(msg *nats.Msg) {
		var cm CollaborationMessage
		if err := json.Unmarshal(msg.Data, &cm); err != nil {
			b.log.Warn("discarding malformed collaboration message", map[string]interface{}{"error": err.Error()})
			return
		}
		handler(cm)
	})
	if err != nil {
		return nil, apperrors.TransientExternal("bus.subscribe", err)
	}
	return sub, nil
}

// Close closes the underlying connection without draining it first.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
