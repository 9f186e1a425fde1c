// Package conflict implements ConflictResolution: the create/vote/resolve
// lifecycle across VOTING, CONSENSUS, AUTHORITY, NEGOTIATION and EXTERNAL
// strategies (spec §4.5).
package conflict

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cpravetz/agentset/internal/brainclient"
	"github.com/cpravetz/agentset/internal/logging"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/telemetry"
)

// Negotiator mediates a NEGOTIATION-strategy conflict via the Brain.
// *brainclient.Client satisfies this directly.
type Negotiator interface {
	Negotiate(ctx context.Context, req brainclient.NegotiationRequest) (brainclient.NegotiationResponse, error)
}

// Notifier delivers a conflict event to a participant, locally or via a
// forwarded HTTP call to a remote AgentSet.
type Notifier func(agentID string, c *models.Conflict)

// Manager is the ConflictResolution subsystem for one AgentSet.
type Manager struct {
	mu        sync.Mutex
	conflicts map[string]*models.Conflict
	negotiator Negotiator
	notify     Notifier
	log        *logging.Logger
}

// New builds a Manager. negotiator may be nil (NEGOTIATION then always falls
// back to VOTING, per spec §4.5).
func New(negotiator Negotiator, notify Notifier) *Manager {
	return &Manager{
		conflicts:  make(map[string]*models.Conflict),
		negotiator: negotiator,
		notify:     notify,
		log:        logging.New().WithComponent("conflict"),
	}
}

// CreateConflict persists a new Conflict in PENDING and notifies every
// non-initiator participant (spec §4.5 "createConflict").
func (m *Manager) CreateConflict(id, description, initiator string, participants []string, conflictingData map[string]interface{}, strategy models.ConflictStrategy, deadline time.Time) *models.Conflict {
	if strategy == "" {
		strategy = models.StrategyConsensus
	}
	c := &models.Conflict{
		ID: id, Description: description, ConflictingData: conflictingData,
		InitiatedBy: initiator, Participants: participants, Status: models.ConflictPending,
		Strategy: strategy, Votes: make(map[string]models.Vote), Deadline: deadline, CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.conflicts[id] = c
	m.mu.Unlock()

	if m.notify != nil {
		for _, p := range participants {
			if p != initiator {
				m.notify(p, c)
			}
		}
	}
	m.log.ConflictPhase(c.ID, "created", string(strategy))
	return c
}

// SubmitVote records a participant's vote, validating membership and open
// status; resolves the conflict once every participant has voted (spec §4.5
// "submitVote").
func (m *Manager) SubmitVote(ctx context.Context, conflictID, agentID, vote, explanation string) error {
	m.mu.Lock()
	c, ok := m.conflicts[conflictID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("conflict.submitVote: unknown conflict %q", conflictID)
	}
	if c.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("conflict.submitVote: conflict %q is already terminal", conflictID)
	}
	member := false
	for _, p := range c.Participants {
		if p == agentID {
			member = true
			break
		}
	}
	if !member {
		m.mu.Unlock()
		return fmt.Errorf("conflict.submitVote: %q is not a participant in %q", agentID, conflictID)
	}
	c.Votes[agentID] = models.Vote{Value: vote, Explanation: explanation, Timestamp: time.Now()}
	c.Status = models.ConflictInProgress
	allVoted := c.AllVoted()
	m.mu.Unlock()

	if allVoted {
		return m.ResolveConflict(ctx, conflictID)
	}
	return nil
}

// ResolveConflict dispatches on strategy (spec §4.5 "resolveConflict").
func (m *Manager) ResolveConflict(ctx context.Context, conflictID string) (resolveErr error) {
	m.mu.Lock()
	c, ok := m.conflicts[conflictID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("conflict.resolveConflict: unknown conflict %q", conflictID)
	}

	ctx, span := telemetry.StartConflictSpan(ctx, conflictID, string(c.Strategy))
	defer func() { telemetry.EndConflictSpan(span, c.Resolution, resolveErr) }()

	var (
		resolution, explanation string
		err                     error
	)
	switch c.Strategy {
	case models.StrategyVoting:
		resolution, explanation = resolveByVoting(c)
	case models.StrategyConsensus:
		if unanimous, v := consensusValue(c); unanimous {
			resolution = v
			explanation = fmt.Sprintf("%s agreement: all %d participants agreed", formatPercentage(100), len(c.Votes))
		} else {
			resolution, explanation = resolveByVoting(c)
		}
	case models.StrategyAuthority:
		v, ok := c.Votes[c.InitiatedBy]
		if !ok {
			err = fmt.Errorf("authority strategy requires a vote from initiator %q", c.InitiatedBy)
		} else {
			resolution, explanation = v.Value, "resolved by initiator authority"
		}
	case models.StrategyNegotiation:
		resolution, explanation, err = m.resolveByNegotiation(ctx, c)
		if err != nil {
			resolution, explanation = resolveByVoting(c)
			err = nil
		}
	case models.StrategyExternal:
		m.mu.Lock()
		c.Status = models.ConflictEscalated
		c.EscalatedTo = "MissionControl"
		m.mu.Unlock()
		if m.notify != nil {
			for _, p := range c.Participants {
				m.notify(p, c)
			}
		}
		return nil
	default:
		resolution, explanation = resolveByVoting(c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		c.Status = models.ConflictFailed
		c.Explanation = err.Error()
		resolveErr = err
		return resolveErr
	}
	c.Status = models.ConflictResolved
	c.Resolution = resolution
	c.Explanation = explanation
	m.log.ConflictPhaseContext(ctx, c.ID, "resolved", resolution)
	return nil
}

func resolveByVoting(c *models.Conflict) (string, string) {
	counts := make(map[string]int)
	order := make([]string, 0, len(c.Votes))
	for _, p := range c.Participants {
		v, ok := c.Votes[p]
		if !ok {
			continue
		}
		if _, seen := counts[v.Value]; !seen {
			order = append(order, v.Value)
		}
		counts[v.Value]++
	}
	var winner string
	var max int
	for _, v := range order {
		if counts[v] > max {
			max = counts[v]
			winner = v
		}
	}
	total := len(c.Votes)
	pct := 0.0
	if total > 0 {
		pct = float64(max) * 100 / float64(total)
	}
	return winner, fmt.Sprintf("won %s of %d votes", formatPercentage(pct), total)
}

// formatPercentage renders a vote share to one decimal place, dropping the
// decimal when it's a whole number (100%, not 100.0%), matching spec §8 E4's
// literal "100% agreement" and "66.7%" examples.
func formatPercentage(pct float64) string {
	if pct == math.Trunc(pct) {
		return fmt.Sprintf("%.0f%%", pct)
	}
	return fmt.Sprintf("%.1f%%", pct)
}

func consensusValue(c *models.Conflict) (bool, string) {
	var first string
	i := 0
	for _, v := range c.Votes {
		if i == 0 {
			first = v.Value
		} else if v.Value != first {
			return false, ""
		}
		i++
	}
	return i > 0, first
}

func (m *Manager) resolveByNegotiation(ctx context.Context, c *models.Conflict) (string, string, error) {
	if m.negotiator == nil {
		return "", "", fmt.Errorf("no negotiator configured")
	}
	votes := make(map[string]string, len(c.Votes))
	explanations := make(map[string]string, len(c.Votes))
	for agent, v := range c.Votes {
		votes[agent] = v.Value
		explanations[agent] = v.Explanation
	}
	resp, err := m.negotiator.Negotiate(ctx, brainclient.NegotiationRequest{
		ConflictID: c.ID, Description: c.Description, Votes: votes, Explanations: explanations,
	})
	if err != nil {
		return "", "", err
	}
	if resp.Resolution == "" {
		return "", "", fmt.Errorf("negotiator returned empty resolution")
	}
	return resp.Resolution, resp.Explanation, nil
}

// ExpirySweep escalates any conflict past its deadline and not yet terminal
// (spec §4.5 "Expiry sweep").
func (m *Manager) ExpirySweep(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var escalated []string
	for id, c := range m.conflicts {
		if c.IsTerminal() {
			continue
		}
		if !c.Deadline.IsZero() && now.After(c.Deadline) {
			c.Status = models.ConflictEscalated
			c.Explanation = "Conflict deadline expired"
			escalated = append(escalated, id)
			if m.notify != nil {
				for _, p := range c.Participants {
					m.notify(p, c)
				}
			}
		}
	}
	return escalated
}

// Conflict returns the conflict by id.
func (m *Manager) Conflict(id string) (*models.Conflict, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	return c, ok
}
