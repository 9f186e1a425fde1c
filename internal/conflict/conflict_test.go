package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpravetz/agentset/internal/brainclient"
	"github.com/cpravetz/agentset/internal/models"
)

type fakeNegotiator struct {
	resp brainclient.NegotiationResponse
	err  error
}

func (f *fakeNegotiator) Negotiate(ctx context.Context, req brainclient.NegotiationRequest) (brainclient.NegotiationResponse, error) {
	return f.resp, f.err
}

func TestCreateConflictNotifiesNonInitiatorParticipants(t *testing.T) {
	var notified []string
	m := New(nil, func(agentID string, c *models.Conflict) { notified = append(notified, agentID) })

	c := m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b", "agent-c"}, nil, "", time.Now().Add(time.Hour))
	assert.Equal(t, models.ConflictPending, c.Status)
	assert.Equal(t, models.StrategyConsensus, c.Strategy)
	assert.ElementsMatch(t, []string{"agent-b", "agent-c"}, notified)
}

func TestSubmitVoteResolvesOnConsensus(t *testing.T) {
	m := New(nil, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b"}, nil, models.StrategyConsensus, time.Now().Add(time.Hour))

	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-a", "optionX", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-b", "optionX", ""))

	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictResolved, c.Status)
	assert.Equal(t, "optionX", c.Resolution)
}

func TestSubmitVoteFallsBackToVotingWithoutConsensus(t *testing.T) {
	m := New(nil, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b"}, nil, models.StrategyConsensus, time.Now().Add(time.Hour))

	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-a", "optionX", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-b", "optionY", ""))

	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictResolved, c.Status)
	assert.Contains(t, []string{"optionX", "optionY"}, c.Resolution)
}

func TestSubmitVoteRejectsNonParticipant(t *testing.T) {
	m := New(nil, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b"}, nil, models.StrategyVoting, time.Now().Add(time.Hour))

	err := m.SubmitVote(context.Background(), "c1", "agent-z", "optionX", "")
	assert.Error(t, err)
}

func TestResolveAuthorityUsesInitiatorVote(t *testing.T) {
	m := New(nil, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b"}, nil, models.StrategyAuthority, time.Now().Add(time.Hour))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-a", "boss-says-X", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-b", "optionY", ""))

	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictResolved, c.Status)
	assert.Equal(t, "boss-says-X", c.Resolution)
}

func TestResolveNegotiationUsesBrainReply(t *testing.T) {
	neg := &fakeNegotiator{resp: brainclient.NegotiationResponse{Resolution: "mediated-X", Explanation: "Brain mediated"}}
	m := New(neg, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b"}, nil, models.StrategyNegotiation, time.Now().Add(time.Hour))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-a", "optionX", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-b", "optionY", ""))

	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictResolved, c.Status)
	assert.Equal(t, "mediated-X", c.Resolution)
}

func TestResolveExternalEscalates(t *testing.T) {
	var notified []string
	m := New(nil, func(agentID string, c *models.Conflict) { notified = append(notified, agentID) })
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b"}, nil, models.StrategyExternal, time.Now().Add(time.Hour))

	require.NoError(t, m.ResolveConflict(context.Background(), "c1"))
	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictEscalated, c.Status)
	assert.Equal(t, "MissionControl", c.EscalatedTo)
	assert.NotEmpty(t, notified)
}

func TestConsensusResolutionExplanationMentions100PercentAgreement(t *testing.T) {
	m := New(nil, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b", "agent-c"}, nil, models.StrategyConsensus, time.Now().Add(time.Hour))

	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-a", "choiceA", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-b", "choiceA", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-c", "choiceA", ""))

	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictResolved, c.Status)
	assert.Equal(t, "choiceA", c.Resolution)
	assert.Contains(t, c.Explanation, "100% agreement")
}

func TestConsensusFallsBackToVotingWithFractionalPercentage(t *testing.T) {
	m := New(nil, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b", "agent-c"}, nil, models.StrategyConsensus, time.Now().Add(time.Hour))

	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-a", "A", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-b", "A", ""))
	require.NoError(t, m.SubmitVote(context.Background(), "c1", "agent-c", "B", ""))

	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictResolved, c.Status)
	assert.Equal(t, "A", c.Resolution)
	assert.Contains(t, c.Explanation, "66.7%")
}

func TestExpirySweepEscalatesPastDeadline(t *testing.T) {
	m := New(nil, nil)
	m.CreateConflict("c1", "disagreement", "agent-a", []string{"agent-a", "agent-b"}, nil, models.StrategyVoting, time.Now().Add(-time.Minute))

	escalated := m.ExpirySweep(time.Now())
	require.Len(t, escalated, 1)
	c, ok := m.Conflict("c1")
	require.True(t, ok)
	assert.Equal(t, models.ConflictEscalated, c.Status)
}
