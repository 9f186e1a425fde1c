package persistence

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/cpravetz/agentset/internal/models"
)

func TestFieldStringExtractsStringFields(t *testing.T) {
	fields := map[string]interface{}{"agentId": "a1", "count": 3}
	require.Equal(t, "a1", fieldString(fields, "agentId"))
	require.Equal(t, "", fieldString(fields, "count"))
	require.Equal(t, "", fieldString(fields, "missing"))
}

// newIntegrationStore connects to AGENTSET_TEST_DATABASE_URL and runs
// migrations, or skips the test when no database is configured for this
// environment. Mirrors the pack's convention of gating DB-backed tests
// behind an environment variable rather than mocking the driver.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AGENTSET_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AGENTSET_TEST_DATABASE_URL not set, skipping persistence integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestSaveAndLoadWorkProductRoundTrips(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	wp := WorkProduct{
		AgentID: "agent-1", StepID: "step-1", ProductID: "wp-1",
		Type: "Final", Scope: "AgentStep", Data: []byte(`{"ok":true}`),
	}
	require.NoError(t, s.SaveWorkProduct(ctx, wp))

	got, ok, err := s.GetWorkProduct(ctx, "agent-1", "step-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "wp-1", got.ProductID)

	wp.ProductID = "wp-2"
	require.NoError(t, s.SaveWorkProduct(ctx, wp))
	got, ok, err = s.GetWorkProduct(ctx, "agent-1", "step-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "wp-2", got.ProductID, "save is idempotent/overwriting on the same key")
}

func TestSaveAndFetchStepResultRoundTrips(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	outputs := []models.PluginOutput{
		{Success: true, Name: "answer", ResultType: models.ResultFinal, Result: "42"},
	}
	require.NoError(t, s.SaveStepResult(ctx, "agent-2", "step-2", outputs))

	got, ok, err := s.FetchStepResult(ctx, "agent-2", "step-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, outputs, got)
}

func TestFetchStepResultMissingReturnsNotFound(t *testing.T) {
	s := newIntegrationStore(t)
	_, ok, err := s.FetchStepResult(context.Background(), "agent-2", "no-such-step")
	require.NoError(t, err)
	require.False(t, ok)
}
