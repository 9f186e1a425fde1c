package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, 500, cfg.Tuning.MaxAgents)
	assert.Equal(t, 15*time.Minute, cfg.Tuning.CheckpointInterval())
	assert.Equal(t, 60*time.Second, cfg.Tuning.DelegationTimeout())
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9500")
	t.Setenv("BRAIN_URL", "brain:8080")
	t.Setenv("CLIENT_SECRET", "s3cret")

	cfg := New()
	cfg.ApplyEnv()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9500, cfg.Server.Port)
	assert.Equal(t, "brain:8080", cfg.Services.BrainURL)
	assert.Equal(t, "s3cret", cfg.Security.ClientSecret)
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	_, err := LoadFile("/nonexistent/agentset.toml")
	require.Error(t, err)
}

func TestLoadFileParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/agentset.toml"
	contents := []byte("[server]\nhost = \"10.0.0.1\"\nport = 7000\n\n[tuning]\nmax_agents = 10\n")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Tuning.MaxAgents)
}
