// Package lifecycle implements the LifecycleManager: per-agent checkpoint
// timers, versioned state persistence, periodic health-score monitoring, and
// pause-checkpoint-handoff migration to a remote AgentSet (spec §4.6).
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cpravetz/agentset/internal/agent"
	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/logging"
	"github.com/cpravetz/agentset/internal/metrics"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/telemetry"
)

// Persister is the subset of persistence.Store the manager needs.
type Persister interface {
	SaveAgentState(ctx context.Context, agentKey, agentID, missionID string, state json.RawMessage) error
	LoadAgentState(ctx context.Context, agentKey string) (json.RawMessage, bool, error)
}

// DefaultCheckpointInterval is the checkpoint timer period (spec §4.6).
const DefaultCheckpointInterval = 15 * time.Minute

// HealthMonitorInterval is the minimum health-score sweep cadence (spec §4.6).
const HealthMonitorInterval = 60 * time.Second

const healthCheckpointThreshold = 50

type tracked struct {
	ag           *agent.Agent
	timer        *time.Timer
	stopCh       chan struct{}
	healthHistory []int
}

// Manager is the LifecycleManager for one AgentSet.
type Manager struct {
	mu       sync.Mutex
	agents   map[string]*tracked
	store    Persister
	interval time.Duration
	token    string
	client   *http.Client
	log      *logging.Logger
}

// New builds a Manager. store may be nil, disabling checkpointing (useful
// for tests); interval<=0 uses DefaultCheckpointInterval.
func New(store Persister, serviceToken string, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Manager{
		agents:   make(map[string]*tracked),
		store:    store,
		interval: interval,
		token:    serviceToken,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      logging.New().WithComponent("lifecycle"),
	}
}

// Register starts checkpointing for ag (spec §4.6 "Checkpointing").
func (m *Manager) Register(ag *agent.Agent) {
	t := &tracked{ag: ag, stopCh: make(chan struct{})}
	m.mu.Lock()
	m.agents[ag.ID] = t
	m.mu.Unlock()
	m.armTimer(t)
}

// Unregister stops checkpointing for agentID, e.g. once removed from the set.
func (m *Manager) Unregister(agentID string) {
	m.mu.Lock()
	t, ok := m.agents[agentID]
	delete(m.agents, agentID)
	m.mu.Unlock()
	if ok {
		m.stopTimer(t)
	}
}

func (m *Manager) armTimer(t *tracked) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(m.interval, func() {
		m.checkpoint(context.Background(), t)
		m.mu.Lock()
		_, alive := m.agents[t.ag.ID]
		m.mu.Unlock()
		if alive {
			m.armTimer(t)
		}
	})
}

func (m *Manager) stopTimer(t *tracked) {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Checkpoint forces an immediate save of ag's state (spec §4.6,
// POST /saveAgent), bumping its patch version.
func (m *Manager) Checkpoint(ctx context.Context, ag *agent.Agent) error {
	m.mu.Lock()
	t, ok := m.agents[ag.ID]
	m.mu.Unlock()
	if !ok {
		t = &tracked{ag: ag}
	}
	return m.checkpoint(ctx, t)
}

func (m *Manager) checkpoint(ctx context.Context, t *tracked) (err error) {
	if m.store == nil {
		return nil
	}
	ctx, span := telemetry.StartLifecycleSpan(ctx, "checkpoint", t.ag.ID)
	defer func() { telemetry.EndLifecycleSpan(span, err) }()

	ag := t.ag
	ag.Version = ag.Version.NextPatch()
	state := ag.Snapshot()
	raw, merr := json.Marshal(state)
	if merr != nil {
		err = apperrors.Contract("lifecycle.checkpoint", merr)
		return err
	}
	if err = m.store.SaveAgentState(ctx, ag.ID, ag.ID, ag.MissionID, raw); err != nil {
		m.log.Warn("checkpoint failed", map[string]interface{}{"agentId": ag.ID, "error": err.Error()})
		return err
	}
	m.log.CheckpointPhaseContext(ctx, ag.ID, "checkpointed", "version "+state.Version.String())
	return nil
}

// Restore replaces ag's in-memory fields from the most recently checkpointed
// state (spec §4.6 "Restore": pause, replace, resume).
func (m *Manager) Restore(ctx context.Context, ag *agent.Agent) error {
	if m.store == nil {
		return apperrors.Contract("lifecycle.restore", fmt.Errorf("no persistence configured"))
	}
	ag.Pause()
	raw, found, err := m.store.LoadAgentState(ctx, ag.ID)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.Contract("lifecycle.restore", fmt.Errorf("no saved state for agent %q", ag.ID))
	}
	var state models.AgentState
	if err := json.Unmarshal(raw, &state); err != nil {
		return apperrors.Contract("lifecycle.restore", err)
	}
	// The agent stays paused while its fields are replaced, so that Resume
	// below brings a non-terminal agent back to RUNNING.
	if !state.Status.IsTerminal() {
		state.Status = models.AgentPaused
	}
	ag.Restore(state)
	ag.Resume()
	m.log.CheckpointPhase(ag.ID, "migrated", "restored from checkpoint")
	return nil
}

// HealthScore computes the agent's health score (spec §4.6 "Health monitor").
func HealthScore(status models.AgentStatus, errorCount int) int {
	score := 100 - 10*errorCount
	if status != models.AgentRunning {
		score -= 20
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// MonitorHealth sweeps every registered agent, records its health score in
// the ring-buffered history and the Prometheus gauge, and forces a
// checkpoint for any agent below the threshold (spec §4.6).
func (m *Manager) MonitorHealth(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*tracked, 0, len(m.agents))
	for _, t := range m.agents {
		snapshot = append(snapshot, t)
	}
	m.mu.Unlock()

	for _, t := range snapshot {
		score := HealthScore(t.ag.StatusSnapshot(), t.ag.ErrorCount())
		metrics.AgentHealthScore.WithLabelValues(t.ag.ID).Set(float64(score))

		m.mu.Lock()
		t.healthHistory = append(t.healthHistory, score)
		if len(t.healthHistory) > 20 {
			t.healthHistory = t.healthHistory[len(t.healthHistory)-20:]
		}
		m.mu.Unlock()

		if score < healthCheckpointThreshold {
			if err := m.checkpoint(ctx, t); err != nil {
				m.log.Warn("forced low-health checkpoint failed", map[string]interface{}{"agentId": t.ag.ID, "score": score})
			}
		}
	}
}

// HealthHistory returns the ring-buffered health scores recorded for agentID.
func (m *Manager) HealthHistory(agentID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.agents[agentID]
	if !ok {
		return nil
	}
	return append([]int(nil), t.healthHistory...)
}

// Migrate implements spec §4.6 "Migration": pause, checkpoint, POST the
// state to the target AgentSet's migrateAgent endpoint with the service
// token, and report success so the caller can unregister locally.
func (m *Manager) Migrate(ctx context.Context, ag *agent.Agent, targetAgentSetURL string) (migrateErr error) {
	ctx, span := telemetry.StartLifecycleSpan(ctx, "migrate", ag.ID)
	defer func() { telemetry.EndLifecycleSpan(span, migrateErr) }()

	ag.Pause()
	if err := m.Checkpoint(ctx, ag); err != nil {
		migrateErr = err
		return migrateErr
	}
	state := ag.Snapshot()
	payload, err := json.Marshal(state)
	if err != nil {
		return apperrors.Contract("lifecycle.migrate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+targetAgentSetURL+"/migrateAgent", bytes.NewReader(payload))
	if err != nil {
		return apperrors.Contract("lifecycle.migrate", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.client.Do(req)
	if err != nil {
		return apperrors.TransientExternal("lifecycle.migrate", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apperrors.TransientExternal("lifecycle.migrate", fmt.Errorf("target agentset returned %d", resp.StatusCode))
	}

	m.Unregister(ag.ID)
	m.log.CheckpointPhase(ag.ID, "migrated", "moved to "+targetAgentSetURL)
	return nil
}
