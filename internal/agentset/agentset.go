// Package agentset implements the AgentSet supervisor: the container that
// owns every locally hosted Agent, routes external requests to them, and
// wires together the registry, delegation, conflict, collaboration and
// lifecycle subsystems (spec §4.3).
package agentset

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cpravetz/agentset/internal/agent"
	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/bus"
	"github.com/cpravetz/agentset/internal/collaboration"
	"github.com/cpravetz/agentset/internal/conflict"
	"github.com/cpravetz/agentset/internal/delegation"
	"github.com/cpravetz/agentset/internal/lifecycle"
	"github.com/cpravetz/agentset/internal/logging"
	"github.com/cpravetz/agentset/internal/metrics"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/registry"
	"github.com/cpravetz/agentset/internal/step"
	"github.com/cpravetz/agentset/internal/trafficclient"
)

// AddAgentRequest is the payload for createAgent (POST /addAgent).
type AddAgentRequest struct {
	ID             string
	MissionID      string
	Role           models.Role
	ActionVerb     string
	MissionContext string
	Goal           string
}

// Stats is the aggregated view returned by GET /statistics/:missionId
// (spec §8 invariant 4).
type Stats struct {
	MissionID   string
	AgentsCount int
	ByStatus    map[models.AgentStatus]int
}

// AgentSet owns every Agent hosted on this process.
type AgentSet struct {
	mu        sync.RWMutex
	agents    map[string]*agent.Agent
	maxAgents int

	registry      *registry.Registry
	brain         agent.Brain
	capabilities  agent.Capabilities
	bus           *bus.Bus
	sink          step.EventSink
	products      step.WorkProductStore
	delegation    *delegation.Manager
	conflict      *conflict.Manager
	collaboration *collaboration.Manager
	lifecycle     *lifecycle.Manager
	traffic       *trafficclient.Client
	log           *logging.Logger
}

// Config bundles the collaborators an AgentSet wires into every Agent it
// creates.
type Config struct {
	MaxAgents     int
	Registry      *registry.Registry
	Brain         agent.Brain
	Capabilities  agent.Capabilities
	Bus           *bus.Bus
	Sink          step.EventSink
	Products      step.WorkProductStore
	Delegation    *delegation.Manager
	Conflict      *conflict.Manager
	Collaboration *collaboration.Manager
	Lifecycle     *lifecycle.Manager
	Traffic       *trafficclient.Client
}

// New builds an AgentSet from cfg. MaxAgents<=0 means unbounded.
func New(cfg Config) *AgentSet {
	return &AgentSet{
		agents:        make(map[string]*agent.Agent),
		maxAgents:     cfg.MaxAgents,
		registry:      cfg.Registry,
		brain:         cfg.Brain,
		capabilities:  cfg.Capabilities,
		bus:           cfg.Bus,
		sink:          cfg.Sink,
		products:      cfg.Products,
		delegation:    cfg.Delegation,
		conflict:      cfg.Conflict,
		collaboration: cfg.Collaboration,
		lifecycle:     cfg.Lifecycle,
		traffic:       cfg.Traffic,
		log:           logging.New().WithComponent("agentset"),
	}
}

// SetDelegation wires the delegation manager after construction, since the
// manager's lookup/transfer callbacks close over the AgentSet itself.
func (s *AgentSet) SetDelegation(d *delegation.Manager) { s.delegation = d }

// SetConflict wires the conflict manager after construction.
func (s *AgentSet) SetConflict(c *conflict.Manager) { s.conflict = c }

// SetCollaboration wires the collaboration manager after construction.
func (s *AgentSet) SetCollaboration(c *collaboration.Manager) { s.collaboration = c }

// Delegation returns the wired delegation manager, or nil.
func (s *AgentSet) Delegation() *delegation.Manager { return s.delegation }

// Conflict returns the wired conflict manager, or nil.
func (s *AgentSet) Conflict() *conflict.Manager { return s.conflict }

// Collaboration returns the wired collaboration manager, or nil.
func (s *AgentSet) Collaboration() *collaboration.Manager { return s.collaboration }

type delegatorAdapter struct{ s *AgentSet }

// DelegateStep finds a locally hosted peer with the step's recommended role
// and hands the step off via the delegation manager (spec §4.2 "runAgent",
// step 2: "route to delegation").
func (a delegatorAdapter) DelegateStep(ctx context.Context, delegatorAgentID, stepID string, recommendedRole models.Role) (bool, string) {
	if a.s.delegation == nil {
		return false, "no delegation manager configured"
	}
	recipientID, ok := a.s.findAgentByRole(recommendedRole, delegatorAgentID)
	if !ok {
		return false, fmt.Sprintf("no agent with role %q hosted locally", recommendedRole)
	}
	resp, err := a.s.delegation.DelegateTask(ctx, delegatorAgentID, recipientID, delegation.Request{TaskID: uuid.NewString(), StepID: stepID, TaskType: string(recommendedRole)})
	if err != nil {
		return false, err.Error()
	}
	return resp.Accepted, resp.Reason
}

// findAgentByRole returns the id of a locally hosted agent with the given
// role, excluding exclude.
func (s *AgentSet) findAgentByRole(role models.Role, exclude string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ag := range s.agents {
		if id == exclude {
			continue
		}
		if ag.Role == role {
			return id, true
		}
	}
	return "", false
}

// LookupAgentStatus reports a locally hosted agent's current status, for use
// by the delegation manager's AgentLookup.
func (s *AgentSet) LookupAgentStatus(agentID string) (models.AgentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ag, ok := s.agents[agentID]
	if !ok {
		return "", false
	}
	return ag.StatusSnapshot(), true
}

// LookupAgentLocal reports whether agentID is hosted on this AgentSet, for
// use by the collaboration manager's AgentLookup.
func (s *AgentSet) LookupAgentLocal(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[agentID]
	return ok
}

// CreateAgent implements spec §4.3 "createAgent": enforces maxAgents,
// assigns a default role from the verb→role table when none is specified,
// constructs the Agent and starts its loop.
func (s *AgentSet) CreateAgent(ctx context.Context, req AddAgentRequest) (*agent.Agent, error) {
	s.mu.Lock()
	if s.maxAgents > 0 && len(s.agents) >= s.maxAgents {
		s.mu.Unlock()
		return nil, apperrors.LifecycleViolation("agentset.createAgent", fmt.Errorf("at capacity: %d agents", s.maxAgents))
	}
	if _, exists := s.agents[req.ID]; exists {
		s.mu.Unlock()
		return nil, apperrors.Contract("agentset.createAgent", fmt.Errorf("agent %q already exists", req.ID))
	}
	s.mu.Unlock()

	role := req.Role
	if role == "" {
		role = models.DefaultRoleForVerb(req.ActionVerb)
	}

	ag := agent.New(agent.Config{
		ID: req.ID, MissionID: req.MissionID, Role: role,
		MissionContext: req.MissionContext, Goal: req.Goal,
		Brain: s.brain, Capabilities: s.capabilities, Registry: s.registry, Sink: s.sink,
		Products:     s.products,
		Publisher:    publisherAdapter{s.bus},
		Delegator:    delegatorAdapter{s},
		MissionSteps: s.missionSteps,
		OnError: func(agentID string, err error) {
			s.log.Warn("agent entered error state", map[string]interface{}{"agentId": agentID, "error": err.Error()})
		},
	})

	s.mu.Lock()
	s.agents[req.ID] = ag
	s.mu.Unlock()

	if s.lifecycle != nil {
		s.lifecycle.Register(ag)
	}
	ag.Start(ctx)
	s.log.Info("agent created", map[string]interface{}{"agentId": req.ID, "missionId": req.MissionID, "role": string(role)})
	return ag, nil
}

type publisherAdapter struct{ b *bus.Bus }

func (p publisherAdapter) PublishStatusUpdate(agentID, status, missionID string) {
	if p.b == nil {
		return
	}
	p.b.PublishStatusUpdate(context.Background(), bus.StatusUpdate{AgentID: agentID, Status: status, MissionID: missionID})
}

// missionSteps returns every step across every agent of missionID hosted on
// this AgentSet, used for plan-replacement rewiring (spec §4.2.1) and
// cross-agent dependency resolution (spec §4.1). Agent membership is read
// under the AgentSet's own lock, but each agent's Steps must be read under
// that agent's own lock via SnapshotSteps, since the agent's loop goroutine
// owns and mutates it independently of the AgentSet.
func (s *AgentSet) missionSteps(missionID string) []*models.Step {
	s.mu.RLock()
	targets := make([]*agent.Agent, 0, len(s.agents))
	for _, ag := range s.agents {
		if ag.MissionID == missionID {
			targets = append(targets, ag)
		}
	}
	s.mu.RUnlock()

	var all []*models.Step
	for _, ag := range targets {
		all = append(all, ag.SnapshotSteps()...)
	}
	return all
}

// GetAgent returns the agent by id.
func (s *AgentSet) GetAgent(id string) (*agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ag, ok := s.agents[id]
	return ag, ok
}

// RemoveAgentFromSet implements spec §4.3 "removeAgentFromSet": idempotent,
// logs a warning rather than erroring if id was already removed (spec §8
// round-trip property).
func (s *AgentSet) RemoveAgentFromSet(id string, terminalStatus models.AgentStatus) {
	s.mu.Lock()
	_, ok := s.agents[id]
	delete(s.agents, id)
	s.mu.Unlock()

	if !ok {
		s.log.Warn("removeAgentFromSet: agent not found, treating as already removed", map[string]interface{}{"agentId": id})
		return
	}
	if s.lifecycle != nil {
		s.lifecycle.Unregister(id)
	}
	s.log.Info("agent removed", map[string]interface{}{"agentId": id, "terminalStatus": string(terminalStatus)})
}

// AbortMissionAgents implements spec §4.3 "abortMissionAgents": aborts every
// agent of missionID concurrently and best-effort (a single agent's failure
// does not block the others).
func (s *AgentSet) AbortMissionAgents(missionID string) int {
	s.mu.RLock()
	var targets []*agent.Agent
	for _, ag := range s.agents {
		if ag.MissionID == missionID {
			targets = append(targets, ag)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ag := range targets {
		wg.Add(1)
		go func(ag *agent.Agent) {
			defer wg.Done()
			ag.Abort()
			s.RemoveAgentFromSet(ag.ID, models.AgentAborted)
		}(ag)
	}
	wg.Wait()
	return len(targets)
}

// PauseMissionAgents pauses every agent of missionID (spec §6 POST /pauseAgents).
func (s *AgentSet) PauseMissionAgents(missionID string) int {
	return s.forEachMissionAgent(missionID, func(ag *agent.Agent) { ag.Pause() })
}

// ResumeMissionAgents resumes every agent of missionID (spec §6 POST /resumeAgents).
func (s *AgentSet) ResumeMissionAgents(missionID string) int {
	return s.forEachMissionAgent(missionID, func(ag *agent.Agent) { ag.Resume() })
}

func (s *AgentSet) forEachMissionAgent(missionID string, fn func(*agent.Agent)) int {
	s.mu.RLock()
	var targets []*agent.Agent
	for _, ag := range s.agents {
		if ag.MissionID == missionID {
			targets = append(targets, ag)
		}
	}
	s.mu.RUnlock()
	for _, ag := range targets {
		fn(ag)
	}
	return len(targets)
}

// AbortAgent aborts a single agent and removes it from the set (spec §6
// POST /abortAgent).
func (s *AgentSet) AbortAgent(id string) bool {
	ag, ok := s.GetAgent(id)
	if !ok {
		return false
	}
	ag.Abort()
	s.RemoveAgentFromSet(id, models.AgentAborted)
	return true
}

// ResumeAgent resumes a single paused agent (spec §6 POST /resumeAgent).
func (s *AgentSet) ResumeAgent(id string) bool {
	ag, ok := s.GetAgent(id)
	if !ok {
		return false
	}
	ag.Resume()
	return true
}

// AdoptMigratedAgent implements the target side of spec §4.6 "Migration": it
// reconstructs an Agent from a state POSTed to /migrateAgent and hosts it
// locally, provided capacity allows and the id isn't already taken.
func (s *AgentSet) AdoptMigratedAgent(ctx context.Context, state models.AgentState) (*agent.Agent, error) {
	s.mu.Lock()
	if s.maxAgents > 0 && len(s.agents) >= s.maxAgents {
		s.mu.Unlock()
		return nil, apperrors.LifecycleViolation("agentset.adoptMigratedAgent", fmt.Errorf("at capacity: %d agents", s.maxAgents))
	}
	if _, exists := s.agents[state.ID]; exists {
		s.mu.Unlock()
		return nil, apperrors.Contract("agentset.adoptMigratedAgent", fmt.Errorf("agent %q already exists", state.ID))
	}
	s.mu.Unlock()

	ag := agent.New(agent.Config{
		ID: state.ID, MissionID: state.MissionID, Role: state.Role,
		MissionContext: state.MissionContext,
		Brain: s.brain, Capabilities: s.capabilities, Registry: s.registry, Sink: s.sink,
		Products:     s.products,
		Publisher:    publisherAdapter{s.bus},
		Delegator:    delegatorAdapter{s},
		MissionSteps: s.missionSteps,
		OnError: func(agentID string, err error) {
			s.log.Warn("agent entered error state", map[string]interface{}{"agentId": agentID, "error": err.Error()})
		},
	})
	ag.Restore(state)

	s.mu.Lock()
	s.agents[state.ID] = ag
	s.mu.Unlock()

	if s.lifecycle != nil {
		s.lifecycle.Register(ag)
	}
	ag.Start(ctx)
	s.log.Info("agent adopted via migration", map[string]interface{}{"agentId": state.ID, "missionId": state.MissionID})
	return ag, nil
}

// RegisterStepLocation, UpdateStepLocation and GetStepLocation are thin
// passthroughs to the StepLocationRegistry (spec §4.3).
func (s *AgentSet) RegisterStepLocation(stepID string, loc models.StepLocation) {
	s.registry.Register(stepID, loc)
}

func (s *AgentSet) UpdateStepLocation(stepID string, loc models.StepLocation) error {
	return s.registry.Update(stepID, loc)
}

func (s *AgentSet) GetStepLocation(stepID string) (models.StepLocation, bool) {
	return s.registry.Get(stepID)
}

// CheckAndFixStuckAgents implements spec §4.3: retries any WAITING step that
// still carries an unresolved "{placeholder}" input, indicating the user
// response arrived but resolution failed earlier (spec E5).
func (s *AgentSet) CheckAndFixStuckAgents() int {
	s.mu.RLock()
	agents := make([]*agent.Agent, 0, len(s.agents))
	for _, ag := range s.agents {
		agents = append(agents, ag)
	}
	s.mu.RUnlock()

	var fixed int
	for _, ag := range agents {
		fixed += ag.CheckAndFixStuckUserInput()
	}
	return fixed
}

// Statistics implements GET /statistics/:missionId (spec §8 invariant 4:
// agentsCount equals the number of agents with this missionId at query time).
func (s *AgentSet) Statistics(missionID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{MissionID: missionID, ByStatus: make(map[models.AgentStatus]int)}
	for _, ag := range s.agents {
		if ag.MissionID != missionID {
			continue
		}
		stats.AgentsCount++
		stats.ByStatus[ag.StatusSnapshot()]++
	}
	return stats
}

// RefreshMetrics updates the agents_by_status gauge across all hosted
// agents, regardless of mission.
func (s *AgentSet) RefreshMetrics() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.AgentStatus]int)
	for _, ag := range s.agents {
		counts[ag.StatusSnapshot()]++
	}
	for _, status := range []models.AgentStatus{
		models.AgentInitializing, models.AgentRunning, models.AgentPaused,
		models.AgentCompleted, models.AgentError, models.AgentAborted,
		models.AgentPlanning, models.AgentReflecting,
	} {
		metrics.AgentsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// TransferStep performs the ownership transfer at the heart of the
// delegation handshake (spec §4.4 step 3): it moves stepID out of
// delegatorID's DAG and into recipientID's, updating the step-location
// registry. Used as the delegation manager's TransferFunc.
func (s *AgentSet) TransferStep(ctx context.Context, taskID, stepID, delegatorID, recipientID string) error {
	delegator, ok := s.GetAgent(delegatorID)
	if !ok {
		return apperrors.PlacementUnresolved("agentset.transferStep", fmt.Errorf("delegator %q not found", delegatorID))
	}
	recipient, ok := s.GetAgent(recipientID)
	if !ok {
		return apperrors.PlacementUnresolved("agentset.transferStep", fmt.Errorf("recipient %q not found", recipientID))
	}
	st, ok := delegator.RemoveStep(stepID)
	if !ok {
		return apperrors.Contract("agentset.transferStep", fmt.Errorf("step %q not found on delegator %q", stepID, delegatorID))
	}
	recipient.AdoptStep(st, delegatorID)
	if s.registry != nil {
		_ = s.registry.Update(stepID, models.StepLocation{AgentID: recipientID})
	}
	s.log.Info("step ownership transferred", map[string]interface{}{"stepId": stepID, "from": delegatorID, "to": recipientID})
	return nil
}

// Len returns the number of hosted agents.
func (s *AgentSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}
