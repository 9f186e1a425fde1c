// Package agent implements the Agent execution engine: a DAG-of-steps
// runner that drives itself to completion through planning, concurrent step
// dispatch, delegation, and reflection (spec §4.2). Each Agent serializes
// its own mutable state through runUntilDone's single goroutine plus a
// message channel for externally delivered events, mirroring the teacher's
// pattern of one owning goroutine per long-lived unit of work.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/cpravetz/agentset/internal/logging"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/registry"
	"github.com/cpravetz/agentset/internal/step"
)

// Brain is the subset of brainclient.Client the engine needs.
type Brain interface {
	Plan(ctx context.Context, goal, missionContext string, inputs map[string]interface{}) (planJSON []byte, answer string, err error)
	Converse(ctx context.Context, message string) (string, error)
}

// Capabilities is the subset of capabilitiesclient.Client the engine needs.
type Capabilities interface {
	Execute(ctx context.Context, missionID, stepID, actionVerb string, inputs map[string]models.InputValue) ([]models.PluginOutput, error)
}

// StatusPublisher notifies the bus of an agent status change.
type StatusPublisher interface {
	PublishStatusUpdate(agentID, status, missionID string)
}

// Delegator hands a step off to a peer agent (implemented by internal/delegation).
type Delegator interface {
	DelegateStep(ctx context.Context, delegatorAgentID, stepID string, recommendedRole models.Role) (accepted bool, reason string)
}

// MissionSteps returns every step across every agent of a mission hosted on
// this AgentSet, used for plan-replacement rewiring (spec §4.2.1).
type MissionSteps func(missionID string) []*models.Step

// Message is one externally delivered event routed to the agent's loop.
type Message struct {
	Kind             string // "user", "user_input_response", "pause", "resume", "abort", "signal"
	Content          string
	RequestID        string
	SignalName       string
}

// Agent is the execution engine for one mission participant.
type Agent struct {
	mu sync.Mutex

	ID             string
	MissionID      string
	Role           models.Role
	Status         models.AgentStatus
	Steps          []*models.Step
	DelegatedSteps map[string]bool
	Conversation   []models.ConversationTurn
	MissionContext string
	InputValues    map[string]models.InputValue
	WaitingSteps   map[string]string
	ReflectionDone bool
	Version        models.Version

	brain        Brain
	capabilities Capabilities
	registry     *registry.Registry
	sink         step.EventSink
	products     step.WorkProductStore
	publisher    StatusPublisher
	delegator    Delegator
	missionSteps MissionSteps
	log          *logging.Logger

	messages chan Message
	cancel   context.CancelFunc
	onError  func(agentID string, err error)
}

// Config bundles an Agent's collaborators, injected by the AgentSet
// supervisor at creation time.
type Config struct {
	ID             string
	MissionID      string
	Role           models.Role
	MissionContext string
	Goal           string

	Brain        Brain
	Capabilities Capabilities
	Registry     *registry.Registry
	Sink         step.EventSink
	Products     step.WorkProductStore
	Publisher    StatusPublisher
	Delegator    Delegator
	MissionSteps MissionSteps
	OnError      func(agentID string, err error)
}

// New constructs an Agent in INITIALIZING state with a seed ACCOMPLISH step
// at stepNo 1 (spec §4.2: "builds initial ACCOMPLISH step").
func New(cfg Config) *Agent {
	a := &Agent{
		ID:             cfg.ID,
		MissionID:      cfg.MissionID,
		Role:           cfg.Role,
		Status:         models.AgentInitializing,
		DelegatedSteps: make(map[string]bool),
		MissionContext: cfg.MissionContext,
		InputValues:    make(map[string]models.InputValue),
		WaitingSteps:   make(map[string]string),
		Version:        models.Version{Major: 1},
		brain:          cfg.Brain,
		capabilities:   cfg.Capabilities,
		registry:       cfg.Registry,
		sink:           cfg.Sink,
		products:       cfg.Products,
		publisher:      cfg.Publisher,
		delegator:      cfg.Delegator,
		missionSteps:   cfg.MissionSteps,
		log:            logging.New().WithComponent("agent"),
		messages:       make(chan Message, 32),
		onError:        cfg.OnError,
	}
	if a.Role == "" {
		a.Role = models.RoleExecutor
	}

	seed := models.NewStep(cfg.ID+"-step-1", cfg.MissionID, cfg.ID, models.VerbAccomplish, 1)
	seed.Description = cfg.Goal
	seed.InputValues["goal"] = models.InputValue{InputName: "goal", Value: cfg.Goal, ValueType: models.ValueString}
	a.Steps = append(a.Steps, seed)

	if a.registry != nil {
		a.registry.Register(seed.ID, models.StepLocation{AgentID: a.ID})
	}
	return a
}

// Start launches the agent's loop goroutine and transitions to RUNNING.
func (a *Agent) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.Status = models.AgentRunning
	a.mu.Unlock()
	a.publishStatus()
	go a.runUntilDone(ctx)
}

// Deliver enqueues an externally sourced message for the agent's loop.
func (a *Agent) Deliver(msg Message) {
	select {
	case a.messages <- msg:
	default:
		a.log.Warn("message queue full, dropping message", map[string]interface{}{"agentId": a.ID, "kind": msg.Kind})
	}
}

func (a *Agent) publishStatus() {
	if a.publisher == nil {
		return
	}
	a.mu.Lock()
	status, mission := string(a.Status), a.MissionID
	a.mu.Unlock()
	a.publisher.PublishStatusUpdate(a.ID, status, mission)
}

// runUntilDone is the outer loop (spec §4.2 "Loop").
func (a *Agent) runUntilDone(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.messages:
			a.handleMessage(ctx, msg)
		case <-ticker.C:
		}

		a.mu.Lock()
		status := a.Status
		a.mu.Unlock()
		if status == models.AgentPaused || status == models.AgentAborted || status == models.AgentError {
			continue
		}
		if status.IsTerminal() {
			return
		}

		if err := a.runAgent(ctx); err != nil {
			a.transitionToError(err)
			continue
		}

		if !a.hasActiveWork() {
			a.mu.Lock()
			done := a.ReflectionDone
			a.mu.Unlock()
			if !done {
				a.runReflection(ctx)
				continue
			}
			a.mu.Lock()
			a.Status = models.AgentCompleted
			a.mu.Unlock()
			a.publishStatus()
			return
		}
	}
}

func (a *Agent) hasActiveWork() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.DelegatedSteps) > 0 {
		return true
	}
	for _, s := range a.Steps {
		if s.Status == models.StepPending || s.Status == models.StepRunning || s.Status == models.StepWaiting {
			return true
		}
	}
	return false
}

func (a *Agent) transitionToError(err error) {
	a.mu.Lock()
	a.Status = models.AgentError
	a.mu.Unlock()
	a.log.Error("agent transitioned to error", map[string]interface{}{"agentId": a.ID, "error": err.Error()})
	a.publishStatus()
	if a.onError != nil {
		a.onError(a.ID, err)
	}
}

// runAgent computes executable steps, routes them to delegation or local
// execution, and dispatches local executions concurrently (spec §4.2 "runAgent").
func (a *Agent) runAgent(ctx context.Context) error {
	a.mu.Lock()
	allSteps := append([]*models.Step(nil), a.Steps...)
	role := a.Role
	a.mu.Unlock()

	var executable []*models.Step
	for _, s := range allSteps {
		if s.Status == models.StepPending && step.DependenciesSatisfied(s, allSteps) {
			executable = append(executable, s)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, s := range executable {
		if s.RecommendedRole != "" && s.RecommendedRole != role && role != models.RoleCoordinator {
			a.delegateOut(ctx, s)
			continue
		}
		wg.Add(1)
		go func(s *models.Step) {
			defer wg.Done()
			if err := a.executeStep(ctx, s); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	a.cancelUnsatisfiable(allSteps)
	return firstErr
}

func (a *Agent) cancelUnsatisfiable(allSteps []*models.Step) {
	for _, s := range allSteps {
		if s.Status == models.StepPending && step.DependenciesPermanentlyUnsatisfied(s, allSteps) {
			s.Status = models.StepCancelled
			a.log.StepPhase(s.ID, string(models.StepPending), string(models.StepCancelled), "dependency permanently unsatisfied")
		}
	}
}

func (a *Agent) delegateOut(ctx context.Context, s *models.Step) {
	if a.delegator == nil {
		return
	}
	a.mu.Lock()
	a.DelegatedSteps[s.ID] = true
	a.mu.Unlock()

	accepted, reason := a.delegator.DelegateStep(ctx, a.ID, s.ID, s.RecommendedRole)
	if !accepted {
		a.mu.Lock()
		delete(a.DelegatedSteps, s.ID)
		a.mu.Unlock()
		a.log.Warn("delegation rejected, executing locally", map[string]interface{}{"stepId": s.ID, "reason": reason})
		_ = a.executeStep(ctx, s)
	}
}

// Pause reverts in-flight steps to PENDING and drops pending user-input
// waits (spec §5). It does not stop the lifecycle manager's checkpoint
// timer, which keeps firing while the agent is paused.
func (a *Agent) Pause() {
	a.mu.Lock()
	a.Status = models.AgentPaused
	for _, s := range a.Steps {
		if s.Status == models.StepRunning {
			s.Status = models.StepPending
		}
	}
	for reqID := range a.WaitingSteps {
		delete(a.WaitingSteps, reqID)
	}
	a.mu.Unlock()
	a.publishStatus()
}

// Resume re-arms the loop.
func (a *Agent) Resume() {
	a.mu.Lock()
	if a.Status == models.AgentPaused {
		a.Status = models.AgentRunning
	}
	a.mu.Unlock()
	a.publishStatus()
}

// Abort transitions to ABORTED, same effects as Pause plus stopping the loop.
func (a *Agent) Abort() {
	a.mu.Lock()
	a.Status = models.AgentAborted
	for _, s := range a.Steps {
		if s.Status == models.StepRunning {
			s.Status = models.StepPending
		}
	}
	for reqID := range a.WaitingSteps {
		delete(a.WaitingSteps, reqID)
	}
	a.mu.Unlock()
	a.publishStatus()
	if a.cancel != nil {
		a.cancel()
	}
}

// Snapshot returns a serializable AgentState for checkpointing (spec §4.6).
func (a *Agent) Snapshot() models.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	delegated := make([]string, 0, len(a.DelegatedSteps))
	for id := range a.DelegatedSteps {
		delegated = append(delegated, id)
	}
	waiting := make(map[string]string, len(a.WaitingSteps))
	for k, v := range a.WaitingSteps {
		waiting[k] = v
	}
	return models.AgentState{
		ID:               a.ID,
		MissionID:        a.MissionID,
		Role:             a.Role,
		Status:           a.Status,
		Steps:            append([]*models.Step(nil), a.Steps...),
		DelegatedStepIDs: delegated,
		Conversation:     append([]models.ConversationTurn(nil), a.Conversation...),
		MissionContext:   a.MissionContext,
		InputValues:      a.InputValues,
		WaitingSteps:      waiting,
		ReflectionDone:   a.ReflectionDone,
		Version:          a.Version,
		SavedAt:          time.Now(),
	}
}

// Restore replaces in-memory fields from a previously saved state (spec
// §4.6 "Restore"). Used by LifecycleManager for pause-checkpoint-restore and
// cross-set migration.
func (a *Agent) Restore(state models.AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Role = state.Role
	a.Status = state.Status
	a.Steps = state.Steps
	a.DelegatedSteps = make(map[string]bool, len(state.DelegatedStepIDs))
	for _, id := range state.DelegatedStepIDs {
		a.DelegatedSteps[id] = true
	}
	a.Conversation = state.Conversation
	a.MissionContext = state.MissionContext
	a.InputValues = state.InputValues
	a.WaitingSteps = state.WaitingSteps
	a.ReflectionDone = state.ReflectionDone
	a.Version = state.Version
}

// ErrorCount returns the number of steps currently in ERROR, used by the
// lifecycle health-score computation (spec §4.6).
func (a *Agent) ErrorCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int
	for _, s := range a.Steps {
		if s.Status == models.StepError {
			n++
		}
	}
	return n
}

// StatusSnapshot returns the current status without locking the caller in.
func (a *Agent) StatusSnapshot() models.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Status
}

// SnapshotSteps returns a copy of the agent's current steps. Callers outside
// the agent's own loop (e.g. AgentSet's missionSteps) must use this instead
// of reading Steps directly, since the loop goroutine appends to it
// concurrently (expandPlan) under a.mu.
func (a *Agent) SnapshotSteps() []*models.Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.Step(nil), a.Steps...)
}
