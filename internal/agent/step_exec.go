package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/step"
	"github.com/cpravetz/agentset/internal/telemetry"
)

// planStep is the minimal shape a Brain plan expansion is expected to
// contain: a flat list of new steps with their dependencies, expressed in
// terms of the same fields as models.Step.
type planStep struct {
	ID              string                          `json:"id"`
	ActionVerb      string                          `json:"actionVerb"`
	Description     string                          `json:"description"`
	RecommendedRole models.Role                     `json:"recommendedRole,omitempty"`
	Outputs         map[string]models.OutputDescriptor `json:"outputs,omitempty"`
	Dependencies    []models.Dependency             `json:"dependencies,omitempty"`
}

// executeStep implements the step execution path (spec §4.2 "Step execution path").
func (a *Agent) executeStep(ctx context.Context, s *models.Step) (stepErr error) {
	a.mu.Lock()
	if a.Status != models.AgentRunning {
		a.mu.Unlock()
		return nil
	}
	allSteps := a.missionWideStepsLocked()
	a.mu.Unlock()

	ctx, span := telemetry.StartStepSpan(ctx, s.ID, a.ID, s.ActionVerb)
	defer func() { telemetry.EndStepSpan(span, string(s.Status), stepErr) }()

	s.Status = models.StepRunning
	a.log.StepPhaseContext(ctx, s.ID, string(models.StepPending), string(models.StepRunning), s.ActionVerb)

	if err := step.DereferenceInputsForExecution(ctx, s, allSteps, a.registry, a.products, a.sink); err != nil {
		return a.handleStepFailure(s, err)
	}

	var (
		result []models.PluginOutput
		err    error
	)
	switch s.ActionVerb {
	case models.VerbAccomplish:
		result, err = a.executeAccomplish(ctx, s)
	case models.VerbReflect:
		result, err = a.executeReflect(ctx, s)
	case models.VerbAsk, models.VerbAskUserQuestion:
		return a.executeAsk(s)
	case models.VerbAwaitSignal:
		s.Status = models.StepPaused
		return nil
	default:
		result, err = a.capabilities.Execute(ctx, a.MissionID, s.ID, s.ActionVerb, s.InputValues)
	}
	if err != nil {
		return a.handleStepFailure(s, err)
	}

	result = s.MapPluginOutputsToCustomNames(result)
	s.Result = result

	for _, out := range result {
		if out.ResultType == models.ResultError {
			return a.handleStepFailure(s, apperrors.TerminalExternal("step.execute", fmt.Errorf("%s", out.Error)))
		}
	}
	for _, out := range result {
		if out.ResultType == models.ResultPlan {
			stepErr = a.expandPlan(s, out)
			return stepErr
		}
	}

	s.Status = models.StepCompleted
	a.log.StepPhaseContext(ctx, s.ID, string(models.StepRunning), string(models.StepCompleted), "")
	a.saveWorkProduct(s, result)

	if s.DelegatingAgentID != "" {
		a.notifyDelegator(s)
	}
	return nil
}

func (a *Agent) executeAccomplish(ctx context.Context, s *models.Step) ([]models.PluginOutput, error) {
	goal, _ := s.InputValues["goal"].Value.(string)
	planJSON, answer, err := a.brain.Plan(ctx, goal, a.MissionContext, toAnyMap(s.InputValues))
	if err != nil {
		return nil, err
	}
	if len(planJSON) > 0 {
		return []models.PluginOutput{{Success: true, Name: "plan", ResultType: models.ResultPlan, Result: json.RawMessage(planJSON)}}, nil
	}
	return []models.PluginOutput{{Success: true, Name: "answer", ResultType: models.ResultFinal, Result: answer}}, nil
}

func (a *Agent) executeReflect(ctx context.Context, s *models.Step) ([]models.PluginOutput, error) {
	planJSON, answer, err := a.brain.Plan(ctx, "reflect on mission completion", a.MissionContext, toAnyMap(s.InputValues))
	if err != nil {
		return nil, err
	}
	if len(planJSON) > 0 {
		return []models.PluginOutput{{Success: true, Name: "plan", ResultType: models.ResultPlan, Result: json.RawMessage(planJSON)}}, nil
	}
	return []models.PluginOutput{{Success: true, Name: "summary", ResultType: models.ResultFinal, Result: answer}}, nil
}

// executeAsk handles ASK / ASK_USER_QUESTION: the step parks itself WAITING
// until a USER_INPUT_RESPONSE is delivered (spec §4.2 message handling).
func (a *Agent) executeAsk(s *models.Step) error {
	requestID := s.ID + "-request"
	a.mu.Lock()
	s.Status = models.StepWaiting
	a.WaitingSteps[requestID] = s.ID
	a.mu.Unlock()
	a.log.StepPhase(s.ID, string(models.StepRunning), string(models.StepWaiting), "awaiting user input")
	return nil
}

func (a *Agent) handleStepFailure(s *models.Step, err error) error {
	s.Status = models.StepError
	a.log.Error("step failed", map[string]interface{}{"stepId": s.ID, "error": err.Error()})
	if a.sink != nil {
		a.sink.Emit("step_failed", map[string]interface{}{"stepId": s.ID, "agentId": a.ID, "missionId": a.MissionID, "error": err.Error()})
	}
	a.notifyDependents(s)

	if apperrors.Is(err, apperrors.KindTerminalExternal) {
		replanned, rerr := a.attemptReplan(s, err)
		if rerr == nil && replanned {
			return nil
		}
		a.mu.Lock()
		a.Status = models.AgentError
		a.mu.Unlock()
	}
	return nil
}

func (a *Agent) attemptReplan(s *models.Step, cause error) (bool, error) {
	if a.brain == nil {
		return false, cause
	}
	planJSON, _, err := a.brain.Plan(context.Background(), "recover from failure of "+s.ActionVerb, a.MissionContext, map[string]interface{}{"error": cause.Error()})
	if err != nil || len(planJSON) == 0 {
		return false, err
	}
	out := models.PluginOutput{Success: true, Name: "plan", ResultType: models.ResultPlan, Result: json.RawMessage(planJSON)}
	if err := a.expandPlan(s, out); err != nil {
		return false, err
	}
	return true, nil
}

// notifyDependents marks direct dependents of a failed step ERROR and
// propagates recursively only when no alternative parent exists (spec §7
// "Propagation").
func (a *Agent) notifyDependents(failed *models.Step) {
	a.mu.Lock()
	allSteps := append([]*models.Step(nil), a.Steps...)
	a.mu.Unlock()

	for _, d := range allSteps {
		if d.Status.IsTerminal() {
			continue
		}
		for _, dep := range d.Dependencies {
			if dep.SourceStepID != failed.ID {
				continue
			}
			if step.DependenciesPermanentlyUnsatisfied(d, allSteps) {
				d.Status = models.StepError
				a.notifyDependents(d)
			}
		}
	}
}

// expandPlan implements the PLAN-output path of executeStep: map outputs,
// save the work product, append new steps, rewire dependents, mark the
// source step REPLACED (spec §4.2.1).
func (a *Agent) expandPlan(source *models.Step, planOutput models.PluginOutput) error {
	raw, ok := planOutput.Result.(json.RawMessage)
	if !ok {
		if s, ok := planOutput.Result.(string); ok {
			raw = json.RawMessage(s)
		} else {
			b, err := json.Marshal(planOutput.Result)
			if err != nil {
				return apperrors.Contract("agent.expandPlan", err)
			}
			raw = b
		}
	}

	var planSteps []planStep
	if err := json.Unmarshal(raw, &planSteps); err != nil {
		return apperrors.Contract("agent.expandPlan", fmt.Errorf("malformed plan from step %q: %w", source.ID, err))
	}

	a.mu.Lock()
	nextNo := len(a.Steps) + 1
	newSteps := make([]*models.Step, 0, len(planSteps))
	for _, ps := range planSteps {
		ns := models.NewStep(ps.ID, a.MissionID, a.ID, ps.ActionVerb, nextNo)
		ns.Description = ps.Description
		ns.RecommendedRole = ps.RecommendedRole
		if ns.RecommendedRole == "" {
			ns.RecommendedRole = models.DefaultRoleForVerb(ps.ActionVerb)
		}
		ns.Outputs = ps.Outputs
		ns.Dependencies = ps.Dependencies
		for _, dep := range ps.Dependencies {
			if ns.InputReferences == nil {
				ns.InputReferences = make(map[string]models.InputReference)
			}
			ns.InputReferences[dep.InputName] = models.InputReference{SourceStepID: dep.SourceStepID, OutputName: dep.OutputName}
		}
		newSteps = append(newSteps, ns)
		nextNo++
		if a.registry != nil {
			a.registry.Register(ns.ID, models.StepLocation{AgentID: a.ID})
		}
	}
	a.Steps = append(a.Steps, newSteps...)
	missionWide := a.missionWideStepsLocked()
	a.mu.Unlock()

	step.RewirePlanReplacement(source, newSteps, missionWide)
	source.Result = []models.PluginOutput{planOutput}

	if a.sink != nil {
		a.sink.Emit("plan_expanded", map[string]interface{}{"sourceStepId": source.ID, "agentId": a.ID, "missionId": a.MissionID, "newStepCount": len(newSteps)})
	}
	return nil
}

// missionWideStepsLocked returns every step of the mission known to this
// AgentSet, falling back to the agent's own steps when no cross-agent
// provider was wired (e.g. in unit tests). Caller must hold a.mu; it is
// released while the provider runs, since the provider reads every agent of
// the mission, this one included, under that agent's own lock.
func (a *Agent) missionWideStepsLocked() []*models.Step {
	if a.missionSteps != nil {
		a.mu.Unlock()
		defer a.mu.Lock()
		return a.missionSteps(a.MissionID)
	}
	return append([]*models.Step(nil), a.Steps...)
}

// saveWorkProduct persists a completed step's result so a dependent step
// owned by another agent or AgentSet can resolve it through the
// StepLocationRegistry (spec §3 Ownership), and logs a work_product_saved
// event for observability.
func (a *Agent) saveWorkProduct(s *models.Step, result []models.PluginOutput) {
	if a.products != nil {
		if err := a.products.SaveStepResult(context.Background(), a.ID, s.ID, result); err != nil {
			a.log.Warn("failed to save work product", map[string]interface{}{"stepId": s.ID, "error": err.Error()})
		}
	}
	if a.sink == nil {
		return
	}
	a.sink.Emit("work_product_saved", map[string]interface{}{
		"stepId": s.ID, "agentId": a.ID, "missionId": a.MissionID,
	})
}

func (a *Agent) notifyDelegator(s *models.Step) {
	if a.sink != nil {
		a.sink.Emit("delegated_step_completed", map[string]interface{}{
			"stepId": s.ID, "delegatingAgentId": s.DelegatingAgentID, "agentId": a.ID,
		})
	}
}

func toAnyMap(in map[string]models.InputValue) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v.Value
	}
	return out
}

// runReflection synthesizes a terminal REFLECT step over this agent's own
// completed sink steps (spec §4.7); steps of other agents in the same
// mission are not included.
func (a *Agent) runReflection(ctx context.Context) {
	a.mu.Lock()
	var sinkIDs []string
	for _, s := range a.Steps {
		if s.IsEndpoint(a.Steps) && s.Status == models.StepCompleted {
			sinkIDs = append(sinkIDs, s.ID)
		}
	}
	reflectStep := models.NewStep(a.ID+"-reflect", a.MissionID, a.ID, models.VerbReflect, len(a.Steps)+1)
	for i, id := range sinkIDs {
		reflectStep.Dependencies = append(reflectStep.Dependencies, models.Dependency{InputName: fmt.Sprintf("sink%d", i), SourceStepID: id, OutputName: "result"})
	}
	a.Steps = append(a.Steps, reflectStep)
	a.mu.Unlock()

	err := a.executeStep(ctx, reflectStep)
	if err == nil && reflectStep.Status != models.StepError {
		a.mu.Lock()
		a.ReflectionDone = true
		a.mu.Unlock()
	}
}
