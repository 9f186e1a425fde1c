// Package step implements dependency evaluation, input dereferencing with
// auto-mapping fallback, and plan-replacement rewiring for models.Step DAGs
// (spec §4.1, §4.2.1). It operates on slices of *models.Step owned by an
// Agent; it has no concurrency of its own — callers serialize access through
// the owning agent's loop.
package step

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/registry"
)

// EventSink receives persistence events emitted during dereferencing, e.g.
// "dependency_auto_remap". Implemented by internal/persistence in production
// and a recording fake in tests.
type EventSink interface {
	Emit(eventType string, fields map[string]interface{})
}

// WorkProductStore persists and retrieves a completed step's result, keyed
// by (agentId, stepId) (spec §3 Ownership: "work product... shared... read
// by any dependent step or UI via PersistenceClient"). Implemented by
// internal/persistence.Store.
type WorkProductStore interface {
	SaveStepResult(ctx context.Context, agentID, stepID string, outputs []models.PluginOutput) error
	FetchStepResult(ctx context.Context, agentID, stepID string) ([]models.PluginOutput, bool, error)
}

// findByID returns the step with the given id, or nil.
func findByID(all []*models.Step, id string) *models.Step {
	for _, s := range all {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// resolveOutput finds the PluginOutput matching outputName on the producer's
// stored result, falling back to the producer's sole output if it has
// exactly one. Returns the output, the name it was actually keyed under (for
// auto-mapping bookkeeping), and whether resolution succeeded.
func resolveOutput(producer *models.Step, outputName string) (models.PluginOutput, string, bool) {
	for _, out := range producer.Result {
		if out.Name == outputName {
			return out, outputName, true
		}
	}
	if len(producer.Result) == 1 {
		return producer.Result[0], producer.Result[0].Name, true
	}
	var zero models.PluginOutput
	return zero, "", false
}

// DependenciesSatisfied reports whether every dependency of s resolves to a
// COMPLETED source step with an exact or auto-mappable output (spec §4.1,
// invariant 1).
func DependenciesSatisfied(s *models.Step, all []*models.Step) bool {
	for _, dep := range s.Dependencies {
		src := findByID(all, dep.SourceStepID)
		if src == nil || src.Status != models.StepCompleted {
			return false
		}
		if _, _, ok := resolveOutput(src, dep.OutputName); !ok {
			return false
		}
	}
	return true
}

// DependenciesPermanentlyUnsatisfied reports whether s can never become ready
// because a source step failed or was cancelled with no alternative mapping.
func DependenciesPermanentlyUnsatisfied(s *models.Step, all []*models.Step) bool {
	for _, dep := range s.Dependencies {
		src := findByID(all, dep.SourceStepID)
		if src == nil {
			continue
		}
		if src.Status == models.StepError || src.Status == models.StepCancelled {
			return true
		}
	}
	return false
}

// DereferenceInputs populates s.InputValues from its Dependencies against
// the completed steps in all, recording auto-mapping via
// args.auto_mapped_from and emitting a dependency_auto_remap event through
// sink when it happens (sink may be nil to skip emission, e.g. in tests).
func DereferenceInputs(s *models.Step, all []*models.Step, sink EventSink) error {
	return dereference(context.Background(), s, all, sink, nil)
}

// remoteLookup fetches a dependency's source step when it isn't present in
// the caller's local/mission-wide step set.
type remoteLookup func(ctx context.Context, sourceStepID string) (*models.Step, error)

// dereference is the shared resolution loop behind DereferenceInputs and
// DereferenceInputsForExecution. When a dependency's source isn't found in
// all and remote is non-nil, remote is consulted before giving up.
func dereference(ctx context.Context, s *models.Step, all []*models.Step, sink EventSink, remote remoteLookup) error {
	if s.InputValues == nil {
		s.InputValues = make(map[string]models.InputValue)
	}
	for _, dep := range s.Dependencies {
		src := findByID(all, dep.SourceStepID)
		if src == nil {
			if remote == nil {
				return apperrors.PlacementUnresolved("step.dereference",
					fmt.Errorf("source step %q for input %q not found", dep.SourceStepID, dep.InputName))
			}
			var err error
			src, err = remote(ctx, dep.SourceStepID)
			if err != nil {
				return err
			}
		}
		out, actualName, ok := resolveOutput(src, dep.OutputName)
		if !ok {
			return apperrors.Contract("step.dereference",
				fmt.Errorf("output %q not found on step %q and it has no sole output to fall back to", dep.OutputName, src.ID))
		}

		iv := models.InputValue{
			InputName: dep.InputName,
			Value:     out.Result,
			ValueType: valueTypeOf(out),
		}
		if actualName != dep.OutputName {
			iv.Args = map[string]interface{}{"auto_mapped_from": actualName}
			if sink != nil {
				sink.Emit("dependency_auto_remap", map[string]interface{}{
					"fromStepId": src.ID,
					"toStepId":   s.ID,
					"inputName":  dep.InputName,
					"mappedFrom": actualName,
				})
			}
		}
		s.InputValues[dep.InputName] = iv
	}
	s.UpdatedAt = time.Now()
	return nil
}

func valueTypeOf(out models.PluginOutput) models.ValueType {
	switch out.ResultType {
	case models.ResultPlan:
		return models.ValuePlan
	case models.ResultError:
		return models.ValueError
	default:
		return models.ValueAny
	}
}

// DereferenceInputsForExecution is DereferenceInputs extended with
// cross-agent/cross-set resolution through the StepLocationRegistry and
// placeholder interpolation of the form "{key}" against already-resolved
// input values (spec §4.1, §3 Ownership). Local steps in all are tried
// first; a dependency whose source isn't local is looked up in reg, and its
// stored result fetched from products, then run through the same
// resolveOutput/auto-map logic as DereferenceInputs. products may be nil,
// in which case cross-agent/cross-set dependencies report PlacementUnresolved.
func DereferenceInputsForExecution(ctx context.Context, s *models.Step, all []*models.Step, reg *registry.Registry, products WorkProductStore, sink EventSink) error {
	err := dereference(ctx, s, all, sink, func(ctx context.Context, sourceStepID string) (*models.Step, error) {
		loc, ok := reg.Get(sourceStepID)
		if !ok {
			return nil, apperrors.PlacementUnresolved("step.dereference",
				fmt.Errorf("source step %q not found locally or in the step-location registry", sourceStepID))
		}
		if products == nil {
			return nil, apperrors.PlacementUnresolved("step.dereference",
				fmt.Errorf("source step %q is registered to agent %q but no work-product store is configured", sourceStepID, loc.AgentID))
		}
		outputs, found, ferr := products.FetchStepResult(ctx, loc.AgentID, sourceStepID)
		if ferr != nil {
			return nil, apperrors.TransientExternal("step.dereference", ferr)
		}
		if !found {
			return nil, apperrors.PlacementUnresolved("step.dereference",
				fmt.Errorf("work product for step %q from agent %q is not yet available", sourceStepID, loc.AgentID))
		}
		return &models.Step{ID: sourceStepID, Status: models.StepCompleted, Result: outputs}, nil
	})
	if err != nil {
		return err
	}
	interpolatePlaceholders(s)
	return nil
}

// interpolatePlaceholders replaces "{key}" markers in string input values
// with the stringified value of another already-resolved input named key.
func interpolatePlaceholders(s *models.Step) {
	for name, iv := range s.InputValues {
		str, ok := iv.Value.(string)
		if !ok || !strings.Contains(str, "{") {
			continue
		}
		for otherName, other := range s.InputValues {
			placeholder := "{" + otherName + "}"
			if strings.Contains(str, placeholder) {
				str = strings.ReplaceAll(str, placeholder, fmt.Sprintf("%v", other.Value))
			}
		}
		iv.Value = str
		s.InputValues[name] = iv
	}
}

// UnresolvedPlaceholders reports the input names whose string value still
// contains a "{...}" marker after dereferencing, used by
// checkAndFixStuckAgents to detect a WAITING step worth retrying (spec §4.3).
func UnresolvedPlaceholders(s *models.Step) []string {
	var names []string
	for name, iv := range s.InputValues {
		if str, ok := iv.Value.(string); ok && strings.Contains(str, "{") && strings.Contains(str, "}") {
			names = append(names, name)
		}
	}
	return names
}
