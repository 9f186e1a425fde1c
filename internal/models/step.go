package models

import "time"

// InputValue is a materialized input to a step, possibly produced by
// auto-mapping a dependency whose declared output name wasn't present.
type InputValue struct {
	InputName string                 `json:"inputName"`
	Value     interface{}            `json:"value"`
	ValueType ValueType              `json:"valueType"`
	Args      map[string]interface{} `json:"args,omitempty"`
}

// AutoMappedFrom returns the original producer output name if this value was
// populated through the auto-mapping fallback, and whether that happened.
func (v InputValue) AutoMappedFrom() (string, bool) {
	if v.Args == nil {
		return "", false
	}
	name, ok := v.Args["auto_mapped_from"].(string)
	return name, ok
}

// PluginOutput is one named result produced by executing a step.
type PluginOutput struct {
	Success          bool       `json:"success"`
	Name             string     `json:"name"`
	ResultType       ResultType `json:"resultType"`
	ResultDescription string    `json:"resultDescription,omitempty"`
	Result           interface{} `json:"result"`
	MimeType         string     `json:"mimeType,omitempty"`
	FileName         string     `json:"fileName,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// IsDeliverable reports whether this output looks like a user-facing artifact.
func (o PluginOutput) IsDeliverable() bool {
	return o.MimeType != "" || o.FileName != ""
}

// Dependency is a declared edge from this step's input to a source step's
// output.
type Dependency struct {
	InputName  string `json:"inputName"`
	SourceStepID string `json:"sourceStepId"`
	OutputName string `json:"outputName"`
}

// InputReference is the unresolved declaration of where an input comes from,
// kept in sync with Dependencies so rewiring (§4.2.1) can update both views.
type InputReference struct {
	SourceStepID string `json:"sourceStepId"`
	OutputName   string `json:"outputName"`
}

// OutputDescriptor declares one output a step promises to produce.
type OutputDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Step is one node in an agent's DAG, bound to an actionVerb.
type Step struct {
	ID                 string                    `json:"id"`
	MissionID          string                    `json:"missionId"`
	OwnerAgentID       string                    `json:"ownerAgentId"`
	StepNo             int                       `json:"stepNo"`
	ActionVerb         string                    `json:"actionVerb"`
	Description        string                    `json:"description"`
	Status             StepStatus                `json:"status"`
	InputReferences    map[string]InputReference `json:"inputReferences,omitempty"`
	InputValues        map[string]InputValue     `json:"inputValues,omitempty"`
	Outputs             map[string]OutputDescriptor `json:"outputs,omitempty"`
	Dependencies        []Dependency              `json:"dependencies,omitempty"`
	Result              []PluginOutput            `json:"result,omitempty"`
	RecommendedRole     Role                      `json:"recommendedRole,omitempty"`
	DelegatingAgentID   string                    `json:"delegatingAgentId,omitempty"`
	AwaitsSignal        string                    `json:"awaitsSignal,omitempty"`
	CreatedAt           time.Time                 `json:"createdAt"`
	UpdatedAt           time.Time                 `json:"updatedAt"`
}

// NewStep builds a step in its initial PENDING state.
func NewStep(id, missionID, ownerAgentID, actionVerb string, stepNo int) *Step {
	now := time.Now()
	return &Step{
		ID:              id,
		MissionID:       missionID,
		OwnerAgentID:    ownerAgentID,
		StepNo:          stepNo,
		ActionVerb:      actionVerb,
		Status:          StepPending,
		InputReferences: make(map[string]InputReference),
		InputValues:     make(map[string]InputValue),
		Outputs:         make(map[string]OutputDescriptor),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsEndpoint reports whether no other step in the given slice depends on s.
func (s *Step) IsEndpoint(all []*Step) bool {
	for _, other := range all {
		if other.ID == s.ID {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep.SourceStepID == s.ID {
				return false
			}
		}
	}
	return true
}

// HasDeliverableOutputs reports whether the step's stored result contains at
// least one output that looks like a user-facing artifact.
func (s *Step) HasDeliverableOutputs() bool {
	for _, out := range s.Result {
		if out.IsDeliverable() {
			return true
		}
	}
	return false
}

// GetOutputType classifies the step's result as INTERIM, FINAL or PLAN.
func (s *Step) GetOutputType(all []*Step) ResultType {
	for _, out := range s.Result {
		if out.ResultType == ResultPlan {
			return ResultPlan
		}
	}
	if s.IsEndpoint(all) {
		return ResultFinal
	}
	return ResultInterim
}

// MapPluginOutputsToCustomNames relabels PluginOutputs per the step's
// declared Outputs mapping, leaving outputs with no matching declared name
// untouched (they remain addressable under their original producer name).
func (s *Step) MapPluginOutputsToCustomNames(result []PluginOutput) []PluginOutput {
	if len(s.Outputs) == 0 || len(result) != 1 {
		return result
	}
	// A single declared output name relabels a single-output result, mirroring
	// the auto-mapping rule that a sole output may stand in for a named one.
	for name := range s.Outputs {
		out := result[0]
		out.Name = name
		return []PluginOutput{out}
	}
	return result
}
