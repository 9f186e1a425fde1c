package step

import (
	"context"
	"testing"

	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorkProductStore is an in-memory step.WorkProductStore for exercising
// DereferenceInputsForExecution's cross-agent/cross-set lookup path without
// internal/persistence.
type fakeWorkProductStore struct {
	results map[string][]models.PluginOutput // keyed by agentID+"/"+stepID
}

func newFakeWorkProductStore() *fakeWorkProductStore {
	return &fakeWorkProductStore{results: make(map[string][]models.PluginOutput)}
}

func (f *fakeWorkProductStore) key(agentID, stepID string) string { return agentID + "/" + stepID }

func (f *fakeWorkProductStore) SaveStepResult(ctx context.Context, agentID, stepID string, outputs []models.PluginOutput) error {
	f.results[f.key(agentID, stepID)] = outputs
	return nil
}

func (f *fakeWorkProductStore) FetchStepResult(ctx context.Context, agentID, stepID string) ([]models.PluginOutput, bool, error) {
	out, ok := f.results[f.key(agentID, stepID)]
	return out, ok, nil
}

type recordingSink struct {
	events []map[string]interface{}
}

func (r *recordingSink) Emit(eventType string, fields map[string]interface{}) {
	fields["eventType"] = eventType
	r.events = append(r.events, fields)
}

func producerWithOutput(id, outputName string, value interface{}) *models.Step {
	s := models.NewStep(id, "mission-1", "agent-1", "DO", 1)
	s.Status = models.StepCompleted
	s.Result = []models.PluginOutput{{Success: true, Name: outputName, ResultType: models.ResultFinal, Result: value}}
	return s
}

func TestDependenciesSatisfiedExactMatch(t *testing.T) {
	producer := producerWithOutput("p1", "out", "value")
	consumer := models.NewStep("c1", "mission-1", "agent-1", "DO", 2)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "p1", OutputName: "out"}}

	all := []*models.Step{producer, consumer}
	assert.True(t, DependenciesSatisfied(consumer, all))
}

func TestDependenciesSatisfiedAutoMapFallback(t *testing.T) {
	producer := producerWithOutput("p1", "actualOutput", "value")
	consumer := models.NewStep("c1", "mission-1", "agent-1", "DO", 2)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "p1", OutputName: "expectedOutput"}}

	all := []*models.Step{producer, consumer}
	assert.True(t, DependenciesSatisfied(consumer, all))
}

func TestDereferenceInputsAutoMapEmitsEvent(t *testing.T) {
	producer := producerWithOutput("p1", "actualOutput", "hello")
	consumer := models.NewStep("c1", "mission-1", "agent-1", "DO", 2)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "p1", OutputName: "expectedOutput"}}

	all := []*models.Step{producer, consumer}
	sink := &recordingSink{}
	require.NoError(t, DereferenceInputs(consumer, all, sink))

	iv := consumer.InputValues["in"]
	assert.Equal(t, "hello", iv.Value)
	mappedFrom, ok := iv.AutoMappedFrom()
	require.True(t, ok)
	assert.Equal(t, "actualOutput", mappedFrom)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "dependency_auto_remap", sink.events[0]["eventType"])
}

func TestDereferenceInputsMissingOutputIsContractError(t *testing.T) {
	producer := models.NewStep("p1", "mission-1", "agent-1", "DO", 1)
	producer.Status = models.StepCompleted
	producer.Result = []models.PluginOutput{
		{Name: "a", ResultType: models.ResultFinal, Result: "x"},
		{Name: "b", ResultType: models.ResultFinal, Result: "y"},
	}
	consumer := models.NewStep("c1", "mission-1", "agent-1", "DO", 2)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "p1", OutputName: "missing"}}

	err := DereferenceInputs(consumer, []*models.Step{producer, consumer}, nil)
	require.Error(t, err)
}

func TestDependenciesPermanentlyUnsatisfiedOnError(t *testing.T) {
	producer := models.NewStep("p1", "mission-1", "agent-1", "DO", 1)
	producer.Status = models.StepError
	consumer := models.NewStep("c1", "mission-1", "agent-1", "DO", 2)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "p1", OutputName: "out"}}

	assert.True(t, DependenciesPermanentlyUnsatisfied(consumer, []*models.Step{producer, consumer}))
}

func TestFinalStepsSkipsIntermediate(t *testing.T) {
	a := models.NewStep("a", "m", "ag", "DO", 1)
	b := models.NewStep("b", "m", "ag", "DO", 2)
	b.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "a", OutputName: "out"}}
	c := models.NewStep("c", "m", "ag", "DO", 3)
	c.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "b", OutputName: "out"}}

	finals := FinalSteps([]*models.Step{a, b, c})
	require.Len(t, finals, 1)
	assert.Equal(t, "c", finals[0].ID)
}

func TestRewirePlanReplacementUpdatesDependents(t *testing.T) {
	replaced := models.NewStep("r1", "m", "ag", "ACCOMPLISH", 1)
	replaced.Outputs = map[string]models.OutputDescriptor{"plan": {Name: "plan"}}

	w1 := models.NewStep("w1", "m", "ag", "DO", 2)
	w1.Outputs = map[string]models.OutputDescriptor{"result": {Name: "result"}}

	dependent := models.NewStep("d1", "m", "ag", "DO", 3)
	dependent.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "r1", OutputName: "result"}}

	missionWide := []*models.Step{replaced, w1, dependent}
	RewirePlanReplacement(replaced, []*models.Step{w1}, missionWide)

	assert.Equal(t, models.StepReplaced, replaced.Status)
	require.Len(t, dependent.Dependencies, 1)
	assert.Equal(t, "w1", dependent.Dependencies[0].SourceStepID)

	for _, d := range missionWide {
		for _, dep := range d.Dependencies {
			assert.NotEqual(t, "r1", dep.SourceStepID, "invariant 3: no mission-wide dependency may retain the replaced step's id")
		}
	}
}

func TestDereferenceInputsForExecutionResolvesCrossAgentViaRegistry(t *testing.T) {
	reg := registry.New()
	reg.Register("p1", models.StepLocation{AgentID: "agent-remote"})

	products := newFakeWorkProductStore()
	require.NoError(t, products.SaveStepResult(context.Background(), "agent-remote", "p1",
		[]models.PluginOutput{{Success: true, Name: "actualOutput", ResultType: models.ResultFinal, Result: "hello"}}))

	consumer := models.NewStep("c1", "mission-1", "agent-local", "DO", 1)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "p1", OutputName: "expectedOutput"}}

	sink := &recordingSink{}
	// p1 is absent from the local/mission-wide step set, forcing the registry
	// + work-product-store fallback path.
	err := DereferenceInputsForExecution(context.Background(), consumer, []*models.Step{consumer}, reg, products, sink)
	require.NoError(t, err)

	iv := consumer.InputValues["in"]
	assert.Equal(t, "hello", iv.Value)
	mappedFrom, ok := iv.AutoMappedFrom()
	require.True(t, ok)
	assert.Equal(t, "actualOutput", mappedFrom)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "dependency_auto_remap", sink.events[0]["eventType"])
}

func TestDereferenceInputsForExecutionUnregisteredSourceIsPlacementUnresolved(t *testing.T) {
	reg := registry.New()
	products := newFakeWorkProductStore()

	consumer := models.NewStep("c1", "mission-1", "agent-local", "DO", 1)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "ghost", OutputName: "out"}}

	err := DereferenceInputsForExecution(context.Background(), consumer, []*models.Step{consumer}, reg, products, nil)
	require.Error(t, err)
}

func TestDereferenceInputsForExecutionNoProductsConfiguredIsPlacementUnresolved(t *testing.T) {
	reg := registry.New()
	reg.Register("p1", models.StepLocation{AgentID: "agent-remote"})

	consumer := models.NewStep("c1", "mission-1", "agent-local", "DO", 1)
	consumer.Dependencies = []models.Dependency{{InputName: "in", SourceStepID: "p1", OutputName: "out"}}

	err := DereferenceInputsForExecution(context.Background(), consumer, []*models.Step{consumer}, reg, nil, nil)
	require.Error(t, err)
}
