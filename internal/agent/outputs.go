package agent

import "github.com/cpravetz/agentset/internal/models"

// FinalOutput collects the FINAL-typed results of every completed endpoint
// step (spec §4.2: GetOutputType), for GET /agent/:id/output. Returns false
// if the agent hasn't produced any final output yet.
func (a *Agent) FinalOutput() ([]models.PluginOutput, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var outputs []models.PluginOutput
	for _, s := range a.Steps {
		if s.Status != models.StepCompleted {
			continue
		}
		if s.GetOutputType(a.Steps) != models.ResultFinal {
			continue
		}
		outputs = append(outputs, s.Result...)
	}
	return outputs, len(outputs) > 0
}
