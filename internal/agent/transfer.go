package agent

import "github.com/cpravetz/agentset/internal/models"

// RemoveStep detaches the step with the given id from this agent, for the
// delegation ownership transfer handshake (spec §4.4 step 3). It also clears
// any pending DelegatedSteps bookkeeping for the step.
func (a *Agent) RemoveStep(stepID string) (*models.Step, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.Steps {
		if s.ID == stepID {
			a.Steps = append(a.Steps[:i], a.Steps[i+1:]...)
			delete(a.DelegatedSteps, stepID)
			return s, true
		}
	}
	return nil, false
}

// AdoptStep appends an externally transferred step to this agent's DAG,
// re-pointing its owner and recording who delegated it (spec §4.4 step 3,
// "ownership transfer").
func (a *Agent) AdoptStep(s *models.Step, delegatingAgentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s.OwnerAgentID = a.ID
	s.DelegatingAgentID = delegatingAgentID
	s.Status = models.StepPending
	a.Steps = append(a.Steps, s)
}
