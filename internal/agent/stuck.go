package agent

import (
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/step"
)

// CheckAndFixStuckUserInput implements spec §4.3 "checkAndFixStuckAgents":
// a WAITING step whose dereferenced inputs still contain an unresolved
// "{placeholder}" indicates the user's response was delivered but an
// earlier resolution attempt failed. Reset it to PENDING so the loop
// retries it with the now-available upstream output (spec E5).
func (a *Agent) CheckAndFixStuckUserInput() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var fixed int
	for _, s := range a.Steps {
		if s.Status != models.StepWaiting {
			continue
		}
		if len(step.UnresolvedPlaceholders(s)) == 0 {
			continue
		}
		s.Status = models.StepPending
		for reqID, stepID := range a.WaitingSteps {
			if stepID == s.ID {
				delete(a.WaitingSteps, reqID)
			}
		}
		a.log.StepPhase(s.ID, string(models.StepWaiting), string(models.StepPending), "retrying with resolved placeholders")
		fixed++
	}
	return fixed
}
