package step

import "github.com/cpravetz/agentset/internal/models"

// FinalSteps returns the steps in workstream that no other step in
// workstream depends on. Falls back to the workstream's last step when the
// workstream is cyclic or a singleton with no clear sink (spec §4.2.1 step 1).
func FinalSteps(workstream []*models.Step) []*models.Step {
	var finals []*models.Step
	for _, w := range workstream {
		if isFinalWithin(w, workstream) {
			finals = append(finals, w)
		}
	}
	if len(finals) == 0 && len(workstream) > 0 {
		return []*models.Step{workstream[len(workstream)-1]}
	}
	return finals
}

func isFinalWithin(w *models.Step, workstream []*models.Step) bool {
	for _, other := range workstream {
		if other.ID == w.ID {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep.SourceStepID == w.ID {
				return false
			}
		}
	}
	return true
}

// RewirePlanReplacement implements the plan-replacement rewiring algorithm:
// replaced produced a plan that was expanded into workstream; every step in
// missionWide that depended on replaced is rewired onto an appropriate final
// step of workstream, and replaced is marked REPLACED.
//
// missionWide must include every step across every agent of the mission on
// this AgentSet. Dependents hosted on other AgentSets are not rewired, here
// or on a later dereference: they keep their dependency on replaced's id.
func RewirePlanReplacement(replaced *models.Step, workstream []*models.Step, missionWide []*models.Step) {
	finals := FinalSteps(workstream)
	if len(finals) == 0 {
		replaced.Status = models.StepReplaced
		return
	}

	for _, d := range missionWide {
		if d.ID == replaced.ID {
			continue
		}
		newDeps := make([]models.Dependency, 0, len(d.Dependencies))
		for _, dep := range d.Dependencies {
			if dep.SourceStepID != replaced.ID {
				newDeps = append(newDeps, dep)
				continue
			}
			target := finals[0]
			for _, w := range finals {
				if _, ok := w.Outputs[dep.OutputName]; ok {
					target = w
					break
				}
			}
			newDep := models.Dependency{
				InputName:    dep.InputName,
				SourceStepID: target.ID,
				OutputName:   dep.OutputName,
			}
			newDeps = append(newDeps, newDep)
			if d.InputReferences == nil {
				d.InputReferences = make(map[string]models.InputReference)
			}
			d.InputReferences[dep.InputName] = models.InputReference{
				SourceStepID: target.ID,
				OutputName:   dep.OutputName,
			}
		}
		d.Dependencies = newDeps
	}

	replaced.Status = models.StepReplaced
}
