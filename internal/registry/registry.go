// Package registry provides the StepLocationRegistry: an in-memory mapping
// from stepId to the (agentId, agentSetURL) that currently owns it, used for
// cross-agent and cross-AgentSet dependency dereference and routing.
package registry

import (
	"fmt"
	"sync"

	"github.com/cpravetz/agentset/internal/models"
)

// Registry is the StepLocationRegistry (spec §2 #1, §4.3).
//
// It is single-writer per stepId (the owning agent registers and updates its
// own steps) and many-reader, so a RWMutex over a plain map is sufficient —
// the same shape as the teacher's checkpoint.Store.
type Registry struct {
	mu        sync.RWMutex
	locations map[string]models.StepLocation
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{locations: make(map[string]models.StepLocation)}
}

// Register adds a new stepId -> location mapping. It overwrites any existing
// entry for the same id, since registration happens once per step at
// creation time and the owning agent is authoritative.
func (r *Registry) Register(stepID string, loc models.StepLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations[stepID] = loc
}

// Update changes the location of an already-registered step (e.g. after a
// delegation handshake moves ownership). It is an error to update a stepId
// that was never registered.
func (r *Registry) Update(stepID string, loc models.StepLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locations[stepID]; !ok {
		return fmt.Errorf("registry: update of unregistered step %q", stepID)
	}
	r.locations[stepID] = loc
	return nil
}

// Get looks up the current location of a step.
func (r *Registry) Get(stepID string) (models.StepLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.locations[stepID]
	return loc, ok
}

// Remove deletes a step's location entry, e.g. on permanent cancellation.
func (r *Registry) Remove(stepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locations, stepID)
}

// Len returns the number of registered steps (mainly for tests/metrics).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locations)
}
