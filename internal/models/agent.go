package models

import (
	"strconv"
	"time"
)

// ConversationTurn is one message in an agent's conversation history.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentState is the serializable snapshot of an Agent used by checkpointing
// and cross-set migration. It deliberately excludes runtime-only handles
// (bus subscriptions, cancellation tokens).
type AgentState struct {
	ID               string               `json:"id"`
	MissionID        string               `json:"missionId"`
	Role             Role                 `json:"role"`
	Status           AgentStatus          `json:"status"`
	Steps            []*Step              `json:"steps"`
	DelegatedStepIDs []string             `json:"delegatedStepIds"`
	Conversation     []ConversationTurn   `json:"conversation"`
	MissionContext   string               `json:"missionContext"`
	InputValues      map[string]InputValue `json:"inputValues"`
	WaitingSteps     map[string]string    `json:"waitingSteps"` // userInputRequestId -> stepId
	ReflectionDone   bool                 `json:"reflectionDone"`
	Version          Version              `json:"version"`
	SavedAt          time.Time            `json:"savedAt"`
}

// Version is a monotonic major.minor.patch tag for an agent snapshot.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}

// NextPatch returns the version with patch incremented.
func (v Version) NextPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}
