// Package models holds the shared data model for agents, steps, conflicts
// and delegated tasks that the engine and supervisor operate on.
package models

import "strings"

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentInitializing AgentStatus = "INITIALIZING"
	AgentRunning      AgentStatus = "RUNNING"
	AgentPaused       AgentStatus = "PAUSED"
	AgentCompleted    AgentStatus = "COMPLETED"
	AgentError        AgentStatus = "ERROR"
	AgentAborted      AgentStatus = "ABORTED"
	AgentPlanning     AgentStatus = "PLANNING"
	AgentReflecting   AgentStatus = "REFLECTING"
	AgentUnknown      AgentStatus = "UNKNOWN"
)

// IsTerminal reports whether the status will never leave this value on its own.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentCompleted, AgentError, AgentAborted:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a Step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepWaiting   StepStatus = "WAITING"
	StepCompleted StepStatus = "COMPLETED"
	StepError     StepStatus = "ERROR"
	StepCancelled StepStatus = "CANCELLED"
	StepReplaced  StepStatus = "REPLACED"
	StepPaused    StepStatus = "PAUSED"
)

// IsTerminal reports whether a step may never transition back to RUNNING
// from this status (invariant 2 in spec §8): COMPLETED, ERROR, CANCELLED and
// REPLACED are terminal; PENDING is reachable again via explicit retry paths.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepError, StepCancelled, StepReplaced:
		return true
	default:
		return false
	}
}

// ValueType is the type tag carried by an InputValue.
type ValueType string

const (
	ValueString  ValueType = "STRING"
	ValueNumber  ValueType = "NUMBER"
	ValueBoolean ValueType = "BOOLEAN"
	ValueArray   ValueType = "ARRAY"
	ValueObject  ValueType = "OBJECT"
	ValuePlan    ValueType = "PLAN"
	ValueError   ValueType = "ERROR"
	ValueAny     ValueType = "ANY"
)

// ResultType is the type tag carried by a PluginOutput.
type ResultType string

const (
	ResultInterim ResultType = "INTERIM"
	ResultFinal   ResultType = "FINAL"
	ResultPlan    ResultType = "PLAN"
	ResultError   ResultType = "ERROR"
)

// ConflictStatus is the lifecycle state of a Conflict.
type ConflictStatus string

const (
	ConflictPending    ConflictStatus = "PENDING"
	ConflictInProgress ConflictStatus = "IN_PROGRESS"
	ConflictResolved   ConflictStatus = "RESOLVED"
	ConflictFailed     ConflictStatus = "FAILED"
	ConflictEscalated  ConflictStatus = "ESCALATED"
)

// ConflictStrategy selects how a Conflict is resolved.
type ConflictStrategy string

const (
	StrategyVoting      ConflictStrategy = "VOTING"
	StrategyConsensus   ConflictStrategy = "CONSENSUS"
	StrategyAuthority   ConflictStrategy = "AUTHORITY"
	StrategyNegotiation ConflictStrategy = "NEGOTIATION"
	StrategyExternal    ConflictStrategy = "EXTERNAL"
)

// DelegatedTaskStatus is the lifecycle state of a DelegatedTask.
type DelegatedTaskStatus string

const (
	DelegationPending    DelegatedTaskStatus = "PENDING"
	DelegationAccepted   DelegatedTaskStatus = "ACCEPTED"
	DelegationRejected   DelegatedTaskStatus = "REJECTED"
	DelegationInProgress DelegatedTaskStatus = "IN_PROGRESS"
	DelegationCompleted  DelegatedTaskStatus = "COMPLETED"
	DelegationFailed     DelegatedTaskStatus = "FAILED"
	DelegationCancelled  DelegatedTaskStatus = "CANCELLED"
	DelegationExpired    DelegatedTaskStatus = "EXPIRED"
)

// Priority is the urgency tag of a DelegatedTask.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Role is a coarse specialization label used to decide whether a step is
// delegated to a peer agent.
type Role string

const (
	RoleExecutor      Role = "executor"
	RoleResearcher    Role = "researcher"
	RoleCoder         Role = "coder"
	RoleCreative      Role = "creative"
	RoleCritic        Role = "critic"
	RoleCoordinator   Role = "coordinator"
	RoleDomainExpert  Role = "domain_expert"
)

// DefaultRoleForVerb maps an actionVerb to its default specialization, per
// spec §6 "Verb→role defaults". Falls back to substring match, then executor.
func DefaultRoleForVerb(verb string) Role {
	v := strings.ToLower(verb)
	for _, table := range verbRoleTable {
		for _, candidate := range table.verbs {
			if v == candidate {
				return table.role
			}
		}
	}
	for _, table := range verbRoleTable {
		for _, candidate := range table.verbs {
			if strings.Contains(v, candidate) || strings.Contains(candidate, v) {
				return table.role
			}
		}
	}
	return RoleExecutor
}

type verbRoleEntry struct {
	verbs []string
	role  Role
}

// RegisterVerbRoleOverrides prepends operator-supplied verb→role mappings
// ahead of the built-in table (spec §6 "Verb→role defaults" is a default,
// not a ceiling). Intended to be called once at startup, before any step is
// evaluated; it is not safe for concurrent use with DefaultRoleForVerb.
func RegisterVerbRoleOverrides(overrides map[string]Role) {
	if len(overrides) == 0 {
		return
	}
	entries := make([]verbRoleEntry, 0, len(overrides))
	for verb, role := range overrides {
		entries = append(entries, verbRoleEntry{verbs: []string{strings.ToLower(verb)}, role: role})
	}
	verbRoleTable = append(entries, verbRoleTable...)
}

var verbRoleTable = []verbRoleEntry{
	{[]string{"research", "analyze", "investigate", "search", "find"}, RoleResearcher},
	{[]string{"code"}, RoleCoder},
	{[]string{"create", "generate", "design", "write", "compose"}, RoleCreative},
	{[]string{"evaluate", "review", "assess", "critique", "judge"}, RoleCritic},
	{[]string{"execute", "implement", "perform", "run", "do", "accomplish"}, RoleExecutor},
	{[]string{"coordinate", "manage", "organize", "plan", "direct"}, RoleCoordinator},
	{[]string{"advise", "consult", "explain", "teach", "guide"}, RoleDomainExpert},
}

// Distinguished action verbs (GLOSSARY).
const (
	VerbAccomplish        = "ACCOMPLISH"
	VerbReflect           = "REFLECT"
	VerbAsk               = "ASK"
	VerbAskUserQuestion   = "ASK_USER_QUESTION"
	VerbRegroup           = "REGROUP"
	VerbAwaitSignal       = "AWAIT_SIGNAL"
)
