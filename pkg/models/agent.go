package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for assignment.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent has reached its concurrent task limit.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusOffline indicates the agent stopped heartbeating.
	AgentStatusOffline AgentStatus = "offline"
	// AgentStatusUnknown indicates the agent has registered but not yet heartbeated.
	AgentStatusUnknown AgentStatus = "unknown"
	// AgentStatusError indicates the health collaborator flagged the agent.
	AgentStatusError AgentStatus = "error"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusOffline, AgentStatusUnknown, AgentStatusError:
		return true
	default:
		return false
	}
}

// Agent represents a worker that executes tasks through a connector.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities lists the connector capabilities this agent supports.
	Capabilities []string `json:"capabilities"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// MaxConcurrent is the number of tasks the agent may run at once.
	MaxConcurrent int `json:"max_concurrent"`
	// InFlight is the number of tasks currently assigned to the agent.
	InFlight int `json:"in_flight"`
	// LastHeartbeat is the most recent heartbeat received from the agent.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// LastAssigned is when the agent last received a task; used for LRU fairness.
	LastAssigned time.Time `json:"last_assigned"`
}

// HasCapability returns true if the agent supports the given capability tag.
func (a *Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
