// Package scheduler owns the pool of agents and matches tasks to them.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// ErrNoAgentAvailable indicates no idle agent matched the task's capability.
// Callers treat this as "retry the assignment later", not as a task failure.
var ErrNoAgentAvailable = errors.New("no agent available")

// ErrUnknownAgent indicates an operation referenced an unregistered agent.
var ErrUnknownAgent = errors.New("unknown agent")

// Scheduler holds the agent table and hands out assignments. Each Scheduler
// instance owns its own table; there is no process-wide pool. All agent
// record mutations happen under the scheduler's lock so a task can never be
// double-assigned to the same slot.
type Scheduler struct {
	mu     sync.Mutex
	agents map[string]*models.Agent
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		agents: make(map[string]*models.Agent),
	}
}

// Register adds an agent to the pool. Agents with no declared status start
// as idle; MaxConcurrent defaults to 1 for agents that do not multiplex.
func (s *Scheduler) Register(agent *models.Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agent.ID]; exists {
		return fmt.Errorf("agent %s already registered", agent.ID)
	}

	a := *agent
	if a.Status == "" {
		a.Status = models.AgentStatusIdle
	}
	if a.MaxConcurrent <= 0 {
		a.MaxConcurrent = 1
	}
	s.agents[a.ID] = &a
	return nil
}

// Deregister removes an agent from the pool.
func (s *Scheduler) Deregister(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
}

// Assign reserves an agent for the task and returns a snapshot of it.
// Eligible agents match the task's capability, are idle, and have spare
// concurrent-task slots. Among eligible agents the least-recently-assigned
// wins, spreading load across the pool. Returns ErrNoAgentAvailable instead
// of blocking when nothing is eligible.
func (s *Scheduler) Assign(task *models.Task) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Agent
	for _, agent := range s.agents {
		if agent.Status != models.AgentStatusIdle {
			continue
		}
		if agent.InFlight >= agent.MaxConcurrent {
			continue
		}
		if !agent.HasCapability(task.Capability) {
			continue
		}
		if best == nil || agent.LastAssigned.Before(best.LastAssigned) {
			best = agent
		}
	}

	if best == nil {
		return nil, fmt.Errorf("capability %q: %w", task.Capability, ErrNoAgentAvailable)
	}

	best.InFlight++
	best.LastAssigned = time.Now()
	if best.InFlight >= best.MaxConcurrent {
		best.Status = models.AgentStatusBusy
	}

	snapshot := *best
	return &snapshot, nil
}

// Release returns an assignment slot to the agent after its task reached a
// terminal state. A busy agent with a freed slot becomes idle again.
func (s *Scheduler) Release(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return
	}

	if agent.InFlight > 0 {
		agent.InFlight--
	}
	if agent.Status == models.AgentStatusBusy && agent.InFlight < agent.MaxConcurrent {
		agent.Status = models.AgentStatusIdle
	}
}

// MarkHeartbeat records a heartbeat for the agent. An offline or unknown
// agent that heartbeats again becomes idle (or busy if it still has work).
func (s *Scheduler) MarkHeartbeat(agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("heartbeat from %s: %w", agentID, ErrUnknownAgent)
	}

	agent.LastHeartbeat = at
	if agent.Status == models.AgentStatusOffline || agent.Status == models.AgentStatusUnknown {
		if agent.InFlight >= agent.MaxConcurrent {
			agent.Status = models.AgentStatusBusy
		} else {
			agent.Status = models.AgentStatusIdle
		}
	}
	return nil
}

// SetStatus applies a status change reported by the external health
// collaborator. The scheduler reacts to health state; it never probes.
func (s *Scheduler) SetStatus(agentID string, status models.AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("status change for %s: %w", agentID, ErrUnknownAgent)
	}
	agent.Status = status
	return nil
}

// SweepExpired flips agents whose last heartbeat is older than ttl to
// offline and returns their IDs. Agents that never heartbeated are skipped
// until their first heartbeat arrives.
func (s *Scheduler) SweepExpired(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, agent := range s.agents {
		if agent.LastHeartbeat.IsZero() {
			continue
		}
		if agent.Status == models.AgentStatusOffline {
			continue
		}
		if agent.LastHeartbeat.Before(cutoff) {
			agent.Status = models.AgentStatusOffline
			expired = append(expired, id)
		}
	}
	return expired
}

// List returns snapshots of all registered agents.
func (s *Scheduler) List() []*models.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		snapshot := *agent
		out = append(out, &snapshot)
	}
	return out
}

// Count returns the number of registered agents.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}
