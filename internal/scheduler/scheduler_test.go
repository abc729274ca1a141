package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

func shellAgent(id string) *models.Agent {
	return &models.Agent{ID: id, Capabilities: []string{"shell"}}
}

func TestAssignMatchesCapability(t *testing.T) {
	s := New()
	if err := s.Register(shellAgent("agent-1")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	task := &models.Task{ID: "t1", Capability: "shell"}
	agent, err := s.Assign(task)
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if agent.ID != "agent-1" {
		t.Errorf("expected agent-1, got %s", agent.ID)
	}
}

func TestAssignNoCapabilityMatch(t *testing.T) {
	s := New()
	s.Register(shellAgent("agent-1"))

	_, err := s.Assign(&models.Task{ID: "t1", Capability: "llm"})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected ErrNoAgentAvailable, got %v", err)
	}
}

func TestAssignEmptyPool(t *testing.T) {
	s := New()
	_, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected ErrNoAgentAvailable, got %v", err)
	}
}

func TestAssignRespectsConcurrencyLimit(t *testing.T) {
	s := New()
	s.Register(shellAgent("agent-1"))

	if _, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"}); err != nil {
		t.Fatalf("first assign failed: %v", err)
	}

	// Default limit is 1; the agent is now busy.
	_, err := s.Assign(&models.Task{ID: "t2", Capability: "shell"})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected ErrNoAgentAvailable for saturated agent, got %v", err)
	}
}

func TestAssignAfterRelease(t *testing.T) {
	s := New()
	s.Register(shellAgent("agent-1"))

	agent, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"})
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	s.Release(agent.ID)

	// Same task becomes assignable again without manual resubmission.
	if _, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"}); err != nil {
		t.Fatalf("assign after release failed: %v", err)
	}
}

func TestAssignMultiplexingAgent(t *testing.T) {
	s := New()
	s.Register(&models.Agent{ID: "agent-1", Capabilities: []string{"shell"}, MaxConcurrent: 2})

	if _, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"}); err != nil {
		t.Fatalf("assign 1 failed: %v", err)
	}
	if _, err := s.Assign(&models.Task{ID: "t2", Capability: "shell"}); err != nil {
		t.Fatalf("assign 2 failed: %v", err)
	}
	if _, err := s.Assign(&models.Task{ID: "t3", Capability: "shell"}); !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected saturation at limit 2, got %v", err)
	}
}

func TestAssignLeastRecentlyUsed(t *testing.T) {
	s := New()
	s.Register(shellAgent("agent-1"))
	s.Register(shellAgent("agent-2"))

	first, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"})
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	s.Release(first.ID)

	// After releasing, the other agent is least recently used.
	second, err := s.Assign(&models.Task{ID: "t2", Capability: "shell"})
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if second.ID == first.ID {
		t.Errorf("expected LRU to pick the other agent, got %s twice", second.ID)
	}
}

func TestOfflineAgentNotEligible(t *testing.T) {
	s := New()
	s.Register(shellAgent("agent-1"))
	if err := s.SetStatus("agent-1", models.AgentStatusOffline); err != nil {
		t.Fatalf("set status failed: %v", err)
	}

	_, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected offline agent to be skipped, got %v", err)
	}

	// Heartbeat brings it back.
	if err := s.MarkHeartbeat("agent-1", time.Now()); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if _, err := s.Assign(&models.Task{ID: "t1", Capability: "shell"}); err != nil {
		t.Fatalf("expected assignment after heartbeat, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	s := New()
	s.Register(shellAgent("agent-1"))
	s.Register(shellAgent("agent-2"))

	s.MarkHeartbeat("agent-1", time.Now().Add(-time.Hour))
	s.MarkHeartbeat("agent-2", time.Now())

	expired := s.SweepExpired(time.Minute)
	if len(expired) != 1 || expired[0] != "agent-1" {
		t.Fatalf("expected agent-1 to expire, got %v", expired)
	}

	agents := s.List()
	for _, a := range agents {
		switch a.ID {
		case "agent-1":
			if a.Status != models.AgentStatusOffline {
				t.Errorf("expected agent-1 offline, got %s", a.Status)
			}
		case "agent-2":
			if a.Status != models.AgentStatusIdle {
				t.Errorf("expected agent-2 idle, got %s", a.Status)
			}
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s := New()
	if err := s.Register(shellAgent("agent-1")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Register(shellAgent("agent-1")); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestSetStatusUnknownAgent(t *testing.T) {
	s := New()
	if err := s.SetStatus("ghost", models.AgentStatusError); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("expected ErrUnknownAgent, got %v", err)
	}
}
