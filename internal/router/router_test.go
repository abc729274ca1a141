package router

import (
	"context"
	"testing"
	"time"

	"github.com/orchestra-core/orchestra/pkg/models"
)

func TestDeliverTargetsBoundSessionOnly(t *testing.T) {
	sessions := NewSessionTable(0)
	transport := NewMemoryTransport()
	r := New(sessions, transport, nil)

	sessions.RegisterSession("s1")
	sessions.RegisterSession("s2")
	sessions.Bind("b1", "s1")

	env := &models.ResultEnvelope{
		TaskID:  "t1",
		BatchID: "b1",
		Outcome: models.OutcomeCompleted,
		Output:  "done",
	}
	if err := r.Deliver(context.Background(), env); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if got := transport.Sent("s1"); len(got) != 1 {
		t.Fatalf("expected 1 message for s1, got %d", len(got))
	}
	if got := transport.Sent("s2"); len(got) != 0 {
		t.Errorf("unrelated session s2 received %d messages", len(got))
	}
	if got := transport.Broadcasts(); len(got) != 0 {
		t.Errorf("fallback broadcast taken despite resolvable session: %d messages", len(got))
	}
}

func TestDeliverMessageContent(t *testing.T) {
	sessions := NewSessionTable(0)
	transport := NewMemoryTransport()
	r := New(sessions, transport, nil)
	sessions.Bind("b1", "s1")

	env := &models.ResultEnvelope{
		TaskID:      "t1",
		BatchID:     "b1",
		Outcome:     models.OutcomeBusinessFailure,
		ErrorDetail: "exit code 2",
	}
	if err := r.Deliver(context.Background(), env); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	msgs := transport.Sent("s1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.Status != models.TaskStatusFailed {
		t.Errorf("expected failed status, got %s", msg.Status)
	}
	if msg.Error != "exit code 2" || msg.Outcome != models.OutcomeBusinessFailure {
		t.Errorf("error detail not carried: %+v", msg)
	}
	if msg.Fallback {
		t.Error("targeted delivery must not be marked fallback")
	}
}

func TestDeliverFallbackWhenNoSession(t *testing.T) {
	sessions := NewSessionTable(0)
	transport := NewMemoryTransport()
	r := New(sessions, transport, nil)

	env := &models.ResultEnvelope{TaskID: "t1", BatchID: "orphan", Outcome: models.OutcomeCompleted}
	if err := r.Deliver(context.Background(), env); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	broadcasts := transport.Broadcasts()
	if len(broadcasts) != 1 {
		t.Fatalf("expected 1 fallback broadcast, got %d", len(broadcasts))
	}
	if !broadcasts[0].Fallback {
		t.Error("fallback broadcast must be marked Fallback")
	}
}

func TestDeliverToMultipleBoundSessions(t *testing.T) {
	sessions := NewSessionTable(0)
	transport := NewMemoryTransport()
	r := New(sessions, transport, nil)

	sessions.Bind("b1", "s1")
	sessions.Bind("b1", "s2")

	env := &models.ResultEnvelope{TaskID: "t1", BatchID: "b1", Outcome: models.OutcomeCompleted}
	if err := r.Deliver(context.Background(), env); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(transport.Sent("s1")) != 1 || len(transport.Sent("s2")) != 1 {
		t.Error("expected both bound sessions to receive the result")
	}
}

func TestSessionGracePeriod(t *testing.T) {
	sessions := NewSessionTable(50 * time.Millisecond)
	sessions.Bind("b1", "s1")

	sessions.CloseSession("s1")

	// Inside the grace period the session still resolves.
	if got := sessions.Resolve("b1"); len(got) != 1 {
		t.Fatalf("expected session resolvable inside grace period, got %v", got)
	}

	time.Sleep(80 * time.Millisecond)

	if got := sessions.Resolve("b1"); len(got) != 0 {
		t.Errorf("expected session expired after grace period, got %v", got)
	}

	if removed := sessions.Sweep(); removed != 1 {
		t.Errorf("expected sweep to remove 1 session, removed %d", removed)
	}
}

func TestRegisterRevivesClosedSession(t *testing.T) {
	sessions := NewSessionTable(time.Hour)
	sessions.Bind("b1", "s1")
	sessions.CloseSession("s1")

	// Client reconnected under the same session id.
	sessions.RegisterSession("s1")

	if got := sessions.Resolve("b1"); len(got) != 1 {
		t.Errorf("expected revived session to resolve, got %v", got)
	}
}

func TestBindIsIdempotent(t *testing.T) {
	sessions := NewSessionTable(0)
	sessions.Bind("b1", "s1")
	sessions.Bind("b1", "s1")

	if got := sessions.Resolve("b1"); len(got) != 1 {
		t.Errorf("expected single binding after duplicate bind, got %v", got)
	}
}

func TestDeliverProgress(t *testing.T) {
	sessions := NewSessionTable(0)
	transport := NewMemoryTransport()
	r := New(sessions, transport, nil)
	sessions.Bind("b1", "s1")

	if err := r.DeliverProgress(context.Background(), "b1", "t1", models.TaskStatusRunning); err != nil {
		t.Fatalf("deliver progress: %v", err)
	}

	msgs := transport.Sent("s1")
	if len(msgs) != 1 || msgs[0].Status != models.TaskStatusRunning {
		t.Errorf("expected running progress message, got %+v", msgs)
	}
}
