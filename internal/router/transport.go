package router

import (
	"context"
	"sync"
)

// Transport pushes messages to client sessions. Implementations must keep
// targeted sends and broadcasts on distinct channels so consumers can tell
// them apart.
type Transport interface {
	// Send delivers a message to exactly one session.
	Send(ctx context.Context, sessionID string, msg *Message) error
	// Broadcast delivers a message on the shared fallback channel.
	Broadcast(ctx context.Context, msg *Message) error
}

// MemoryTransport is an in-process Transport used in tests and for
// single-binary deployments without a message broker.
type MemoryTransport struct {
	mu sync.Mutex
	// sent maps session ID to the messages targeted at it.
	sent map[string][]*Message
	// broadcasts holds every fallback broadcast.
	broadcasts []*Message
}

// NewMemoryTransport creates an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		sent: make(map[string][]*Message),
	}
}

// Send implements Transport.
func (t *MemoryTransport) Send(ctx context.Context, sessionID string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent[sessionID] = append(t.sent[sessionID], msg)
	return nil
}

// Broadcast implements Transport.
func (t *MemoryTransport) Broadcast(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcasts = append(t.broadcasts, msg)
	return nil
}

// Sent returns the messages targeted at a session.
func (t *MemoryTransport) Sent(sessionID string) []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Message, len(t.sent[sessionID]))
	copy(out, t.sent[sessionID])
	return out
}

// Broadcasts returns every fallback broadcast seen so far.
func (t *MemoryTransport) Broadcasts() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Message, len(t.broadcasts))
	copy(out, t.broadcasts)
	return out
}

// Verify MemoryTransport implements Transport at compile time.
var _ Transport = (*MemoryTransport)(nil)
