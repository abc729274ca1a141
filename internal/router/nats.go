package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Subject layout for the NATS transport.
const (
	sessionSubjectPrefix = "orchestra.session."
	broadcastSubject     = "orchestra.broadcast"
	sessionBoundSubject  = "orchestra.session.bound"
)

// NATSTransport pushes messages over NATS. Each session gets its own
// subject, so a subscriber only ever sees results targeted at it; the
// fallback broadcast uses a separate, clearly named subject.
type NATSTransport struct {
	nc *nats.Conn
}

// NewNATSTransport connects to the NATS server at the given URL.
func NewNATSTransport(url string) (*NATSTransport, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("orchestra-router"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSTransport{nc: nc}, nil
}

// SessionSubject returns the subject a client subscribes to for targeted
// delivery to the given session.
func SessionSubject(sessionID string) string {
	return sessionSubjectPrefix + sessionID
}

// Send implements Transport.
func (t *NATSTransport) Send(ctx context.Context, sessionID string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.nc.Publish(SessionSubject(sessionID), data); err != nil {
		return fmt.Errorf("publish to session %s: %w", sessionID, err)
	}
	return nil
}

// Broadcast implements Transport.
func (t *NATSTransport) Broadcast(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.nc.Publish(broadcastSubject, data); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// SubscribeSessionBound registers a handler for session-bound announcements
// published by clients before they submit batches. Returns the subscription
// so the caller can drain it on shutdown.
func (t *NATSTransport) SubscribeSessionBound(handler func(SessionBound)) (*nats.Subscription, error) {
	sub, err := t.nc.Subscribe(sessionBoundSubject, func(m *nats.Msg) {
		var bound SessionBound
		if err := json.Unmarshal(m.Data, &bound); err != nil {
			return
		}
		if bound.SessionID == "" {
			return
		}
		handler(bound)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe session bound: %w", err)
	}
	return sub, nil
}

// AnnounceSession publishes a session-bound message for the given session.
// Clients call this before submitting a batch on the session's behalf.
func (t *NATSTransport) AnnounceSession(bound SessionBound) error {
	data, err := json.Marshal(bound)
	if err != nil {
		return fmt.Errorf("marshal session bound: %w", err)
	}
	if err := t.nc.Publish(sessionBoundSubject, data); err != nil {
		return fmt.Errorf("publish session bound: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (t *NATSTransport) Close() {
	if t.nc != nil {
		t.nc.Drain()
	}
}

// Verify NATSTransport implements Transport at compile time.
var _ Transport = (*NATSTransport)(nil)
