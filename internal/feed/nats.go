package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject change events are published on.
const DefaultSubject = "learnlive.changes"

// NATS is a bus backed by a NATS subject. Every listener sees every event;
// there is no queue group.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials the server at url.
func ConnectNATS(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url must not be empty")
	}
	conn, err := nats.Connect(url, nats.Name("learnlive"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// NewNATS wraps conn. An empty subject means DefaultSubject.
func NewNATS(conn *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: conn, subject: subject}
}

// Publish sends ev as JSON.
func (n *NATS) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, payload)
}

// Listen subscribes to the subject. The returned function drains the subscription.
func (n *NATS) Listen(fn func(Event)) (func(), error) {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("invalid change event payload", "subject", msg.Subject, "error", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", n.subject, err)
	}
	return func() {
		if err := sub.Drain(); err != nil {
			slog.Warn("failed to drain change subscription", "error", err)
		}
	}, nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
