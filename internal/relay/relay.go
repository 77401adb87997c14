// Package relay mirrors in-process events onto NATS for out-of-process
// consumers (integrations, analytics). The relay is itself a bus subscriber,
// so delivery to NATS rides the same isolation and backpressure as every
// other subscriber and an unreachable broker never affects the publisher.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/finchops/finch/internal/model"
)

// SubjectPrefix is prepended to every relayed subject, producing subjects
// like "finch.invoice.status_changed".
const SubjectPrefix = "finch"

// NATS republishes events as JSON on per-key subjects.
type NATS struct {
	conn *nats.Conn
}

// New connects to NATS at the given URL.
func New(url string) (*NATS, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATS{conn: nc}, nil
}

// Name implements bus.Subscriber.
func (r *NATS) Name() string { return "relay" }

// Handle implements bus.Subscriber. The snapshot is not serialized; remote
// consumers get the change itself and look entities up through the API.
func (r *NATS) Handle(ctx context.Context, e *model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	subject := SubjectPrefix + "." + e.Key()
	if err := r.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (r *NATS) Close() error {
	r.conn.Close()
	return nil
}
