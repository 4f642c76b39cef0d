package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vendorportal/core/internal/breaker"
)

// JetStreamPublisher is the publishing half of jetstream.JetStream.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher provides typed methods for publishing events to NATS JetStream.
// It also serves as the circuit registry's audit sink and state listener.
type Publisher struct {
	js JetStreamPublisher
}

func NewPublisher(js JetStreamPublisher) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	return p.publish(ctx, SubjectAuditEvent, event)
}

func (p *Publisher) PublishCircuitEvent(ctx context.Context, event CircuitEvent) error {
	return p.publish(ctx, SubjectCircuitEvent+"."+event.ServiceID, event)
}

// CircuitReset implements breaker.AuditSink.
func (p *Publisher) CircuitReset(ctx context.Context, e breaker.ResetEvent) error {
	return p.PublishAuditEvent(ctx, AuditEvent{
		ID:           uuid.NewString(),
		Actor:        e.Actor,
		EventType:    EventCircuitReset,
		Severity:     "warn",
		ResourceType: "circuit",
		ResourceID:   e.ServiceID,
		Details:      fmt.Sprintf("circuit forced closed from %s", e.PreviousState),
		Timestamp:    e.At,
	})
}

// OnStateChange implements breaker.Listener. Publish failures are logged;
// the transition itself has already been persisted.
func (p *Publisher) OnStateChange(ctx context.Context, from, to breaker.State, st breaker.CircuitState) {
	err := p.PublishCircuitEvent(ctx, CircuitEvent{
		ServiceID:           st.ServiceID,
		From:                string(from),
		To:                  string(to),
		ConsecutiveFailures: st.ConsecutiveFailures,
		Timestamp:           st.LastStateChange,
	})
	if err != nil {
		slog.Warn("publishing circuit event", "service", st.ServiceID, "to", to, "error", err)
	}
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
