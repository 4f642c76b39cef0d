package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/vendorportal/core/internal/nats"
)

const consumerName = "audit-persister"

// Consumer listens on the audit event subject and persists entries.
type Consumer struct {
	store       Store
	consumerMgr *inats.ConsumerManager
}

func NewConsumer(store Store, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		store:       store,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectAuditEvent)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// ackable is the part of jetstream.Msg the consumer uses.
type ackable interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

func (c *Consumer) handle(ctx context.Context, msg ackable) {
	var event inats.AuditEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// Undecodable payloads never become decodable; stop redelivery.
		slog.Error("audit consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	entry := EventToLog(event)
	if err := c.store.Insert(ctx, entry); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"event_type", event.EventType,
		"actor", event.Actor,
		"resource_id", event.ResourceID,
	)
}

// EventToLog converts a bus event into a table row. The event ID becomes the
// row ID when it parses, so redeliveries collapse into one row.
func EventToLog(event inats.AuditEvent) *AuditLog {
	entry := &AuditLog{
		Actor:        event.Actor,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		CreatedAt:    event.Timestamp,
	}

	if id, err := uuid.Parse(event.ID); err == nil {
		entry.ID = id
	} else {
		entry.ID = uuid.New()
	}

	if data, err := json.Marshal(map[string]string{"message": event.Details}); err == nil {
		entry.Details = data
	}

	return entry
}
