package nats

import "time"

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

const StreamEvents = "VENDORPORTAL_EVENTS"

// Subject constants.
const (
	SubjectAuditEvent   = "vendorportal.events.audit"
	SubjectCircuitEvent = "vendorportal.events.circuit" // vendorportal.events.circuit.{service_id}
)

// Audit event types.
const (
	EventCircuitReset = "circuit_reset"
)

// AuditEvent is published for administrative actions that must be retained.
type AuditEvent struct {
	ID           string    `json:"id"`
	Actor        string    `json:"actor"`
	EventType    string    `json:"event_type"`
	Severity     string    `json:"severity"` // info, warn, error
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}

// CircuitEvent is published on every persisted circuit transition. From is
// empty when the circuit was first created.
type CircuitEvent struct {
	ServiceID           string    `json:"service_id"`
	From                string    `json:"from,omitempty"`
	To                  string    `json:"to"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Timestamp           time.Time `json:"timestamp"`
}
