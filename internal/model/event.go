package model

import "time"

// Event types appended by the core itself. External route handlers may append
// additional types through the same stream.
const (
	EventCommandSucceeded = "executor.command.succeeded"
	EventCommandFailed    = "executor.command.failed"
	EventCommandDLQ       = "command.dispatch.dlq"
	EventMessageSent      = "message_sent"
)

// EventEnvelope is an immutable, append-only record. ReplayCursor is a
// strictly increasing 1-based integer string with no gaps, assigned at append
// time under the stream's single serialization point.
type EventEnvelope struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	TenantID      string         `json:"tenant_id"`
	CorrelationID string         `json:"correlation_id"`
	EmittedAt     time.Time      `json:"emitted_at"`
	ReplayCursor  string         `json:"replay_cursor"`
	Payload       map[string]any `json:"payload"`
}

// Subscription is a per-tenant replay position. Cursor only advances forward,
// via replay.
type Subscription struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Cursor      string `json:"cursor"`
	CallbackURL string `json:"callback_url,omitempty"`
}
