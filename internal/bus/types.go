// Package bus carries operator-facing events from the bot runtime to
// the gateway's WebSocket feed.
package bus

import "time"

// Event names published on the feed.
const (
	EventMessage  = "message"  // inbound chat message accepted or denied
	EventSecurity = "security" // classifier block, injection flag, sanitizer action
	EventApproval = "approval" // pending command stored or resolved
	EventSandbox  = "sandbox"  // container lifecycle
	EventAgent    = "agent"    // turn started/finished
	EventHealth   = "health"   // periodic liveness snapshot
)

// Event is one entry on the operator feed.
type Event struct {
	Name    string `json:"name"`
	At      int64  `json:"at"` // unix millis
	Payload any    `json:"payload,omitempty"`
}

// SecurityPayload describes a security decision worth surfacing.
type SecurityPayload struct {
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`   // "blocked", "injection", "sanitized", "locked"
	Detail  string `json:"detail"` // reason or sanitizer action
	Command string `json:"command,omitempty"`
}

// ApprovalPayload tracks the approval queue.
type ApprovalPayload struct {
	ID      string `json:"id"`
	UserID  int64  `json:"user_id"`
	Command string `json:"command,omitempty"`
	State   string `json:"state"` // "pending", "approved", "denied", "expired"
}

// SandboxPayload tracks container lifecycle.
type SandboxPayload struct {
	UserID int64  `json:"user_id"`
	State  string `json:"state"` // "created", "reused", "replaced", "removed", "failed"
	Detail string `json:"detail,omitempty"`
}

// AgentPayload summarises one agent turn.
type AgentPayload struct {
	UserID     int64   `json:"user_id"`
	Iterations int     `json:"iterations,omitempty"`
	Seconds    float64 `json:"seconds,omitempty"`
	State      string  `json:"state"` // "started", "finished", "error"
}

// EventHandler receives broadcast events.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription so the
// runtime does not depend on the concrete bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Now stamps an event with the current time.
func Now(name string, payload any) Event {
	return Event{Name: name, At: time.Now().UnixMilli(), Payload: payload}
}
