// Package channels holds the chat-surface abstraction and the two
// gates that surround the agent loop: the outbound send gate and the
// inbound admission gate.
package channels

import "context"

// Channel is one chat platform connection.
type Channel interface {
	Name() string
	// Start begins consuming platform updates. Non-blocking after setup.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Truncate shortens a string for log previews.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
