// Package approval holds commands and questions that wait on a human.
package approval

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CommandTTL bounds how long a dangerous command waits for approval.
const CommandTTL = 5 * time.Minute

// PendingCommand is a dangerous-but-not-blocked command parked until
// the user presses a button.
type PendingCommand struct {
	ID        string
	SessionID string
	ChatID    int64
	Command   string
	Cwd       string
	Reason    string
	CreatedAt time.Time
}

// Queue stores pending commands with single-shot consumption. Expiry
// is driven by per-entry timers; a consumed or cancelled entry stops
// its timer.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*entry
	logger  *slog.Logger
	ttl     time.Duration
}

type entry struct {
	cmd   *PendingCommand
	timer *time.Timer
}

func NewQueue() *Queue {
	return &Queue{
		pending: map[string]*entry{},
		logger:  slog.With("component", "approval"),
		ttl:     CommandTTL,
	}
}

// SetTTL overrides the expiry window. Used by tests.
func (q *Queue) SetTTL(ttl time.Duration) { q.ttl = ttl }

// Store enqueues a command and returns its opaque id. The entry
// deletes itself when the TTL elapses.
func (q *Queue) Store(sessionID string, chatID int64, command, cwd, reason string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	cmd := &PendingCommand{
		ID:        id,
		SessionID: sessionID,
		ChatID:    chatID,
		Command:   command,
		Cwd:       cwd,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	q.pending[id] = &entry{
		cmd: cmd,
		timer: time.AfterFunc(q.ttl, func() {
			q.expire(id)
		}),
	}
	q.logger.Info("command pending approval", "id", id, "session", sessionID, "reason", reason)
	return id
}

// Consume returns the stored command exactly once. A second call with
// the same id, or a call after expiry or cancel, returns nil.
func (q *Queue) Consume(id string) *PendingCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[id]
	if !ok {
		return nil
	}
	e.timer.Stop()
	delete(q.pending, id)
	q.logger.Info("command approved", "id", id, "session", e.cmd.SessionID)
	return e.cmd
}

// Cancel removes an entry. Idempotent; reports whether it was present.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(q.pending, id)
	q.logger.Info("command denied", "id", id, "session", e.cmd.SessionID)
	return true
}

// ListForSession returns the session's pending commands, for the
// /pending introspection command.
func (q *Queue) ListForSession(sessionID string) []*PendingCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*PendingCommand
	for _, e := range q.pending {
		if e.cmd.SessionID == sessionID {
			out = append(out, e.cmd)
		}
	}
	return out
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.pending[id]; ok {
		delete(q.pending, id)
		q.logger.Info("pending command expired", "id", id, "session", e.cmd.SessionID)
	}
}
