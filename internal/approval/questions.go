package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QuestionTTL bounds how long an ask_user question waits for a choice.
const QuestionTTL = 2 * time.Minute

// PendingQuestion suspends one agent turn until the user picks an
// option. Resolution is single-shot: later answers are ignored.
type PendingQuestion struct {
	ID        string
	SessionID string
	Question  string
	Options   []string
	CreatedAt time.Time

	once   sync.Once
	answer chan string
}

// Questions is the registry of open ask_user prompts.
type Questions struct {
	mu      sync.Mutex
	pending map[string]*PendingQuestion
	ttl     time.Duration
}

func NewQuestions() *Questions {
	return &Questions{
		pending: map[string]*PendingQuestion{},
		ttl:     QuestionTTL,
	}
}

// SetTTL overrides the expiry window. Used by tests.
func (qs *Questions) SetTTL(ttl time.Duration) { qs.ttl = ttl }

// Ask registers a question and returns it. The caller then waits on
// Wait; the chat layer answers via Resolve.
func (qs *Questions) Ask(sessionID, question string, options []string) *PendingQuestion {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	pq := &PendingQuestion{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Question:  question,
		Options:   options,
		CreatedAt: time.Now(),
		answer:    make(chan string, 1),
	}
	qs.pending[pq.ID] = pq
	return pq
}

// Wait blocks until the question is answered, the TTL elapses, or the
// context is cancelled.
func (qs *Questions) Wait(ctx context.Context, pq *PendingQuestion) (string, error) {
	timer := time.NewTimer(qs.ttl)
	defer timer.Stop()
	defer qs.remove(pq.ID)

	select {
	case ans := <-pq.answer:
		return ans, nil
	case <-timer.C:
		return "", fmt.Errorf("no answer within %s", qs.ttl)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve delivers the chosen option. At most one resolution wins;
// the rest report false.
func (qs *Questions) Resolve(id, choice string) bool {
	qs.mu.Lock()
	pq, ok := qs.pending[id]
	qs.mu.Unlock()
	if !ok {
		return false
	}
	delivered := false
	pq.once.Do(func() {
		pq.answer <- choice
		delivered = true
	})
	return delivered
}

// Get returns a pending question by id.
func (qs *Questions) Get(id string) (*PendingQuestion, bool) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	pq, ok := qs.pending[id]
	return pq, ok
}

func (qs *Questions) remove(id string) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	delete(qs.pending, id)
}
