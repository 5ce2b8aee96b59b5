package channels

import (
	"context"
	"errors"
	"sync"

	"github.com/sandbotdev/sandbot/internal/metrics"
)

// ErrBusy means the global concurrent-user cap is reached and the
// sender is not among the users already being served.
var ErrBusy = errors.New("server busy")

const defaultMaxConcurrentUsers = 10

// Admission is the concurrency gate in front of the agent loop. Two
// layers: a bounded count of users currently being served, and FIFO
// serialization of requests from the same user. A user already being
// served always re-enters regardless of the cap; their new request
// queues behind the running one.
type Admission struct {
	mu       sync.Mutex
	maxUsers int
	users    map[int64]*userState
}

type userState struct {
	refs    int
	busy    bool
	waiters []chan struct{}
}

func NewAdmission(maxUsers int) *Admission {
	if maxUsers <= 0 {
		maxUsers = defaultMaxConcurrentUsers
	}
	return &Admission{maxUsers: maxUsers, users: make(map[int64]*userState)}
}

// Acquire admits one request. On success the returned release function
// must be called exactly once when the turn completes. ErrBusy is
// returned immediately for new users past the cap; requests from a
// user already inside wait their turn in arrival order.
func (a *Admission) Acquire(ctx context.Context, userID int64) (func(), error) {
	a.mu.Lock()
	st, ok := a.users[userID]
	if !ok {
		if len(a.users) >= a.maxUsers {
			a.mu.Unlock()
			return nil, ErrBusy
		}
		st = &userState{}
		a.users[userID] = st
		metrics.ActiveUsers.Set(float64(len(a.users)))
	}
	st.refs++

	if !st.busy {
		st.busy = true
		a.mu.Unlock()
		return func() { a.release(userID) }, nil
	}

	wait := make(chan struct{})
	st.waiters = append(st.waiters, wait)
	a.mu.Unlock()

	select {
	case <-wait:
		return func() { a.release(userID) }, nil
	case <-ctx.Done():
		a.abandon(userID, wait)
		return nil, ctx.Err()
	}
}

// Serving reports how many users are currently inside the gate.
func (a *Admission) Serving() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users)
}

func (a *Admission) release(userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.users[userID]
	if st == nil {
		return
	}
	st.refs--
	if len(st.waiters) > 0 {
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		close(next)
		return
	}
	st.busy = false
	if st.refs <= 0 {
		delete(a.users, userID)
		metrics.ActiveUsers.Set(float64(len(a.users)))
	}
}

// abandon removes a cancelled waiter. If the slot was already granted
// between ctx cancellation and locking, it is passed on instead.
func (a *Admission) abandon(userID int64, wait chan struct{}) {
	a.mu.Lock()
	st := a.users[userID]
	if st == nil {
		a.mu.Unlock()
		return
	}
	for i, w := range st.waiters {
		if w == wait {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			st.refs--
			if st.refs <= 0 && !st.busy {
				delete(a.users, userID)
				metrics.ActiveUsers.Set(float64(len(a.users)))
			}
			a.mu.Unlock()
			return
		}
	}
	a.mu.Unlock()
	// The grant won the race; hand the slot to the next in line.
	a.release(userID)
}
