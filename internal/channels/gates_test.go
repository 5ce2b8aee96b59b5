package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandbotdev/sandbot/internal/config"
)

func TestSendGateTotalOrder(t *testing.T) {
	gate := NewSendGate(config.LimitsConfig{GlobalSendIntervalMS: 1})

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			// Stagger starts so arrival order is deterministic.
			time.Sleep(time.Duration(n*20) * time.Millisecond)
			gate.Do(context.Background(), 1, false, func() error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestSendGateRetriesOnThrottle(t *testing.T) {
	gate := NewSendGate(config.LimitsConfig{GlobalSendIntervalMS: 1, SendRetries: 2})

	calls := 0
	err := gate.Do(context.Background(), 1, false, func() error {
		calls++
		if calls == 1 {
			return &ThrottleError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSendGateSwallowsHardErrors(t *testing.T) {
	gate := NewSendGate(config.LimitsConfig{GlobalSendIntervalMS: 1})

	calls := 0
	err := gate.Do(context.Background(), 1, false, func() error {
		calls++
		return errors.New("bad request")
	})
	if err != nil {
		t.Errorf("hard error leaked: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on non-throttle errors)", calls)
	}
}

func TestSendGateGroupInterval(t *testing.T) {
	gate := NewSendGate(config.LimitsConfig{GlobalSendIntervalMS: 1, GroupSendIntervalSec: 1})
	gate.groupInterval = 100 * time.Millisecond

	ctx := context.Background()
	noop := func() error { return nil }

	gate.Do(ctx, -10, true, noop)
	start := time.Now()
	gate.Do(ctx, -10, true, noop)
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("second group send after %s, want the group interval honored", elapsed)
	}

	// A different group is not delayed.
	start = time.Now()
	gate.Do(ctx, -11, true, noop)
	if elapsed := time.Since(start); elapsed > 80*time.Millisecond {
		t.Errorf("unrelated group delayed by %s", elapsed)
	}
}

func TestAdmissionCapRejectsNewUsers(t *testing.T) {
	gate := NewAdmission(2)
	ctx := context.Background()

	rel1, err := gate.Acquire(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	rel2, err := gate.Acquire(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := gate.Acquire(ctx, 3); !errors.Is(err, ErrBusy) {
		t.Errorf("third user err = %v, want ErrBusy", err)
	}

	rel1()
	rel3, err := gate.Acquire(ctx, 3)
	if err != nil {
		t.Fatalf("after release: %v", err)
	}
	rel3()
	rel2()
	if gate.Serving() != 0 {
		t.Errorf("serving = %d after all releases", gate.Serving())
	}
}

func TestAdmissionExistingUserReenters(t *testing.T) {
	gate := NewAdmission(1)
	ctx := context.Background()

	rel, err := gate.Acquire(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Same user past the cap: queued, not rejected.
	admitted := make(chan func(), 1)
	go func() {
		r, err := gate.Acquire(ctx, 1)
		if err != nil {
			t.Error(err)
			return
		}
		admitted <- r
	}()

	select {
	case <-admitted:
		t.Fatal("second request admitted while first still running")
	case <-time.After(50 * time.Millisecond):
	}

	rel()
	select {
	case r := <-admitted:
		r()
	case <-time.After(time.Second):
		t.Fatal("second request never admitted")
	}
}

func TestAdmissionSerializesSameUserFIFO(t *testing.T) {
	gate := NewAdmission(4)
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	var running int

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			time.Sleep(time.Duration(n*30) * time.Millisecond)
			rel, err := gate.Acquire(ctx, 7)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			running++
			if running > 1 {
				t.Error("two turns for the same user overlap")
			}
			order = append(order, n)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			rel()
		}(i)
	}
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v, want arrival order", order)
		}
	}
}

func TestAdmissionCancelledWaiter(t *testing.T) {
	gate := NewAdmission(1)

	rel, err := gate.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := gate.Acquire(ctx, 1)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter err = %v", err)
	}

	rel()
	if gate.Serving() != 0 {
		t.Errorf("serving = %d, want 0", gate.Serving())
	}
}
