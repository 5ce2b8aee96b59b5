package approval

import (
	"context"
	"testing"
	"time"
)

// store → consume returns the command once and only once.
func TestQueueConsumeIsSingleShot(t *testing.T) {
	q := NewQueue()

	id := q.Store("sess-42", 1001, "rm -rf build/", "/workspace/42", "Recursive delete")

	got := q.Consume(id)
	if got == nil {
		t.Fatal("first Consume returned nil")
	}
	if got.Command != "rm -rf build/" || got.ChatID != 1001 || got.Cwd != "/workspace/42" {
		t.Errorf("Consume returned wrong command: %+v", got)
	}

	if second := q.Consume(id); second != nil {
		t.Errorf("second Consume returned %+v, want nil", second)
	}
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue()

	id := q.Store("sess-42", 1001, "git push --force", "/workspace/42", "Force push")

	if !q.Cancel(id) {
		t.Error("Cancel of a live entry returned false")
	}
	if q.Cancel(id) {
		t.Error("second Cancel returned true, want idempotent false")
	}
	if got := q.Consume(id); got != nil {
		t.Errorf("Consume after Cancel returned %+v, want nil", got)
	}
}

func TestQueueExpiry(t *testing.T) {
	q := NewQueue()
	q.SetTTL(20 * time.Millisecond)

	id := q.Store("sess-42", 1001, "shutdown -h now", "/workspace/42", "Host power control")

	time.Sleep(60 * time.Millisecond)
	if got := q.Consume(id); got != nil {
		t.Errorf("Consume after TTL returned %+v, want nil", got)
	}
}

func TestQueueListForSession(t *testing.T) {
	q := NewQueue()

	q.Store("sess-a", 1, "rm -rf x", "/w/1", "r1")
	q.Store("sess-a", 1, "rm -rf y", "/w/1", "r2")
	q.Store("sess-b", 2, "rm -rf z", "/w/2", "r3")

	if got := len(q.ListForSession("sess-a")); got != 2 {
		t.Errorf("ListForSession(sess-a) = %d entries, want 2", got)
	}
	if got := len(q.ListForSession("sess-c")); got != 0 {
		t.Errorf("ListForSession(sess-c) = %d entries, want 0", got)
	}
}

func TestQuestionsResolveOnce(t *testing.T) {
	qs := NewQuestions()

	pq := qs.Ask("sess-42", "Deploy to prod?", []string{"yes", "no"})

	done := make(chan string, 1)
	go func() {
		ans, err := qs.Wait(context.Background(), pq)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- ans
	}()

	// Give Wait a moment to start.
	time.Sleep(10 * time.Millisecond)

	if !qs.Resolve(pq.ID, "yes") {
		t.Error("first Resolve returned false")
	}
	if qs.Resolve(pq.ID, "no") {
		t.Error("second Resolve returned true, want single-shot")
	}

	select {
	case ans := <-done:
		if ans != "yes" {
			t.Errorf("answer = %q, want %q", ans, "yes")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestQuestionsTimeout(t *testing.T) {
	qs := NewQuestions()
	qs.SetTTL(20 * time.Millisecond)

	pq := qs.Ask("sess-42", "Pick one", []string{"a", "b"})
	if _, err := qs.Wait(context.Background(), pq); err == nil {
		t.Error("Wait returned without an answer, want timeout error")
	}

	// After timeout the question is gone; late answers are ignored.
	if qs.Resolve(pq.ID, "a") {
		t.Error("Resolve after timeout returned true")
	}
}

func TestQuestionsContextCancel(t *testing.T) {
	qs := NewQuestions()

	pq := qs.Ask("sess-42", "Pick one", []string{"a", "b"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qs.Wait(ctx, pq); err == nil {
		t.Error("Wait returned without an answer, want context error")
	}
}
