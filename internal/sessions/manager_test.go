package sessions

import (
	"strings"
	"testing"
)

func TestAppendPairTrimsFIFO(t *testing.T) {
	m := NewManager("", 3, 5)
	for i := 0; i < 5; i++ {
		m.AppendPair(1, string(rune('a'+i)), "reply")
	}
	pairs := m.History(1)
	if len(pairs) != 3 {
		t.Fatalf("len = %d, want 3", len(pairs))
	}
	if pairs[0].User != "c" || pairs[2].User != "e" {
		t.Errorf("oldest pairs not trimmed: %+v", pairs)
	}
}

func TestBlockedLock(t *testing.T) {
	m := NewManager("", 20, 3)
	if m.Locked(1) {
		t.Fatal("fresh session locked")
	}
	m.RecordBlocked(1)
	m.RecordBlocked(1)
	if m.Locked(1) {
		t.Fatal("locked below threshold")
	}
	if got := m.RecordBlocked(1); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if !m.Locked(1) {
		t.Fatal("not locked at threshold")
	}
	m.Clear(1)
	if m.Locked(1) || m.BlockedCount(1) != 0 {
		t.Error("clear did not reset the lock")
	}
}

func TestClearKeepsSessionButDropsHistory(t *testing.T) {
	m := NewManager("", 20, 5)
	m.AppendPair(7, "hi", "hello")
	m.Clear(7)
	if got := m.History(7); len(got) != 0 {
		t.Errorf("history after clear = %v", got)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 20, 5)
	m.AppendPair(42, "question", "answer")
	m.RecordBlocked(42)
	if err := m.Save(42); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2 := NewManager(dir, 20, 5)
	pairs := m2.History(42)
	if len(pairs) != 1 || pairs[0].Assistant != "answer" {
		t.Fatalf("reloaded history = %+v", pairs)
	}
	if m2.BlockedCount(42) != 1 {
		t.Errorf("blocked count not persisted")
	}
}

func TestReloadTrimsOversizedHistory(t *testing.T) {
	dir := t.TempDir()
	big := NewManager(dir, 50, 5)
	for i := 0; i < 10; i++ {
		big.AppendPair(9, "u", "a")
	}
	if err := big.Save(9); err != nil {
		t.Fatal(err)
	}

	small := NewManager(dir, 4, 5)
	if got := len(small.History(9)); got != 4 {
		t.Errorf("history after reload = %d pairs, want 4", got)
	}
}

func TestFileNameRoundTrip(t *testing.T) {
	if got := UserIDFromFileName(FileName(123)); got != 123 {
		t.Errorf("round trip = %d", got)
	}
	if UserIDFromFileName("notes.json") != 0 {
		t.Error("foreign file accepted")
	}
}

func TestNotes(t *testing.T) {
	root := t.TempDir()
	n := NewNotes(root, 100)

	if tail := n.InjectTail(5); tail != "" {
		t.Errorf("empty notes inject = %q", tail)
	}
	if err := n.Append(5, "prefers tabs"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	text, err := n.Read(5)
	if err != nil || !strings.Contains(text, "prefers tabs") {
		t.Fatalf("Read = %q, %v", text, err)
	}
	if err := n.Clear(5); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if text, _ := n.Read(5); text != "" {
		t.Errorf("notes survived clear: %q", text)
	}
}

func TestNotesInjectTailBounded(t *testing.T) {
	root := t.TempDir()
	n := NewNotes(root, 60)
	for i := 0; i < 10; i++ {
		if err := n.Append(8, strings.Repeat("x", 20)); err != nil {
			t.Fatal(err)
		}
	}
	tail := n.InjectTail(8)
	if len(tail) > 60 {
		t.Errorf("inject tail len = %d, want <= 60", len(tail))
	}
	if tail == "" {
		t.Error("inject tail empty")
	}
}
