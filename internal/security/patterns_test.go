package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSetCompiles(t *testing.T) {
	set := DefaultSet()
	if len(set.Blocked) == 0 || len(set.Dangerous) == 0 || len(set.Injection) == 0 {
		t.Fatal("default set is missing a core list")
	}
	if len(set.SensitiveFiles) == 0 || len(set.Secrets) == 0 || len(set.BlockedURLs) == 0 {
		t.Fatal("default set is missing a supporting list")
	}
}

func TestLibraryServesDefaultsWithoutFile(t *testing.T) {
	lib := NewLibrary("")
	if got := lib.Current(); len(got.Blocked) != len(defaultBlocked) {
		t.Errorf("Current() blocked = %d rules, want %d", len(got.Blocked), len(defaultBlocked))
	}
}

func TestLibraryAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	override := `{
		blocked: [
			{pattern: "\\bfrobnicate\\b", reason: "Frobnication is disabled"},
		],
	}`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(path)
	c := NewClassifier(lib, "/srv/ws")

	v := c.Classify("frobnicate the widgets", 42, ChatPrivate)
	if v.Decision != DecisionBlocked {
		t.Fatalf("override pattern did not block: %v", v.Decision)
	}
	if v.Reason != "Frobnication is disabled" {
		t.Errorf("reason = %q, want override reason", v.Reason)
	}

	// Overrides extend the defaults rather than replacing them.
	if v := c.Classify("printenv", 42, ChatPrivate); v.Decision != DecisionBlocked {
		t.Errorf("default pattern lost after override load")
	}
}

// An operator edit takes effect on the next classification without a
// restart; a broken edit keeps the last good snapshot.
func TestLibraryHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(path)
	c := NewClassifier(lib, "/srv/ws")

	if v := c.Classify("frobnicate", 42, ChatPrivate); v.Decision != DecisionAllowed {
		t.Fatalf("precondition: frobnicate should start allowed, got %v", v.Decision)
	}

	override := `{blocked: [{pattern: "\\bfrobnicate\\b", reason: "Frobnication is disabled"}]}`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if v := c.Classify("frobnicate", 42, ChatPrivate); v.Decision != DecisionBlocked {
		t.Errorf("edited pattern file not picked up: %v", v.Decision)
	}

	// Break the file: the last good snapshot keeps serving.
	if err := os.WriteFile(path, []byte(`{not valid`), 0o644); err != nil {
		t.Fatal(err)
	}
	later := future.Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	if v := c.Classify("frobnicate", 42, ChatPrivate); v.Decision != DecisionBlocked {
		t.Errorf("broken edit weakened the active set: %v", v.Decision)
	}
}
