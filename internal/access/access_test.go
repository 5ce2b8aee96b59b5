package access

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckModes(t *testing.T) {
	tests := []struct {
		name   string
		mode   Mode
		user   int64
		kind   ChatKind
		effect Effect
	}{
		{"admin always permitted", ModeAdminOnly, 1, ChatPrivate, Permit},
		{"admin permitted in public", ModePublic, 1, ChatPrivate, Permit},
		{"admin_only denies private with message", ModeAdminOnly, 42, ChatPrivate, DenyMessage},
		{"admin_only denies group silently", ModeAdminOnly, 42, ChatGroup, DenySilent},
		{"allowlist member permitted", ModeAllowlist, 42, ChatPrivate, Permit},
		{"allowlist stranger denied", ModeAllowlist, 99, ChatPrivate, DenyMessage},
		{"public permits anyone", ModePublic, 99, ChatPrivate, Permit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("", "", 1, tt.mode)
			if err := c.Allow(42, 1); err != nil {
				t.Fatal(err)
			}
			got := c.Check(tt.user, tt.kind)
			if got.Effect != tt.effect {
				t.Errorf("Check(%d, %v) in %s = %v, want %v", tt.user, tt.kind, tt.mode, got.Effect, tt.effect)
			}
		})
	}
}

// An unconfigured admin id degrades to deny, never to open access.
func TestCheckUnconfiguredAdminDenies(t *testing.T) {
	c := New("", "", 0, ModePublic)
	if got := c.Check(42, ChatPrivate); got.Effect != DenyMessage {
		t.Errorf("unconfigured Check = %v, want DenyMessage", got.Effect)
	}
}

func TestPairingFlow(t *testing.T) {
	c := New("", "", 1, ModePairing)

	r := c.Check(42, ChatPrivate)
	if r.Effect != DenyMessage || r.PairingCode == "" {
		t.Fatalf("first contact = %+v, want denial with a pairing code", r)
	}
	if len(r.PairingCode) != 6 {
		t.Errorf("code %q, want 6 characters", r.PairingCode)
	}

	// Same user gets the same live code, not a new one each message.
	if again := c.Check(42, ChatPrivate); again.PairingCode != r.PairingCode {
		t.Errorf("second contact minted a new code: %q vs %q", again.PairingCode, r.PairingCode)
	}

	// Only the admin can redeem.
	if _, err := c.ApproveCode(r.PairingCode, 99); err == nil {
		t.Error("non-admin approval succeeded")
	}

	uid, err := c.ApproveCode(r.PairingCode, 1)
	if err != nil {
		t.Fatalf("ApproveCode: %v", err)
	}
	if uid != 42 {
		t.Errorf("approved user = %d, want 42", uid)
	}

	if got := c.Check(42, ChatPrivate); got.Effect != Permit {
		t.Errorf("approved user still denied: %+v", got)
	}

	// Codes are single-shot.
	if _, err := c.ApproveCode(r.PairingCode, 1); err == nil {
		t.Error("second redemption of the same code succeeded")
	}
}

func TestRevoke(t *testing.T) {
	c := New("", "", 1, ModeAllowlist)
	if err := c.Allow(42, 1); err != nil {
		t.Fatal(err)
	}
	if got := c.Check(42, ChatPrivate); got.Effect != Permit {
		t.Fatalf("precondition: user 42 should be permitted")
	}

	if err := c.Revoke(1, 1); err == nil {
		t.Error("admin self-revoke succeeded")
	}
	if err := c.Revoke(42, 99); err == nil {
		t.Error("non-admin revoke succeeded")
	}
	if err := c.Revoke(42, 1); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got := c.Check(42, ChatPrivate); got.Effect == Permit {
		t.Error("revoked user still permitted")
	}
}

func TestSetMode(t *testing.T) {
	c := New("", "", 1, ModeAdminOnly)

	if err := c.SetMode(ModePublic, 99); err == nil {
		t.Error("non-admin mode change succeeded")
	}
	if err := c.SetMode("everything-goes", 1); err == nil {
		t.Error("invalid mode accepted")
	}
	if err := c.SetMode(ModePublic, 1); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if got := c.Check(42, ChatPrivate); got.Effect != Permit {
		t.Errorf("mode change not effective: %+v", got)
	}
}

// Edits to the access file take effect on the next check without a
// restart.
func TestConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.json")
	if err := os.WriteFile(path, []byte(`{admin_id: 1, mode: "admin_only"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(path, filepath.Join(dir, "pairing.json"), 0, ModePublic)

	if got := c.Check(42, ChatPrivate); got.Effect != DenyMessage {
		t.Fatalf("file config not applied: %+v", got)
	}

	update := `{admin_id: 1, mode: "allowlist", allowlist: [42]}`
	if err := os.WriteFile(path, []byte(update), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if got := c.Check(42, ChatPrivate); got.Effect != Permit {
		t.Errorf("edited access file not picked up: %+v", got)
	}
}

// The legacy mode name "admin" maps to admin_only.
func TestConfigLegacyModeName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.json")
	if err := os.WriteFile(path, []byte(`{admin_id: 1, mode: "admin"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(path, "", 0, ModePublic)
	if got := c.Check(42, ChatPrivate); got.Effect != DenyMessage {
		t.Errorf("legacy mode name not mapped: %+v", got)
	}
}

func TestApprovedUsersPersist(t *testing.T) {
	dir := t.TempDir()
	pairing := filepath.Join(dir, "pairing.json")

	c := New("", pairing, 1, ModePairing)
	r := c.Check(42, ChatPrivate)
	if _, err := c.ApproveCode(r.PairingCode, 1); err != nil {
		t.Fatal(err)
	}

	// A fresh controller sees the approval.
	c2 := New("", pairing, 1, ModePairing)
	if got := c2.Check(42, ChatPrivate); got.Effect != Permit {
		t.Errorf("approval did not persist: %+v", got)
	}
}
