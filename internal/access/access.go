package access

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// Mode controls who may address the agent.
type Mode string

const (
	ModeAdminOnly Mode = "admin_only"
	ModeAllowlist Mode = "allowlist"
	ModePublic    Mode = "public"
	ModePairing   Mode = "pairing"
)

// ChatKind mirrors the two inbound contexts. Group denials are silent;
// private denials get one reply.
type ChatKind int

const (
	ChatPrivate ChatKind = iota
	ChatGroup
)

// Effect is what the chat layer should do with a denied message.
type Effect int

const (
	Permit Effect = iota
	DenySilent
	DenyMessage
)

const pairingTTL = 5 * time.Minute

// Result of one access check.
type Result struct {
	Effect      Effect
	Reason      string
	PairingCode string
	IsAdmin     bool
}

// fileConfig is the hot-read access section. The operator UI writes
// this file; the controller re-reads it on every check via a cheap
// mtime comparison.
type fileConfig struct {
	AdminID    int64   `json:"admin_id"`
	Mode       string  `json:"mode"`
	Allowlist  []int64 `json:"allowlist"`
	BotEnabled *bool   `json:"bot_enabled"`
}

type pairingCode struct {
	userID  int64
	created time.Time
}

// Controller decides whether a user may address the agent at all. An
// unconfigured admin id degrades to deny, never to open access.
type Controller struct {
	mu sync.Mutex

	configPath string
	mtime      time.Time

	mode       Mode
	adminID    int64
	allowlist  map[int64]bool
	botEnabled bool

	approvedPath string
	approved     map[int64]bool
	codes        map[string]pairingCode

	logger *slog.Logger
}

// New creates a controller backed by an access config file and a
// pairing state file. Either path may be empty; missing files leave
// the seeded values in place.
func New(configPath, approvedPath string, adminID int64, mode Mode) *Controller {
	c := &Controller{
		configPath:   configPath,
		mode:         mode,
		adminID:      adminID,
		allowlist:    map[int64]bool{},
		botEnabled:   true,
		approvedPath: approvedPath,
		approved:     map[int64]bool{},
		codes:        map[string]pairingCode{},
		logger:       slog.With("component", "access"),
	}
	c.reloadConfig()
	c.loadApproved()
	c.logger.Info("access control ready", "mode", c.mode, "admin", c.adminID, "allowlist", len(c.allowlist))
	return c
}

// Check is consulted once per inbound message, before any pattern
// checks and before the agent is involved.
func (c *Controller) Check(userID int64, kind ChatKind) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadConfig()

	deny := func(reason string) Result {
		if kind == ChatGroup {
			return Result{Effect: DenySilent, Reason: reason}
		}
		return Result{Effect: DenyMessage, Reason: reason}
	}

	if !c.botEnabled {
		return deny("🔒 Bot is disabled")
	}

	if c.adminID == 0 {
		// Unconfigured deployment: nobody gets in, including whoever
		// would have been admin.
		return deny("🔒 Bot is not configured")
	}

	if userID == c.adminID {
		return Result{Effect: Permit, Reason: "admin", IsAdmin: true}
	}

	switch c.mode {
	case ModeAdminOnly:
		return deny("🚫 Access denied")
	case ModeAllowlist:
		if c.allowlist[userID] {
			return Result{Effect: Permit, Reason: "allowlist"}
		}
		return deny("🚫 You're not in the allowlist. Contact admin.")
	case ModePairing:
		if c.approved[userID] || c.allowlist[userID] {
			return Result{Effect: Permit, Reason: "approved"}
		}
		if kind == ChatGroup {
			return Result{Effect: DenySilent, Reason: "pairing required"}
		}
		code := c.issueCode(userID)
		return Result{
			Effect: DenyMessage,
			Reason: fmt.Sprintf("🔐 Pairing required!\n\nYour code: %s\n\nSend it to the admin for approval. The code expires in %d minutes.",
				code, int(pairingTTL.Minutes())),
			PairingCode: code,
		}
	case ModePublic:
		return Result{Effect: Permit, Reason: "public"}
	}

	return deny("🚫 Access denied")
}

// ApproveCode redeems a pairing code. Admin only.
func (c *Controller) ApproveCode(code string, approverID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if approverID != c.adminID {
		return 0, fmt.Errorf("only the admin can approve users")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	pc, ok := c.codes[code]
	if !ok {
		return 0, fmt.Errorf("code %s not found or expired", code)
	}
	if time.Since(pc.created) > pairingTTL {
		delete(c.codes, code)
		return 0, fmt.Errorf("code %s expired", code)
	}
	delete(c.codes, code)
	c.approved[pc.userID] = true
	c.saveApproved()
	c.logger.Info("user approved via pairing", "user", pc.userID, "approver", approverID)
	return pc.userID, nil
}

// Allow adds a user to the allowlist. Admin only.
func (c *Controller) Allow(userID, adderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if adderID != c.adminID {
		return fmt.Errorf("only the admin can add users")
	}
	c.allowlist[userID] = true
	c.saveConfig()
	c.logger.Info("user allowlisted", "user", userID, "by", adderID)
	return nil
}

// Revoke removes a user from both the allowlist and the approved set.
// Admin only; the admin cannot revoke themselves.
func (c *Controller) Revoke(userID, revokerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if revokerID != c.adminID {
		return fmt.Errorf("only the admin can revoke access")
	}
	if userID == c.adminID {
		return fmt.Errorf("cannot revoke the admin")
	}
	if !c.allowlist[userID] && !c.approved[userID] {
		return fmt.Errorf("user %d is not allowlisted or approved", userID)
	}
	delete(c.allowlist, userID)
	delete(c.approved, userID)
	c.saveConfig()
	c.saveApproved()
	c.logger.Info("user revoked", "user", userID, "by", revokerID)
	return nil
}

// SetMode switches the access mode at runtime. Admin only.
func (c *Controller) SetMode(mode Mode, setterID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if setterID != c.adminID {
		return fmt.Errorf("only the admin can change the mode")
	}
	switch mode {
	case ModeAdminOnly, ModeAllowlist, ModePublic, ModePairing:
	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
	old := c.mode
	c.mode = mode
	c.saveConfig()
	c.logger.Info("access mode changed", "from", old, "to", mode, "by", setterID)
	return nil
}

// Status renders the current access state for the /access command.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var allowed []int64
	for id := range c.allowlist {
		allowed = append(allowed, id)
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\nAdmin: %d\nAllowlist (%d): %v\nApproved: %d\nPending codes: %d\n",
		c.mode, c.adminID, len(allowed), allowed, len(c.approved), len(c.codes))
	return b.String()
}

// AdminID returns the configured admin user id.
func (c *Controller) AdminID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adminID
}

// issueCode returns the user's live code or mints a new one. Caller
// holds c.mu.
func (c *Controller) issueCode(userID int64) string {
	now := time.Now()
	for code, pc := range c.codes {
		if now.Sub(pc.created) > pairingTTL {
			delete(c.codes, code)
			continue
		}
		if pc.userID == userID {
			return code
		}
	}
	code := randomCode(6)
	c.codes[code] = pairingCode{userID: userID, created: now}
	return code
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomCode(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; fall back
		// to a time-derived code rather than crash the access path.
		t := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(t >> (i * 8))
		}
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out)
}

// reloadConfig re-reads the access file when its mtime changed.
// Caller holds c.mu (or is the constructor).
func (c *Controller) reloadConfig() {
	if c.configPath == "" {
		return
	}
	info, err := os.Stat(c.configPath)
	if err != nil {
		return
	}
	if !info.ModTime().After(c.mtime) {
		return
	}
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.logger.Warn("access config unreadable", "path", c.configPath, "error", err)
		return
	}
	var fc fileConfig
	if err := json5.Unmarshal(data, &fc); err != nil {
		c.logger.Error("access config parse failed, keeping current", "path", c.configPath, "error", err)
		return
	}
	c.mtime = info.ModTime()
	if fc.AdminID > 0 && fc.AdminID != c.adminID {
		c.logger.Info("admin id updated from config", "from", c.adminID, "to", fc.AdminID)
		c.adminID = fc.AdminID
	}
	if fc.Mode != "" {
		if fc.Mode == "admin" {
			fc.Mode = string(ModeAdminOnly)
		}
		c.mode = Mode(fc.Mode)
	}
	if fc.Allowlist != nil {
		c.allowlist = map[int64]bool{}
		for _, id := range fc.Allowlist {
			c.allowlist[id] = true
		}
	}
	if fc.BotEnabled != nil {
		c.botEnabled = *fc.BotEnabled
	}
}

// saveConfig persists mode/admin/allowlist back to the access file so
// runtime changes survive a restart. Caller holds c.mu.
func (c *Controller) saveConfig() {
	if c.configPath == "" {
		return
	}
	var ids []int64
	for id := range c.allowlist {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	enabled := c.botEnabled
	fc := fileConfig{AdminID: c.adminID, Mode: string(c.mode), Allowlist: ids, BotEnabled: &enabled}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return
	}
	if err := writeFileAtomic(c.configPath, data); err != nil {
		c.logger.Error("access config save failed", "path", c.configPath, "error", err)
		return
	}
	if info, err := os.Stat(c.configPath); err == nil {
		c.mtime = info.ModTime()
	}
}

type approvedFile struct {
	Approved []int64 `json:"approved"`
}

func (c *Controller) loadApproved() {
	if c.approvedPath == "" {
		return
	}
	data, err := os.ReadFile(c.approvedPath)
	if err != nil {
		return
	}
	var af approvedFile
	if err := json.Unmarshal(data, &af); err != nil {
		c.logger.Error("pairing state parse failed", "path", c.approvedPath, "error", err)
		return
	}
	for _, id := range af.Approved {
		c.approved[id] = true
	}
}

func (c *Controller) saveApproved() {
	if c.approvedPath == "" {
		return
	}
	var ids []int64
	for id := range c.approved {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	data, err := json.MarshalIndent(approvedFile{Approved: ids}, "", "  ")
	if err != nil {
		return
	}
	if err := writeFileAtomic(c.approvedPath, data); err != nil {
		c.logger.Error("pairing state save failed", "path", c.approvedPath, "error", err)
	}
}

// writeFileAtomic writes via a temp file and rename so a crashed write
// never leaves a truncated state file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".access-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
