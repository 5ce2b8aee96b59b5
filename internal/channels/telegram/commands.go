package telegram

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/sandbotdev/sandbot/internal/access"
)

const helpText = `I'm sandbot. Send me a task and I'll work on it inside your private workspace.

Commands:
/clear — forget the conversation and unlock the session
/status — session and sandbox state
/pending — commands waiting for your approval
/help — this message`

const adminHelpText = helpText + `

Admin:
/access status
/access mode <public|allowlist|admin_only|pairing>
/access allow <user_id>
/access revoke <user_id>
/access approve <pairing_code>`

// handleCommand processes bot commands. Returns true when the message
// was handled here; unrecognized commands return false and reach the
// agent like any other text.
func (c *Channel) handleCommand(ctx context.Context, message *telego.Message, chatID, userID int64, isGroup bool, text string, isAdmin bool) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	args := fields[1:]

	switch cmd {
	case "/start":
		c.sendText(ctx, chatID, isGroup, "👋 Hi! "+helpText)
	case "/help":
		if isAdmin {
			c.sendText(ctx, chatID, isGroup, adminHelpText)
		} else {
			c.sendText(ctx, chatID, isGroup, helpText)
		}
	case "/clear":
		c.sessions.Clear(userID)
		if err := c.sessions.Save(userID); err != nil {
			c.logger.Warn("save after clear failed", "user_id", userID, "error", err)
		}
		c.sendText(ctx, chatID, isGroup, "🧹 Session cleared.")
	case "/status":
		c.sendText(ctx, chatID, isGroup, c.statusReport(ctx, userID))
	case "/pending":
		c.sendText(ctx, chatID, isGroup, c.pendingReport(userID))
	case "/access":
		if !isAdmin {
			c.sendText(ctx, chatID, isGroup, "🚫 Admin only.")
			return true
		}
		c.sendText(ctx, chatID, isGroup, c.handleAccessCommand(args))
	default:
		// Unrecognized slash commands go to the agent; people type
		// things like "/etc/hosts contents please".
		return false
	}
	return true
}

func (c *Channel) statusReport(ctx context.Context, userID int64) string {
	var sb strings.Builder
	sb.WriteString("📊 Status\n")
	fmt.Fprintf(&sb, "History: %d exchanges\n", len(c.sessions.History(userID)))
	if blocked := c.sessions.BlockedCount(userID); blocked > 0 {
		fmt.Fprintf(&sb, "Blocked commands this session: %d\n", blocked)
	}
	if c.sessions.Locked(userID) {
		sb.WriteString("Session: 🔒 locked (/clear to reset)\n")
	}
	if size := dirSize(filepath.Join(c.workspace, strconv.FormatInt(userID, 10))); size > 0 {
		fmt.Fprintf(&sb, "Workspace: %.1f MB\n", float64(size)/(1<<20))
	}
	switch {
	case c.sandbox == nil:
		sb.WriteString("Sandbox: disabled\n")
	case c.sandbox.Available(ctx):
		sb.WriteString("Sandbox: ✅ available\n")
	default:
		sb.WriteString("Sandbox: ⚠️ container runtime unreachable\n")
	}
	return sb.String()
}

func (c *Channel) pendingReport(userID int64) string {
	pending := c.approvals.ListForSession(strconv.FormatInt(userID, 10))
	if len(pending) == 0 {
		return "No commands waiting for approval."
	}
	var sb strings.Builder
	sb.WriteString("⏳ Waiting for your approval:\n")
	for _, p := range pending {
		fmt.Fprintf(&sb, "• %s — %s\n", p.Command, p.Reason)
	}
	return sb.String()
}

func (c *Channel) handleAccessCommand(args []string) string {
	if len(args) == 0 {
		return c.access.Status()
	}
	adminID := c.access.AdminID()

	switch args[0] {
	case "status":
		return c.access.Status()
	case "mode":
		if len(args) < 2 {
			return "Usage: /access mode <public|allowlist|admin_only|pairing>"
		}
		if err := c.access.SetMode(access.Mode(args[1]), adminID); err != nil {
			return "⚠️ " + err.Error()
		}
		return "✅ Mode set to " + args[1]
	case "allow":
		id, err := parseUserID(args)
		if err != nil {
			return "Usage: /access allow <user_id>"
		}
		if err := c.access.Allow(id, adminID); err != nil {
			return "⚠️ " + err.Error()
		}
		return fmt.Sprintf("✅ User %d allowed", id)
	case "revoke":
		id, err := parseUserID(args)
		if err != nil {
			return "Usage: /access revoke <user_id>"
		}
		if err := c.access.Revoke(id, adminID); err != nil {
			return "⚠️ " + err.Error()
		}
		return fmt.Sprintf("✅ User %d revoked", id)
	case "approve":
		if len(args) < 2 {
			return "Usage: /access approve <pairing_code>"
		}
		id, err := c.access.ApproveCode(strings.ToUpper(args[1]), adminID)
		if err != nil {
			return "⚠️ " + err.Error()
		}
		return fmt.Sprintf("✅ User %d paired", id)
	default:
		return "Unknown subcommand. Use status, mode, allow, revoke or approve."
	}
}

func parseUserID(args []string) (int64, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("missing user id")
	}
	return strconv.ParseInt(args[1], 10, 64)
}

func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
