package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ChatKind distinguishes the two contexts a command can originate
// from. Group context has no single user who can approve a dangerous
// command, so approval collapses to a block there.
type ChatKind int

const (
	ChatPrivate ChatKind = iota
	ChatGroup
)

// Decision is the classifier outcome for one command.
type Decision int

const (
	DecisionAllowed Decision = iota
	DecisionApproval
	DecisionBlocked
)

func (d Decision) String() string {
	switch d {
	case DecisionApproval:
		return "needs_approval"
	case DecisionBlocked:
		return "blocked"
	default:
		return "allowed"
	}
}

// Verdict carries the decision and the first matching reason.
type Verdict struct {
	Decision Decision
	Reason   string
}

// Classifier maps a shell command to allowed / needs-approval /
// blocked. The blocked list is always evaluated before the dangerous
// list: a command that both reads .env (blocked) and uses rm -rf
// (dangerous) must block, never prompt.
type Classifier struct {
	lib    *Library
	root   string // parent of all user workspaces
	logger *slog.Logger

	parentTraversal *regexp.Regexp
}

func NewClassifier(lib *Library, workspaceRoot string) *Classifier {
	return &Classifier{
		lib:    lib,
		root:   filepath.Clean(workspaceRoot),
		logger: slog.With("component", "classifier"),

		parentTraversal: regexp.MustCompile(`(\.\./){2,}|(\.\.\\){2,}`),
	}
}

// Classify returns exactly one verdict for the command in the context
// of the given user's workspace and chat kind.
func (c *Classifier) Classify(command string, userID int64, kind ChatKind) Verdict {
	set := c.lib.Current()

	for _, r := range set.Blocked {
		if r.Pattern.MatchString(command) {
			c.logger.Warn("command blocked", "user", userID, "reason", r.Reason)
			return Verdict{Decision: DecisionBlocked, Reason: r.Reason}
		}
	}

	if reason := c.checkWorkspaceIsolation(command, userID); reason != "" {
		c.logger.Warn("command blocked by workspace isolation", "user", userID, "reason", reason)
		return Verdict{Decision: DecisionBlocked, Reason: reason}
	}

	for _, r := range set.Dangerous {
		if r.Pattern.MatchString(command) {
			if kind == ChatGroup {
				c.logger.Warn("dangerous command blocked in group", "user", userID, "reason", r.Reason)
				return Verdict{Decision: DecisionBlocked, Reason: r.Reason + " (approval is not available in group chats)"}
			}
			return Verdict{Decision: DecisionApproval, Reason: r.Reason}
		}
	}

	return Verdict{Decision: DecisionAllowed}
}

// listingCommands are read primitives whose first positional argument
// being the workspace root would enumerate every tenant's directory.
var listingCommands = map[string]bool{
	"find": true, "ls": true, "cat": true, "head": true, "tail": true,
	"grep": true, "less": true, "more": true, "tree": true, "du": true, "wc": true,
}

// checkWorkspaceIsolation enforces that no command reaches outside the
// user's own workspace via the shared root. These checks apply
// regardless of the pattern lists.
func (c *Classifier) checkWorkspaceIsolation(command string, userID int64) string {
	own := strconv.FormatInt(userID, 10)

	// Multi-level parent traversal is refused without inspecting where
	// it lands; single ../ inside the workspace is fine.
	if c.parentTraversal.MatchString(command) {
		return "Multi-level parent traversal is not allowed"
	}

	// Every mention of the shared root is inspected.
	for idx := strings.Index(command, c.root); idx >= 0; {
		rest := command[idx+len(c.root):]
		switch {
		case rest == "" || rest[0] != '/':
			// The root itself as a bare token: only harmful as the
			// positional argument of a listing command.
			if firstPositionalIs(command, c.root) {
				return "Cannot list the shared workspace root"
			}
		default:
			seg := rest[1:]
			if end := strings.IndexAny(seg, "/ \t\"'|;&"); end >= 0 {
				seg = seg[:end]
			}
			switch {
			case seg == "":
				// "<root>/" with nothing after it — same as the bare root.
				if firstPositionalIs(command, c.root) {
					return "Cannot list the shared workspace root"
				}
			case seg == "_shared":
				return "Cannot access the operator-only shared directory"
			case strings.ContainsAny(seg, "*?{}[]"):
				return "Wildcards across the workspace root are not allowed"
			case seg != own && isNumeric(seg):
				return "Cannot access other user's workspace"
			}
		}
		next := strings.Index(command[idx+1:], c.root)
		if next < 0 {
			break
		}
		idx = idx + 1 + next
	}

	return ""
}

// firstPositionalIs reports whether the first non-flag argument of a
// listing command equals the given path.
func firstPositionalIs(command, path string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 || !listingCommands[fields[0]] {
		return false
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") {
			continue
		}
		return filepath.Clean(strings.Trim(f, `"'`)) == path
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BlockedError renders a classifier refusal in the tool-error shape
// the model observes.
func BlockedError(reason string) string {
	return fmt.Sprintf("🚫 BLOCKED: %s", reason)
}
