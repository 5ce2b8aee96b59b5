package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sandbotdev/sandbot/internal/activity"
	"github.com/sandbotdev/sandbot/internal/approval"
	"github.com/sandbotdev/sandbot/internal/metrics"
	"github.com/sandbotdev/sandbot/internal/sandbox"
	"github.com/sandbotdev/sandbot/internal/security"
)

// ExecTool runs shell commands. Every command is classified first;
// allowed commands execute inside the caller's sandbox and the output
// passes through the sanitizer before anyone sees it.
type ExecTool struct {
	classifier        *security.Classifier
	sanitizer         *security.Sanitizer
	sandbox           *sandbox.Manager
	approvals         *approval.Queue
	activity          *activity.Log
	workspaceRoot     string
	allowHostFallback bool
}

func NewExecTool(
	classifier *security.Classifier,
	sanitizer *security.Sanitizer,
	sb *sandbox.Manager,
	approvals *approval.Queue,
	act *activity.Log,
	workspaceRoot string,
	allowHostFallback bool,
) *ExecTool {
	return &ExecTool{
		classifier:        classifier,
		sanitizer:         sanitizer,
		sandbox:           sb,
		approvals:         approvals,
		activity:          act,
		workspaceRoot:     workspaceRoot,
		allowHostFallback: allowHostFallback,
	}
}

func (t *ExecTool) Name() string { return "run_command" }

func (t *ExecTool) Description() string {
	return "Execute a shell command in your isolated workspace. Dangerous commands require user approval; some commands are blocked outright."
}

func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, call *Call) *Result {
	command, _ := call.Args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	verdict := t.classifier.Classify(command, call.UserID, call.ChatKind)
	metrics.CommandsClassified.WithLabelValues(verdict.Decision.String()).Inc()

	switch verdict.Decision {
	case security.DecisionBlocked:
		t.activity.Record(call.UserID, "command_blocked", command)
		return BlockedResult(security.BlockedError(verdict.Reason))

	case security.DecisionApproval:
		id := t.approvals.Store(strconv.FormatInt(call.UserID, 10), call.ChatID, command, "/workspace", verdict.Reason)
		t.activity.Record(call.UserID, "command_pending", command)
		res := ErrorResult("approval_required: waiting for user confirmation. Do not retry this command; continue with other work or finish your reply.")
		res.ApprovalID = id
		res.ForUser = verdict.Reason
		return res
	}

	t.activity.Record(call.UserID, "command", command)

	out, err := t.run(ctx, call.UserID, command)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(t.sanitizer.Sanitize(out))
}

func (t *ExecTool) run(ctx context.Context, userID int64, command string) (string, error) {
	if t.sandbox != nil && t.sandbox.Available(ctx) {
		res, err := t.sandbox.Exec(ctx, userID, command)
		if err != nil {
			return "", err
		}
		return res.CombinedOutput(), nil
	}

	if !t.allowHostFallback {
		return "", fmt.Errorf("sandbox_failed: container runtime unavailable and host fallback is disabled")
	}

	// Degraded mode: patterns are still enforced above, but the
	// command runs in the host process against the user's workspace.
	slog.Warn("sandbox unavailable, executing on host", "user_id", userID)
	return t.runOnHost(ctx, userID, command)
}

func (t *ExecTool) runOnHost(ctx context.Context, userID int64, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workspaceRoot + "/" + strconv.FormatInt(userID, 10)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += stderr.String()
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Sprintf("%s\n(exit code %d)", out, exitErr.ExitCode()), nil
		}
		return "", fmt.Errorf("host exec: %w", err)
	}
	return out, nil
}

// RunApproved executes a previously approved command, bypassing the
// classifier. Callers must only pass commands consumed from the
// approval queue.
func (t *ExecTool) RunApproved(ctx context.Context, userID int64, command string) string {
	t.activity.Record(userID, "command_approved", command)
	out, err := t.run(ctx, userID, command)
	if err != nil {
		return "🚫 " + err.Error()
	}
	return t.sanitizer.Sanitize(out)
}
