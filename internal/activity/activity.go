// Package activity appends an operator-auditable trail of tool
// actions to <workspace root>/_shared/activity.md.
package activity

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const detailLimit = 100

// Log is an append-only markdown activity trail. The file lives in the
// operator-only _shared directory, outside every user workspace.
type Log struct {
	mu      sync.Mutex
	path    string
	enabled bool
}

func New(workspaceRoot string, enabled bool) *Log {
	return &Log{
		path:    filepath.Join(workspaceRoot, "_shared", "activity.md"),
		enabled: enabled,
	}
}

// Record appends one entry. Failures are logged, never surfaced: the
// audit trail must not break tool execution.
func (l *Log) Record(userID int64, action, detail string) {
	if l == nil || !l.enabled {
		return
	}
	detail = strings.ReplaceAll(detail, "\n", " ")
	if len(detail) > detailLimit {
		detail = detail[:detailLimit]
	}
	line := fmt.Sprintf("- %s | user %d | %s | %s\n",
		time.Now().Format("2006-01-02 15:04:05"), userID, action, detail)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		slog.Warn("activity log mkdir failed", "error", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("activity log open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		slog.Warn("activity log write failed", "error", err)
	}
}
