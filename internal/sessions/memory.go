package sessions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const memoryFile = "MEMORY.md"

// Notes manages the per-workspace MEMORY.md file. Unlike session
// history it survives /clear and is injected into the system prompt.
type Notes struct {
	workspaceRoot string
	maxInject     int
}

func NewNotes(workspaceRoot string, maxInject int) *Notes {
	return &Notes{workspaceRoot: workspaceRoot, maxInject: maxInject}
}

func (n *Notes) path(userID int64) string {
	return filepath.Join(n.workspaceRoot, fmt.Sprintf("%d", userID), memoryFile)
}

// Append adds a dated note.
func (n *Notes) Append(userID int64, note string) error {
	path := n.path(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "- [%s] %s\n", time.Now().Format("2006-01-02"), strings.TrimSpace(note))
	return err
}

// Read returns the full notes file, or empty when absent.
func (n *Notes) Read(userID int64) (string, error) {
	data, err := os.ReadFile(n.path(userID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Clear truncates the notes file.
func (n *Notes) Clear(userID int64) error {
	err := os.Remove(n.path(userID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// InjectTail returns the tail of the notes bounded by the configured
// injection budget, for inclusion in the system prompt.
func (n *Notes) InjectTail(userID int64) string {
	text, err := n.Read(userID)
	if err != nil || text == "" {
		return ""
	}
	if n.maxInject > 0 && len(text) > n.maxInject {
		text = text[len(text)-n.maxInject:]
		// Drop the likely-partial first line.
		if i := strings.IndexByte(text, '\n'); i >= 0 && i+1 < len(text) {
			text = text[i+1:]
		}
	}
	return strings.TrimSpace(text)
}
