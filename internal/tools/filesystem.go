package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sandbotdev/sandbot/internal/activity"
	"github.com/sandbotdev/sandbot/internal/security"
)

const maxReadBytes = 256 * 1024

// fsBase carries the shared dependencies of the file tools.
type fsBase struct {
	guard     *security.PathGuard
	sanitizer *security.Sanitizer
	activity  *activity.Log
}

func NewFileTools(guard *security.PathGuard, sanitizer *security.Sanitizer, act *activity.Log) []Tool {
	base := fsBase{guard: guard, sanitizer: sanitizer, activity: act}
	return []Tool{
		&ReadFileTool{base},
		&WriteFileTool{base},
		&EditFileTool{base},
		&DeleteFileTool{base},
		&ListDirectoryTool{base},
	}
}

func pathParam(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": desc},
		},
		"required": []string{"path"},
	}
}

// ── read_file ──

type ReadFileTool struct{ fsBase }

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a file from your workspace. Paths outside the workspace are rejected."
}
func (t *ReadFileTool) Parameters() map[string]any {
	return pathParam("File path, absolute or relative to your workspace.")
}

func (t *ReadFileTool) Execute(ctx context.Context, call *Call) *Result {
	path, _ := call.Args["path"].(string)
	resolved, err := t.guard.Resolve(path, call.UserID)
	if err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("%s is a directory; use list_directory", path))
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	text := string(data)
	if len(text) > maxReadBytes {
		text = text[:maxReadBytes] + fmt.Sprintf("\n... [truncated, %d bytes total]", info.Size())
	}
	t.activity.Record(call.UserID, "read_file", path)
	// Files may contain pasted credentials; sanitize like any output.
	return NewResult(t.sanitizer.Sanitize(text))
}

// ── write_file ──

type WriteFileTool struct{ fsBase }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Create or overwrite a file in your workspace with the given content."
}
func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path inside your workspace."},
			"content": map[string]any{"type": "string", "description": "Full file content to write."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, call *Call) *Result {
	path, _ := call.Args["path"].(string)
	content, _ := call.Args["content"].(string)

	resolved, err := t.guard.Resolve(path, call.UserID)
	if err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}
	if err := t.guard.CheckWriteContent(content, call.UserID); err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("cannot create parent directory: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	t.activity.Record(call.UserID, "write_file", path)
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// ── edit_file ──

type EditFileTool struct{ fsBase }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace an exact text fragment in a file. The old text must appear exactly once."
}
func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":     map[string]any{"type": "string", "description": "File path inside your workspace."},
			"old_text": map[string]any{"type": "string", "description": "Exact text to replace."},
			"new_text": map[string]any{"type": "string", "description": "Replacement text."},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, call *Call) *Result {
	path, _ := call.Args["path"].(string)
	oldText, _ := call.Args["old_text"].(string)
	newText, _ := call.Args["new_text"].(string)
	if oldText == "" {
		return ErrorResult("old_text is required")
	}

	resolved, err := t.guard.Resolve(path, call.UserID)
	if err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}
	if err := t.guard.CheckWriteContent(newText, call.UserID); err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	text := string(data)
	switch strings.Count(text, oldText) {
	case 0:
		return ErrorResult("old_text not found in file")
	case 1:
	default:
		return ErrorResult("old_text appears more than once; provide a longer unique fragment")
	}

	updated := strings.Replace(text, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	t.activity.Record(call.UserID, "edit_file", path)
	return NewResult(fmt.Sprintf("edited %s", path))
}

// ── delete_file ──

type DeleteFileTool struct{ fsBase }

func (t *DeleteFileTool) Name() string { return "delete_file" }
func (t *DeleteFileTool) Description() string {
	return "Delete a single file from your workspace. Directories are not deleted."
}
func (t *DeleteFileTool) Parameters() map[string]any {
	return pathParam("File path inside your workspace.")
}

func (t *DeleteFileTool) Execute(ctx context.Context, call *Call) *Result {
	path, _ := call.Args["path"].(string)
	resolved, err := t.guard.Resolve(path, call.UserID)
	if err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot delete %s: %v", path, err))
	}
	if info.IsDir() {
		return ErrorResult("refusing to delete a directory; delete files individually")
	}
	if err := os.Remove(resolved); err != nil {
		return ErrorResult(fmt.Sprintf("cannot delete %s: %v", path, err))
	}
	t.activity.Record(call.UserID, "delete_file", path)
	return NewResult(fmt.Sprintf("deleted %s", path))
}

// ── list_directory ──

type ListDirectoryTool struct{ fsBase }

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Description() string {
	return "List the entries of a directory in your workspace."
}
func (t *ListDirectoryTool) Parameters() map[string]any {
	return pathParam("Directory path; defaults to the workspace root when \".\" is given.")
}

func (t *ListDirectoryTool) Execute(ctx context.Context, call *Call) *Result {
	path, _ := call.Args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := t.guard.Resolve(path, call.UserID)
	if err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}
	if err := t.guard.CheckListDir(resolved); err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot list %s: %v", path, err))
	}

	var lines []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return NewResult("(empty directory)")
	}
	return NewResult(strings.Join(lines, "\n"))
}
