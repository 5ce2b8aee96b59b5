package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandbotdev/sandbot/internal/security"
)

const (
	maxSearchHits  = 200
	maxGrepLineLen = 300
)

// ── search_files ──

// SearchFilesTool finds files by name pattern within the workspace.
type SearchFilesTool struct {
	guard *security.PathGuard
}

func NewSearchFilesTool(guard *security.PathGuard) *SearchFilesTool {
	return &SearchFilesTool{guard: guard}
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return "Find files in your workspace whose name matches a glob pattern, e.g. *.py or notes*."
}
func (t *SearchFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern matched against file names."},
		},
		"required": []string{"pattern"},
	}
}

func (t *SearchFilesTool) Execute(ctx context.Context, call *Call) *Result {
	pattern, _ := call.Args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	if err := t.guard.CheckSearchPattern(pattern); err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}

	workspace := t.guard.WorkspaceFor(call.UserID)
	var hits []string
	_ = filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(hits) >= maxSearchHits {
			return filepath.SkipAll
		}
		ok, _ := filepath.Match(pattern, d.Name())
		if ok {
			rel, _ := filepath.Rel(workspace, path)
			hits = append(hits, rel)
		}
		return nil
	})

	if len(hits) == 0 {
		return NewResult("no files match " + pattern)
	}
	return NewResult(strings.Join(hits, "\n"))
}

// ── search_text ──

// SearchTextTool greps workspace files for a substring.
type SearchTextTool struct {
	guard     *security.PathGuard
	sanitizer *security.Sanitizer
}

func NewSearchTextTool(guard *security.PathGuard, sanitizer *security.Sanitizer) *SearchTextTool {
	return &SearchTextTool{guard: guard, sanitizer: sanitizer}
}

func (t *SearchTextTool) Name() string { return "search_text" }
func (t *SearchTextTool) Description() string {
	return "Search the contents of your workspace files for a text fragment and return matching lines."
}
func (t *SearchTextTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Text to search for (case sensitive)."},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTextTool) Execute(ctx context.Context, call *Call) *Result {
	query, _ := call.Args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	// Searching for secret names is a probing pattern, same as in
	// shell grep commands.
	if err := t.guard.CheckSearchPattern(query); err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}

	workspace := t.guard.WorkspaceFor(call.UserID)
	var out strings.Builder
	hits := 0
	_ = filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() || hits >= maxSearchHits {
			if hits >= maxSearchHits {
				return filepath.SkipAll
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxReadBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(workspace, path)
		for i, line := range strings.Split(string(data), "\n") {
			if !strings.Contains(line, query) {
				continue
			}
			if len(line) > maxGrepLineLen {
				line = line[:maxGrepLineLen] + "..."
			}
			fmt.Fprintf(&out, "%s:%d: %s\n", rel, i+1, line)
			hits++
			if hits >= maxSearchHits {
				break
			}
		}
		return nil
	})

	if hits == 0 {
		return NewResult("no matches for " + query)
	}
	return NewResult(t.sanitizer.Sanitize(out.String()))
}
