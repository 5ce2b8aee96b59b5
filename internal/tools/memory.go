package tools

import (
	"context"
	"fmt"

	"github.com/sandbotdev/sandbot/internal/sessions"
)

// MemoryTool manages the per-workspace MEMORY.md notes file. Notes
// survive /clear and are injected into future system prompts.
type MemoryTool struct {
	notes *sessions.Notes
}

func NewMemoryTool(notes *sessions.Notes) *MemoryTool {
	return &MemoryTool{notes: notes}
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Manage long-term notes about this user. Actions: append (add a note), read (return all notes), clear (delete all notes)."
}

func (t *MemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"append", "read", "clear"},
				"description": "What to do with the notes.",
			},
			"note": map[string]any{
				"type":        "string",
				"description": "Note text (required for append).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *MemoryTool) Execute(ctx context.Context, call *Call) *Result {
	action, _ := call.Args["action"].(string)
	switch action {
	case "append":
		note, _ := call.Args["note"].(string)
		if note == "" {
			return ErrorResult("note is required for append")
		}
		if err := t.notes.Append(call.UserID, note); err != nil {
			return ErrorResult(fmt.Sprintf("cannot save note: %v", err))
		}
		return NewResult("note saved")
	case "read":
		text, err := t.notes.Read(call.UserID)
		if err != nil {
			return ErrorResult(fmt.Sprintf("cannot read notes: %v", err))
		}
		if text == "" {
			return NewResult("no notes yet")
		}
		return NewResult(text)
	case "clear":
		if err := t.notes.Clear(call.UserID); err != nil {
			return ErrorResult(fmt.Sprintf("cannot clear notes: %v", err))
		}
		return NewResult("notes cleared")
	default:
		return ErrorResult("unknown action; use append, read or clear")
	}
}
