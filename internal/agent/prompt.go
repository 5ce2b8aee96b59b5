package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptInfo fills the system prompt placeholders for one turn.
type PromptInfo struct {
	WorkspaceDir string
	Now          time.Time
	ToolNames    []string
	Ports        []int
	MemoryTail   string
}

const systemPromptTemplate = `You are sandbot, a coding and research assistant reachable over Telegram.

Current date: %s
Working directory: %s

You work inside an isolated per-user workspace. All file paths are relative to the workspace root; you cannot read or write anything outside it. Shell commands run in a sandboxed container with the workspace mounted at /workspace.

If you start a server or bind a port, use one of your assigned host ports: %s. Other ports are not reachable from outside.

Available tools: %s.

Rules:
- Keep replies short; this is a chat, not a document.
- Never print credentials, tokens or environment variables.
- When a command needs user approval you will receive approval_required as the tool result. Do not retry it; tell the user it is waiting for their confirmation and move on.
- Use the memory tool to record durable facts about the user worth keeping across conversations.`

const memorySection = "\n\nNotes from previous conversations:\n<memory>\n%s\n</memory>"

// SystemPrompt renders the per-turn system prompt. It is rebuilt fresh
// every turn so the date, tool list and memory tail never go stale.
func SystemPrompt(info PromptInfo) string {
	ports := make([]string, len(info.Ports))
	for i, p := range info.Ports {
		ports[i] = fmt.Sprintf("%d", p)
	}
	prompt := fmt.Sprintf(systemPromptTemplate,
		info.Now.Format("2006-01-02 (Monday)"),
		info.WorkspaceDir,
		strings.Join(ports, ", "),
		strings.Join(info.ToolNames, ", "),
	)
	if tail := strings.TrimSpace(info.MemoryTail); tail != "" {
		prompt += fmt.Sprintf(memorySection, tail)
	}
	return prompt
}

// StampMessage prefixes the user message with a timestamp and the
// sender's display name so the model can reason about elapsed time
// and, in groups, about who is speaking.
func StampMessage(displayName, message string, now time.Time) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "user"
	}
	return fmt.Sprintf("[%s] %s: %s", now.Format("2006-01-02 15:04"), name, message)
}
