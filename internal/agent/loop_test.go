package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sandbotdev/sandbot/internal/config"
	"github.com/sandbotdev/sandbot/internal/providers"
	"github.com/sandbotdev/sandbot/internal/security"
	"github.com/sandbotdev/sandbot/internal/store/file"
	"github.com/sandbotdev/sandbot/internal/tools"
)

// scriptedProvider replays canned responses and records requests.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	err       error
	requests  []providers.ChatRequest
}

func (p *scriptedProvider) Model() string { return "test-model" }

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &providers.ChatResponse{Content: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

// stubTool returns a fixed result and records calls.
type stubTool struct {
	name   string
	result *tools.Result
	calls  int
}

func (t *stubTool) Name() string                { return t.name }
func (t *stubTool) Description() string         { return "stub" }
func (t *stubTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (t *stubTool) Execute(context.Context, *tools.Call) *tools.Result {
	t.calls++
	return t.result
}

func newTestLoop(t *testing.T, provider Provider, reg *tools.Registry, maxBlocked int) (*Loop, *file.SessionStore) {
	t.Helper()
	if reg == nil {
		reg = tools.NewRegistry()
	}
	sessions := file.NewSessionStore(t.TempDir(), 10, maxBlocked)
	loop := NewLoop(Options{
		Provider:      provider,
		Registry:      reg,
		Sessions:      sessions,
		WorkspaceRoot: t.TempDir(),
		PortBase:      40000,
		Agent:         config.AgentConfig{MaxIterations: 5, ToolTimeoutSec: 10, MaxToolOutput: 10000},
	})
	return loop, sessions
}

func textRequest(msg string) Request {
	return Request{UserID: 7, ChatID: 7, ChatKind: security.ChatPrivate, DisplayName: "Ann", Message: msg}
}

func TestRunFinalText(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "hi there"}}}
	loop, sessions := newTestLoop(t, provider, nil, 0)

	turn, err := loop.Run(context.Background(), textRequest("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != "hi there" || turn.Iterations != 1 {
		t.Errorf("turn = %+v", turn)
	}

	pairs := sessions.History(7)
	if len(pairs) != 1 || pairs[0].User != "hello" || pairs[0].Assistant != "hi there" {
		t.Errorf("history = %+v", pairs)
	}

	first := provider.requests[0].Messages
	if first[0].Role != "system" {
		t.Errorf("first message role = %s", first[0].Role)
	}
	last := first[len(first)-1]
	if !strings.Contains(last.Content, "Ann: hello") {
		t.Errorf("user message not stamped: %q", last.Content)
	}
}

func TestRunToolCallThenFinal(t *testing.T) {
	reg := tools.NewRegistry()
	stub := &stubTool{name: "probe", result: tools.NewResult("probe output")}
	reg.Register(stub)

	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "probe", Arguments: map[string]any{}}}},
		{Content: "used the tool"},
	}}
	loop, sessions := newTestLoop(t, provider, reg, 0)

	turn, err := loop.Run(context.Background(), textRequest("run it"))
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != "used the tool" || turn.Iterations != 2 || stub.calls != 1 {
		t.Errorf("turn = %+v, tool calls = %d", turn, stub.calls)
	}

	// Second request carries the assistant tool call and the tool result.
	second := provider.requests[1].Messages
	toolMsg := second[len(second)-1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "c1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, `"success":true`) || !strings.Contains(toolMsg.Content, "probe output") {
		t.Errorf("tool payload = %q", toolMsg.Content)
	}

	// Tool traffic never reaches the session.
	pairs := sessions.History(7)
	if len(pairs) != 1 || strings.Contains(pairs[0].Assistant, "probe output") {
		t.Errorf("history = %+v", pairs)
	}
}

func TestRunNudgesOnEmptyResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: ""},
		{Content: "second try"},
	}}
	loop, _ := newTestLoop(t, provider, nil, 0)

	turn, err := loop.Run(context.Background(), textRequest("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != "second try" {
		t.Errorf("content = %q", turn.Content)
	}
	second := provider.requests[1].Messages
	if !strings.Contains(second[len(second)-1].Content, "empty") {
		t.Errorf("nudge missing: %q", second[len(second)-1].Content)
	}
}

func TestRunIterationCap(t *testing.T) {
	reg := tools.NewRegistry()
	stub := &stubTool{name: "spin", result: tools.NewResult("again")}
	reg.Register(stub)

	var responses []*providers.ChatResponse
	for i := 0; i < 10; i++ {
		responses = append(responses, &providers.ChatResponse{
			ToolCalls: []providers.ToolCall{{ID: "x", Name: "spin", Arguments: map[string]any{}}},
		})
	}
	provider := &scriptedProvider{responses: responses}
	loop, _ := newTestLoop(t, provider, reg, 0)

	turn, err := loop.Run(context.Background(), textRequest("loop forever"))
	if err != nil {
		t.Fatal(err)
	}
	if turn.Iterations != 5 || !strings.Contains(turn.Content, "iteration limit") {
		t.Errorf("turn = %+v", turn)
	}
}

func TestRunLLMErrorLeavesSessionUntouched(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream 502")}
	loop, sessions := newTestLoop(t, provider, nil, 0)

	if _, err := loop.Run(context.Background(), textRequest("hello")); err == nil {
		t.Fatal("want error")
	}
	if pairs := sessions.History(7); len(pairs) != 0 {
		t.Errorf("history = %+v, want empty", pairs)
	}
}

func TestRunLocksAfterRepeatedBlocks(t *testing.T) {
	reg := tools.NewRegistry()
	blocked := tools.BlockedResult("🚫 BLOCKED: no")
	reg.Register(&stubTool{name: "bad", result: blocked})

	var responses []*providers.ChatResponse
	for i := 0; i < 4; i++ {
		responses = append(responses, &providers.ChatResponse{
			ToolCalls: []providers.ToolCall{{ID: "b", Name: "bad", Arguments: map[string]any{}}},
		})
	}
	provider := &scriptedProvider{responses: responses}
	loop, sessions := newTestLoop(t, provider, reg, 3)

	turn, err := loop.Run(context.Background(), textRequest("do the bad thing"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(turn.Content, "Session locked") {
		t.Errorf("content = %q", turn.Content)
	}
	if !sessions.Locked(7) {
		t.Error("session not locked")
	}

	// Subsequent turns short-circuit until /clear.
	turn, err = loop.Run(context.Background(), textRequest("hello again"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(turn.Content, "Session locked") {
		t.Errorf("locked turn = %+v", turn)
	}

	sessions.Clear(7)
	if sessions.Locked(7) {
		t.Error("Clear did not unlock")
	}
}

func TestRunCollectsQueuedFiles(t *testing.T) {
	reg := tools.NewRegistry()
	res := tools.NewResult("file report.pdf queued for sending")
	res.FilePath = "/srv/ws/7/report.pdf"
	reg.Register(&stubTool{name: "send_file", result: res})

	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "f", Name: "send_file", Arguments: map[string]any{"path": "report.pdf"}}}},
		{Content: "sent"},
	}}
	loop, _ := newTestLoop(t, provider, reg, 0)

	turn, err := loop.Run(context.Background(), textRequest("send the report"))
	if err != nil {
		t.Fatal(err)
	}
	if len(turn.Files) != 1 || turn.Files[0] != "/srv/ws/7/report.pdf" {
		t.Errorf("files = %+v", turn.Files)
	}
}

func TestRunDeniesGroupOnlyTools(t *testing.T) {
	reg := tools.NewRegistry()
	stub := &stubTool{name: "ask_user", result: tools.NewResult("never")}
	reg.Register(stub)

	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "a", Name: "ask_user", Arguments: map[string]any{}}}},
		{Content: "ok"},
	}}
	loop, _ := newTestLoop(t, provider, reg, 0)

	req := textRequest("ask them")
	req.ChatKind = security.ChatGroup
	if _, err := loop.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if stub.calls != 0 {
		t.Error("group-denied tool was executed")
	}
	second := provider.requests[1].Messages
	if !strings.Contains(second[len(second)-1].Content, "not available in group chats") {
		t.Errorf("tool result = %q", second[len(second)-1].Content)
	}
}

func TestRunApprovalCallback(t *testing.T) {
	reg := tools.NewRegistry()
	res := tools.ErrorResult("approval_required: waiting for user confirmation.")
	res.ApprovalID = "ap-1"
	res.ForUser = "Recursive or forced delete"
	reg.Register(&stubTool{name: "execute_command", result: res})

	var gotID, gotCommand string
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "t", Name: "execute_command",
			Arguments: map[string]any{"command": "rm -rf ./build"}}}},
		{Content: "waiting for your approval"},
	}}
	loop, _ := newTestLoop(t, provider, reg, 0)
	loop.callbacks.ShowApproval = func(chatID int64, id, command, reason string) {
		gotID, gotCommand = id, command
	}

	turn, err := loop.Run(context.Background(), textRequest("clean the build dir"))
	if err != nil {
		t.Fatal(err)
	}
	if gotID != "ap-1" || gotCommand != "rm -rf ./build" {
		t.Errorf("approval callback = (%q, %q)", gotID, gotCommand)
	}
	if turn.Content != "waiting for your approval" {
		t.Errorf("content = %q", turn.Content)
	}
}

func TestSystemPromptPlaceholders(t *testing.T) {
	prompt := SystemPrompt(PromptInfo{
		WorkspaceDir: "/workspace",
		Now:          time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		ToolNames:    []string{"execute_command", "read_file"},
		Ports:        []int{40070, 40071},
		MemoryTail:   "- [2026-02-28] prefers short answers",
	})
	for _, want := range []string{"2026-03-02", "/workspace", "execute_command", "40070", "prefers short answers", "<memory>"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	bare := SystemPrompt(PromptInfo{Now: time.Now(), Ports: []int{1}})
	if strings.Contains(bare, "<memory>") {
		t.Error("empty memory tail still produced a memory section")
	}
}

func TestCleanResponse(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<thinking>secret plan</thinking>hello", "hello"},
		{"<final>done</final>", "done"},
		{"  \n\nplain\n", "plain"},
		{"no tags at all", "no tags at all"},
	}
	for _, tc := range cases {
		if got := CleanResponse(tc.in); got != tc.want {
			t.Errorf("CleanResponse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTrimOutput(t *testing.T) {
	long := strings.Repeat("a", 600) + strings.Repeat("z", 400)
	trimmed := TrimOutput(long, 100)
	if len(trimmed) >= len(long) {
		t.Fatal("not trimmed")
	}
	if !strings.Contains(trimmed, "[TRIMMED]") {
		t.Error("marker missing")
	}
	if !strings.HasPrefix(trimmed, "aaaa") || !strings.HasSuffix(trimmed, "zzzz") {
		t.Errorf("head/tail lost: %q", trimmed)
	}
	if got := TrimOutput("short", 100); got != "short" {
		t.Errorf("short output modified: %q", got)
	}
}
