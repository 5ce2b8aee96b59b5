// Package agent drives the think-act-observe loop for one user turn:
// prompt assembly, LLM calls, tool dispatch and session persistence.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandbotdev/sandbot/internal/bus"
	"github.com/sandbotdev/sandbot/internal/config"
	"github.com/sandbotdev/sandbot/internal/metrics"
	"github.com/sandbotdev/sandbot/internal/providers"
	"github.com/sandbotdev/sandbot/internal/sandbox"
	"github.com/sandbotdev/sandbot/internal/security"
	"github.com/sandbotdev/sandbot/internal/sessions"
	"github.com/sandbotdev/sandbot/internal/store"
	"github.com/sandbotdev/sandbot/internal/tools"
	"github.com/sandbotdev/sandbot/internal/tracing"
)

const (
	defaultMaxIterations = 30
	defaultToolTimeout   = 120 * time.Second
	defaultMaxToolOutput = 20000

	lockedMessage = "🚫 Session locked due to repeated security violations. /clear to reset."
	cappedMessage = "⚠️ I hit the iteration limit for this request. Here is where I stopped; send a follow-up to continue."
	nudgeMessage  = "Your last response was empty. Reply with text for the user or call a tool."
)

// Provider is the LLM surface the loop needs. *providers.Client
// satisfies it; tests substitute a scripted fake.
type Provider interface {
	Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
	Model() string
}

// Callbacks let the loop reach the chat layer for side effects that
// happen mid-turn. Either field may be nil.
type Callbacks struct {
	// ShowApproval renders the approve/deny buttons for a parked
	// dangerous command. Execution happens outside this turn.
	ShowApproval func(chatID int64, approvalID, command, reason string)
	// Notify delivers an out-of-band notice (a block reason, for
	// example) without ending the turn.
	Notify func(chatID int64, text string)
}

// Request is one inbound user message entering the loop.
type Request struct {
	UserID      int64
	ChatID      int64
	ChatKind    security.ChatKind
	DisplayName string
	Message     string
}

// TurnResult is the outcome of one completed agent turn.
type TurnResult struct {
	Content    string
	Files      []string // workspace files queued by send_file
	Iterations int
}

// Loop runs agent turns. One Loop serves all users; per-user
// serialization is the admission gate's job, not ours.
type Loop struct {
	provider      Provider
	registry      *tools.Registry
	sessions      store.SessionStore
	notes         *sessions.Notes
	events        bus.EventPublisher
	callbacks     Callbacks
	logger        *slog.Logger
	workspaceRoot string
	portBase      int
	maxIterations int
	toolTimeout   time.Duration
	maxToolOutput int
}

// Options carries the loop's collaborators and limits.
type Options struct {
	Provider  Provider
	Registry  *tools.Registry
	Sessions  store.SessionStore
	Notes     *sessions.Notes
	Events    bus.EventPublisher
	Callbacks Callbacks

	WorkspaceRoot string
	PortBase      int
	Agent         config.AgentConfig
}

func NewLoop(opts Options) *Loop {
	l := &Loop{
		provider:      opts.Provider,
		registry:      opts.Registry,
		sessions:      opts.Sessions,
		notes:         opts.Notes,
		events:        opts.Events,
		callbacks:     opts.Callbacks,
		logger:        slog.With("component", "agent"),
		workspaceRoot: opts.WorkspaceRoot,
		portBase:      opts.PortBase,
		maxIterations: opts.Agent.MaxIterations,
		toolTimeout:   time.Duration(opts.Agent.ToolTimeoutSec) * time.Second,
		maxToolOutput: opts.Agent.MaxToolOutput,
	}
	if l.maxIterations <= 0 {
		l.maxIterations = defaultMaxIterations
	}
	if l.toolTimeout <= 0 {
		l.toolTimeout = defaultToolTimeout
	}
	if l.maxToolOutput <= 0 {
		l.maxToolOutput = defaultMaxToolOutput
	}
	return l
}

// Run executes one full agent turn and returns the final response.
// The session gains exactly one (user, assistant) pair on success;
// LLM failures leave the session untouched so a retry starts clean.
func (l *Loop) Run(ctx context.Context, req Request) (*TurnResult, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "agent.turn",
		trace.WithAttributes(attribute.Int64("user_id", req.UserID)))
	defer span.End()

	if l.sessions.Locked(req.UserID) {
		return &TurnResult{Content: lockedMessage}, nil
	}

	messages := l.assembleMessages(req)
	defs := l.registry.Definitions(req.ChatKind)

	turn := &TurnResult{}
	for turn.Iterations < l.maxIterations {
		turn.Iterations++

		resp, err := l.provider.Chat(ctx, providers.ChatRequest{Messages: messages, Tools: defs})
		if err != nil {
			l.logger.Error("llm call failed", "user_id", req.UserID,
				"iteration", turn.Iterations, "error", err)
			l.finish(req, turn, start, "error")
			return nil, fmt.Errorf("llm call (iteration %d): %w", turn.Iterations, err)
		}

		if len(resp.ToolCalls) == 0 {
			text := CleanResponse(resp.Content)
			if text == "" {
				messages = append(messages, resp.AssistantMessage(),
					providers.Message{Role: "user", Content: nudgeMessage})
				continue
			}
			turn.Content = text
			l.commit(req, text)
			l.finish(req, turn, start, "completed")
			return turn, nil
		}

		messages = append(messages, resp.AssistantMessage())

		locked := false
		for _, tc := range resp.ToolCalls {
			result := l.dispatch(ctx, req, tc)
			if result.FilePath != "" {
				turn.Files = append(turn.Files, result.FilePath)
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.Payload(),
				ToolCallID: tc.ID,
			})
			if result.Blocked {
				count := l.sessions.RecordBlocked(req.UserID)
				if l.callbacks.Notify != nil && result.ForUser != "" {
					l.callbacks.Notify(req.ChatID, result.ForUser)
				}
				if l.sessions.Locked(req.UserID) {
					l.logger.Warn("session locked", "user_id", req.UserID, "blocked_count", count)
					locked = true
				}
			}
		}
		if locked {
			turn.Content = lockedMessage
			l.finish(req, turn, start, "locked")
			return turn, nil
		}
	}

	turn.Content = cappedMessage
	l.commit(req, cappedMessage)
	l.finish(req, turn, start, "capped")
	return turn, nil
}

// dispatch routes one tool call through the registry with the hard
// per-tool timeout. Every failure mode becomes a tool result so the
// model observes it and re-plans.
func (l *Loop) dispatch(ctx context.Context, req Request, tc providers.ToolCall) *tools.Result {
	tool, ok := l.registry.Get(tc.Name)
	if !ok {
		return tools.ErrorResult("unknown tool: " + tc.Name)
	}
	if !tools.Allowed(tc.Name, req.ChatKind) {
		return tools.ErrorResult(tc.Name + " is not available in group chats")
	}

	tctx, cancel := context.WithTimeout(ctx, l.toolTimeout)
	defer cancel()

	tctx, span := tracing.StartSpan(tctx, "tool."+tc.Name)
	defer span.End()

	toolStart := time.Now()
	result := tool.Execute(tctx, &tools.Call{
		UserID:   req.UserID,
		ChatID:   req.ChatID,
		ChatKind: req.ChatKind,
		Args:     tc.Arguments,
	})
	if tctx.Err() == context.DeadlineExceeded {
		result = tools.ErrorResult(fmt.Sprintf("%s timed out after %s", tc.Name, l.toolTimeout))
	}
	result.ForLLM = TrimOutput(result.ForLLM, l.maxToolOutput)

	l.logger.Info("tool call", "user_id", req.UserID, "tool", tc.Name,
		"is_error", result.IsError, "duration", time.Since(toolStart).Round(time.Millisecond))

	if result.ApprovalID != "" && l.callbacks.ShowApproval != nil {
		command, _ := tc.Arguments["command"].(string)
		l.callbacks.ShowApproval(req.ChatID, result.ApprovalID, command, result.ForUser)
	}
	return result
}

// assembleMessages builds the full prompt: system prompt, prior
// session pairs, then the date-stamped user message.
func (l *Loop) assembleMessages(req Request) []providers.Message {
	memory := ""
	if l.notes != nil {
		memory = l.notes.InjectTail(req.UserID)
	}
	system := SystemPrompt(PromptInfo{
		WorkspaceDir: "/workspace",
		Now:          time.Now(),
		ToolNames:    l.registry.Names(),
		Ports:        sandbox.PortWindow(l.portBase, req.UserID),
		MemoryTail:   memory,
	})

	messages := []providers.Message{{Role: "system", Content: system}}
	for _, pair := range l.sessions.History(req.UserID) {
		messages = append(messages,
			providers.Message{Role: "user", Content: pair.User},
			providers.Message{Role: "assistant", Content: pair.Assistant},
		)
	}
	messages = append(messages, providers.Message{Role: "user", Content: StampMessage(req.DisplayName, req.Message, time.Now())})
	return messages
}

func (l *Loop) commit(req Request, finalText string) {
	l.sessions.AppendPair(req.UserID, req.Message, finalText)
	if err := l.sessions.Save(req.UserID); err != nil {
		l.logger.Error("session save failed", "user_id", req.UserID, "error", err)
	}
}

func (l *Loop) finish(req Request, turn *TurnResult, start time.Time, state string) {
	seconds := time.Since(start).Seconds()
	metrics.AgentIterations.Observe(float64(turn.Iterations))
	metrics.AgentTurnSeconds.Observe(seconds)
	if l.events != nil {
		l.events.Broadcast(bus.Now(bus.EventAgent, bus.AgentPayload{
			UserID:     req.UserID,
			Iterations: turn.Iterations,
			Seconds:    seconds,
			State:      state,
		}))
	}
	l.logger.Info("turn finished", "user_id", req.UserID, "state", state,
		"iterations", turn.Iterations, "seconds", strconv.FormatFloat(seconds, 'f', 2, 64))
}
