// Package telegram connects the agent to the Telegram Bot API using
// long polling. It is the only chat surface; every security decision
// the core makes surfaces here as a reply, a reaction or a button.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"

	"github.com/sandbotdev/sandbot/internal/access"
	"github.com/sandbotdev/sandbot/internal/agent"
	"github.com/sandbotdev/sandbot/internal/approval"
	"github.com/sandbotdev/sandbot/internal/bus"
	"github.com/sandbotdev/sandbot/internal/channels"
	"github.com/sandbotdev/sandbot/internal/config"
	"github.com/sandbotdev/sandbot/internal/sandbox"
	"github.com/sandbotdev/sandbot/internal/security"
	"github.com/sandbotdev/sandbot/internal/store"
	"github.com/sandbotdev/sandbot/internal/tools"
)

// Channel is the Telegram connection.
type Channel struct {
	bot    *telego.Bot
	config config.TelegramConfig

	access    *access.Controller
	injection *security.InjectionDetector
	admission *channels.Admission
	gate      *channels.SendGate
	agent     *agent.Loop
	approvals *approval.Queue
	questions *approval.Questions
	exec      *tools.ExecTool
	sessions  store.SessionStore
	sandbox   *sandbox.Manager
	events    bus.EventPublisher
	workspace string

	logger     *slog.Logger
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// Options wires the channel to the rest of the runtime. Sandbox may be
// nil (host-fallback deployments); everything else is required.
type Options struct {
	Config    config.TelegramConfig
	Access    *access.Controller
	Injection *security.InjectionDetector
	Admission *channels.Admission
	Gate      *channels.SendGate
	Agent     *agent.Loop
	Approvals *approval.Queue
	Questions *approval.Questions
	Exec      *tools.ExecTool
	Sessions  store.SessionStore
	Sandbox   *sandbox.Manager
	Events    bus.EventPublisher

	// WorkspaceRoot is the parent of all per-user workspaces, for the
	// /status size report.
	WorkspaceRoot string
}

func New(opts Options) (*Channel, error) {
	if opts.Config.Token == "" {
		return nil, fmt.Errorf("telegram token is not set (SANDBOT_TELEGRAM_TOKEN)")
	}
	bot, err := telego.NewBot(opts.Config.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		bot:       bot,
		config:    opts.Config,
		access:    opts.Access,
		injection: opts.Injection,
		admission: opts.Admission,
		gate:      opts.Gate,
		agent:     opts.Agent,
		approvals: opts.Approvals,
		questions: opts.Questions,
		exec:      opts.Exec,
		sessions:  opts.Sessions,
		sandbox:   opts.Sandbox,
		events:    opts.Events,
		workspace: opts.WorkspaceRoot,
		logger:    slog.With("component", "telegram"),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.logger.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					c.logger.Info("telegram updates channel closed")
					return
				}
				switch {
				case update.Message != nil:
					go c.handleMessage(pollCtx, update.Message)
				case update.CallbackQuery != nil:
					go c.handleCallbackQuery(pollCtx, update.CallbackQuery)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine so that
// Telegram releases the getUpdates lock before a restart.
func (c *Channel) Stop(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			c.logger.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	c.logger.Info("telegram bot stopped")
	return nil
}
