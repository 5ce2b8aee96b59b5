package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandbotdev/sandbot/internal/access"
	"github.com/sandbotdev/sandbot/internal/activity"
	"github.com/sandbotdev/sandbot/internal/agent"
	"github.com/sandbotdev/sandbot/internal/approval"
	"github.com/sandbotdev/sandbot/internal/bus"
	"github.com/sandbotdev/sandbot/internal/channels"
	"github.com/sandbotdev/sandbot/internal/channels/telegram"
	"github.com/sandbotdev/sandbot/internal/config"
	"github.com/sandbotdev/sandbot/internal/gateway"
	"github.com/sandbotdev/sandbot/internal/logging"
	"github.com/sandbotdev/sandbot/internal/providers"
	"github.com/sandbotdev/sandbot/internal/sandbox"
	"github.com/sandbotdev/sandbot/internal/security"
	"github.com/sandbotdev/sandbot/internal/sessions"
	"github.com/sandbotdev/sandbot/internal/store"
	"github.com/sandbotdev/sandbot/internal/store/file"
	"github.com/sandbotdev/sandbot/internal/store/pg"
	"github.com/sandbotdev/sandbot/internal/tools"
	"github.com/sandbotdev/sandbot/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the operator gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging)
	slog.Info("sandbot starting", "version", Version, "config", cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}

	workspaceRoot := cfg.WorkspaceRoot()
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		slog.Error("cannot create workspace root", "path", workspaceRoot, "error", err)
		os.Exit(1)
	}

	events := bus.New()

	// Security core. The pattern library hot-reloads its override file,
	// so every layer sees operator edits without a restart.
	lib := security.NewLibrary(config.ExpandHome(cfg.Security.PatternsPath))
	classifier := security.NewClassifier(lib, workspaceRoot)
	sanitizer := security.NewSanitizer(lib)
	guard := security.NewPathGuard(lib, workspaceRoot)
	injection := security.NewInjectionDetector(lib)

	accessCtl := access.New(
		config.ExpandHome(cfg.Access.ConfigPath),
		config.ExpandHome(cfg.Access.PairingPath),
		cfg.Access.AdminID,
		access.Mode(cfg.Access.Mode),
	)

	approvals := approval.NewQueue()
	questions := approval.NewQuestions()

	// Sandbox manager. A missing container runtime degrades the exec
	// tool rather than killing the process.
	var sb *sandbox.Manager
	if cfg.Sandbox.Enabled {
		sb, err = sandbox.NewManager(ctx, cfg.Sandbox, cfg.Workspace, events)
		if err != nil {
			slog.Warn("sandbox unavailable, commands degraded", "error", err)
			sb = nil
		} else {
			go sb.StartSweeper(ctx)
		}
	}

	// Session persistence.
	var sessionStore store.SessionStore
	switch cfg.Sessions.Backend {
	case "", "file":
		sessionStore = file.NewSessionStore(
			config.ExpandHome(cfg.Sessions.Storage),
			cfg.Agent.MaxSessionPairs,
			cfg.Agent.MaxBlockedPerSess,
		)
	case "postgres":
		stores, err := pg.NewStores(cfg.Sessions.PostgresDSN, cfg.Agent.MaxSessionPairs, cfg.Agent.MaxBlockedPerSess)
		if err != nil {
			slog.Error("postgres session store failed", "error", err)
			os.Exit(1)
		}
		sessionStore = stores.Sessions
	default:
		slog.Error("unknown sessions backend", "backend", cfg.Sessions.Backend)
		os.Exit(1)
	}

	notes := sessions.NewNotes(workspaceRoot, cfg.Agent.MemoryInjectChars)
	act := activity.New(workspaceRoot, cfg.Workspace.ActivityLogging)

	// Tool surface. The telegram channel is created after the loop, so
	// callbacks that reach it go through closures over this variable.
	var tg *telegram.Channel

	exec := tools.NewExecTool(classifier, sanitizer, sb, approvals, act, workspaceRoot, cfg.Sandbox.AllowHostFallback)

	registry := tools.NewRegistry()
	registry.Register(exec)
	for _, t := range tools.NewFileTools(guard, sanitizer, act) {
		registry.Register(t)
	}
	registry.Register(tools.NewSearchFilesTool(guard))
	registry.Register(tools.NewSearchTextTool(guard, sanitizer))
	registry.Register(tools.NewFetchPageTool(lib, sanitizer))
	registry.Register(tools.NewSearchWebTool())
	registry.Register(tools.NewMemoryTool(notes))
	registry.Register(tools.NewSendFileTool(guard, act))
	registry.Register(tools.NewAskUserTool(questions, func(chatID int64, pq *approval.PendingQuestion) {
		if tg != nil {
			tg.PresentQuestion(chatID, pq)
		}
	}))

	provider := providers.NewClient(cfg.Agent)

	loop := agent.NewLoop(agent.Options{
		Provider: provider,
		Registry: registry,
		Sessions: sessionStore,
		Notes:    notes,
		Events:   events,
		Callbacks: agent.Callbacks{
			ShowApproval: func(chatID int64, approvalID, command, reason string) {
				if tg != nil {
					tg.ShowApproval(chatID, approvalID, command, reason)
				}
			},
			Notify: func(chatID int64, text string) {
				if tg != nil {
					tg.Notify(chatID, text)
				}
			},
		},
		WorkspaceRoot: workspaceRoot,
		PortBase:      cfg.Sandbox.PortBase,
		Agent:         cfg.Agent,
	})

	tg, err = telegram.New(telegram.Options{
		Config:    cfg.Telegram,
		Access:    accessCtl,
		Injection: injection,
		Admission: channels.NewAdmission(cfg.Limits.MaxConcurrentUsers),
		Gate:      channels.NewSendGate(cfg.Limits),
		Agent:     loop,
		Approvals: approvals,
		Questions: questions,
		Exec:      exec,
		Sessions:  sessionStore,
		Sandbox:   sb,
		Events:    events,

		WorkspaceRoot: workspaceRoot,
	})
	if err != nil {
		slog.Error("telegram channel failed", "error", err)
		os.Exit(1)
	}

	gw := gateway.NewServer(cfg.Gateway, events)
	go func() {
		if err := gw.Start(ctx); err != nil {
			slog.Error("gateway stopped", "error", err)
		}
	}()

	// Watch the operator-editable files; the pattern library reloads on
	// its own mtime check, touching Current() just surfaces parse errors
	// in the log right away instead of on the next command.
	go config.Watch(ctx, []string{
		cfg.Security.PatternsPath,
		cfg.Access.ConfigPath,
	}, func(path string) {
		lib.Current()
	})

	if err := tg.Start(ctx); err != nil {
		slog.Error("telegram start failed", "error", err)
		os.Exit(1)
	}

	slog.Info("sandbot ready")
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tg.Stop(shutdownCtx)
	if sb != nil {
		sb.Shutdown(shutdownCtx)
	}
	if err := sessionStore.Close(); err != nil {
		slog.Warn("session store close failed", "error", err)
	}
	if traceShutdown != nil {
		traceShutdown(shutdownCtx)
	}
	slog.Info("goodbye")
}
