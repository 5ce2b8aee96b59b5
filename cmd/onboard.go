package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sandbotdev/sandbot/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard, writes config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite it?", cfgPath)).
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping the existing config.")
			return nil
		}
	}

	cfg := config.Default()

	adminID := ""
	mode := cfg.Access.Mode
	model := cfg.Agent.Model
	baseURL := cfg.Agent.BaseURL
	workspace := cfg.Workspace.Root
	sandboxOn := cfg.Sandbox.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Your Telegram user ID (the admin)").
				Description("Message @userinfobot on Telegram to find it.").
				Value(&adminID).
				Validate(func(s string) error {
					if _, err := strconv.ParseInt(s, 10, 64); err != nil {
						return fmt.Errorf("must be a numeric Telegram user id")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Who may talk to the bot?").
				Options(
					huh.NewOption("Only me", "admin_only"),
					huh.NewOption("An allowlist I manage", "allowlist"),
					huh.NewOption("Anyone with a pairing code", "pairing"),
					huh.NewOption("Everyone (public)", "public"),
				).
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Model").
				Value(&model),
			huh.NewInput().
				Title("OpenAI-compatible endpoint").
				Value(&baseURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace root").
				Description("Parent directory of all per-user workspaces.").
				Value(&workspace),
			huh.NewConfirm().
				Title("Run commands in Docker sandboxes?").
				Description("Requires a reachable Docker daemon.").
				Value(&sandboxOn),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Access.AdminID, _ = strconv.ParseInt(adminID, 10, 64)
	cfg.Access.Mode = mode
	cfg.Agent.Model = model
	cfg.Agent.BaseURL = baseURL
	cfg.Workspace.Root = workspace
	cfg.Sandbox.Enabled = sandboxOn

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}

	fmt.Println()
	fmt.Printf("✅ Wrote %s\n", cfgPath)
	fmt.Println()
	fmt.Println("Secrets are read from the environment only:")
	fmt.Println("  export SANDBOT_TELEGRAM_TOKEN=...   # from @BotFather")
	fmt.Println("  export SANDBOT_LLM_API_KEY=...")
	fmt.Println()
	fmt.Println("Then start the bot:  sandbot serve")
	return nil
}
