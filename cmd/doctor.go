package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/sandbotdev/sandbot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("sandbot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults in effect, run: sandbot onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("Telegram token", "SANDBOT_TELEGRAM_TOKEN", cfg.Telegram.Token)
	checkSecret("LLM API key", "SANDBOT_LLM_API_KEY", cfg.Agent.APIKey)
	if cfg.Sessions.Backend == "postgres" {
		checkSecret("Postgres DSN", "SANDBOT_POSTGRES_DSN", cfg.Sessions.PostgresDSN)
	}

	fmt.Println()
	fmt.Println("  Agent:")
	fmt.Printf("    %-12s %s\n", "Model:", cfg.Agent.Model)
	fmt.Printf("    %-12s %s\n", "Endpoint:", cfg.Agent.BaseURL)

	fmt.Println()
	fmt.Println("  Sandbox:")
	if !cfg.Sandbox.Enabled {
		fmt.Printf("    %-12s disabled\n", "Status:")
	} else {
		fmt.Printf("    %-12s %s\n", "Image:", cfg.Sandbox.Image)
		checkBinary("docker")
	}

	if cfg.Sessions.Backend == "postgres" && cfg.Sessions.PostgresDSN != "" {
		fmt.Println()
		fmt.Println("  Database:")
		db, dbErr := sql.Open("pgx", cfg.Sessions.PostgresDSN)
		switch {
		case dbErr != nil:
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", dbErr)
		case db.Ping() != nil:
			fmt.Printf("    %-12s UNREACHABLE\n", "Status:")
			db.Close()
		default:
			fmt.Printf("    %-12s OK\n", "Status:")
			db.Close()
		}
	}

	fmt.Println()
	ws := cfg.WorkspaceRoot()
	fmt.Printf("  Workspace: %s", ws)
	if info, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND — created on first run)")
	} else if !info.IsDir() {
		fmt.Println(" (NOT A DIRECTORY)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, envVar, value string) {
	if value != "" {
		fmt.Printf("    %-16s set (%s)\n", name+":", envVar)
	} else {
		fmt.Printf("    %-16s NOT SET — export %s\n", name+":", envVar)
	}
}

func checkBinary(name string) {
	if path, err := exec.LookPath(name); err == nil {
		fmt.Printf("    %-12s %s\n", name+":", path)
	} else {
		fmt.Printf("    %-12s NOT FOUND in PATH\n", name+":")
	}
}
