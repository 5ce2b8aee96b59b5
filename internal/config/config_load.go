package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			GroupMention:  true,
			ReactionLevel: "full",
		},
		Agent: AgentConfig{
			BaseURL:           "http://localhost:8000/v1",
			Model:             "glm-4.6",
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxIterations:     30,
			ToolTimeoutSec:    120,
			MaxSessionPairs:   20,
			MaxToolOutput:     12000,
			MaxBlockedPerSess: 5,
			MemoryInjectChars: 4000,
		},
		Workspace: WorkspaceConfig{
			Root:            "~/.sandbot/workspace",
			SoftLimitMB:     500,
			ActivityLogging: true,
		},
		Sandbox: SandboxConfig{
			Enabled:           true,
			Image:             "sandbot-sandbox:latest",
			PortBase:          40000,
			CommandTimeoutSec: 120,
			InactivityTTLMin:  30,
			SweepSchedule:     "*/5 * * * *",
			MemoryMB:          512,
			CPUs:              0.5,
			PidsLimit:         100,
		},
		Access: AccessConfig{
			ConfigPath:  "~/.sandbot/access.json",
			PairingPath: "~/.sandbot/pairing.json",
			Mode:        "admin_only",
		},
		Security: SecurityConfig{
			PatternsPath: "~/.sandbot/patterns.json",
		},
		Limits: LimitsConfig{
			MaxConcurrentUsers:   10,
			GlobalSendIntervalMS: 200,
			GroupSendIntervalSec: 5,
			SendRetries:          3,
		},
		Sessions: SessionsConfig{
			Backend: "file",
			Storage: "~/.sandbot/sessions",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18890,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Secrets live in env only.
	envStr("SANDBOT_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("SANDBOT_LLM_API_KEY", &c.Agent.APIKey)
	envStr("SANDBOT_POSTGRES_DSN", &c.Sessions.PostgresDSN)

	envStr("SANDBOT_LLM_BASE_URL", &c.Agent.BaseURL)
	envStr("SANDBOT_MODEL", &c.Agent.Model)

	envStr("SANDBOT_WORKSPACE", &c.Workspace.Root)
	envStr("SANDBOT_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("SANDBOT_SESSIONS_BACKEND", &c.Sessions.Backend)

	if v := os.Getenv("SANDBOT_ADMIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			c.Access.AdminID = id
		}
	}
	envStr("SANDBOT_ACCESS_MODE", &c.Access.Mode)

	envBool("SANDBOT_SANDBOX_ENABLED", &c.Sandbox.Enabled)
	envStr("SANDBOT_SANDBOX_IMAGE", &c.Sandbox.Image)
	envInt("SANDBOT_SANDBOX_PORT_BASE", &c.Sandbox.PortBase)
	envInt("SANDBOT_SANDBOX_MEMORY_MB", &c.Sandbox.MemoryMB)
	envInt("SANDBOT_SANDBOX_TTL_MIN", &c.Sandbox.InactivityTTLMin)
	envBool("SANDBOT_SANDBOX_HOST_FALLBACK", &c.Sandbox.AllowHostFallback)

	envStr("SANDBOT_GATEWAY_HOST", &c.Gateway.Host)
	envInt("SANDBOT_GATEWAY_PORT", &c.Gateway.Port)

	envStr("SANDBOT_LOG_LEVEL", &c.Logging.Level)
	envStr("SANDBOT_LOG_FILE", &c.Logging.File)

	envBool("SANDBOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("SANDBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SANDBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("SANDBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
