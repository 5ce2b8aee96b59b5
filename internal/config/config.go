package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
)

// Config is the root configuration for the sandbot gateway.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Agent     AgentConfig     `json:"agent"`
	Workspace WorkspaceConfig `json:"workspace"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Access    AccessConfig    `json:"access"`
	Security  SecurityConfig  `json:"security"`
	Limits    LimitsConfig    `json:"limits"`
	Sessions  SessionsConfig  `json:"sessions"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// TelegramConfig configures the chat surface.
// Token is NEVER read from the config file — only from env SANDBOT_TELEGRAM_TOKEN.
type TelegramConfig struct {
	Token         string `json:"-"`
	GroupMention  bool   `json:"group_mention"`  // require @mention in groups
	ReactionLevel string `json:"reaction_level"` // "full" or "off"
}

// AgentConfig configures the model loop.
// APIKey comes from env SANDBOT_LLM_API_KEY only.
type AgentConfig struct {
	BaseURL           string  `json:"base_url"` // OpenAI-compatible proxy endpoint
	APIKey            string  `json:"-"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxIterations     int     `json:"max_iterations"`
	ToolTimeoutSec    int     `json:"tool_timeout_sec"`
	MaxSessionPairs   int     `json:"max_session_pairs"`
	MaxToolOutput     int     `json:"max_tool_output"`
	MaxBlockedPerSess int     `json:"max_blocked_commands"`
	MemoryInjectChars int     `json:"memory_inject_chars"`
}

// WorkspaceConfig describes the host directory layout.
type WorkspaceConfig struct {
	Root            string `json:"root"`               // parent of all user workspaces
	SoftLimitMB     int    `json:"soft_limit_mb"`      // reported, not enforced
	ActivityLogging bool   `json:"activity_logging"`   // append to <root>/_shared/activity.md
}

// SandboxConfig configures the per-user container manager.
type SandboxConfig struct {
	Enabled           bool   `json:"enabled"`
	Image             string `json:"image"`
	PortBase          int    `json:"port_base"`
	CommandTimeoutSec int    `json:"command_timeout_sec"`
	InactivityTTLMin  int    `json:"inactivity_ttl_min"`
	SweepSchedule     string `json:"sweep_schedule"` // cron expression
	MemoryMB          int    `json:"memory_mb"`
	CPUs              float64 `json:"cpus"`
	PidsLimit         int    `json:"pids_limit"`
	AllowHostFallback bool   `json:"allow_host_fallback"` // degraded mode; off by default
}

// AccessConfig seeds the access controller. The runtime-mutable state
// lives in the referenced files.
type AccessConfig struct {
	ConfigPath  string `json:"config_path"`  // hot-read access file
	PairingPath string `json:"pairing_path"` // approved users from pairing mode
	AdminID     int64  `json:"admin_id"`
	Mode        string `json:"mode"`
}

// SecurityConfig points at the operator-editable pattern overrides.
type SecurityConfig struct {
	PatternsPath string `json:"patterns_path"`
}

// LimitsConfig bounds concurrency and outbound send pacing.
type LimitsConfig struct {
	MaxConcurrentUsers  int `json:"max_concurrent_users"`
	GlobalSendIntervalMS int `json:"global_send_interval_ms"`
	GroupSendIntervalSec int `json:"group_send_interval_sec"`
	SendRetries          int `json:"send_retries"`
}

// SessionsConfig selects the persistence backend.
// PostgresDSN comes from env SANDBOT_POSTGRES_DSN only.
type SessionsConfig struct {
	Backend     string `json:"backend"` // "file" (default) or "postgres"
	Storage     string `json:"storage"` // directory for the file backend
	PostgresDSN string `json:"-"`
}

// GatewayConfig configures the operator HTTP/WS surface.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoggingConfig configures the rotated file sink.
type LoggingConfig struct {
	Level      string `json:"level"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Validate checks cross-field constraints that Unmarshal cannot.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if !filepath.IsAbs(ExpandHome(c.Workspace.Root)) {
		return fmt.Errorf("workspace.root must be absolute, got %q", c.Workspace.Root)
	}
	if c.Sandbox.SweepSchedule != "" {
		if !gronx.New().IsValid(c.Sandbox.SweepSchedule) {
			return fmt.Errorf("sandbox.sweep_schedule %q is not a valid cron expression", c.Sandbox.SweepSchedule)
		}
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Sessions.Backend == "postgres" && c.Sessions.PostgresDSN == "" {
		return fmt.Errorf("sessions.backend is postgres but SANDBOT_POSTGRES_DSN is not set")
	}
	return nil
}

// WorkspaceRoot returns the expanded workspace root.
func (c *Config) WorkspaceRoot() string {
	return ExpandHome(c.Workspace.Root)
}

// ToolTimeout returns the per-tool timeout as a duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Agent.ToolTimeoutSec) * time.Second
}

// SandboxTTL returns the container inactivity TTL as a duration.
func (c *Config) SandboxTTL() time.Duration {
	return time.Duration(c.Sandbox.InactivityTTLMin) * time.Minute
}
