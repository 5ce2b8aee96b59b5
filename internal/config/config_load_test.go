package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 30 {
		t.Errorf("MaxIterations = %d, want default 30", cfg.Agent.MaxIterations)
	}
	if cfg.Sandbox.MemoryMB != 512 || cfg.Sandbox.PidsLimit != 100 {
		t.Errorf("sandbox limits = %d MB / %d pids, want 512 / 100", cfg.Sandbox.MemoryMB, cfg.Sandbox.PidsLimit)
	}
	if cfg.Limits.GlobalSendIntervalMS != 200 || cfg.Limits.GroupSendIntervalSec != 5 {
		t.Errorf("send intervals = %dms / %ds, want 200 / 5", cfg.Limits.GlobalSendIntervalMS, cfg.Limits.GroupSendIntervalSec)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// operator notes are allowed here
		agent: {model: "glm-4.7", max_iterations: 12},
		sandbox: {port_base: 45000},
		workspace: {root: "/srv/sandbot/workspace"},
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "glm-4.7" {
		t.Errorf("Model = %q, want file value", cfg.Agent.Model)
	}
	if cfg.Agent.MaxIterations != 12 {
		t.Errorf("MaxIterations = %d, want 12", cfg.Agent.MaxIterations)
	}
	if cfg.Sandbox.PortBase != 45000 {
		t.Errorf("PortBase = %d, want 45000", cfg.Sandbox.PortBase)
	}
	// Untouched sections keep defaults.
	if cfg.Sandbox.MemoryMB != 512 {
		t.Errorf("MemoryMB = %d, want default 512", cfg.Sandbox.MemoryMB)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{agent: {model: "from-file"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SANDBOT_MODEL", "from-env")
	t.Setenv("SANDBOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("SANDBOT_ADMIN_ID", "777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "from-env" {
		t.Errorf("Model = %q, env should win", cfg.Agent.Model)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Token not taken from env")
	}
	if cfg.Access.AdminID != 777 {
		t.Errorf("AdminID = %d, want 777", cfg.Access.AdminID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"empty root", func(c *Config) { c.Workspace.Root = "" }, true},
		{"relative root", func(c *Config) { c.Workspace.Root = "workspace" }, true},
		{"bad cron", func(c *Config) { c.Sandbox.SweepSchedule = "whenever" }, true},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, true},
		{"postgres without dsn", func(c *Config) { c.Sessions.Backend = "postgres" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
