package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load with missing file should use defaults: %v", err)
	}

	if cfg.Poll.BaseIntervalSec != 30 {
		t.Errorf("base interval = %d, want 30", cfg.Poll.BaseIntervalSec)
	}
	if cfg.Poll.MaxIntervalSec != 300 {
		t.Errorf("max interval = %d, want 300", cfg.Poll.MaxIntervalSec)
	}
	if cfg.GuardWindow() != 3*time.Second {
		t.Errorf("guard window = %v, want 3s", cfg.GuardWindow())
	}
	if cfg.UndoWindow() != 10*time.Second {
		t.Errorf("undo window = %v, want 10s", cfg.UndoWindow())
	}
	if cfg.Mutation.RollbackOnFailure {
		t.Error("rollback should default to off")
	}
	if cfg.Server.APIPort != 8484 {
		t.Errorf("api port = %d, want 8484", cfg.Server.APIPort)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[poll]
base_interval_sec = 15
max_interval_sec = 120

[mutation]
undo_window_sec = 20
rollback_on_failure = true

[remote]
base_url = "https://mail.example.com"
rate_limit_qps = 10

[[accounts]]
account_id = "acct-1"
schedule = "0 */6 * * *"
enabled = true

[[accounts]]
account_id = "acct-2"
schedule = "0 2 * * *"
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BaseInterval() != 15*time.Second {
		t.Errorf("base interval = %v, want 15s", cfg.BaseInterval())
	}
	if cfg.MaxInterval() != 2*time.Minute {
		t.Errorf("max interval = %v, want 2m", cfg.MaxInterval())
	}
	if !cfg.Mutation.RollbackOnFailure {
		t.Error("rollback_on_failure should be true")
	}
	if cfg.Remote.BaseURL != "https://mail.example.com" {
		t.Errorf("base url = %q", cfg.Remote.BaseURL)
	}

	scheduled := cfg.ScheduledAccounts()
	if len(scheduled) != 1 || scheduled[0].AccountID != "acct-1" {
		t.Errorf("scheduled accounts = %+v, want only acct-1", scheduled)
	}

	// Defaults survive partial config.
	if cfg.GuardWindow() != 3*time.Second {
		t.Errorf("guard window = %v, want default 3s", cfg.GuardWindow())
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[poll\nbroken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestDefaultHomeRespectsEnv(t *testing.T) {
	t.Setenv("POSTA_HOME", "/tmp/posta-test-home")
	if got := DefaultHome(); got != "/tmp/posta-test-home" {
		t.Errorf("DefaultHome = %q", got)
	}
}
