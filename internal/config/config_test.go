package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Season.Current != "2526" {
		t.Errorf("Season.Current = %q", cfg.Season.Current)
	}
	if cfg.Sessions.MaxHistory != 40 {
		t.Errorf("MaxHistory = %d", cfg.Sessions.MaxHistory)
	}
	if cfg.Gateway.Port != 8080 {
		t.Errorf("Port = %d", cfg.Gateway.Port)
	}
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
		// comments are allowed in config files
		gateway: { host: "127.0.0.1", port: 9000 },
		season: { current: "2526", cutoff_date: "2025-08-28" },
		sessions: { idle_timeout: "1h" },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REGBOT_MODEL_API_KEY", "sk-test-123")
	t.Setenv("REGBOT_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("Host = %q", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("Port = %d, env override should win over the file", cfg.Gateway.Port)
	}
	if cfg.Model.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q", cfg.Model.APIKey)
	}
	if cfg.Sessions.IdleTimeout != time.Hour {
		t.Errorf("IdleTimeout = %v", cfg.Sessions.IdleTimeout)
	}
}

func TestSecretsNeverSerialize(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "sk-secret"
	cfg.Payment.WebhookSecret = "whsec"

	hashBefore := cfg.Hash()
	cfg.Model.APIKey = "sk-other"
	if cfg.Hash() != hashBefore {
		t.Error("secret fields must not leak into the config hash")
	}
}

func TestCutoffDateFallback(t *testing.T) {
	cfg := Default()
	cfg.Season.CutoffDate = "not-a-date"
	want := time.Date(2025, time.August, 28, 0, 0, 0, 0, time.UTC)
	if !cfg.CutoffDate().Equal(want) {
		t.Errorf("CutoffDate() = %v, want fallback %v", cfg.CutoffDate(), want)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/photos"); got != home+"/photos" {
		t.Errorf("ExpandHome(~/photos) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
}
