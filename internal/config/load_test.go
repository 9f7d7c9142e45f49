package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"telegram": {"token": "123:abc", "admin_user_ids": [42, 43]},
		"logging": {"level": "debug", "console": true},
		"storage": {"path": "/tmp/bot.db"},
		"delivery": {"rate_per_sec": 25}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Telegram.AdminUserIDs[0] != 42 {
		t.Fatalf("AdminUserIDs = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	if cfg.Delivery.RatePerSec != 25 {
		t.Fatalf("RatePerSec = %d", cfg.Delivery.RatePerSec)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  admin_user_ids: [42]
logging:
  level: warn
announce:
  sweep_every: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
	if got := Duration(cfg.Announce.SweepEvery, 0); got != 30*time.Second {
		t.Fatalf("SweepEvery = %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "t", "admin_user_ids": [1]}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("default Level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.Path == "" {
		t.Fatal("default storage path is empty")
	}
	if cfg.Delivery.RatePerSec != 10 {
		t.Fatalf("default RatePerSec = %d", cfg.Delivery.RatePerSec)
	}
	if Duration(cfg.Announce.SweepEvery, 0) != time.Minute {
		t.Fatalf("default SweepEvery = %q", cfg.Announce.SweepEvery)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json",
		`{"telegram": {"token": "t", "admin_user_ids": [1], "tokne": "typo"}}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRequiresTokenAndAdmins(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "no token", body: `{"telegram": {"admin_user_ids": [1]}}`, want: "token"},
		{name: "no admins", body: `{"telegram": {"token": "t"}}`, want: "admin_user_ids"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.json", tt.body)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	if got := Duration("500ms", time.Second); got != 500*time.Millisecond {
		t.Fatalf("Duration = %v", got)
	}
	if got := Duration("", time.Second); got != time.Second {
		t.Fatalf("empty fallback = %v", got)
	}
	if got := Duration("bogus", 2*time.Second); got != 2*time.Second {
		t.Fatalf("malformed fallback = %v", got)
	}
}
