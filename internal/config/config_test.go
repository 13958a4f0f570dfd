package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.TempBanDuration != 72*time.Hour {
		t.Fatalf("TempBanDuration = %v, want 72h", cfg.TempBanDuration)
	}
	if cfg.PollInterval != time.Second {
		t.Fatalf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.Ops.Enabled {
		t.Fatal("ops listener should default off")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("BLACKLIST_TEMP_BAN", "24h")
	t.Setenv("SUBREDDITS", "r/Pics, aww ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want normalized warn", cfg.LogLevel)
	}
	if cfg.TempBanDuration != 24*time.Hour {
		t.Fatalf("TempBanDuration = %v, want 24h", cfg.TempBanDuration)
	}
	if len(cfg.Subreddits) != 2 || cfg.Subreddits[0] != "pics" || cfg.Subreddits[1] != "aww" {
		t.Fatalf("Subreddits = %v, want normalized [pics aww]", cfg.Subreddits)
	}
}

func TestLoad_YAMLOverlayWithEnvWinning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	yaml := "log_level: debug\ntemp_ban_duration: 12h\nops:\n  enabled: true\n  addr: \"127.0.0.1:9999\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("BOT_CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "error") // env beats yaml

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("LogLevel = %q, want env override error", cfg.LogLevel)
	}
	if cfg.TempBanDuration != 12*time.Hour {
		t.Fatalf("TempBanDuration = %v, want yaml 12h", cfg.TempBanDuration)
	}
	if !cfg.Ops.Enabled || cfg.Ops.Addr != "127.0.0.1:9999" {
		t.Fatalf("Ops = %+v, want yaml values", cfg.Ops)
	}
}

func TestLoad_RejectsBadLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "shouting")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "-3s")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for negative poll interval")
	}
}
