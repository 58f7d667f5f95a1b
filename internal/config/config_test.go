package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TickInterval != time.Minute {
		t.Fatalf("TickInterval = %v, want %v", cfg.TickInterval, time.Minute)
	}
	if cfg.RoundCompletionHour != 22 {
		t.Fatalf("RoundCompletionHour = %d, want 22", cfg.RoundCompletionHour)
	}
	if cfg.PermissionsRef != "main" {
		t.Fatalf("PermissionsRef = %q, want main", cfg.PermissionsRef)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("KafkaBrokers = %v, want empty", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GOVERNOR_TICK_INTERVAL", "15s")
	t.Setenv("GOVERNOR_PATCH_RETRIES", "0")
	t.Setenv("GOVERNOR_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.TickInterval != 15*time.Second {
		t.Fatalf("TickInterval = %v, want 15s", cfg.TickInterval)
	}
	if cfg.PatchRetries != 1 {
		t.Fatalf("PatchRetries = %d, want 1", cfg.PatchRetries)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestLoadRejectsBadCompletionHour(t *testing.T) {
	t.Setenv("GOVERNOR_ROUND_COMPLETION_HOUR", "24")
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for hour 24")
	}
}
