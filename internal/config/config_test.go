package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLAN_STORE_URL", "")
	t.Setenv("PLAN_STORE_STUB", "")
	t.Setenv("SWEEP_SCHEDULE", "")
	t.Setenv("APPLY_TIMEOUT", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.SweepSchedule != "@every 1m" {
		t.Errorf("expected default sweep schedule, got %s", cfg.SweepSchedule)
	}
	if cfg.ApplyTimeout != 10*time.Second {
		t.Errorf("expected 10s apply timeout, got %s", cfg.ApplyTimeout)
	}
	if !cfg.PlanStoreStub {
		t.Errorf("expected stub mode when PLAN_STORE_URL is unset")
	}
	if cfg.PendingTTL != 0 {
		t.Errorf("expected pending TTL disabled by default, got %s", cfg.PendingTTL)
	}
	if cfg.SweepConcurrency != 4 {
		t.Errorf("expected sweep concurrency 4, got %d", cfg.SweepConcurrency)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PLAN_STORE_URL", "http://plans.internal")
	t.Setenv("APPLY_TIMEOUT", "3s")
	t.Setenv("APPLY_RETRY_BACKOFF", "90s")
	t.Setenv("SWEEP_BATCH_SIZE", "50")
	t.Setenv("STREAMS_ENABLED", "false")
	t.Setenv("MODE", "Worker")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg := Load()

	if cfg.PlanStoreStub {
		t.Errorf("expected live plan store when URL is set")
	}
	if cfg.ApplyTimeout != 3*time.Second {
		t.Errorf("expected 3s apply timeout, got %s", cfg.ApplyTimeout)
	}
	if cfg.ApplyRetryBackoff != 90*time.Second {
		t.Errorf("expected 90s backoff, got %s", cfg.ApplyRetryBackoff)
	}
	if cfg.SweepBatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.SweepBatchSize)
	}
	if cfg.StreamsEnabled {
		t.Errorf("expected streams disabled")
	}
	if cfg.Mode != "worker" {
		t.Errorf("expected mode to be lower-cased, got %s", cfg.Mode)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SWEEP_BATCH_SIZE", "many")
	t.Setenv("APPLY_TIMEOUT", "soon")

	cfg := Load()

	if cfg.SweepBatchSize != 200 {
		t.Errorf("expected fallback batch size 200, got %d", cfg.SweepBatchSize)
	}
	if cfg.ApplyTimeout != 10*time.Second {
		t.Errorf("expected fallback timeout, got %s", cfg.ApplyTimeout)
	}
}
