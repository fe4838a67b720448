package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.OutageShutdown != 5*time.Minute {
		t.Fatalf("db.outage_shutdown = %v, want 5m", cfg.DB.OutageShutdown)
	}
	if cfg.Scheduler.TickIntervalSeconds != 60 || cfg.Scheduler.TickDeadlineFactor != 5 {
		t.Fatalf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Webhook.RequestTimeoutSeconds != 10 || cfg.Webhook.MaxRetries != 3 {
		t.Fatalf("webhook defaults = %+v", cfg.Webhook)
	}
	src, ok := cfg.Source["stockx"]
	if !ok || src.Kind != "resale" || src.Reliability != 95 {
		t.Fatalf("stockx source defaults = %+v", src)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := base
	cfg.DB.OutageShutdown = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero outage window should fail validation")
	}

	cfg = base
	cfg.Scheduler.WorkerPoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero worker pool should fail validation")
	}

	cfg = base
	src := cfg.Source["stockx"]
	src.Kind = "barter"
	cfg.Source = map[string]SourceConfig{"stockx": src}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown source kind should fail validation")
	}
}
