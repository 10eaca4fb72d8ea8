package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.HoldDuration != 120*time.Second {
		t.Fatalf("HoldDuration = %v, want 2m", cfg.HoldDuration)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("SweepInterval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.ReserveRateLimit != 50 {
		t.Fatalf("ReserveRateLimit = %d, want 50", cfg.ReserveRateLimit)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("KafkaBrokers = %v, want [localhost:9092]", cfg.KafkaBrokers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HOLD_DURATION_SEC", "45")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.HoldDuration != 45*time.Second {
		t.Fatalf("HoldDuration = %v, want 45s", cfg.HoldDuration)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("KafkaBrokers = %v, want two trimmed brokers", cfg.KafkaBrokers)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("RedisDB = %d, want 3", cfg.RedisDB)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"HOLD_DURATION_SEC":  "0",
		"SWEEP_INTERVAL_SEC": "-5",
		"RESERVE_RATE_LIMIT": "abc",
		"REDIS_DB":           "not-an-int",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%q accepted, want error", key, val)
			}
		})
	}
}
