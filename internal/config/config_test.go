package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("unexpected default address %q", cfg.HTTPAddress)
	}
	if cfg.OutboxPollInterval != 2*time.Second {
		t.Fatalf("unexpected default poll interval %v", cfg.OutboxPollInterval)
	}
	if cfg.OutboxBatchSize != 25 {
		t.Fatalf("unexpected default batch size %d", cfg.OutboxBatchSize)
	}
	if cfg.NormalizedRoot != "normalized" {
		t.Fatalf("unexpected default normalized root %q", cfg.NormalizedRoot)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka:9092" {
		t.Fatalf("unexpected default brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9999")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("OUTBOX_BATCH_SIZE", "7")
	t.Setenv("NORMALIZED_ROOT", "/var/soa/normalized")

	cfg := Load()

	if cfg.HTTPAddress != ":9999" {
		t.Fatalf("address override not applied: %q", cfg.HTTPAddress)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "a:9092" || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers not split and trimmed: %v", cfg.KafkaBrokers)
	}
	if cfg.OutboxPollInterval != 500*time.Millisecond {
		t.Fatalf("poll interval override not applied: %v", cfg.OutboxPollInterval)
	}
	if cfg.OutboxBatchSize != 7 {
		t.Fatalf("batch size override not applied: %d", cfg.OutboxBatchSize)
	}
	if cfg.NormalizedRoot != "/var/soa/normalized" {
		t.Fatalf("normalized root override not applied: %q", cfg.NormalizedRoot)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")
	t.Setenv("OUTBOX_BATCH_SIZE", "many")

	cfg := Load()

	if cfg.OutboxPollInterval != 2*time.Second {
		t.Fatalf("malformed duration should fall back, got %v", cfg.OutboxPollInterval)
	}
	if cfg.OutboxBatchSize != 25 {
		t.Fatalf("malformed int should fall back, got %d", cfg.OutboxBatchSize)
	}
}
