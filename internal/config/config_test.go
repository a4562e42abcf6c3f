package config_test

import (
	"strings"
	"testing"
	"time"

	"roomwatch/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"defaults", func(c *config.Config) {}, ""},
		{"drop oldest", func(c *config.Config) { c.Engine.BackpressurePolicy = config.PolicyDropOldest }, ""},
		{"unknown policy", func(c *config.Config) { c.Engine.BackpressurePolicy = "shed" }, "BACKPRESSURE_POLICY"},
		{"unknown transport", func(c *config.Config) { c.Transport.Kind = "amqp" }, "TRANSPORT_KIND"},
		{"no workers", func(c *config.Config) { c.Engine.WorkerPoolSize = 0 }, "WORKER_POOL_SIZE"},
		{"negative window", func(c *config.Config) { c.Engine.DedupeWindowSeconds = -1 }, "DEDUPE_WINDOW_SECONDS"},
		{"zero window", func(c *config.Config) { c.Engine.DedupeWindowSeconds = 0 }, ""},
		{"bad key length", func(c *config.Config) { c.PhoneEncryptionKey = "short" }, "PHONE_ENCRYPTION_KEY"},
		{"aes-256 key", func(c *config.Config) { c.PhoneEncryptionKey = strings.Repeat("k", 32) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "3")
	t.Setenv("BACKPRESSURE_POLICY", "drop_oldest")
	t.Setenv("DEDUPE_WINDOW_SECONDS", "60")
	t.Setenv("SYSTEM_RULES_ENABLED", "false")
	t.Setenv("TRANSPORT_KIND", "kafka")
	t.Setenv("TRANSPORT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRANSPORT_ALERT_FEED_TOPIC", "alerts")
	t.Setenv("ENABLED_CHANNELS", "email,sms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("INFLUX_URL", "http://localhost:8086")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.WorkerPoolSize != 3 || cfg.Engine.BackpressurePolicy != config.PolicyDropOldest {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.DedupeWindow() != time.Minute || cfg.Engine.SystemRulesEnabled {
		t.Errorf("dedupe = %v, system rules = %v", cfg.Engine.DedupeWindow(), cfg.Engine.SystemRulesEnabled)
	}
	if cfg.Transport.Kind != "kafka" || len(cfg.Transport.KafkaBrokers) != 2 || cfg.Transport.AlertFeedTopic != "alerts" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Transport.AlertFeedCompression != "snappy" || cfg.Transport.AlertFeedMaxRetries != 3 {
		t.Errorf("alert feed defaults = %+v", cfg.Transport)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.RuleCacheTTL != 30*time.Second {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Influx.URL != "http://localhost:8086" || cfg.Influx.Bucket != "telemetry" {
		t.Errorf("influx = %+v", cfg.Influx)
	}
	if len(cfg.Notify.EnabledChannels) != 2 || cfg.Notify.EnabledChannels[1] != "sms" {
		t.Errorf("channels = %v", cfg.Notify.EnabledChannels)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("BACKPRESSURE_POLICY", "random")

	if _, err := config.Load(); err == nil {
		t.Error("Load() should reject an unknown policy")
	}
}
