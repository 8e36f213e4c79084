package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Addr)
	}
	if cfg.DeliveryConcurrency != 10 || cfg.RetryConcurrency != 5 {
		t.Errorf("concurrency = %d/%d, want 10/5", cfg.DeliveryConcurrency, cfg.RetryConcurrency)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.Retention() != 30*24*time.Hour {
		t.Errorf("retention = %v, want 720h", cfg.Retention())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("DELIVERY_CONCURRENCY", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("addr = %q, want :9999", cfg.Addr)
	}
	if cfg.DeliveryConcurrency != 3 {
		t.Errorf("delivery concurrency = %d, want 3", cfg.DeliveryConcurrency)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"zero concurrency", func(c *Config) { c.DeliveryConcurrency = 0 }, true},
		{"cleanup hour out of range", func(c *Config) { c.CleanupHour = 24 }, true},
		{"zero retention", func(c *Config) { c.RetentionDays = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
