package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.StreamURL != "ws://localhost:8080/api/v1" {
		t.Errorf("expected derived stream url, got %q", cfg.StreamURL)
	}
	if cfg.ReconnectBase != 3*time.Second {
		t.Errorf("expected 3s reconnect base, got %s", cfg.ReconnectBase)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CHAT_BASE_URL", "https://chat.example.com/api/v1")
	t.Setenv("CHAT_STORE", "redis")
	t.Setenv("CHAT_MAX_RETRIES", "9")
	t.Setenv("CHAT_RECONNECT_MAX", "1m")
	t.Setenv("CHAT_PING_INTERVAL", "not-a-duration")
	t.Setenv("CHAT_SEND_LIMIT", "0")

	cfg := FromEnv(Default())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.BaseURL != "https://chat.example.com/api/v1" {
		t.Errorf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.StreamURL != "wss://chat.example.com/api/v1" {
		t.Errorf("unexpected stream url %q", cfg.StreamURL)
	}
	if cfg.Store != StoreRedis {
		t.Errorf("expected redis store, got %q", cfg.Store)
	}
	if cfg.MaxRetries != 9 {
		t.Errorf("expected 9 retries, got %d", cfg.MaxRetries)
	}
	if cfg.ReconnectMax != time.Minute {
		t.Errorf("expected 1m reconnect max, got %s", cfg.ReconnectMax)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("expected default ping interval kept, got %s", cfg.PingInterval)
	}
	if cfg.SendLimit != 0 {
		t.Errorf("expected throttling disabled, got limit %d", cfg.SendLimit)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"ftp base":      func(c *Config) { c.BaseURL = "ftp://host" },
		"unknown store": func(c *Config) { c.Store = "cookies" },
		"empty profile": func(c *Config) { c.Profile = "" },
		"bad backoff":   func(c *Config) { c.ReconnectMax = time.Millisecond },
		"no data dir":   func(c *Config) { c.Store = StorePebble; c.DataDir = "" },
		"no window":     func(c *Config) { c.SendWindow = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected an error, got nil")
			}
		})
	}
}
