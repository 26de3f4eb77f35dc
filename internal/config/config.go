// Package config holds the runtime configuration of the chat client. Values
// start from Default, are overridden by CHAT_* environment variables in
// FromEnv, and finally by command-line flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Token store backends.
const (
	StoreMemory = "memory"
	StorePebble = "pebble"
	StoreRedis  = "redis"
)

// Config holds every tunable of the client.
type Config struct {
	BaseURL        string        // REST base, e.g. http://localhost:8080/api/v1
	StreamURL      string        // websocket base; derived from BaseURL when empty
	RequestTimeout time.Duration // per REST call

	Profile   string        // token namespace, one per account
	Store     string        // memory | pebble | redis
	DataDir   string        // pebble directory
	RedisAddr string        // redis host:port
	TokenTTL  time.Duration // redis key TTL

	ReconnectBase time.Duration // first reconnect delay
	ReconnectMax  time.Duration // backoff ceiling
	MaxRetries    int           // consecutive reconnect attempts before giving up
	PingInterval  time.Duration // websocket keepalive
	WriteTimeout  time.Duration // websocket write deadline

	SendLimit  int           // messages per window and chat; 0 disables throttling
	SendWindow time.Duration // throttling window

	NATSURL    string // event mirror; empty disables it
	ArchiveDSN string // postgres transcript archive; empty disables it
	DebugAddr  string // debug HTTP server; empty disables it

	LogLevel string
}

// Default returns a Config with local development defaults.
func Default() Config {
	dataDir := ".chatclient"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = home + "/.chatclient"
	}
	return Config{
		BaseURL:        "http://localhost:8080/api/v1",
		RequestTimeout: 10 * time.Second,
		Profile:        "default",
		Store:          StorePebble,
		DataDir:        dataDir,
		RedisAddr:      "localhost:6379",
		TokenTTL:       24 * time.Hour,
		ReconnectBase:  3 * time.Second,
		ReconnectMax:   30 * time.Second,
		MaxRetries:     5,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendLimit:      5,
		SendWindow:     10 * time.Second,
		LogLevel:       "info",
	}
}

// FromEnv overrides cfg with any CHAT_* environment variables that are set.
// Unparseable values are ignored and the previous value kept.
func FromEnv(cfg Config) Config {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("CHAT_BASE_URL", &cfg.BaseURL)
	str("CHAT_STREAM_URL", &cfg.StreamURL)
	dur("CHAT_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	str("CHAT_PROFILE", &cfg.Profile)
	str("CHAT_STORE", &cfg.Store)
	str("CHAT_DATA_DIR", &cfg.DataDir)
	str("REDIS_ADDR", &cfg.RedisAddr)
	dur("CHAT_TOKEN_TTL", &cfg.TokenTTL)
	dur("CHAT_RECONNECT_BASE", &cfg.ReconnectBase)
	dur("CHAT_RECONNECT_MAX", &cfg.ReconnectMax)
	if v := os.Getenv("CHAT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	dur("CHAT_PING_INTERVAL", &cfg.PingInterval)
	dur("CHAT_WRITE_TIMEOUT", &cfg.WriteTimeout)
	if v := os.Getenv("CHAT_SEND_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SendLimit = n
		}
	}
	dur("CHAT_SEND_WINDOW", &cfg.SendWindow)
	str("NATS_URL", &cfg.NATSURL)
	str("CHAT_ARCHIVE_DSN", &cfg.ArchiveDSN)
	str("CHAT_DEBUG_ADDR", &cfg.DebugAddr)
	str("CHAT_LOG_LEVEL", &cfg.LogLevel)
	return cfg
}

// Validate checks the configuration and fills derived fields.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("config: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: base url must be http or https, got %q", c.BaseURL)
	}
	if c.StreamURL == "" {
		c.StreamURL = DeriveStreamURL(c.BaseURL)
	}

	switch c.Store {
	case StoreMemory, StorePebble, StoreRedis:
	default:
		return fmt.Errorf("config: unknown token store %q", c.Store)
	}
	if c.Store == StorePebble && c.DataDir == "" {
		return fmt.Errorf("config: data dir must be set for the pebble store")
	}
	if c.Profile == "" {
		return fmt.Errorf("config: profile must not be empty")
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("config: reconnect delays must satisfy 0 < base <= max")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max retries must not be negative")
	}
	if c.SendLimit < 0 || (c.SendLimit > 0 && c.SendWindow <= 0) {
		return fmt.Errorf("config: send limit needs a positive window")
	}
	return nil
}

// DeriveStreamURL turns an http(s) REST base into the matching ws(s) base.
func DeriveStreamURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
