// Package config loads the registration concierge's configuration from a
// JSON5 file overlaid with environment variables: the file carries
// structure and defaults, the environment carries secrets.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the registration concierge.
type Config struct {
	Model       ModelConfig       `json:"model"`
	Gateway     GatewayConfig     `json:"gateway"`
	Payment     PaymentConfig     `json:"payment"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
	Address     AddressConfig     `json:"address"`
	SMS         SMSConfig         `json:"sms"`
	Record      RecordConfig      `json:"record"`
	Season      SeasonConfig      `json:"season"`
	Photo       PhotoConfig       `json:"photo"`
	Sessions    SessionsConfig    `json:"sessions"`

	// DevFixtures gates seeding of the development-only manual-QA rows
	// into the in-memory record store. Off by default, never reachable
	// unless set.
	DevFixtures bool `json:"dev_fixtures,omitempty"`

	// DefaultAgentMode is the agent the dispatcher falls back to at
	// classification step 5 when no routine/last-agent/code hint applies.
	// Switchable at runtime via POST /agent/mode.
	DefaultAgentMode string `json:"default_agent_mode,omitempty"`

	mu sync.RWMutex
}

// ModelConfig selects and authenticates the LLM provider used by the model
// call loop (C3).
type ModelConfig struct {
	Provider string `json:"provider"` // "anthropic" or "openai"
	Model    string `json:"model"`
	APIKey   string `json:"-"` // env only
	APIBase  string `json:"api_base,omitempty"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PaymentConfig configures the payment-provider adapter and webhook
// verification.
type PaymentConfig struct {
	APIKey        string `json:"-"` // env only
	APIBase       string `json:"api_base,omitempty"`
	WebhookSecret string `json:"-"` // env only
	DevMode       bool   `json:"dev_mode,omitempty"` // allows an empty webhook secret
}

// ObjectStoreConfig configures the S3-compatible object store used by the
// photo pipeline (C8).
type ObjectStoreConfig struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"-"` // env only
	SecretAccessKey string `json:"-"` // env only
}

// AddressConfig configures the UK address-lookup provider.
type AddressConfig struct {
	APIKey         string   `json:"-"` // env only
	APIBase        string   `json:"api_base,omitempty"`
	CatchmentTowns []string `json:"catchment_towns,omitempty"`
}

// SMSConfig configures the SMS provider used to send payment links.
type SMSConfig struct {
	APIKey     string `json:"-"` // env only
	APIBase    string `json:"api_base,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

// RecordConfig configures the Registration Record adapter (C11).
type RecordConfig struct {
	PostgresDSN string `json:"-"` // env only; empty selects the in-memory store
	TeamTable   string `json:"team_table,omitempty"`
}

// SeasonConfig carries the season-policy constants the registration-code
// parser and the subscription timer read.
type SeasonConfig struct {
	Current      string `json:"current"`       // e.g. "2526"
	CutoffDate   string `json:"cutoff_date"`    // RFC3339 date, e.g. "2025-08-28"
	SeasonEndDate string `json:"season_end_date"` // e.g. "2026-05-31"
}

// PhotoConfig configures the upload pipeline (C8).
type PhotoConfig struct {
	UseAsync   bool   `json:"use_async"`
	TempDir    string `json:"temp_dir,omitempty"`
	PoolSize   int    `json:"pool_size,omitempty"`
	MaxBytes   int64  `json:"max_bytes,omitempty"`
	HEICHelper string `json:"heic_helper,omitempty"` // external CLI; empty = autodetect
}

// SessionsConfig configures the in-memory session store (C1).
type SessionsConfig struct {
	IdleTimeout time.Duration `json:"-"`
	IdleTimeoutStr string `json:"idle_timeout,omitempty"` // Go duration string, e.g. "24h"
	MaxHistory  int           `json:"max_history,omitempty"`
}

// Default returns a Config with sensible defaults, matching every field a
// registration concierge needs to run with nothing but env-provided
// secrets.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5-20250929",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Season: SeasonConfig{
			Current:       "2526",
			CutoffDate:    "2025-08-28",
			SeasonEndDate: "2026-05-31",
		},
		Photo: PhotoConfig{
			UseAsync: true,
			TempDir:  "/tmp/regbot-photos",
			PoolSize: 4,
			MaxBytes: 10 << 20,
		},
		Sessions: SessionsConfig{
			IdleTimeout: 24 * time.Hour,
			MaxHistory:  40,
		},
		Address: AddressConfig{
			CatchmentTowns: []string{"bristol", "bath", "keynsham"},
		},
		DefaultAgentMode: "generic",
	}
}

// Load reads config from a JSON5 file, then overlays environment variables.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("REGBOT_MODEL_PROVIDER", &c.Model.Provider)
	envStr("REGBOT_MODEL", &c.Model.Model)
	envStr("REGBOT_MODEL_API_KEY", &c.Model.APIKey)
	envStr("REGBOT_MODEL_API_BASE", &c.Model.APIBase)

	envStr("REGBOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("REGBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("REGBOT_PAYMENT_API_KEY", &c.Payment.APIKey)
	envStr("REGBOT_PAYMENT_API_BASE", &c.Payment.APIBase)
	envStr("REGBOT_PAYMENT_WEBHOOK_SECRET", &c.Payment.WebhookSecret)
	if v := os.Getenv("REGBOT_PAYMENT_DEV_MODE"); v != "" {
		c.Payment.DevMode = v == "true" || v == "1"
	}

	envStr("REGBOT_S3_BUCKET", &c.ObjectStore.Bucket)
	envStr("REGBOT_S3_REGION", &c.ObjectStore.Region)
	envStr("REGBOT_S3_ENDPOINT", &c.ObjectStore.Endpoint)
	envStr("REGBOT_S3_ACCESS_KEY_ID", &c.ObjectStore.AccessKeyID)
	envStr("REGBOT_S3_SECRET_ACCESS_KEY", &c.ObjectStore.SecretAccessKey)

	envStr("REGBOT_ADDRESS_API_KEY", &c.Address.APIKey)
	envStr("REGBOT_ADDRESS_API_BASE", &c.Address.APIBase)

	envStr("REGBOT_SMS_API_KEY", &c.SMS.APIKey)
	envStr("REGBOT_SMS_API_BASE", &c.SMS.APIBase)
	envStr("REGBOT_SMS_SENDER_NAME", &c.SMS.SenderName)

	envStr("REGBOT_POSTGRES_DSN", &c.Record.PostgresDSN)
	envStr("REGBOT_TEAM_TABLE", &c.Record.TeamTable)

	envStr("REGBOT_SEASON", &c.Season.Current)
	envStr("REGBOT_SEASON_CUTOFF", &c.Season.CutoffDate)
	envStr("REGBOT_SEASON_END", &c.Season.SeasonEndDate)

	if v := os.Getenv("REGBOT_USE_ASYNC_PHOTO"); v != "" {
		c.Photo.UseAsync = v == "true" || v == "1"
	}
	envStr("REGBOT_PHOTO_TEMP_DIR", &c.Photo.TempDir)
	envStr("REGBOT_HEIC_HELPER", &c.Photo.HEICHelper)

	if v := os.Getenv("REGBOT_SESSION_IDLE_TIMEOUT"); v != "" {
		c.Sessions.IdleTimeoutStr = v
	}
	if c.Sessions.IdleTimeoutStr != "" {
		if d, err := time.ParseDuration(c.Sessions.IdleTimeoutStr); err == nil && d > 0 {
			c.Sessions.IdleTimeout = d
		}
	}
	if c.Sessions.MaxHistory <= 0 {
		c.Sessions.MaxHistory = 40
	}
	if c.Photo.PoolSize <= 0 {
		c.Photo.PoolSize = 4
	}
	if c.Photo.MaxBytes <= 0 {
		c.Photo.MaxBytes = 10 << 20
	}

	if v := os.Getenv("REGBOT_DEV_FIXTURES"); v != "" {
		c.DevFixtures = v == "true" || v == "1"
	}
	envStr("REGBOT_DEFAULT_AGENT_MODE", &c.DefaultAgentMode)
	if c.DefaultAgentMode == "" {
		c.DefaultAgentMode = "generic"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides, used after a
// hot-reload of the file portion of the config (see Watch).
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Hash returns a short SHA-256 fingerprint of the config, surfaced on
// /health so operators can confirm which config a running process loaded.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// CutoffDate parses Season.CutoffDate, falling back to the built-in
// constant if the config value is malformed.
func (c *Config) CutoffDate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, err := time.Parse("2006-01-02", c.Season.CutoffDate)
	if err != nil {
		return time.Date(2025, time.August, 28, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// SeasonEnd parses Season.SeasonEndDate, falling back to the built-in
// constant if the config value is malformed.
func (c *Config) SeasonEnd() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, err := time.Parse("2006-01-02", c.Season.SeasonEndDate)
	if err != nil {
		return time.Date(2026, time.May, 31, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// AsyncPhoto reports whether the asynchronous upload path is preferred,
// read under the same lock the hot-reload writes it under.
func (c *Config) AsyncPhoto() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Photo.UseAsync
}

// ExpandHome replaces a leading ~ with the user home directory, matching
// the convention used throughout this codebase's workspace path handling.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
