// Package config handles hub configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level hub configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Desk      DeskConfig      `json:"desk"`
	Events    EventsConfig    `json:"events,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS and WebSocket origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // default 1MB
}

// AuthConfig defines how agents authenticate.
type AuthConfig struct {
	Provider          string        `json:"provider,omitempty"`    // "builtin" (default) or "oidc"
	OIDCIssuer        string        `json:"oidc_issuer,omitempty"` // e.g. "https://id.example.com"
	OIDCJWKSURL       string        `json:"oidc_jwks_url,omitempty"`
	OIDCAudience      string        `json:"oidc_audience,omitempty"`
	JWTSecret         string        `json:"jwt_secret"`
	JWTExpiry         Duration      `json:"jwt_expiry,omitempty"`
	AllowRegistration bool          `json:"allow_registration,omitempty"`
	InitialAdmin      *InitialAdmin `json:"initial_admin,omitempty"`
}

// InitialAdmin is used to bootstrap the first admin agent.
type InitialAdmin struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver         string   `json:"driver"` // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn"`    // e.g. "supportdesk.db" or ":memory:"
	AuditRetention Duration `json:"audit_retention,omitempty"`
}

// DeskConfig defines how users are routed to agents.
type DeskConfig struct {
	Capacity        int     `json:"capacity,omitempty"`          // concurrent users per agent; default 3
	Assignment      string  `json:"assignment,omitempty"`        // "claim" (default) or "auto"
	WhenUnavailable string  `json:"when_unavailable,omitempty"`  // "queue" (default) or "disconnect"
	MaxMessageBytes int64   `json:"max_message_bytes,omitempty"` // max inbound frame; default 64KB
	MessageRate     float64 `json:"message_rate,omitempty"`      // inbound frames per second; default 30
	MessageBurst    int     `json:"message_burst,omitempty"`     // default 50
}

// EventsConfig defines where lifecycle events go. The audit log is always
// written unless DisableAudit is set; AMQP publishing is enabled by AMQPURL.
type EventsConfig struct {
	DisableAudit   bool     `json:"disable_audit,omitempty"`
	AMQPURL        string   `json:"amqp_url,omitempty"`
	Exchange       string   `json:"exchange,omitempty"` // default "supportdesk.events"
	Producer       string   `json:"producer,omitempty"` // default "supportdesk-hub"
	RetryAttempts  int      `json:"retry_attempts,omitempty"`
	RetryDelay     Duration `json:"retry_delay,omitempty"`
	Buffer         int      `json:"buffer,omitempty"`          // queued events before new ones are dropped; default 1024
	PublishTimeout Duration `json:"publish_timeout,omitempty"` // default 5s
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines HTTP API rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file. Comments and trailing commas are
// allowed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, validates and fills defaults for a config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Provider {
	case "", "builtin":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required")
		}
	case "oidc":
		if c.Auth.OIDCIssuer == "" {
			return fmt.Errorf("auth.oidc_issuer is required when provider is oidc")
		}
	default:
		return fmt.Errorf("auth.provider must be builtin or oidc, got %q", c.Auth.Provider)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Desk.Capacity < 0 {
		return fmt.Errorf("desk.capacity must be at least 1")
	}
	switch c.Desk.Assignment {
	case "", "claim", "auto":
	default:
		return fmt.Errorf("desk.assignment must be claim or auto, got %q", c.Desk.Assignment)
	}
	switch c.Desk.WhenUnavailable {
	case "", "queue", "disconnect":
	default:
		return fmt.Errorf("desk.when_unavailable must be queue or disconnect, got %q", c.Desk.WhenUnavailable)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "supportdesk.db"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 30 * 24 * time.Hour // 30 days
	}
	if c.Desk.Capacity == 0 {
		c.Desk.Capacity = 3
	}
	if c.Desk.Assignment == "" {
		c.Desk.Assignment = "claim"
	}
	if c.Desk.WhenUnavailable == "" {
		c.Desk.WhenUnavailable = "queue"
	}
	if c.Desk.MaxMessageBytes == 0 {
		c.Desk.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Desk.MessageRate == 0 {
		c.Desk.MessageRate = 30
	}
	if c.Desk.MessageBurst == 0 {
		c.Desk.MessageBurst = 50
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "supportdesk.events"
	}
	if c.Events.Producer == "" {
		c.Events.Producer = "supportdesk-hub"
	}
	if c.Events.RetryAttempts == 0 {
		c.Events.RetryAttempts = 5
	}
	if c.Events.RetryDelay.Duration == 0 {
		c.Events.RetryDelay.Duration = time.Second
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = 1024
	}
	if c.Events.PublishTimeout.Duration == 0 {
		c.Events.PublishTimeout.Duration = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
}
