package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Session  SessionConfig  `yaml:"session"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Sync     SyncConfig     `yaml:"sync"`
	Cache    CacheConfig    `yaml:"cache"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Notify   NotifyConfig   `yaml:"notify"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the local API listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
	// OpsAddr, when set, starts a second lightweight listener serving
	// health endpoints only.
	OpsAddr   string    `yaml:"ops_addr"`
	OpsEngine string    `yaml:"ops_engine"` // fasthttp | nethttp
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UpstreamConfig points the agent at the AutoCare Pro backend.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is the session bearer token issued by the backend at login.
	Token      string   `yaml:"token"`
	Timeout    Duration `yaml:"timeout"`
	HealthPath string   `yaml:"health_path"`
	RateRPS    float64  `yaml:"rate_rps"`
	RateBurst  int      `yaml:"rate_burst"`
}

// SessionConfig pins the session identity. When Role/UserID are empty
// they are derived from the upstream token's claims.
type SessionConfig struct {
	Role   string `yaml:"role"` // user | admin
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	// ProfileFile optionally points at a JSON file whose "messages"
	// array was attached to the login profile; a user session loads it
	// instead of fetching when non-empty.
	ProfileFile string `yaml:"profile_file"`
}

// BridgeConfig holds the realtime push connection settings.
type BridgeConfig struct {
	URL              string   `yaml:"url"`
	Enabled          bool     `yaml:"enabled"`
	Origin           string   `yaml:"origin"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	PingInterval     Duration `yaml:"ping_interval"`
	ReconnectMin     Duration `yaml:"reconnect_min"`
	ReconnectMax     Duration `yaml:"reconnect_max"`
}

// SyncConfig controls the synchronization service.
type SyncConfig struct {
	// FanoutConcurrency bounds the admin per-user detail fetches issued
	// in parallel during a full load.
	FanoutConcurrency int `yaml:"fanout_concurrency"`
}

// CacheConfig controls the local persistence mirror.
type CacheConfig struct {
	// Prefix forms per-conversation keys as "<prefix>_<conversationID>".
	Prefix   string `yaml:"prefix"`
	UsersKey string `yaml:"users_key"`
	// MaxValueSize caps a single mirrored conversation blob; oversized
	// writes are skipped with a warning.
	MaxValueSize SizeBytes `yaml:"max_value_size"`
	// Ephemeral keeps the cache in memory only (no files on disk).
	Ephemeral bool `yaml:"ephemeral"`
}

// OutboxConfig controls resend behavior for unconfirmed sends.
type OutboxConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	BackoffBase   Duration `yaml:"backoff_base"`
	BackoffCap    Duration `yaml:"backoff_cap"`
	QueueCapacity int      `yaml:"queue_capacity"`
}

// RefreshConfig holds the periodic refresh schedule.
type RefreshConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// NotifyConfig bounds the in-memory notification list.
type NotifyConfig struct {
	Max int `yaml:"max"`
}

// SecurityConfig holds local API protection and cache encryption.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	APIKeys struct {
		Dashboard []string `yaml:"dashboard"`
		Admin     []string `yaml:"admin"`
	} `yaml:"api_keys"`
	// SigningKeys verify X-User-Signature headers on user-scoped
	// endpoints (HMAC-SHA256 over the user id).
	SigningKeys []string `yaml:"signing_keys"`
	// Cache at-rest encryption key (AES-256, 32 bytes hex). File wins
	// over hex when both are set.
	CacheKeyHex  string `yaml:"cache_key_hex"`
	CacheKeyFile string `yaml:"cache_key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Addr joins the configured address and port, defaulting to
// 0.0.0.0:7180 when unset.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 7180
	}
	return fmt.Sprintf("%s:%d", addr, p)
}
