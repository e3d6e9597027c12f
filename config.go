package scanguard

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "90s" style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Listen string `yaml:"listen" json:"listen"`
	// Upstream is the application that gated traffic is forwarded to.
	// Empty answers allowed requests with a small status body.
	Upstream string `yaml:"upstream" json:"upstream"`
	// TrustProxy enables CF-Connecting-IP, X-Forwarded-For and X-Real-IP.
	TrustProxy bool `yaml:"trustProxy" json:"trustProxy"`
	// TrustedProxies limits proxy headers to requests whose socket address
	// is inside one of these CIDRs. Empty trusts every peer.
	TrustedProxies []string `yaml:"trustedProxies" json:"trustedProxies"`
	// NeverBan lists CIDRs or addresses that are never tracked or banned.
	NeverBan      []string        `yaml:"neverBan" json:"neverBan"`
	FailOpen      bool            `yaml:"failOpen" json:"failOpen"`
	BanNoticePath string          `yaml:"banNoticePath" json:"banNoticePath"`
	Allowlist     AllowlistConfig `yaml:"allowlist" json:"allowlist"`
	Store         StoreConfig     `yaml:"store" json:"store"`
	Cache         CacheConfig     `yaml:"cache" json:"cache"`
	Notify        NotifyConfig    `yaml:"notify" json:"notify"`
	Admin         AdminConfig     `yaml:"admin" json:"admin"`
	Log           LogConfig       `yaml:"log" json:"log"`
	Janitor       JanitorConfig   `yaml:"janitor" json:"janitor"`
}

type StoreConfig struct {
	// Driver is one of memory, sqlite3, postgres or redis.
	Driver string      `yaml:"driver" json:"driver"`
	DSN    string      `yaml:"dsn" json:"dsn"`
	Redis  RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

type CacheConfig struct {
	// Kind is map (unbounded) or lru (bounded by Size).
	Kind string `yaml:"kind" json:"kind"`
	Size int    `yaml:"size" json:"size"`
}

type NotifyConfig struct {
	// Channels selects senders by name: log, webhook, discord.
	Channels          []string `yaml:"channels" json:"channels"`
	WebhookURL        string   `yaml:"webhookURL" json:"webhookURL"`
	DiscordWebhookURL string   `yaml:"discordWebhookURL" json:"discordWebhookURL"`
	// Rate is the sustained number of alerts per second across all senders.
	Rate      float64  `yaml:"rate" json:"rate"`
	Burst     int      `yaml:"burst" json:"burst"`
	QueueSize int      `yaml:"queueSize" json:"queueSize"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Prefix  string `yaml:"prefix" json:"prefix"`
	// TokenHash is a bcrypt hash of the operator bearer token.
	TokenHash string `yaml:"tokenHash" json:"-"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	JSON       bool   `yaml:"json" json:"json"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" json:"maxAgeDays"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

type JanitorConfig struct {
	TrackerInterval Duration `yaml:"trackerInterval" json:"trackerInterval"`
	BanInterval     Duration `yaml:"banInterval" json:"banInterval"`
	InitialDelay    Duration `yaml:"initialDelay" json:"initialDelay"`
	IdleAfter       Duration `yaml:"idleAfter" json:"idleAfter"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:        ":8080",
		FailOpen:      true,
		BanNoticePath: "/banned",
		Allowlist:     DefaultAllowlistConfig(),
		Store:         StoreConfig{Driver: "memory"},
		Cache:         CacheConfig{Kind: "lru", Size: 10000},
		Notify: NotifyConfig{
			Channels:  []string{"log"},
			Rate:      1,
			Burst:     5,
			QueueSize: 256,
			Timeout:   Duration(10 * time.Second),
		},
		Admin: AdminConfig{Prefix: "/_scanguard"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Janitor: JanitorConfig{
			TrackerInterval: Duration(60 * time.Second),
			BanInterval:     Duration(60 * time.Minute),
			InitialDelay:    Duration(5 * time.Second),
			IdleAfter:       Duration(IdleEviction),
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := NewDefaultConfigValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
