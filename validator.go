package scanguard

import (
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	validStoreDrivers = []string{"memory", "sqlite3", "postgres", "redis"}
	validCacheKinds   = []string{"map", "lru"}
	validChannels     = []string{"log", "webhook", "discord"}
	validLogLevels    = []string{"debug", "info", "warn", "error"}
)

type DefaultConfigValidator struct{}

func NewDefaultConfigValidator() *DefaultConfigValidator {
	return &DefaultConfigValidator{}
}

func (v *DefaultConfigValidator) Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.Upstream != "" {
		if err := validateURL("upstream", config.Upstream); err != nil {
			return err
		}
	}
	if config.BanNoticePath != "" && !strings.HasPrefix(config.BanNoticePath, "/") {
		return fmt.Errorf("banNoticePath must start with /: %q", config.BanNoticePath)
	}
	if err := v.validateCIDRs("trustedProxies", config.TrustedProxies); err != nil {
		return err
	}
	if err := v.validateCIDRs("neverBan", config.NeverBan); err != nil {
		return err
	}
	if err := v.validateStore(&config.Store); err != nil {
		return err
	}
	if !slices.Contains(validCacheKinds, config.Cache.Kind) {
		return fmt.Errorf("cache kind %q is invalid", config.Cache.Kind)
	}
	if err := v.validateNotify(&config.Notify); err != nil {
		return err
	}
	if config.Admin.Enabled {
		if config.Admin.TokenHash == "" {
			return fmt.Errorf("admin is enabled but tokenHash is empty")
		}
		if _, err := bcrypt.Cost([]byte(config.Admin.TokenHash)); err != nil {
			return fmt.Errorf("admin tokenHash is not a bcrypt hash: %w", err)
		}
	}
	if !slices.Contains(validLogLevels, strings.ToLower(config.Log.Level)) {
		return fmt.Errorf("log level %q is invalid", config.Log.Level)
	}
	j := config.Janitor
	if j.TrackerInterval <= 0 || j.BanInterval <= 0 || j.IdleAfter <= 0 {
		return fmt.Errorf("janitor intervals must be positive")
	}
	return nil
}

func (v *DefaultConfigValidator) validateCIDRs(field string, entries []string) error {
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return fmt.Errorf("%s entry %q: %w", field, entry, err)
			}
			continue
		}
		if !IsValidIP(entry) {
			return fmt.Errorf("%s entry %q is not an address or CIDR", field, entry)
		}
	}
	return nil
}

func (v *DefaultConfigValidator) validateStore(store *StoreConfig) error {
	if !slices.Contains(validStoreDrivers, store.Driver) {
		return fmt.Errorf("store driver %q is invalid", store.Driver)
	}
	switch store.Driver {
	case "sqlite3", "postgres":
		if store.DSN == "" {
			return fmt.Errorf("store driver %s requires a dsn", store.Driver)
		}
	case "redis":
		if store.Redis.Addr == "" {
			return fmt.Errorf("store driver redis requires redis.addr")
		}
	}
	return nil
}

func (v *DefaultConfigValidator) validateNotify(n *NotifyConfig) error {
	for _, ch := range n.Channels {
		if !slices.Contains(validChannels, ch) {
			return fmt.Errorf("notify channel %q is invalid", ch)
		}
		switch ch {
		case "webhook":
			if err := validateURL("webhookURL", n.WebhookURL); err != nil {
				return err
			}
		case "discord":
			if err := validateURL("discordWebhookURL", n.DiscordWebhookURL); err != nil {
				return err
			}
		}
	}
	if n.Rate <= 0 || n.Burst <= 0 {
		return fmt.Errorf("notify rate and burst must be positive")
	}
	if n.QueueSize <= 0 {
		return fmt.Errorf("notify queueSize must be positive")
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q is not an http(s) URL", field, raw)
	}
	return nil
}
