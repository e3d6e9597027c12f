package scanguard

import (
	"context"
	"time"
)

// BanStore is the durable mapping from normalized address to ban record.
// Implementations must make Ban and BanIfAbsent atomic per address.
type BanStore interface {
	// IsBanned returns the active record for address, or nil. Expired records
	// are deleted as a side effect.
	IsBanned(ctx context.Context, address string) (*BanRecord, error)
	// Ban inserts or updates the record for address. ttl <= 0 is permanent.
	Ban(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, error)
	// BanIfAbsent inserts a record only when no active one exists and reports
	// whether it created it.
	BanIfAbsent(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, bool, error)
	Unban(ctx context.Context, address string) error
	List(ctx context.Context) ([]*BanRecord, error)
	LookupByID(ctx context.Context, id string) (*BanRecord, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// EntryCache is the storage behind the in-memory trackers. Callers serialize
// read-modify-write sequences themselves.
type EntryCache[V any] interface {
	Get(key string) (V, bool)
	Put(key string, value V)
	Delete(key string)
	Keys() []string
	Len() int
}

// AlertPublisher receives alert events from the request path. Publish must
// not block.
type AlertPublisher interface {
	Publish(event AlertEvent) bool
}

// AlertSender delivers one alert to an external channel.
type AlertSender interface {
	Send(ctx context.Context, event AlertEvent) error
	Name() string
}

// ConfigValidator interface for config validation
type ConfigValidator interface {
	Validate(config *Config) error
}

// Data structures shared by the interfaces above.

// BanRecord is one ban. ExpiresAt == nil means the ban is permanent.
type BanRecord struct {
	ID        string     `json:"id" db:"id"`
	Address   string     `json:"address" db:"address"`
	Reason    string     `json:"reason" db:"reason"`
	BannedBy  string     `json:"bannedBy" db:"banned_by"`
	BannedAt  time.Time  `json:"bannedAt" db:"banned_at"`
	ExpiresAt *time.Time `json:"expiresAt" db:"expires_at"`
}

// Permanent reports whether the ban never expires.
func (r *BanRecord) Permanent() bool {
	return r.ExpiresAt == nil
}

// Expired reports whether a temporary ban has passed its expiry at now.
func (r *BanRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

func (r *BanRecord) clone() *BanRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// EndpointSummary is one line of the top-endpoints list in an alert.
type EndpointSummary struct {
	Path     string   `json:"path"`
	Count    int      `json:"count"`
	Category Category `json:"category"`
}

// AlertKind tells notifiers why an event was raised.
type AlertKind string

const (
	AlertSuspicious AlertKind = "suspicious_activity"
	AlertAutoBan    AlertKind = "auto_ban"
	AlertRateBan    AlertKind = "rate_ban"
)

// AlertEvent is handed to the notification collaborator.
type AlertEvent struct {
	Kind            AlertKind         `json:"kind"`
	Address         string            `json:"address"`
	Severity        Severity          `json:"severity"`
	TotalAttempts   int               `json:"totalAttempts"`
	UniqueEndpoints int               `json:"uniqueEndpoints"`
	TopEndpoints    []EndpointSummary `json:"topEndpoints"`
	UserAgent       string            `json:"userAgent"`
	FirstSeen       time.Time         `json:"firstSeen"`
	LastSeen        time.Time         `json:"lastSeen"`
	Ban             *BanRecord        `json:"ban,omitempty"`
}
