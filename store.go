package scanguard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InMemoryBanStore implements BanStore with in-memory storage. Bans do not
// survive a restart; use the SQL or Redis store in production.
type InMemoryBanStore struct {
	mu        sync.RWMutex
	byAddress map[string]*BanRecord
	byID      map[string]string
	now       func() time.Time
}

func NewInMemoryBanStore() *InMemoryBanStore {
	return &InMemoryBanStore{
		byAddress: make(map[string]*BanRecord),
		byID:      make(map[string]string),
		now:       time.Now,
	}
}

func (s *InMemoryBanStore) IsBanned(ctx context.Context, address string) (*BanRecord, error) {
	now := s.now()
	s.mu.RLock()
	rec, exists := s.byAddress[address]
	s.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	if !rec.Expired(now) {
		return rec.clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byAddress[address]; ok && cur.Expired(now) {
		s.deleteLocked(address)
	}
	return nil, nil
}

func (s *InMemoryBanStore) Ban(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec, exists := s.byAddress[address]
	if !exists {
		rec = &BanRecord{ID: uuid.NewString(), Address: address}
		s.byAddress[address] = rec
		s.byID[rec.ID] = address
	}
	rec.Reason = reason
	rec.BannedBy = actor
	rec.BannedAt = now
	rec.ExpiresAt = expiryFor(now, ttl)
	return rec.clone(), nil
}

func (s *InMemoryBanStore) BanIfAbsent(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if rec, exists := s.byAddress[address]; exists {
		if !rec.Expired(now) {
			return rec.clone(), false, nil
		}
		s.deleteLocked(address)
	}
	rec := &BanRecord{
		ID:        uuid.NewString(),
		Address:   address,
		Reason:    reason,
		BannedBy:  actor,
		BannedAt:  now,
		ExpiresAt: expiryFor(now, ttl),
	}
	s.byAddress[address] = rec
	s.byID[rec.ID] = address
	return rec.clone(), true, nil
}

func (s *InMemoryBanStore) Unban(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(address)
	return nil
}

func (s *InMemoryBanStore) List(ctx context.Context) ([]*BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BanRecord, 0, len(s.byAddress))
	for _, rec := range s.byAddress {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BannedAt.After(out[j].BannedAt)
	})
	return out, nil
}

func (s *InMemoryBanStore) LookupByID(ctx context.Context, id string) (*BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	address, exists := s.byID[id]
	if !exists {
		return nil, nil
	}
	return s.byAddress[address].clone(), nil
}

func (s *InMemoryBanStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for address, rec := range s.byAddress {
		if rec.Expired(now) {
			s.deleteLocked(address)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryBanStore) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *InMemoryBanStore) Close() error {
	return nil
}

func (s *InMemoryBanStore) deleteLocked(address string) {
	if rec, ok := s.byAddress[address]; ok {
		delete(s.byID, rec.ID)
		delete(s.byAddress, address)
	}
}

// expiryFor returns nil for permanent bans.
func expiryFor(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

// OpenBanStore builds the store selected by cfg.Driver.
func OpenBanStore(ctx context.Context, cfg StoreConfig) (BanStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewInMemoryBanStore(), nil
	case "sqlite3", "postgres":
		return NewSQLBanStore(ctx, cfg.Driver, cfg.DSN)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := NewRedisBanStore(client)
		if err := store.HealthCheck(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
