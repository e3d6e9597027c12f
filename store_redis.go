package scanguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisBanPrefix   = "scanguard:ban:"
	redisBanIDPrefix = "scanguard:banid:"
	redisBanSet      = "scanguard:bans"
	redisTxRetries   = 5
)

// RedisBanStore keeps one JSON record per address plus an id index and a set
// of all banned addresses. Records carry their own expiry and are removed
// lazily, matching the other stores.
type RedisBanStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisBanStore(client *redis.Client) *RedisBanStore {
	return &RedisBanStore{client: client, now: time.Now}
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisBanStore) load(ctx context.Context, c redisGetter, address string) (*BanRecord, error) {
	raw, err := c.Get(ctx, redisBanPrefix+address).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ban %s: %w", address, err)
	}
	var rec BanRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode ban %s: %w", address, err)
	}
	return &rec, nil
}

func (s *RedisBanStore) IsBanned(ctx context.Context, address string) (*BanRecord, error) {
	rec, err := s.load(ctx, s.client, address)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.Expired(s.now()) {
		return rec, nil
	}
	if _, err := s.removeIfCurrent(ctx, rec); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *RedisBanStore) Ban(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, error) {
	var out *BanRecord
	err := s.watch(ctx, address, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, address)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		rec := &BanRecord{ID: uuid.NewString(), Address: address}
		if cur != nil {
			rec.ID = cur.ID
		}
		rec.Reason = reason
		rec.BannedBy = actor
		rec.BannedAt = now
		rec.ExpiresAt = expiryFor(now, ttl)
		if err := s.write(ctx, tx, rec, nil); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisBanStore) BanIfAbsent(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, bool, error) {
	var (
		out     *BanRecord
		created bool
	)
	err := s.watch(ctx, address, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, address)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if cur != nil && !cur.Expired(now) {
			out, created = cur, false
			return nil
		}
		rec := &BanRecord{
			ID:        uuid.NewString(),
			Address:   address,
			Reason:    reason,
			BannedBy:  actor,
			BannedAt:  now,
			ExpiresAt: expiryFor(now, ttl),
		}
		if err := s.write(ctx, tx, rec, cur); err != nil {
			return err
		}
		out, created = rec, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *RedisBanStore) Unban(ctx context.Context, address string) error {
	rec, err := s.load(ctx, s.client, address)
	if err != nil || rec == nil {
		return err
	}
	return s.remove(ctx, rec)
}

func (s *RedisBanStore) List(ctx context.Context) ([]*BanRecord, error) {
	addresses, err := s.client.SMembers(ctx, redisBanSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	out := make([]*BanRecord, 0, len(addresses))
	for _, address := range addresses {
		rec, err := s.load(ctx, s.client, address)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BannedAt.After(out[j].BannedAt)
	})
	return out, nil
}

func (s *RedisBanStore) LookupByID(ctx context.Context, id string) (*BanRecord, error) {
	address, err := s.client.Get(ctx, redisBanIDPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup ban %s: %w", id, err)
	}
	rec, err := s.load(ctx, s.client, address)
	if err != nil || rec == nil || rec.ID != id {
		return nil, err
	}
	return rec, nil
}

func (s *RedisBanStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		if !rec.Expired(now) {
			continue
		}
		ok, err := s.removeIfCurrent(ctx, rec)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *RedisBanStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisBanStore) Close() error {
	return s.client.Close()
}

// watch runs fn in an optimistic transaction on the address key, retrying
// when another writer touched it first.
func (s *RedisBanStore) watch(ctx context.Context, address string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, fn, redisBanPrefix+address)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("ban transaction %s: %w", address, err)
		}
		return nil
	}
	return fmt.Errorf("ban transaction %s: %w", address, redis.TxFailedErr)
}

func (s *RedisBanStore) write(ctx context.Context, tx *redis.Tx, rec, replaced *BanRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ban %s: %w", rec.Address, err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if replaced != nil && replaced.ID != rec.ID {
			pipe.Del(ctx, redisBanIDPrefix+replaced.ID)
		}
		pipe.Set(ctx, redisBanPrefix+rec.Address, data, 0)
		pipe.Set(ctx, redisBanIDPrefix+rec.ID, rec.Address, 0)
		pipe.SAdd(ctx, redisBanSet, rec.Address)
		return nil
	})
	return err
}

// removeIfCurrent deletes rec only while it is still the record stored for
// its address, so a ban written concurrently over an expired one survives.
func (s *RedisBanStore) removeIfCurrent(ctx context.Context, rec *BanRecord) (bool, error) {
	removed := false
	err := s.watch(ctx, rec.Address, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, rec.Address)
		if err != nil {
			return err
		}
		if cur == nil || cur.ID != rec.ID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisBanPrefix+rec.Address, redisBanIDPrefix+rec.ID)
			pipe.SRem(ctx, redisBanSet, rec.Address)
			return nil
		})
		removed = err == nil
		return err
	})
	return removed, err
}

func (s *RedisBanStore) remove(ctx context.Context, rec *BanRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisBanPrefix+rec.Address, redisBanIDPrefix+rec.ID)
		pipe.SRem(ctx, redisBanSet, rec.Address)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete ban %s: %w", rec.Address, err)
	}
	return nil
}
