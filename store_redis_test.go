package scanguard

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Runs against SCANGUARD_REDIS_ADDR, using database 15 which is flushed.
func TestRedisBanStore(t *testing.T) {
	addr := os.Getenv("SCANGUARD_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCANGUARD_REDIS_ADDR not set")
	}
	runBanStoreSuite(t, func(t *testing.T, clock *fakeClock) BanStore {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("flush redis: %v", err)
		}
		s := NewRedisBanStore(client)
		s.now = clock.Now
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRedisExpiryKeepsReplacedBan(t *testing.T) {
	addr := os.Getenv("SCANGUARD_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCANGUARD_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	clock := newFakeClock()
	s := NewRedisBanStore(client)
	s.now = clock.Now
	defer s.Close()

	stale, _ := s.Ban(ctx, "192.0.2.70", "temp", "op", time.Minute)
	clock.Advance(time.Hour)
	fresh, created, err := s.BanIfAbsent(ctx, "192.0.2.70", AutoBanReason, SystemActor, 0)
	if err != nil || !created {
		t.Fatalf("replace expired ban: %v, %v", created, err)
	}

	// An expiry pass still holding the stale record must not touch the new one.
	removed, err := s.removeIfCurrent(ctx, stale)
	if err != nil || removed {
		t.Fatalf("stale delete should be skipped, got %v, %v", removed, err)
	}
	got, err := s.IsBanned(ctx, "192.0.2.70")
	if err != nil || got == nil || got.ID != fresh.ID {
		t.Fatalf("fresh ban lost: %+v, %v", got, err)
	}
	if found, _ := s.LookupByID(ctx, fresh.ID); found == nil {
		t.Fatal("fresh ban id index lost")
	}
}
