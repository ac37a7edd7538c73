package payments

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	guardCooldown   = 5 * time.Second
	guardMaxEntries = 10000
	guardEntryTTL   = 2 * time.Minute
	guardRedisTTL   = 2 * time.Minute
)

// Guard suppresses duplicate webhook deliveries for the same notification id.
// It is a best-effort in-process check; the authoritative duplicate defense is
// the persisted-state precondition inside the reconciler. When a redis client
// is present the guard also takes a SETNX key so multiple instances share it.
type Guard struct {
	mu      sync.Mutex
	entries map[string]time.Time

	cooldown time.Duration
	ttl      time.Duration
	now      func() time.Time
	after    func(time.Duration, func()) // time.AfterFunc hook for tests
	rdb      *redis.Client
}

func NewGuard(rdb *redis.Client) *Guard {
	return &Guard{
		entries:  make(map[string]time.Time),
		cooldown: guardCooldown,
		ttl:      guardEntryTTL,
		now:      time.Now,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		rdb: rdb,
	}
}

// TryAcquire returns false when a concurrent or recently finished delivery of
// the same id is already being handled.
func (g *Guard) TryAcquire(ctx context.Context, id string) bool {
	g.mu.Lock()
	g.sweepLocked()
	if _, exists := g.entries[id]; exists {
		g.mu.Unlock()
		return false
	}
	g.entries[id] = g.now().Add(g.ttl)
	g.mu.Unlock()

	if g.rdb != nil {
		ok, err := g.rdb.SetNX(ctx, "mpnotif:"+id, 1, guardRedisTTL).Result()
		if err != nil {
			// shared store down; the local map still covers this instance
			log.Printf("[Guard] redis SETNX failed for %s: %s\n", id, err.Error())
			return true
		}
		if !ok {
			g.mu.Lock()
			delete(g.entries, id)
			g.mu.Unlock()
			return false
		}
	}
	return true
}

// Release removes the id after the cooldown window, not immediately, to absorb
// near-simultaneous duplicate deliveries.
func (g *Guard) Release(id string) {
	g.after(g.cooldown, func() {
		g.mu.Lock()
		delete(g.entries, id)
		g.mu.Unlock()
		if g.rdb != nil {
			if err := g.rdb.Del(context.Background(), "mpnotif:"+id).Err(); err != nil {
				log.Printf("[Guard] redis DEL failed for %s: %s\n", id, err.Error())
			}
		}
	})
}

// sweepLocked drops expired entries and keeps the map bounded.
func (g *Guard) sweepLocked() {
	now := g.now()
	for k, exp := range g.entries {
		if now.After(exp) {
			delete(g.entries, k)
		}
	}
	if len(g.entries) >= guardMaxEntries {
		// drop the oldest entries; correctness is preserved by the persisted check
		var oldestKey string
		var oldest time.Time
		for k, exp := range g.entries {
			if oldestKey == "" || exp.Before(oldest) {
				oldestKey, oldest = k, exp
			}
		}
		if oldestKey != "" {
			delete(g.entries, oldestKey)
		}
	}
}
