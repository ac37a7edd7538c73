package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestGuard() (*Guard, *[]func()) {
	pending := &[]func(){}
	g := NewGuard(nil)
	g.after = func(d time.Duration, f func()) {
		*pending = append(*pending, f)
	}
	return g, pending
}

func TestGuardSuppressesDuplicate(t *testing.T) {
	g, _ := newTestGuard()
	ctx := context.Background()

	assert.True(t, g.TryAcquire(ctx, "payment:1"))
	assert.False(t, g.TryAcquire(ctx, "payment:1"), "duplicate within window must be dropped")
	assert.True(t, g.TryAcquire(ctx, "payment:2"), "different id is unaffected")
}

func TestGuardCooldownAbsorbsLateDuplicates(t *testing.T) {
	g, pending := newTestGuard()
	ctx := context.Background()

	assert.True(t, g.TryAcquire(ctx, "payment:1"))
	g.Release("payment:1")
	// release is deferred; a duplicate arriving inside the cooldown is still dropped
	assert.False(t, g.TryAcquire(ctx, "payment:1"))

	for _, f := range *pending {
		f()
	}
	assert.True(t, g.TryAcquire(ctx, "payment:1"), "after cooldown the id is free again")
}

func TestGuardEntriesExpire(t *testing.T) {
	g, _ := newTestGuard()
	ctx := context.Background()
	now := time.Now()
	g.now = func() time.Time { return now }

	assert.True(t, g.TryAcquire(ctx, "payment:1"))
	g.now = func() time.Time { return now.Add(guardEntryTTL + time.Second) }
	assert.True(t, g.TryAcquire(ctx, "payment:1"), "stale entry without release must eventually expire")
}
