// Package guard prevents the same queue item from being worked on by
// two workers at once, using short-lived KV markers.
package guard

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/pressfeed/newspipe/internal/kv"
)

// DefaultTTL bounds how long an item marker outlives a crashed worker.
const DefaultTTL = 30 * time.Second

// Guard marks items as in-flight for the duration of one task run.
type Guard struct {
	kv  kv.Store
	ttl time.Duration
}

// New creates a guard with the given marker TTL. A non-positive TTL
// falls back to DefaultTTL.
func New(kvs kv.Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{kv: kvs, ttl: ttl}
}

func itemKey(queue string, payload []byte) string {
	h := fnv.New64a()
	h.Write(payload)
	return fmt.Sprintf("%s_running_%x", queue, h.Sum64())
}

// TryAcquire marks the item as running. It returns false when another
// worker holds a live marker for the same payload.
func (g *Guard) TryAcquire(ctx context.Context, queue string, payload []byte) (bool, error) {
	ok, err := g.kv.SetNX(ctx, itemKey(queue, payload), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire item guard: %w", err)
	}
	return ok, nil
}

// Release drops the item marker. Safe to call for markers that have
// already expired.
func (g *Guard) Release(ctx context.Context, queue string, payload []byte) error {
	if err := g.kv.Delete(ctx, itemKey(queue, payload)); err != nil {
		return fmt.Errorf("release item guard: %w", err)
	}
	return nil
}

// IsRunning reports whether a live marker exists for the payload.
func (g *Guard) IsRunning(ctx context.Context, queue string, payload []byte) (bool, error) {
	_, ok, err := g.kv.Get(ctx, itemKey(queue, payload))
	if err != nil {
		return false, fmt.Errorf("check item guard: %w", err)
	}
	return ok, nil
}
