// Package kv provides the ephemeral key-value store used for rate counters,
// per-item running markers, process locks, and completion response caches.
//
// Keys carry a TTL and expire automatically; values are opaque strings.
// An in-memory implementation backs tests and single-node deployments, and
// a Redis implementation backs multi-node deployments.
package kv

import (
	"context"
	"strconv"
	"time"
)

// Store is the ephemeral key-value contract. All operations are atomic at
// the single-key level; no multi-key transactions are offered or needed.
type Store interface {
	// Get returns the value for key and whether it exists (and is unexpired).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value under key only if the key does not exist.
	// Returns true if the key was set by this call.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IncrBy atomically adds delta to the integer stored at key, creating it
	// at zero first. The ttl is applied only when the key is created.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetInt64 reads key as an integer, returning 0 when absent or malformed.
func GetInt64(ctx context.Context, s Store, key string) int64 {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
