// Package store: durable task batch persistence for the stage queues.
package store

import (
	"encoding/json"
	"time"
)

// Batch is a durably stored, ordered list of opaque task payloads belonging
// to one named queue. Keys sort in creation order within a queue.
type Batch struct {
	Key       string            `json:"key"`
	Queue     string            `json:"queue"`
	Seq       int64             `json:"seq"`
	Items     []json.RawMessage `json:"items"`
	ClaimedAt *time.Time        `json:"claimed_at"`
	CreatedAt time.Time         `json:"created_at"`
}

// BatchRepo defines durable queue batch persistence.
//
// Batches are independent records: a crash between save and processing
// leaves the batch intact for the next tick. There is no exactly-once
// guarantee across retries; handlers must be idempotent or rely on the
// per-item concurrency guard.
type BatchRepo interface {
	// SaveBatch persists items as one new batch at the tail of queue and
	// returns the batch key.
	SaveBatch(queue string, items []json.RawMessage) (string, error)

	// GetBatches returns all batches for queue in ascending key order.
	GetBatches(queue string) ([]Batch, error)

	// ClaimBatch marks the batch as claimed if it is unclaimed or its claim
	// is older than staleBefore. Returns true when this caller won the claim.
	ClaimBatch(key string, now time.Time, staleBefore time.Time) (bool, error)

	// ReleaseBatch clears the claim so another processor may pick it up.
	ReleaseBatch(key string) error

	// UpdateBatch replaces the batch's items in place.
	UpdateBatch(key string, items []json.RawMessage) error

	// DeleteBatch removes the batch.
	DeleteBatch(key string) error

	// CountItems returns the total number of items pending across all
	// batches of queue.
	CountItems(queue string) (int, error)
}

// EncodeItems marshals payloads into the raw form batches store.
func EncodeItems[T any](items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
