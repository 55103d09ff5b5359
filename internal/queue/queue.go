// Package queue implements the durable stage queues and the background
// processor that drains them under time and memory budgets.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/pressfeed/newspipe/internal/store"
)

// Queue is a named durable batch queue backed by a BatchRepo. Items are
// grouped into batches; each batch is processed oldest first unless the
// queue is configured LIFO.
type Queue struct {
	repo store.BatchRepo
	name string
	lifo bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLIFO makes Batches return the newest batch first.
func WithLIFO() QueueOption {
	return func(q *Queue) { q.lifo = true }
}

// New creates a queue over repo with the given name.
func New(repo store.BatchRepo, name string, opts ...QueueOption) *Queue {
	q := &Queue{repo: repo, name: name}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Enqueue stores items as one new batch and returns its key. Empty
// input is rejected by the repo.
func (q *Queue) Enqueue(items []json.RawMessage) (string, error) {
	key, err := q.repo.SaveBatch(q.name, items)
	if err != nil {
		return "", fmt.Errorf("enqueue on %s: %w", q.name, err)
	}
	return key, nil
}

// Batches returns all batches in processing order.
func (q *Queue) Batches() ([]store.Batch, error) {
	batches, err := q.repo.GetBatches(q.name)
	if err != nil {
		return nil, fmt.Errorf("list batches of %s: %w", q.name, err)
	}
	if q.lifo {
		for i, j := 0, len(batches)-1; i < j; i, j = i+1, j-1 {
			batches[i], batches[j] = batches[j], batches[i]
		}
	}
	return batches, nil
}

// Pending returns the total item count across all batches.
func (q *Queue) Pending() (int, error) {
	n, err := q.repo.CountItems(q.name)
	if err != nil {
		return 0, fmt.Errorf("count items of %s: %w", q.name, err)
	}
	return n, nil
}

// Clear deletes every batch of the queue.
func (q *Queue) Clear() error {
	batches, err := q.repo.GetBatches(q.name)
	if err != nil {
		return fmt.Errorf("clear %s: %w", q.name, err)
	}
	for _, b := range batches {
		if err := q.repo.DeleteBatch(b.Key); err != nil {
			return fmt.Errorf("clear %s: delete %s: %w", q.name, b.Key, err)
		}
	}
	return nil
}
