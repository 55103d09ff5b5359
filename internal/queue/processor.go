package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"time"

	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/store"
)

// Task processes one queue item. A nil result means the item is done
// (or permanently dropped); a non-nil result is requeued in the item's
// place for a later tick. Tasks handle their own failures and never
// report errors to the processor.
type Task func(ctx context.Context, payload []byte) []byte

// budgetReserve is subtracted from the scaled run time so a tick ends
// well before the hosting deadline.
const budgetReserve = 15 * time.Second

// Processor drains one queue in the background. A tick claims batches
// in order and runs the task on each item until the queue is empty or
// a budget runs out, persisting progress after every item.
type Processor struct {
	queue *Queue
	kv    kv.Store
	task  Task

	maxRunTime time.Duration
	memLimit   uint64
	lockTTL    time.Duration
	staleClaim time.Duration

	// continuation is invoked when a tick ends with items remaining.
	continuation func()
	// onComplete is invoked when a tick drains the queue.
	onComplete func()

	readMemStats func(*runtime.MemStats)
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMaxRunTime sets the wall-clock allowance for one tick. The
// effective budget is 90% of it minus a fixed reserve.
func WithMaxRunTime(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.maxRunTime = d }
}

// WithMemoryLimit sets the heap byte limit; a tick stops once
// allocated bytes pass 90% of it. Zero disables the check.
func WithMemoryLimit(limit uint64) ProcessorOption {
	return func(p *Processor) { p.memLimit = limit }
}

// WithLockTTL sets the process lock TTL.
func WithLockTTL(ttl time.Duration) ProcessorOption {
	return func(p *Processor) { p.lockTTL = ttl }
}

// WithStaleClaim sets how old a batch claim must be before another
// processor may take it over.
func WithStaleClaim(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.staleClaim = d }
}

// WithContinuation sets the callback fired when items remain after a tick.
func WithContinuation(fn func()) ProcessorOption {
	return func(p *Processor) { p.continuation = fn }
}

// WithOnComplete sets the callback fired when the queue drains.
func WithOnComplete(fn func()) ProcessorOption {
	return func(p *Processor) { p.onComplete = fn }
}

// NewProcessor creates a processor for q running task.
func NewProcessor(q *Queue, kvs kv.Store, task Task, opts ...ProcessorOption) *Processor {
	p := &Processor{
		queue:        q,
		kv:           kvs,
		task:         task,
		maxRunTime:   5 * time.Minute,
		lockTTL:      5 * time.Minute,
		staleClaim:   5 * time.Minute,
		readMemStats: runtime.ReadMemStats,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) lockKey() string  { return p.queue.Name() + "_process_lock" }
func (p *Processor) pauseKey() string { return p.queue.Name() + "_paused" }

// Pause sets the operator pause flag for the queue.
func (p *Processor) Pause(ctx context.Context) error {
	return p.kv.Set(ctx, p.pauseKey(), "1", 0)
}

// Resume clears the operator pause flag.
func (p *Processor) Resume(ctx context.Context) error {
	return p.kv.Delete(ctx, p.pauseKey())
}

func (p *Processor) paused(ctx context.Context) bool {
	v, ok, err := p.kv.Get(ctx, p.pauseKey())
	if err != nil {
		slog.Error("Processor.paused: flag read failed", "queue", p.queue.Name(), "error", err)
		return false
	}
	return ok && v == "1"
}

// budget returns the wall-clock allowance for one tick. It can be
// negative, in which case no item is processed.
func (p *Processor) budget() time.Duration {
	return p.maxRunTime*9/10 - budgetReserve
}

func (p *Processor) overMemory() bool {
	if p.memLimit == 0 {
		return false
	}
	var ms runtime.MemStats
	p.readMemStats(&ms)
	return ms.Alloc > p.memLimit/10*9
}

// stopReason is why a tick ended early.
type stopReason int

const (
	stopNone stopReason = iota
	stopBudget
	stopMemory
	stopPaused
	stopCancelled
)

func (p *Processor) shouldStop(ctx context.Context, deadline time.Time) stopReason {
	select {
	case <-ctx.Done():
		return stopCancelled
	default:
	}
	if !time.Now().Before(deadline) {
		return stopBudget
	}
	if p.overMemory() {
		return stopMemory
	}
	if p.paused(ctx) {
		return stopPaused
	}
	return stopNone
}

// Process runs one tick: it takes the process lock, claims batches in
// order and runs the task on each item. Returns the number of items
// processed. A concurrently running tick makes this a no-op.
func (p *Processor) Process(ctx context.Context) (int, error) {
	acquired, err := p.kv.SetNX(ctx, p.lockKey(), "1", p.lockTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		slog.Debug("Processor.Process: already running", "queue", p.queue.Name())
		return 0, nil
	}
	defer func() {
		if err := p.kv.Delete(context.WithoutCancel(ctx), p.lockKey()); err != nil {
			slog.Error("Processor.Process: lock release failed", "queue", p.queue.Name(), "error", err)
		}
	}()

	deadline := time.Now().Add(p.budget())
	processed := 0
	reason := stopNone
	seen := make(map[string]bool) // batches already drained this tick

batches:
	for {
		batches, err := p.queue.Batches()
		if err != nil {
			return processed, err
		}

		claimed := false
		for _, b := range batches {
			if seen[b.Key] {
				continue
			}
			ok, err := p.queue.repo.ClaimBatch(b.Key, time.Now(), time.Now().Add(-p.staleClaim))
			if err != nil {
				return processed, err
			}
			if !ok {
				continue
			}
			claimed = true
			seen[b.Key] = true

			n, r := p.drainBatch(ctx, b, deadline)
			processed += n
			if r != stopNone {
				reason = r
				break batches
			}
		}
		if !claimed {
			// Everything left is held by another processor or was
			// already drained this tick.
			break
		}
	}

	remaining, err := p.queue.Pending()
	if err != nil {
		return processed, err
	}

	slog.Info("Processor.Process: tick done",
		"queue", p.queue.Name(), "processed", processed, "remaining", remaining, "reason", reason)

	if remaining == 0 {
		if p.onComplete != nil {
			p.onComplete()
		}
		return processed, nil
	}
	if reason != stopPaused && reason != stopCancelled && p.continuation != nil {
		p.continuation()
	}
	return processed, nil
}

// drainBatch runs the task on each item of b, persisting the shrunken
// batch after every item. Requeued payloads stay in the batch for a
// later tick. Returns the number of items processed and the reason the
// batch was left unfinished, if any.
func (p *Processor) drainBatch(ctx context.Context, b store.Batch, deadline time.Time) (int, stopReason) {
	processed := 0
	var requeued []json.RawMessage

	for i, item := range b.Items {
		if r := p.shouldStop(ctx, deadline); r != stopNone {
			rest := append(requeued, b.Items[i:]...)
			p.persist(b.Key, rest)
			if err := p.queue.repo.ReleaseBatch(b.Key); err != nil {
				slog.Error("Processor.drainBatch: release failed", "key", b.Key, "error", err)
			}
			return processed, r
		}

		result := p.task(ctx, item)
		processed++
		if result != nil {
			requeued = append(requeued, result)
		}
		p.persist(b.Key, append(requeued, b.Items[i+1:]...))
	}

	if len(requeued) > 0 {
		if err := p.queue.repo.ReleaseBatch(b.Key); err != nil {
			slog.Error("Processor.drainBatch: release failed", "key", b.Key, "error", err)
		}
	}
	return processed, stopNone
}

// persist writes the batch's remaining items, deleting the batch when
// none are left.
func (p *Processor) persist(key string, items []json.RawMessage) {
	if len(items) == 0 {
		if err := p.queue.repo.DeleteBatch(key); err != nil {
			slog.Error("Processor.persist: delete failed", "key", key, "error", err)
		}
		return
	}
	if err := p.queue.repo.UpdateBatch(key, items); err != nil {
		slog.Error("Processor.persist: update failed", "key", key, "error", err)
	}
}
