// Package recovery restores pipeline infrastructure after an unclean
// restart.
//
// A crash can leave batch claims and per-stage process locks behind. Claims
// are eventually taken over via the stale-claim window and locks expire by
// TTL, but on a single-node deployment that can stall the pipeline for
// minutes after a restart. Running recovery at startup clears both
// immediately, before the scheduler takes over.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/store"
)

// Report summarizes what startup recovery cleaned up.
type Report struct {
	ReleasedClaims int
	ClearedLocks   int
}

// Run releases leftover batch claims and process locks for the given
// queues. Operator pause flags are preserved.
func Run(ctx context.Context, repo store.BatchRepo, kvs kv.Store, queues []string) (Report, error) {
	var rep Report
	for _, queue := range queues {
		batches, err := repo.GetBatches(queue)
		if err != nil {
			return rep, fmt.Errorf("recovery: list batches of %s: %w", queue, err)
		}
		for _, b := range batches {
			if b.ClaimedAt == nil {
				continue
			}
			if err := repo.ReleaseBatch(b.Key); err != nil {
				return rep, fmt.Errorf("recovery: release %s: %w", b.Key, err)
			}
			rep.ReleasedClaims++
		}

		lockKey := queue + "_process_lock"
		_, held, err := kvs.Get(ctx, lockKey)
		if err != nil {
			return rep, fmt.Errorf("recovery: read lock %s: %w", lockKey, err)
		}
		if held {
			if err := kvs.Delete(ctx, lockKey); err != nil {
				return rep, fmt.Errorf("recovery: clear lock %s: %w", lockKey, err)
			}
			rep.ClearedLocks++
		}
	}
	slog.Info("recovery.Run: startup recovery complete",
		"released_claims", rep.ReleasedClaims, "cleared_locks", rep.ClearedLocks)
	return rep, nil
}
