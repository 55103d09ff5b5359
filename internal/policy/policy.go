// Package policy decides what happens to a queue item after its LLM
// call fails: retry later, or fail permanently.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/ratelimit"
)

// Decision is the outcome of classifying a failure.
type Decision int

const (
	// Requeue puts the item back unchanged for a later tick.
	Requeue Decision = iota
	// Fail drops the item and records the error on its entity.
	Fail
)

func (d Decision) String() string {
	if d == Fail {
		return "fail"
	}
	return "requeue"
}

const (
	// maxAttempts is how many generic failures an item survives.
	maxAttempts = 3
	// attemptTTL bounds how long failure history counts against an item.
	attemptTTL = 24 * time.Hour
)

// Policy applies the shared failure rules: input too large fails
// immediately, throttling opens a sleep window and retries without
// penalty, and anything else gets a bounded number of attempts.
type Policy struct {
	kv   kv.Store
	gate *ratelimit.Gate
}

// New creates a policy over kvs, opening sleep windows on gate.
func New(kvs kv.Store, gate *ratelimit.Gate) *Policy {
	return &Policy{kv: kvs, gate: gate}
}

func attemptKey(scope string, id int64) string {
	return fmt.Sprintf("fail_%s_%d", scope, id)
}

// Decide classifies callErr for the item identified by (scope, id) and
// returns what to do with it. scope is usually the queue name.
func (p *Policy) Decide(ctx context.Context, scope string, id int64, callErr error) (Decision, error) {
	kind := models.KindOf(callErr)
	switch kind {
	case models.ErrorKindMaxTokenExceeded, models.ErrorKindContentInvalid, models.ErrorKindConfig:
		// Retrying cannot change the outcome.
		slog.Warn("Policy.Decide: permanent failure", "scope", scope, "id", id, "kind", kind, "error", callErr)
		return Fail, nil

	case models.ErrorKindTooManyRequests:
		quota := strings.Contains(strings.ToLower(callErr.Error()), "quota")
		if err := p.gate.StartSleepWindow(ctx, callErr.Error(), quota); err != nil {
			return Requeue, err
		}
		// Throttling is not the item's fault: no attempt is charged.
		return Requeue, nil

	default:
		attempts, err := p.kv.IncrBy(ctx, attemptKey(scope, id), 1, attemptTTL)
		if err != nil {
			return Requeue, fmt.Errorf("count attempt for %s/%d: %w", scope, id, err)
		}
		if attempts >= maxAttempts {
			slog.Warn("Policy.Decide: attempts exhausted", "scope", scope, "id", id, "attempts", attempts, "error", callErr)
			return Fail, nil
		}
		slog.Info("Policy.Decide: transient failure", "scope", scope, "id", id, "attempts", attempts, "error", callErr)
		return Requeue, nil
	}
}

// ClearAttempts forgets the item's failure history, typically after a
// success.
func (p *Policy) ClearAttempts(ctx context.Context, scope string, id int64) error {
	if err := p.kv.Delete(ctx, attemptKey(scope, id)); err != nil {
		return fmt.Errorf("clear attempts for %s/%d: %w", scope, id, err)
	}
	return nil
}
