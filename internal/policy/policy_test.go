package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/ratelimit"
)

func newTestPolicy(t *testing.T) (*Policy, *ratelimit.Gate) {
	t.Helper()
	kvs := kv.NewMemoryStore()
	gate := ratelimit.NewGate(kvs, ratelimit.Limits{RequestsPerMinute: 100})
	return New(kvs, gate), gate
}

func TestPolicy_MaxTokenFailsImmediately(t *testing.T) {
	p, _ := newTestPolicy(t)

	err := models.NewCallError(models.ErrorKindMaxTokenExceeded, "input too long for model")
	d, derr := p.Decide(context.Background(), "body_rewrite", 1, err)
	if derr != nil {
		t.Fatalf("Decide failed: %v", derr)
	}
	if d != Fail {
		t.Errorf("Expected Fail for max-token error, got %v", d)
	}
}

func TestPolicy_ThrottlingSleepsAndRequeuesWithoutPenalty(t *testing.T) {
	p, gate := newTestPolicy(t)
	ctx := context.Background()

	err := models.NewCallError(models.ErrorKindTooManyRequests, "quota exceeded, retry later")
	for i := 0; i < 5; i++ {
		d, derr := p.Decide(ctx, "body_rewrite", 1, err)
		if derr != nil {
			t.Fatalf("Decide failed: %v", derr)
		}
		if d != Requeue {
			t.Fatalf("Expected Requeue for throttling, got %v on call %d", d, i)
		}
	}

	asleep, reason, serr := gate.InSleepWindow(ctx)
	if serr != nil {
		t.Fatalf("InSleepWindow failed: %v", serr)
	}
	if !asleep {
		t.Error("Expected a sleep window after throttling")
	}
	if reason == "" {
		t.Error("Expected the upstream message to be recorded")
	}
}

func TestPolicy_GenericFailsOnThirdStrike(t *testing.T) {
	p, _ := newTestPolicy(t)
	ctx := context.Background()

	err := errors.New("connection reset by peer")
	for i := 1; i <= 2; i++ {
		d, derr := p.Decide(ctx, "ingest", 9, err)
		if derr != nil {
			t.Fatalf("Decide failed: %v", derr)
		}
		if d != Requeue {
			t.Errorf("Attempt %d: expected Requeue, got %v", i, d)
		}
	}

	d, derr := p.Decide(ctx, "ingest", 9, err)
	if derr != nil {
		t.Fatalf("Decide failed: %v", derr)
	}
	if d != Fail {
		t.Errorf("Third attempt: expected Fail, got %v", d)
	}
}

func TestPolicy_AttemptsAreScopedPerItem(t *testing.T) {
	p, _ := newTestPolicy(t)
	ctx := context.Background()

	err := errors.New("upstream 500")
	for i := 0; i < 2; i++ {
		if _, derr := p.Decide(ctx, "ingest", 1, err); derr != nil {
			t.Fatalf("Decide failed: %v", derr)
		}
	}

	// Another item and another queue both start fresh.
	if d, _ := p.Decide(ctx, "ingest", 2, err); d != Requeue {
		t.Error("Other item should not inherit attempt history")
	}
	if d, _ := p.Decide(ctx, "tags", 1, err); d != Requeue {
		t.Error("Other queue should not inherit attempt history")
	}
}

func TestPolicy_ClearAttemptsResetsHistory(t *testing.T) {
	p, _ := newTestPolicy(t)
	ctx := context.Background()

	err := errors.New("flaky upstream")
	for i := 0; i < 2; i++ {
		if _, derr := p.Decide(ctx, "ingest", 3, err); derr != nil {
			t.Fatalf("Decide failed: %v", derr)
		}
	}
	if err := p.ClearAttempts(ctx, "ingest", 3); err != nil {
		t.Fatalf("ClearAttempts failed: %v", err)
	}
	if d, _ := p.Decide(ctx, "ingest", 3, err); d != Requeue {
		t.Error("Cleared item should get a fresh attempt budget")
	}
}
