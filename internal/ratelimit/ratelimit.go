// Package ratelimit gates LLM traffic on per-minute and per-day
// request and token counters, and tracks the words-to-tokens ratio
// used to predict request sizes.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/pressfeed/newspipe/internal/kv"
)

const (
	// Caps are enforced below 100% so a burst in flight cannot push a
	// bucket over the provider's hard limit.
	minuteFraction = 0.90
	dayFraction    = 0.98

	minuteKeyTTL = 2 * time.Minute
	dayKeyTTL    = 48 * time.Hour

	// Sleep windows after upstream throttling.
	quotaSleep    = 10 * time.Minute
	throttleSleep = time.Minute

	defaultTokenRatio = 1.33
	minTokenRatio     = 1.0
	maxTokenRatio     = 3.0
)

// Limits holds the provider's advertised rate caps.
type Limits struct {
	RequestsPerMinute int64
	TokensPerMinute   int64
	RequestsPerDay    int64
	// MaxTokensPerRequest is the model's context budget for one call.
	MaxTokensPerRequest int64
}

// Gate decides whether another LLM request may be sent right now.
// Counters and the sleep window live in the KV store so every worker
// in the process shares them.
type Gate struct {
	kv     kv.Store
	limits Limits
	now    func() time.Time
}

// NewGate creates a gate over kvs with the given limits.
func NewGate(kvs kv.Store, limits Limits) *Gate {
	return &Gate{kv: kvs, limits: limits, now: time.Now}
}

// SetClock overrides the gate's clock. Tests only.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

func (g *Gate) minuteKey(kind string) string {
	return fmt.Sprintf("rate_%s_min_%s", kind, g.now().UTC().Format("200601021504"))
}

func (g *Gate) dayKey(kind string) string {
	return fmt.Sprintf("rate_%s_day_%s", kind, g.now().UTC().Format("20060102"))
}

const (
	sleepKey      = "rate_sleep_reason"
	tokenRatioKey = "rate_token_ratio"
	kindRequests  = "req"
	kindTokens    = "tok"
)

// IncreaseRequestCount records one outbound request in the minute and
// day buckets.
func (g *Gate) IncreaseRequestCount(ctx context.Context) error {
	if _, err := g.kv.IncrBy(ctx, g.minuteKey(kindRequests), 1, minuteKeyTTL); err != nil {
		return fmt.Errorf("increase request count: %w", err)
	}
	if _, err := g.kv.IncrBy(ctx, g.dayKey(kindRequests), 1, dayKeyTTL); err != nil {
		return fmt.Errorf("increase request count: %w", err)
	}
	return nil
}

// IncreaseTokenCount records tokens consumed by a completed request.
func (g *Gate) IncreaseTokenCount(ctx context.Context, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	if _, err := g.kv.IncrBy(ctx, g.minuteKey(kindTokens), tokens, minuteKeyTTL); err != nil {
		return fmt.Errorf("increase token count: %w", err)
	}
	return nil
}

func (g *Gate) counter(ctx context.Context, key string) int64 {
	return kv.GetInt64(ctx, g.kv, key)
}

// CanSendMoreRequests reports whether another request fits under the
// minute caps at 90%, the day cap at 98% and outside any sleep window.
func (g *Gate) CanSendMoreRequests(ctx context.Context) (bool, error) {
	if asleep, _, err := g.InSleepWindow(ctx); err != nil {
		return false, err
	} else if asleep {
		return false, nil
	}

	if g.limits.RequestsPerMinute > 0 {
		used := g.counter(ctx, g.minuteKey(kindRequests))
		if float64(used) >= float64(g.limits.RequestsPerMinute)*minuteFraction {
			return false, nil
		}
	}
	if g.limits.TokensPerMinute > 0 {
		used := g.counter(ctx, g.minuteKey(kindTokens))
		if float64(used) >= float64(g.limits.TokensPerMinute)*minuteFraction {
			return false, nil
		}
	}
	if g.limits.RequestsPerDay > 0 {
		used := g.counter(ctx, g.dayKey(kindRequests))
		if float64(used) >= float64(g.limits.RequestsPerDay)*dayFraction {
			return false, nil
		}
	}
	return true, nil
}

// tokenRatio returns the calibrated words-to-tokens ratio.
func (g *Gate) tokenRatio(ctx context.Context) float64 {
	v, ok, err := g.kv.Get(ctx, tokenRatioKey)
	if err != nil || !ok {
		return defaultTokenRatio
	}
	ratio, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultTokenRatio
	}
	return ratio
}

// RecordUsage recalibrates the words-to-tokens ratio from an observed
// completion. The ratio is clamped so one odd response cannot skew
// future estimates.
func (g *Gate) RecordUsage(ctx context.Context, wordCount int, tokens int64) error {
	if wordCount <= 0 || tokens <= 0 {
		return nil
	}
	ratio := float64(tokens) / float64(wordCount)
	ratio = math.Max(minTokenRatio, math.Min(maxTokenRatio, ratio))
	if err := g.kv.Set(ctx, tokenRatioKey, strconv.FormatFloat(ratio, 'f', 4, 64), 0); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// EstimateTokens converts a word count to an estimated token count
// using the calibrated ratio.
func (g *Gate) EstimateTokens(ctx context.Context, wordCount int) int64 {
	return int64(math.Ceil(float64(wordCount) * g.tokenRatio(ctx)))
}

// IsValidForMaxToken reports whether an input of wordCount words fits
// inside percent of the per-request token budget.
func (g *Gate) IsValidForMaxToken(ctx context.Context, wordCount int, percent float64) bool {
	if g.limits.MaxTokensPerRequest <= 0 {
		return true
	}
	estimated := g.EstimateTokens(ctx, wordCount)
	return float64(estimated) <= float64(g.limits.MaxTokensPerRequest)*percent
}

// StartSleepWindow pauses all traffic after upstream throttling. Quota
// exhaustion sleeps longer than ordinary throttling. The reason is the
// upstream message, kept for the operator API.
func (g *Gate) StartSleepWindow(ctx context.Context, reason string, quota bool) error {
	d := throttleSleep
	if quota {
		d = quotaSleep
	}
	if reason == "" {
		reason = "rate limited"
	}
	if err := g.kv.Set(ctx, sleepKey, reason, d); err != nil {
		return fmt.Errorf("start sleep window: %w", err)
	}
	slog.Warn("Gate.StartSleepWindow: pausing traffic", "duration", d, "reason", reason)
	return nil
}

// InSleepWindow reports whether a sleep window is active, and why.
func (g *Gate) InSleepWindow(ctx context.Context) (bool, string, error) {
	reason, ok, err := g.kv.Get(ctx, sleepKey)
	if err != nil {
		return false, "", fmt.Errorf("read sleep window: %w", err)
	}
	return ok, reason, nil
}

// Snapshot reports current counter values for the operator API.
type Snapshot struct {
	RequestsThisMinute int64  `json:"requests_this_minute"`
	TokensThisMinute   int64  `json:"tokens_this_minute"`
	RequestsToday      int64  `json:"requests_today"`
	Asleep             bool   `json:"asleep"`
	SleepReason        string `json:"sleep_reason,omitempty"`
}

// Stats returns a snapshot of the gate's counters.
func (g *Gate) Stats(ctx context.Context) Snapshot {
	asleep, reason, err := g.InSleepWindow(ctx)
	if err != nil {
		slog.Error("Gate.Stats: sleep window read failed", "error", err)
	}
	return Snapshot{
		RequestsThisMinute: g.counter(ctx, g.minuteKey(kindRequests)),
		TokensThisMinute:   g.counter(ctx, g.minuteKey(kindTokens)),
		RequestsToday:      g.counter(ctx, g.dayKey(kindRequests)),
		Asleep:             asleep,
		SleepReason:        reason,
	}
}
