// Package completion fills the independently generatable content
// fields of a news item, one idempotent call per field, and declares
// the item complete once enough fields are non-empty.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/llm"
	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/ratelimit"
	"github.com/pressfeed/newspipe/internal/store"
	"github.com/pressfeed/newspipe/internal/util"
)

// ErrBudgetExhausted means the rate gate refused the call. The item is
// not at fault: requeue it unchanged and try again next tick.
var ErrBudgetExhausted = errors.New("completion: rate budget exhausted")

const (
	// completionFraction of the completable fields must be filled
	// before the item's sync status moves to complete.
	completionFraction = 0.7
	// promptBudgetFraction of the per-request token budget may be
	// spent on the rendered prompt.
	promptBudgetFraction = 0.7

	cacheTTL = 24 * time.Hour
)

// Threshold returns how many of total fields must be filled for
// completion.
func Threshold(total int) int {
	return int(math.Round(completionFraction * float64(total)))
}

// Engine generates field values and tracks per-item completion.
type Engine struct {
	store    store.Store
	kv       kv.Store
	gate     *ratelimit.Gate
	llm      llm.CompletionClient
	registry Registry
}

// NewEngine wires a completion engine. A nil registry gets the default.
func NewEngine(st store.Store, kvs kv.Store, gate *ratelimit.Gate, client llm.CompletionClient, registry Registry) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Engine{store: st, kv: kvs, gate: gate, llm: client, registry: registry}
}

func cacheKey(field models.ContentField, newsID int64) string {
	return fmt.Sprintf("completion_%s_%d", field, newsID)
}

// GenerateField fills one field of the news item. A non-empty field is
// returned as-is without an external call; a cached response is reused
// across retries. On success the item is persisted and its completion
// status re-evaluated.
func (e *Engine) GenerateField(ctx context.Context, newsID int64, field models.ContentField) (string, error) {
	spec, ok := e.registry[field]
	if !ok {
		return "", models.NewCallError(models.ErrorKindConfig, "no generator registered for field %q", field)
	}

	item, err := e.store.GetNewsItem(newsID)
	if err != nil {
		return "", fmt.Errorf("load news item %d: %w", newsID, err)
	}
	if item == nil {
		return "", models.NewCallError(models.ErrorKindConfig, "news item %d not found", newsID)
	}

	if existing := item.FieldValue(field); existing != "" {
		return existing, nil
	}

	raw, cached, err := e.fetchRaw(ctx, item, spec)
	if err != nil {
		return "", err
	}

	value := postFilter(raw, spec.Blacklist, spec.MaxLength)
	if value == "" {
		return "", models.NewCallError(models.ErrorKindContentInvalid, "field %q: empty after filtering", field)
	}

	item.SetFieldValue(field, value)
	if err := e.store.UpdateNewsItem(item); err != nil {
		return "", fmt.Errorf("persist field %q of item %d: %w", field, newsID, err)
	}

	if err := e.refreshStatus(item); err != nil {
		return "", err
	}

	slog.Info("Engine.GenerateField: field filled",
		"newsID", newsID, "field", field, "cached", cached, "filled", item.FilledFieldCount())
	return value, nil
}

// fetchRaw returns the unfiltered model output for the field, from the
// response cache when possible.
func (e *Engine) fetchRaw(ctx context.Context, item *models.NewsItem, spec FieldSpec) (string, bool, error) {
	key := cacheKey(spec.Field, item.ID)
	if v, ok, err := e.kv.Get(ctx, key); err != nil {
		return "", false, fmt.Errorf("read completion cache: %w", err)
	} else if ok {
		return v, true, nil
	}

	var article *models.SourceArticle
	if item.ArticleID != 0 {
		a, err := e.store.GetArticle(item.ArticleID)
		if err != nil {
			return "", false, fmt.Errorf("load article %d: %w", item.ArticleID, err)
		}
		article = a
	}

	system := spec.SystemPrompt
	user := renderTemplate(spec.UserTemplate, item, article)

	allowed, err := e.gate.CanSendMoreRequests(ctx)
	if err != nil {
		return "", false, err
	}
	if !allowed {
		return "", false, ErrBudgetExhausted
	}
	if !e.gate.IsValidForMaxToken(ctx, promptWordCount(system, user), promptBudgetFraction) {
		return "", false, models.NewCallError(models.ErrorKindMaxTokenExceeded,
			"field %q of item %d: prompt exceeds token budget", spec.Field, item.ID)
	}

	if err := e.gate.IncreaseRequestCount(ctx); err != nil {
		return "", false, err
	}
	start := time.Now()
	res, err := e.llm.Complete(ctx, system, user)
	if err != nil {
		return "", false, err
	}

	if err := e.gate.IncreaseTokenCount(ctx, res.TotalTokens); err != nil {
		slog.Error("Engine.fetchRaw: token count update failed", "error", err)
	}
	if err := e.gate.RecordUsage(ctx, util.WordCount(user)+util.WordCount(res.Text), res.TotalTokens); err != nil {
		slog.Error("Engine.fetchRaw: ratio calibration failed", "error", err)
	}

	item.TotalRequests++
	item.TotalTokens += res.TotalTokens
	item.TotalTime += time.Since(start).Seconds()

	if err := e.kv.Set(ctx, key, res.Text, cacheTTL); err != nil {
		slog.Error("Engine.fetchRaw: cache write failed", "key", key, "error", err)
	}
	return res.Text, false, nil
}

// refreshStatus promotes the item to complete once enough fields are
// filled. Completion never regresses.
func (e *Engine) refreshStatus(item *models.NewsItem) error {
	need := Threshold(len(models.CompletableFields()))
	if item.FilledFieldCount() < need {
		return nil
	}
	if err := e.store.SetSyncStatus(item.ID, models.SyncStatusComplete); err != nil {
		return fmt.Errorf("mark item %d complete: %w", item.ID, err)
	}
	return nil
}

// MissingFields returns the still-empty completable fields of the item.
func (e *Engine) MissingFields(item *models.NewsItem) []models.ContentField {
	var missing []models.ContentField
	for _, f := range models.CompletableFields() {
		if item.FieldValue(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// ClearCaches drops every cached response for the item, so a resync
// generates fresh values.
func (e *Engine) ClearCaches(ctx context.Context, newsID int64) error {
	for _, f := range models.CompletableFields() {
		if err := e.kv.Delete(ctx, cacheKey(f, newsID)); err != nil {
			return fmt.Errorf("clear cache for field %q: %w", f, err)
		}
	}
	return nil
}
