package completion

import (
	"context"
	"testing"

	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/llm"
	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/ratelimit"
	"github.com/pressfeed/newspipe/internal/store"
)

type fakeLLM struct {
	calls int
	text  string
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (llm.Result, error) {
	f.calls++
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Text: f.text, TotalTokens: 100}, nil
}

type testEnv struct {
	store  *store.MemoryStore
	kv     *kv.MemoryStore
	llm    *fakeLLM
	engine *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	kvs := kv.NewMemoryStore()
	gate := ratelimit.NewGate(kvs, ratelimit.Limits{RequestsPerMinute: 1000, TokensPerMinute: 100000})
	f := &fakeLLM{text: "Generated value"}
	return &testEnv{store: st, kv: kvs, llm: f, engine: NewEngine(st, kvs, gate, f, nil)}
}

func (env *testEnv) newItem(t *testing.T, filled int) *models.NewsItem {
	t.Helper()
	item := &models.NewsItem{Title: "A headline", Status: models.SyncStatusInProgress}
	if err := env.store.CreateNewsItem(item); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}
	fields := models.CompletableFields()
	for i := 0; i < filled && i < len(fields); i++ {
		item.SetFieldValue(fields[i], "prefilled")
	}
	if filled > 0 {
		if err := env.store.UpdateNewsItem(item); err != nil {
			t.Fatalf("UpdateNewsItem failed: %v", err)
		}
	}
	return item
}

func emptyField(t *testing.T, item *models.NewsItem) models.ContentField {
	t.Helper()
	for _, f := range models.CompletableFields() {
		if item.FieldValue(f) == "" {
			return f
		}
	}
	t.Fatal("no empty field left")
	return ""
}

func TestEngine_GenerateField_FillsAndPersists(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, 0)

	v, err := env.engine.GenerateField(context.Background(), item.ID, models.FieldSummary)
	if err != nil {
		t.Fatalf("GenerateField failed: %v", err)
	}
	if v != "Generated value" {
		t.Errorf("Expected generated value, got %q", v)
	}
	if env.llm.calls != 1 {
		t.Errorf("Expected 1 LLM call, got %d", env.llm.calls)
	}

	got, _ := env.store.GetNewsItem(item.ID)
	if got.Summary != "Generated value" {
		t.Errorf("Field not persisted: %q", got.Summary)
	}
	if got.TotalRequests != 1 || got.TotalTokens != 100 {
		t.Errorf("Usage totals not recorded: %+v", got)
	}
}

func TestEngine_GenerateField_IdempotentOnFilledField(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, 0)

	if _, err := env.engine.GenerateField(context.Background(), item.ID, models.FieldSummary); err != nil {
		t.Fatalf("GenerateField failed: %v", err)
	}
	v, err := env.engine.GenerateField(context.Background(), item.ID, models.FieldSummary)
	if err != nil {
		t.Fatalf("Second GenerateField failed: %v", err)
	}
	if v != "Generated value" {
		t.Errorf("Expected existing value unchanged, got %q", v)
	}
	if env.llm.calls != 1 {
		t.Errorf("Filled field must not trigger a second call, got %d calls", env.llm.calls)
	}
}

func TestEngine_GenerateField_UsesResponseCache(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, 0)

	ctx := context.Background()
	if err := env.kv.Set(ctx, cacheKey(models.FieldSummary, item.ID), "Cached response", 0); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	v, err := env.engine.GenerateField(ctx, item.ID, models.FieldSummary)
	if err != nil {
		t.Fatalf("GenerateField failed: %v", err)
	}
	if v != "Cached response" {
		t.Errorf("Expected cached response, got %q", v)
	}
	if env.llm.calls != 0 {
		t.Errorf("Cache hit must not call the LLM, got %d calls", env.llm.calls)
	}
}

func TestEngine_CompletionThreshold(t *testing.T) {
	total := len(models.CompletableFields())
	need := Threshold(total)
	if total != 15 || need != 11 {
		t.Fatalf("Expected 11 of 15 fields, got %d of %d", need, total)
	}

	// One short of the threshold stays in progress.
	env := newTestEnv(t)
	item := env.newItem(t, need-2)
	if _, err := env.engine.GenerateField(context.Background(), item.ID, emptyField(t, item)); err != nil {
		t.Fatalf("GenerateField failed: %v", err)
	}
	got, _ := env.store.GetNewsItem(item.ID)
	if got.Status != models.SyncStatusInProgress {
		t.Errorf("Expected in_progress below threshold, got %q", got.Status)
	}

	// Reaching the threshold completes the item.
	env = newTestEnv(t)
	item = env.newItem(t, need-1)
	if _, err := env.engine.GenerateField(context.Background(), item.ID, emptyField(t, item)); err != nil {
		t.Fatalf("GenerateField failed: %v", err)
	}
	got, _ = env.store.GetNewsItem(item.ID)
	if got.Status != models.SyncStatusComplete {
		t.Errorf("Expected complete at threshold, got %q", got.Status)
	}
}

func TestEngine_GenerateField_UnknownFieldIsConfigError(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, 0)

	_, err := env.engine.GenerateField(context.Background(), item.ID, models.ContentField("bogus"))
	if models.KindOf(err) != models.ErrorKindConfig {
		t.Errorf("Expected config error, got %v", err)
	}
}

func TestEngine_GenerateField_EmptyAfterFilterIsContentError(t *testing.T) {
	env := newTestEnv(t)
	env.llm.text = "As an AI language model, I cannot do that."
	item := env.newItem(t, 0)

	_, err := env.engine.GenerateField(context.Background(), item.ID, models.FieldSummary)
	if models.KindOf(err) != models.ErrorKindContentInvalid {
		t.Errorf("Expected content_invalid, got %v", err)
	}
}

func TestEngine_GenerateField_BudgetExhausted(t *testing.T) {
	st := store.NewMemoryStore()
	kvs := kv.NewMemoryStore()
	gate := ratelimit.NewGate(kvs, ratelimit.Limits{RequestsPerMinute: 1})
	f := &fakeLLM{text: "x"}
	engine := NewEngine(st, kvs, gate, f, nil)

	item := &models.NewsItem{Title: "A headline"}
	if err := st.CreateNewsItem(item); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}
	// Exhaust the single-request budget.
	if err := gate.IncreaseRequestCount(context.Background()); err != nil {
		t.Fatalf("IncreaseRequestCount failed: %v", err)
	}

	_, err := engine.GenerateField(context.Background(), item.ID, models.FieldSummary)
	if err != ErrBudgetExhausted {
		t.Errorf("Expected ErrBudgetExhausted, got %v", err)
	}
	if f.calls != 0 {
		t.Errorf("LLM must not be called over budget, got %d calls", f.calls)
	}
}

func TestEngine_ClearCaches(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, 0)
	ctx := context.Background()

	if _, err := env.engine.GenerateField(ctx, item.ID, models.FieldSummary); err != nil {
		t.Fatalf("GenerateField failed: %v", err)
	}
	if _, ok, _ := env.kv.Get(ctx, cacheKey(models.FieldSummary, item.ID)); !ok {
		t.Fatal("Expected a cached response after generation")
	}

	if err := env.engine.ClearCaches(ctx, item.ID); err != nil {
		t.Fatalf("ClearCaches failed: %v", err)
	}
	if _, ok, _ := env.kv.Get(ctx, cacheKey(models.FieldSummary, item.ID)); ok {
		t.Error("Expected cache cleared")
	}
}
