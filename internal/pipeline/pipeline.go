// Package pipeline walks articles through the enrichment stages, from
// ingestion to outbound delivery. The dispatcher advances exactly one
// stage per tick, in fixed priority order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressfeed/newspipe/internal/completion"
	"github.com/pressfeed/newspipe/internal/guard"
	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/llm"
	"github.com/pressfeed/newspipe/internal/newsapi"
	"github.com/pressfeed/newspipe/internal/policy"
	"github.com/pressfeed/newspipe/internal/queue"
	"github.com/pressfeed/newspipe/internal/ratelimit"
	"github.com/pressfeed/newspipe/internal/store"
	"github.com/pressfeed/newspipe/internal/webhook"
)

// Stage names, in waterfall priority order.
const (
	StageIngest          = "ingest"
	StageInterestFilter  = "interest_filter"
	StageTitleRewrite    = "title_rewrite"
	StageFocusKeyphrase  = "focus_keyphrase"
	StageBodyRewrite     = "body_rewrite"
	StageImageCopy       = "image_copy"
	StageFieldCompletion = "field_completion"
	StageTagProcessing   = "tag_processing"
	StageOutboundSend    = "outbound_send"
	StageSocialFields    = "social_fields"
)

// StageOrder is the dispatch priority: earlier stages drain first.
var StageOrder = []string{
	StageIngest,
	StageInterestFilter,
	StageTitleRewrite,
	StageFocusKeyphrase,
	StageBodyRewrite,
	StageImageCopy,
	StageFieldCompletion,
	StageTagProcessing,
	StageOutboundSend,
	StageSocialFields,
}

// Config carries the tunables of the pipeline.
type Config struct {
	// SimilarityThreshold is the default duplicate-title cutoff.
	SimilarityThreshold float64
	// Lookback bounds duplicate detection against stored titles.
	Lookback time.Duration
	// MaxRunTime is the wall-clock allowance per processor tick.
	MaxRunTime time.Duration
	// MemoryLimit is the heap budget per tick, in bytes. Zero disables.
	MemoryLimit uint64
	// GuardTTL is the per-item concurrency marker lifetime.
	GuardTTL time.Duration
}

// withDefaults fills unset tunables.
func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.60
	}
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
	if c.MaxRunTime <= 0 {
		c.MaxRunTime = 5 * time.Minute
	}
	if c.GuardTTL <= 0 {
		c.GuardTTL = guard.DefaultTTL
	}
	return c
}

// stage couples one queue with its background processor.
type stage struct {
	queue *queue.Queue
	proc  *queue.Processor
}

// Controller owns the stage queues and the dispatcher.
type Controller struct {
	store   store.Store
	kv      kv.Store
	gate    *ratelimit.Gate
	policy  *policy.Policy
	guard   *guard.Guard
	llm     llm.CompletionClient
	engine  *completion.Engine
	fetcher newsapi.Fetcher
	sender  webhook.Sender
	cfg     Config

	stages map[string]*stage
	// continuations requested by processors during the current tick.
	tickAgain chan struct{}
}

// NewController wires the pipeline.
func NewController(
	st store.Store,
	kvs kv.Store,
	gate *ratelimit.Gate,
	pol *policy.Policy,
	client llm.CompletionClient,
	engine *completion.Engine,
	fetcher newsapi.Fetcher,
	sender webhook.Sender,
	cfg Config,
) *Controller {
	c := &Controller{
		store:     st,
		kv:        kvs,
		gate:      gate,
		policy:    pol,
		guard:     guard.New(kvs, cfg.GuardTTL),
		llm:       client,
		engine:    engine,
		fetcher:   fetcher,
		sender:    sender,
		cfg:       cfg.withDefaults(),
		stages:    make(map[string]*stage),
		tickAgain: make(chan struct{}, 1),
	}

	tasks := map[string]queue.Task{
		StageIngest:          c.ingestTask,
		StageInterestFilter:  c.interestFilterTask,
		StageTitleRewrite:    c.titleRewriteTask,
		StageFocusKeyphrase:  c.focusKeyphraseTask,
		StageBodyRewrite:     c.bodyRewriteTask,
		StageImageCopy:       c.imageCopyTask,
		StageFieldCompletion: c.fieldCompletionTask,
		StageTagProcessing:   c.tagProcessingTask,
		StageOutboundSend:    c.outboundSendTask,
		StageSocialFields:    c.socialFieldsTask,
	}
	for _, name := range StageOrder {
		q := queue.New(st, name)
		p := queue.NewProcessor(q, kvs, tasks[name],
			queue.WithMaxRunTime(c.cfg.MaxRunTime),
			queue.WithMemoryLimit(c.cfg.MemoryLimit),
			queue.WithContinuation(c.requestTick),
		)
		c.stages[name] = &stage{queue: q, proc: p}
	}
	return c
}

// requestTick records that at least one stage still has work, so the
// scheduler can run another tick without waiting for the next cron slot.
func (c *Controller) requestTick() {
	select {
	case c.tickAgain <- struct{}{}:
	default:
	}
}

// TickRequested drains the pending-tick signal.
func (c *Controller) TickRequested() bool {
	select {
	case <-c.tickAgain:
		return true
	default:
		return false
	}
}

// Tick advances the waterfall: the first stage with pending items gets
// one processor run, later stages wait for the next tick. Returns the
// stage that ran, or "" when everything is drained.
func (c *Controller) Tick(ctx context.Context) (string, error) {
	for _, name := range StageOrder {
		st := c.stages[name]
		pending, err := st.queue.Pending()
		if err != nil {
			return "", err
		}
		if pending == 0 {
			continue
		}
		n, err := st.proc.Process(ctx)
		if err != nil {
			return name, fmt.Errorf("tick %s: %w", name, err)
		}
		slog.Info("Controller.Tick: stage advanced", "stage", name, "processed", n)
		return name, nil
	}
	return "", nil
}

// RunStage runs one processor tick for a named stage, bypassing the
// waterfall. Operator use.
func (c *Controller) RunStage(ctx context.Context, name string) (int, error) {
	st, ok := c.stages[name]
	if !ok {
		return 0, fmt.Errorf("unknown stage %q", name)
	}
	return st.proc.Process(ctx)
}

// PauseStage flags a named stage so its processor skips work until resumed.
func (c *Controller) PauseStage(ctx context.Context, name string) error {
	st, ok := c.stages[name]
	if !ok {
		return fmt.Errorf("unknown stage %q", name)
	}
	return st.proc.Pause(ctx)
}

// ResumeStage clears a stage's pause flag.
func (c *Controller) ResumeStage(ctx context.Context, name string) error {
	st, ok := c.stages[name]
	if !ok {
		return fmt.Errorf("unknown stage %q", name)
	}
	return st.proc.Resume(ctx)
}

// ClearStage deletes every batch of a named stage. Operator use.
func (c *Controller) ClearStage(name string) error {
	st, ok := c.stages[name]
	if !ok {
		return fmt.Errorf("unknown stage %q", name)
	}
	return st.queue.Clear()
}

// StageCounts reports pending batch and item counts per stage, in
// waterfall order.
type StageCount struct {
	Stage   string `json:"stage"`
	Batches int    `json:"batches"`
	Items   int    `json:"items"`
}

func (c *Controller) StageCounts() ([]StageCount, error) {
	out := make([]StageCount, 0, len(StageOrder))
	for _, name := range StageOrder {
		st := c.stages[name]
		batches, err := st.queue.Batches()
		if err != nil {
			return nil, err
		}
		items, err := st.queue.Pending()
		if err != nil {
			return nil, err
		}
		out = append(out, StageCount{Stage: name, Batches: len(batches), Items: items})
	}
	return out, nil
}

// enqueue marshals items into one batch on the named stage.
func (c *Controller) enqueue(name string, items ...any) error {
	if len(items) == 0 {
		return nil
	}
	raw, err := store.EncodeItems(items)
	if err != nil {
		return fmt.Errorf("encode items for %s: %w", name, err)
	}
	if _, err := c.stages[name].queue.Enqueue(raw); err != nil {
		return err
	}
	return nil
}
