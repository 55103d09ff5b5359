// Package scheduler provides scheduling logic for NewsPipe.
//
// It drives the pipeline dispatcher on a cron cadence: each firing seeds
// the ingest, outbound, and social queues and then runs dispatcher ticks
// until no stage requests a follow-up.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/pressfeed/newspipe/internal/pipeline"
)

// DefaultSchedule runs the pipeline every two minutes.
const DefaultSchedule = "*/2 * * * *"

// maxTicksPerRun bounds how many continuation ticks a single cron firing
// may chain, so one firing cannot monopolize the process forever.
const maxTicksPerRun = 25

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// SchedulePipeline registers the seed-and-tick job for the given
// controller. An empty expression falls back to DefaultSchedule.
func (s *Scheduler) SchedulePipeline(ctx context.Context, ctrl *pipeline.Controller, expr string) error {
	if expr == "" {
		expr = DefaultSchedule
	}
	return s.AddJob(expr, func() { RunOnce(ctx, ctrl) })
}

// RunOnce executes one full pipeline pass: seed the entry queues, then
// tick the dispatcher, chaining extra ticks while any processor reports
// leftover work.
func RunOnce(ctx context.Context, ctrl *pipeline.Controller) {
	if err := ctrl.Seed(ctx); err != nil {
		slog.Error("scheduler.RunOnce: seed failed", "error", err)
	}
	for i := 0; i < maxTicksPerRun; i++ {
		stage, err := ctrl.Tick(ctx)
		if err != nil {
			slog.Error("scheduler.RunOnce: tick failed", "stage", stage, "error", err)
			return
		}
		if stage == "" {
			return
		}
		slog.Debug("scheduler.RunOnce: stage ticked", "stage", stage, "tick", i+1)
		if !ctrl.TickRequested() {
			return
		}
	}
	slog.Warn("scheduler.RunOnce: tick budget exhausted, deferring to next firing")
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
