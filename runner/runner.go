package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/mbox-finetune/stats"
)

type StageFunc func(context.Context) error

type stage struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name string
	fn   func(stats.Event)
}

type finisher struct {
	name string
	fn   func(error)
}

// Runner executes pipeline stages one after another on the calling
// goroutine. Stages depend on each other's results, so the first failure
// stops the run.
type Runner struct {
	logger *slog.Logger

	stages      []stage
	subscribers []subscriber
	finishers   []finisher

	since time.Time
}

func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

// AddStage appends a stage; stages run in the order they were added.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// EmitEvent delivers evt to every subscriber synchronously.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, s := range r.subscribers {
		s.fn(evt)
	}
}

func (r *Runner) SubscribeStats(name string, fn func(stats.Event)) {
	r.subscribers = append(r.subscribers, subscriber{name: name, fn: fn})
}

// OnFinish registers fn to run once after the last stage, with the run error.
func (r *Runner) OnFinish(name string, fn func(error)) {
	r.finishers = append(r.finishers, finisher{name: name, fn: fn})
}

func (r *Runner) Start(ctx context.Context) error {
	r.since = time.Now()

	err := r.runStages(ctx)
	for _, f := range r.finishers {
		f.fn(err)
	}

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) runStages(ctx context.Context) error {
	for _, s := range r.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		r.logger.Debug("stage started", "stage", s.name)
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s stage: %w", s.name, err)
		}
		r.logger.Debug("stage completed", "stage", s.name, "duration", time.Since(started))
	}
	return nil
}
