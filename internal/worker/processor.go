// Package worker plugs pipeline runs into the asynq server loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/finsights/internal/pipeline"
	"github.com/dharsanguruparan/finsights/internal/queue"
)

// Runner executes one pipeline window.
type Runner interface {
	Run(ctx context.Context, w pipeline.Window) (pipeline.Report, error)
}

// Processor handles queued pipeline runs.
type Processor struct {
	runner Runner
	now    func() time.Time
	logger *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner Runner, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{runner: runner, now: time.Now, logger: logger}
}

// Handler registers the run handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.RunPipelineTask, p.handleRun)
	return mux
}

func (p *Processor) handleRun(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeRun(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	w, err := pipeline.ParseWindow(payload.From, payload.To, p.now())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	logCtx := p.logger.With("from", payload.From, "to", payload.To)
	logCtx.Info("pipeline run started")
	rep, err := p.runner.Run(ctx, w)
	if err != nil {
		logCtx.Error("pipeline run failed", "error", err)
		return err
	}
	logCtx.Info("pipeline run completed", "registered", rep.Registered, "converted", rep.Converted)
	return nil
}
