// Package executor provides the job dispatch strategies: background dispatch
// through the queue's notification channel, and inline synchronous processing
// for single-job runs.
package executor

import (
	"context"
	"log/slog"
)

// JobProcessor is the subset of the worker engine the inline executor needs.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// BackgroundExecutor acknowledges dispatch immediately. The queued job row
// plus the pg_notify emitted on insert are enough to wake the long-lived
// worker draining the queue, so Execute has nothing to do beyond logging.
type BackgroundExecutor struct {
	logger *slog.Logger
}

// NewBackgroundExecutor creates a background dispatch executor.
func NewBackgroundExecutor(logger *slog.Logger) *BackgroundExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundExecutor{logger: logger.With("component", "background_executor")}
}

// Execute acknowledges the queued job without processing it.
func (e *BackgroundExecutor) Execute(ctx context.Context, jobID string) error {
	e.logger.Debug("job queued for background processing", "job_id", jobID)
	return nil
}

// InlineExecutor processes the job synchronously in the caller. Used for
// single-job runs where no background worker exists.
type InlineExecutor struct {
	engine JobProcessor
	logger *slog.Logger
}

// NewInlineExecutor creates an executor that runs jobs in the calling
// goroutine.
func NewInlineExecutor(engine JobProcessor, logger *slog.Logger) *InlineExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineExecutor{
		engine: engine,
		logger: logger.With("component", "inline_executor"),
	}
}

// Execute processes the job before returning.
func (e *InlineExecutor) Execute(ctx context.Context, jobID string) error {
	e.logger.Info("processing job inline", "job_id", jobID)
	return e.engine.ProcessJob(ctx, jobID)
}
