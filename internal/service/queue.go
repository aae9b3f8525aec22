package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// StaleJobWindow is how long an active job blocks re-enqueueing the same
// page/variant pair. A blocking job older than this is presumed abandoned,
// reported as timed out and replaced.
const StaleJobWindow = 30 * time.Minute

// QueueServiceOptions configures NewQueueService.
type QueueServiceOptions struct {
	Jobs    core.JobRepository
	Reports core.ReportRepository
	Logger  *slog.Logger
	Time    data.TimeProvider
}

// QueueService manages the durable job queue: enqueueing with the
// one-active-job-per-page invariant, cancellation and queue statistics.
type QueueService struct {
	jobs    core.JobRepository
	reports core.ReportRepository
	logger  *slog.Logger
	time    data.TimeProvider
}

func NewQueueService(opts QueueServiceOptions) *QueueService {
	if opts.Time == nil {
		opts.Time = &data.RealTimeProvider{}
	}
	return &QueueService{
		jobs:    opts.Jobs,
		reports: opts.Reports,
		logger:  opts.Logger.With("component", "queue"),
		time:    opts.Time,
	}
}

// AddJob enqueues a translation job for a page/variant pair. At most one
// non-terminal job may exist per pair: a fresh duplicate is rejected with a
// conflict, while a blocker older than StaleJobWindow is reaped in place and
// replaced by the new job.
func (s *QueueService) AddJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	existing, err := s.jobs.RunningForPage(ctx, req.PageID, req.VariantCode)
	if err != nil {
		return nil, fmt.Errorf("check running job for page %s: %w", req.PageID, err)
	}
	if existing != nil {
		age := s.time.Now().Sub(existing.CreatedAt)
		if age < StaleJobWindow {
			return nil, apperrors.Conflictf("translation job %s already active for page %s (%s), created %s ago",
				existing.ID, req.PageID, req.VariantCode, age.Round(time.Second))
		}
		if err := s.reapStaleJob(ctx, existing); err != nil {
			return nil, err
		}
	}

	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job for page %s: %w", req.PageID, err)
	}

	s.logger.InfoContext(ctx, "job enqueued",
		"job_id", job.ID, "page_id", job.PageID, "variant", job.VariantCode, "manual", job.IsManual)
	return job, nil
}

// reapStaleJob retires a job that overstayed the processing window so a new
// one can take its place: report first, then delete.
func (s *QueueService) reapStaleJob(ctx context.Context, job *model.Job) error {
	s.logger.WarnContext(ctx, "replacing stale job",
		"job_id", job.ID, "page_id", job.PageID, "status", string(job.Status),
		"age", s.time.Now().Sub(job.CreatedAt).String())

	report := buildJobReport(job, model.JobStatusTimeout, "job exceeded the processing window and was replaced", s.time.Now())
	if err := s.reports.AppendReport(ctx, report); err != nil {
		return fmt.Errorf("report stale job %s: %w", job.ID, err)
	}
	if err := s.jobs.Delete(ctx, job.ID); err != nil {
		return fmt.Errorf("delete stale job %s: %w", job.ID, err)
	}
	return nil
}

// CancelJob removes a job that has not been picked up yet. Processing and
// terminal jobs cannot be cancelled.
func (s *QueueService) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return apperrors.NotFoundf("job %s not found", jobID)
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != model.JobStatusPending {
		return apperrors.Conflictf("job %s is %s and cannot be cancelled", jobID, job.Status)
	}

	report := buildJobReport(job, model.JobStatusCancelled, "", s.time.Now())
	if err := s.reports.AppendReport(ctx, report); err != nil {
		return fmt.Errorf("report cancelled job %s: %w", jobID, err)
	}
	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete cancelled job %s: %w", jobID, err)
	}

	s.logger.InfoContext(ctx, "job cancelled", "job_id", jobID, "page_id", job.PageID)
	return nil
}

// GetJob returns a job by id.
func (s *QueueService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", jobID)
		}
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

// ListByStatus returns all jobs currently in the given state.
func (s *QueueService) ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error) {
	if !status.Valid() {
		return nil, apperrors.Validationf("unknown job status %q", status)
	}
	return s.jobs.GetByStatus(ctx, status)
}

// Stats summarizes the queue by lifecycle state.
func (s *QueueService) Stats(ctx context.Context) (*model.QueueStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

// buildJobReport materializes the terminal-state ledger row for a job.
func buildJobReport(job *model.Job, status model.JobStatus, errMsg string, now time.Time) *model.JobReport {
	report := &model.JobReport{
		VariantCode: job.VariantCode,
		PageID:      job.PageID,
		PageTitle:   job.PageTitle,
		Status:      status,
		Strategy:    job.Strategy,
		Error:       errMsg,
		CreatedAt:   now,
	}
	if job.Result != nil {
		report.TranslatedFields = job.Result.TranslatedFields
		report.TokensUsed = job.Result.TokensUsed
		report.PromptTokens = job.Result.PromptTokens
		report.CompletionTokens = job.Result.CompletionTokens
		report.Cost = job.Result.Cost
	}
	if job.StartedAt != nil {
		report.DurationMillis = now.Sub(*job.StartedAt).Milliseconds()
	}
	return report
}
