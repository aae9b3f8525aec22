package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// ReaperStore is the storage surface the reaper needs: the queue operations
// plus the cross-process tick guard.
type ReaperStore interface {
	core.JobRepository
	// WithReaperLock runs fn while holding the reaper advisory lock,
	// returning false without running fn when another process holds it.
	WithReaperLock(ctx context.Context, fn func(context.Context) error) (bool, error)
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Store   ReaperStore
	Reports core.ReportRepository
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Time    data.TimeProvider
}

// ReaperService is the advisory recovery mechanism for crashed workers:
// cancellation of running jobs is not possible, so jobs whose processing
// state outlives the configured window are reclassified as timed out,
// reported and removed. It also prunes old report ledger rows.
type ReaperService struct {
	store   ReaperStore
	reports core.ReportRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	time    data.TimeProvider
}

func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Store == nil {
		return nil, errors.New("reaper store is required")
	}
	if opts.Reports == nil {
		return nil, errors.New("report repository is required")
	}
	if opts.Time == nil {
		opts.Time = &data.RealTimeProvider{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper")
	}
	return &ReaperService{
		store:   opts.Store,
		reports: opts.Reports,
		config:  opts.Config,
		logger:  logger,
		time:    opts.Time,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper",
			"interval", s.config.Interval, "stuck_after", s.config.StuckAfter)
	}

	// Jitter the first tick so replicas starting together do not contend
	// for the advisory lock in lockstep.
	s.waitWithJitter(ctx)

	if err := s.Tick(ctx); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "initial reaper tick failed", "error", err)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				if isContextCancellation(err) {
					continue
				}
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "reaper tick failed", "error", err)
				}
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// Tick runs one cleanup pass under the advisory lock. A contended lock is a
// no-op: another replica is already reaping.
func (s *ReaperService) Tick(ctx context.Context) error {
	ran, err := s.store.WithReaperLock(ctx, func(ctx context.Context) error {
		if err := s.reapStuckJobs(ctx); err != nil {
			return err
		}
		return s.pruneOldReports(ctx)
	})
	if err != nil {
		return err
	}
	if !ran && s.logger != nil {
		s.logger.DebugContext(ctx, "reaper tick skipped, lock held elsewhere")
	}
	return nil
}

// reapStuckJobs reclassifies processing jobs older than the stuck window as
// timed out: report first, then delete, mirroring the worker's finalization
// order so every job leaves exactly one ledger row.
func (s *ReaperService) reapStuckJobs(ctx context.Context) error {
	cutoff := s.time.Now().Add(-s.config.StuckAfter)
	stuck, err := s.store.StaleProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale processing jobs: %w", err)
	}

	for _, job := range stuck {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg := fmt.Sprintf("job exceeded the processing window of %s", s.config.StuckAfter)
		if err := s.store.SetStatus(ctx, job.ID, model.JobStatusTimeout, msg); err != nil {
			return fmt.Errorf("mark job %s timed out: %w", job.ID, err)
		}

		report := buildJobReport(job, model.JobStatusTimeout, msg, s.time.Now())
		if err := s.reports.AppendReport(ctx, report); err != nil {
			return fmt.Errorf("report timed-out job %s: %w", job.ID, err)
		}
		if err := s.store.Delete(ctx, job.ID); err != nil {
			return fmt.Errorf("delete timed-out job %s: %w", job.ID, err)
		}

		if s.logger != nil {
			s.logger.WarnContext(ctx, "reaped stuck job",
				"job_id", job.ID, "page_id", job.PageID, "variant", job.VariantCode,
				"started_at", job.StartedAt)
		}
	}

	if len(stuck) > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "reaped stuck jobs", "count", len(stuck))
	}
	return nil
}

// pruneOldReports deletes report rows past the retention window in batches.
func (s *ReaperService) pruneOldReports(ctx context.Context) error {
	cutoff := s.time.Now().Add(-s.config.ReportMaxAge)

	var total int64
	for {
		count, err := s.reports.DeleteOldReports(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return fmt.Errorf("prune old reports: %w", err)
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "pruned old reports", "count", total, "max_age", s.config.ReportMaxAge)
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
