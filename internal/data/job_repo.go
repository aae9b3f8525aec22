package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/kirbydesk/simplify-engine/internal/data/pgxutil"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// jobNotifyChannel is the pg_notify channel signalled on enqueue.
const jobNotifyChannel = "translation_job_created"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the translation job queue.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  page_id,
  page_title,
  variant_code,
  status,
  is_manual,
  source_snapshot,
  strategy,
  fields_to_translate,
  progress_current,
  progress_total,
  progress_field,
  result,
  last_error,
  created_at,
  started_at
`

// Create inserts a new pending job and signals listeners via pg_notify.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(orEmptyMap(req.Snapshot))
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	id := model.NewJobID()
	createdAt := r.timeProvider.Now().UTC()

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
        INSERT INTO translation_jobs (id, page_id, page_title, variant_code, status, is_manual, source_snapshot, created_at)
        VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
        RETURNING `+jobColumns,
				id, req.PageID, req.PageTitle, req.VariantCode, req.IsManual, snapshot, createdAt)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", mapPgError(qerr, "insert job"))
			}
			j, cerr := collectJobFromRows(rows)
			rows.Close()
			if cerr != nil {
				return fmt.Errorf("collect job: %w", cerr)
			}

			if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobNotifyChannel, j.ID); execErr != nil {
				return fmt.Errorf("send job notification: %w", execErr)
			}

			job = j
			return nil
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM translation_jobs
		WHERE id = $1
	`, id)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByStatus retrieves all jobs in the given status, oldest first.
func (r *JobRepo) GetByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid job status: %s", status)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM translation_jobs
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("get jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// NextPending atomically claims the oldest pending job and marks it processing.
// Returns model.ErrNoJobsAvailable when the queue is empty.
func (r *JobRepo) NextPending(ctx context.Context) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now().UTC()
			rows, qerr := tx.Query(ctx, `
        WITH cte AS (
          SELECT id FROM translation_jobs
          WHERE status = 'pending'
          ORDER BY created_at ASC
          LIMIT 1
          FOR UPDATE SKIP LOCKED
        )
        UPDATE translation_jobs j
        SET status = 'processing',
            started_at = COALESCE(j.started_at, $1)
        FROM cte
        WHERE j.id = cte.id
        RETURNING `+prefixedJobColumns("j"),
				currentTime)
			if qerr != nil {
				return fmt.Errorf("claim pending job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("claim pending job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// RunningForPage returns the pending or processing job for a (page, variant)
// pair, oldest first. Returns nil when no such job exists.
func (r *JobRepo) RunningForPage(ctx context.Context, pageID, variantCode string) (*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM translation_jobs
		WHERE page_id = $1 AND variant_code = $2 AND status IN ('pending', 'processing')
		ORDER BY created_at ASC
		LIMIT 1
	`, pageID, variantCode)
	if err != nil {
		return nil, fmt.Errorf("get running job for page: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// SetStatus updates the lifecycle status of a job. The error message is only
// written for failed/timeout transitions; started_at is recorded once when a
// job first enters processing.
func (r *JobRepo) SetStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid job status: %s", status)
	}

	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE translation_jobs
		SET status = $2,
		    last_error = CASE WHEN $2 IN ('failed', 'timeout') THEN $3 ELSE last_error END,
		    started_at = CASE WHEN $2 = 'processing' THEN COALESCE(started_at, $4) ELSE started_at END
		WHERE id = $1
	`, id, status, errMsg, currentTime)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return requireRowAffected(res, ErrJobNotFound)
}

// UpdateProgress persists per-field progress of an in-flight job.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress model.JobProgress) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE translation_jobs
		SET progress_current = $2,
		    progress_total = $3,
		    progress_field = $4
		WHERE id = $1
	`, id, progress.Current, progress.Total, progress.CurrentField)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return requireRowAffected(res, ErrJobNotFound)
}

// UpdateStrategy persists the decided strategy and eligible field list.
func (r *JobRepo) UpdateStrategy(ctx context.Context, id string, strategy model.Strategy, fields []string) error {
	if !strategy.Valid() {
		return fmt.Errorf("invalid strategy: %s", strategy)
	}

	encoded, err := json.Marshal(orEmptySlice(fields))
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE translation_jobs
		SET strategy = $2,
		    fields_to_translate = $3
		WHERE id = $1
	`, id, strategy, encoded)
	if err != nil {
		return fmt.Errorf("update job strategy: %w", err)
	}
	return requireRowAffected(res, ErrJobNotFound)
}

// UpdateResult persists the aggregate token/cost result of a job.
func (r *JobRepo) UpdateResult(ctx context.Context, id string, result model.JobResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE translation_jobs
		SET result = $2
		WHERE id = $1
	`, id, encoded)
	if err != nil {
		return fmt.Errorf("update job result: %w", err)
	}
	return requireRowAffected(res, ErrJobNotFound)
}

// Delete removes a job record.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM translation_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return requireRowAffected(res, ErrJobNotFound)
}

// StaleProcessing returns processing jobs whose started_at is older than the cutoff.
func (r *JobRepo) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM translation_jobs
		WHERE status = 'processing'
		  AND started_at IS NOT NULL
		  AND started_at < $1
		ORDER BY started_at ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("get stale processing jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Stats returns job counts per lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.QueueStats, error) {
	var s model.QueueStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')    AS pending,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed
  FROM translation_jobs
  `).Scan(
		&s.Pending,
		&s.Processing,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until a job-created notification arrives or the context ends.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{jobNotifyChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobNotifyChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

func requireRowAffected(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}

func orEmptyMap(m model.FieldMap) model.FieldMap {
	if m == nil {
		return model.FieldMap{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
