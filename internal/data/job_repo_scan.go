package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// prefixedJobColumns qualifies the job column list with a table alias for
// statements that join or update through a CTE.
func prefixedJobColumns(alias string) string {
	cols := strings.Split(jobColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	snapshot, fields, result []byte
	strategy, lastError      sql.NullString
	startedAt                sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.PageID,
		&job.PageTitle,
		&job.VariantCode,
		&job.Status,
		&job.IsManual,
		&d.snapshot,
		&d.strategy,
		&d.fields,
		&job.Progress.Current,
		&job.Progress.Total,
		&job.Progress.CurrentField,
		&d.result,
		&d.lastError,
		&job.CreatedAt,
		&d.startedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	if len(d.snapshot) > 0 {
		if err := json.Unmarshal(d.snapshot, &job.SourceSnapshot); err != nil {
			return fmt.Errorf("decode source snapshot: %w", err)
		}
	}
	if job.SourceSnapshot == nil {
		job.SourceSnapshot = model.FieldMap{}
	}

	if len(d.fields) > 0 {
		if err := json.Unmarshal(d.fields, &job.FieldsToTranslate); err != nil {
			return fmt.Errorf("decode fields to translate: %w", err)
		}
	}

	if len(d.result) > 0 {
		var result model.JobResult
		if err := json.Unmarshal(d.result, &result); err != nil {
			return fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &result
	}

	if d.strategy.Valid {
		job.Strategy = model.Strategy(d.strategy.String)
	}
	if d.lastError.Valid {
		job.Error = d.lastError.String
	}
	if d.startedAt.Valid {
		t := d.startedAt.Time.UTC()
		job.StartedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

// collectJobs drains database/sql rows into a job slice.
func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
