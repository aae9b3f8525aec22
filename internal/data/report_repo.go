package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// ReportRepo provides append-only access to the job report and stats ledgers.
type ReportRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewReportRepo creates a new ReportRepo.
func NewReportRepo(db *sql.DB, tp TimeProvider) *ReportRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ReportRepo{DB: db, timeProvider: tp}
}

// AppendReport writes one terminal-state job record to the report ledger.
func (r *ReportRepo) AppendReport(ctx context.Context, report *model.JobReport) error {
	if report == nil {
		return errors.New("job report is required")
	}

	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO job_reports (variant_code, page_id, page_title, status, strategy, translated_fields, tokens_used, prompt_tokens, completion_tokens, cost, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, report.VariantCode, report.PageID, report.PageTitle, report.Status, report.Strategy,
		report.TranslatedFields, report.TokensUsed, report.PromptTokens, report.CompletionTokens,
		report.Cost, report.Error, report.DurationMillis, now)
	if err != nil {
		return fmt.Errorf("append job report: %w", err)
	}
	return nil
}

// AppendStats writes one usage record to the per-variant stats ledger.
func (r *ReportRepo) AppendStats(ctx context.Context, stats *model.TranslationStats) error {
	if stats == nil {
		return errors.New("translation stats are required")
	}

	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO translation_stats (variant_code, provider_id, model, tokens_used, cost, fields_translated, cache_hits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, stats.VariantCode, stats.ProviderID, stats.Model, stats.TokensUsed,
		stats.Cost, stats.FieldsTranslated, stats.CacheHits, now)
	if err != nil {
		return fmt.Errorf("append translation stats: %w", err)
	}
	return nil
}

// ListReports returns the most recent report rows for a variant.
func (r *ReportRepo) ListReports(ctx context.Context, variantCode string, limit int) ([]*model.JobReport, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, variant_code, page_id, page_title, status, strategy, translated_fields, tokens_used, prompt_tokens, completion_tokens, cost, error, duration_ms, created_at
		FROM job_reports
		WHERE variant_code = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, variantCode, limit)
	if err != nil {
		return nil, fmt.Errorf("list job reports: %w", err)
	}
	defer rows.Close()

	var reports []*model.JobReport
	for rows.Next() {
		report := &model.JobReport{}
		if err := rows.Scan(
			&report.ID,
			&report.VariantCode,
			&report.PageID,
			&report.PageTitle,
			&report.Status,
			&report.Strategy,
			&report.TranslatedFields,
			&report.TokensUsed,
			&report.PromptTokens,
			&report.CompletionTokens,
			&report.Cost,
			&report.Error,
			&report.DurationMillis,
			&report.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job reports: %w", err)
	}
	return reports, nil
}

// DeleteOldReports prunes report rows older than the cutoff in bounded batches.
func (r *ReportRepo) DeleteOldReports(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM job_reports
		WHERE id IN (
			SELECT id FROM job_reports
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old reports: %w", err)
	}
	return res.RowsAffected()
}
