package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// BudgetRepo provides database operations for budget usage buckets and settings.
type BudgetRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewBudgetRepo creates a new BudgetRepo.
func NewBudgetRepo(db *sql.DB, tp TimeProvider) *BudgetRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &BudgetRepo{DB: db, timeProvider: tp}
}

// AddUsage atomically increments one usage bucket.
func (r *BudgetRepo) AddUsage(ctx context.Context, usage *model.BudgetUsage) error {
	if usage == nil {
		return errors.New("budget usage is required")
	}
	if !usage.PeriodType.Valid() {
		return fmt.Errorf("invalid period type: %s", usage.PeriodType)
	}

	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO budget_usage (provider_id, period_type, period_key, total_cost, total_tokens, api_calls, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id, period_type, period_key) DO UPDATE
		SET total_cost = budget_usage.total_cost + EXCLUDED.total_cost,
		    total_tokens = budget_usage.total_tokens + EXCLUDED.total_tokens,
		    api_calls = budget_usage.api_calls + EXCLUDED.api_calls,
		    last_updated = EXCLUDED.last_updated
	`, usage.ProviderID, usage.PeriodType, usage.PeriodKey,
		usage.TotalCost, usage.TotalTokens, usage.APICalls, now)
	if err != nil {
		return fmt.Errorf("add budget usage: %w", mapPgError(err, "add budget usage"))
	}
	return nil
}

// GetUsage loads one usage bucket; a missing bucket is returned zero-valued.
func (r *BudgetRepo) GetUsage(ctx context.Context, providerID string, periodType model.PeriodType, periodKey string) (*model.BudgetUsage, error) {
	if !periodType.Valid() {
		return nil, fmt.Errorf("invalid period type: %s", periodType)
	}

	usage := &model.BudgetUsage{
		ProviderID: providerID,
		PeriodType: periodType,
		PeriodKey:  periodKey,
	}
	err := r.DB.QueryRowContext(ctx, `
		SELECT total_cost, total_tokens, api_calls, last_updated
		FROM budget_usage
		WHERE provider_id = $1 AND period_type = $2 AND period_key = $3
	`, providerID, periodType, periodKey).Scan(
		&usage.TotalCost,
		&usage.TotalTokens,
		&usage.APICalls,
		&usage.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return usage, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget usage: %w", err)
	}
	return usage, nil
}

// ResetUsage deletes all buckets of a period type for a provider, returning the count.
func (r *BudgetRepo) ResetUsage(ctx context.Context, providerID string, periodType model.PeriodType) (int64, error) {
	if !periodType.Valid() {
		return 0, fmt.Errorf("invalid period type: %s", periodType)
	}

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM budget_usage
		WHERE provider_id = $1 AND period_type = $2
	`, providerID, periodType)
	if err != nil {
		return 0, fmt.Errorf("reset budget usage: %w", err)
	}
	return res.RowsAffected()
}

// GetSettings loads the configured limits for a provider. A missing row is
// returned as all-zero settings, meaning unlimited.
func (r *BudgetRepo) GetSettings(ctx context.Context, providerID string) (*model.BudgetSettings, error) {
	settings := &model.BudgetSettings{ProviderID: providerID}
	err := r.DB.QueryRowContext(ctx, `
		SELECT daily_budget_enabled, daily_budget, monthly_budget_enabled, monthly_budget
		FROM budget_settings
		WHERE provider_id = $1
	`, providerID).Scan(
		&settings.DailyBudgetEnabled,
		&settings.DailyBudget,
		&settings.MonthlyBudgetEnabled,
		&settings.MonthlyBudget,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget settings: %w", err)
	}
	return settings, nil
}

// SaveSettings upserts the configured limits for a provider.
func (r *BudgetRepo) SaveSettings(ctx context.Context, settings *model.BudgetSettings) error {
	if settings == nil {
		return errors.New("budget settings are required")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO budget_settings (provider_id, daily_budget_enabled, daily_budget, monthly_budget_enabled, monthly_budget)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id) DO UPDATE
		SET daily_budget_enabled = EXCLUDED.daily_budget_enabled,
		    daily_budget = EXCLUDED.daily_budget,
		    monthly_budget_enabled = EXCLUDED.monthly_budget_enabled,
		    monthly_budget = EXCLUDED.monthly_budget
	`, settings.ProviderID, settings.DailyBudgetEnabled, settings.DailyBudget,
		settings.MonthlyBudgetEnabled, settings.MonthlyBudget)
	if err != nil {
		return fmt.Errorf("save budget settings: %w", mapPgError(err, "save budget settings"))
	}
	return nil
}
