package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

func newBudgetUnderTest(repo *fakeBudgetRepo, now time.Time) *BudgetLedger {
	return NewBudgetLedger(BudgetLedgerOptions{
		Repo:   repo,
		Logger: testLogger(),
		Time:   data.NewFixedTimeProvider(now),
	})
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{text: "", expected: 0},
		{text: "abc", expected: 1},
		{text: "abcd", expected: 1},
		{text: "abcde", expected: 2},
		{text: "12345678", expected: 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, EstimateTokens(tt.text), "text %q", tt.text)
	}
}

func TestCostFor(t *testing.T) {
	pricing := model.PricingConfig{InputPerMillion: 0.15, OutputPerMillion: 0.60}

	assert.InDelta(t, 0.00075, CostFor(1000, 1000, pricing), 1e-9)
	assert.Zero(t, CostFor(1000, 1000, model.PricingConfig{}))
}

func TestBudgetLedger_WithinLimitPasses(t *testing.T) {
	repo := newFakeBudgetRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newBudgetUnderTest(repo, now)
	ctx := context.Background()

	require.NoError(t, repo.SaveSettings(ctx, &model.BudgetSettings{
		ProviderID:         "openai/gpt-4o-mini",
		DailyBudgetEnabled: true,
		DailyBudget:        5.00,
	}))

	assert.NoError(t, ledger.EnsureWithinLimit(ctx, "openai/gpt-4o-mini", 1200, 0.50))
}

func TestBudgetLedger_DailyLimitBlocks(t *testing.T) {
	repo := newFakeBudgetRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newBudgetUnderTest(repo, now)
	ctx := context.Background()

	require.NoError(t, repo.SaveSettings(ctx, &model.BudgetSettings{
		ProviderID:         "openai/gpt-4o-mini",
		DailyBudgetEnabled: true,
		DailyBudget:        5.00,
	}))
	require.NoError(t, ledger.Record(ctx, model.UsageRecord{
		ProviderID: "openai/gpt-4o-mini",
		Cost:       4.80,
	}))

	err := ledger.EnsureWithinLimit(ctx, "openai/gpt-4o-mini", 1200, 0.50)

	require.Error(t, err)
	assert.True(t, apperrors.IsBudgetExceeded(err))
	assert.Contains(t, err.Error(), "Daily budget limit exceeded")
	assert.Contains(t, err.Error(), "$4.8000 spent + $0.5000 estimated")
}

func TestBudgetLedger_MonthlyLimitBlocks(t *testing.T) {
	repo := newFakeBudgetRepo()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	ledger := newBudgetUnderTest(repo, now)
	ctx := context.Background()

	require.NoError(t, repo.SaveSettings(ctx, &model.BudgetSettings{
		ProviderID:           "anthropic/claude-sonnet",
		MonthlyBudgetEnabled: true,
		MonthlyBudget:        100.00,
	}))
	require.NoError(t, ledger.Record(ctx, model.UsageRecord{
		ProviderID: "anthropic/claude-sonnet",
		Cost:       99.90,
	}))

	err := ledger.EnsureWithinLimit(ctx, "anthropic/claude-sonnet", 800, 0.20)

	require.Error(t, err)
	assert.True(t, apperrors.IsBudgetExceeded(err))
	assert.Contains(t, err.Error(), "Monthly budget limit exceeded")
}

func TestBudgetLedger_DisabledLimitsAreUnlimited(t *testing.T) {
	repo := newFakeBudgetRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newBudgetUnderTest(repo, now)
	ctx := context.Background()

	require.NoError(t, repo.SaveSettings(ctx, &model.BudgetSettings{
		ProviderID:  "openai/gpt-4o-mini",
		DailyBudget: 1.00, // configured but not enabled
	}))
	require.NoError(t, ledger.Record(ctx, model.UsageRecord{
		ProviderID: "openai/gpt-4o-mini",
		Cost:       50.00,
	}))

	assert.NoError(t, ledger.EnsureWithinLimit(ctx, "openai/gpt-4o-mini", 5000, 10.00))
}

func TestBudgetLedger_RecordFillsBothWindows(t *testing.T) {
	repo := newFakeBudgetRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newBudgetUnderTest(repo, now)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, model.UsageRecord{
		ProviderID:   "openai/gpt-4o-mini",
		InputTokens:  100,
		OutputTokens: 50,
		Cost:         0.25,
	}))
	require.NoError(t, ledger.Record(ctx, model.UsageRecord{
		ProviderID:   "openai/gpt-4o-mini",
		InputTokens:  200,
		OutputTokens: 100,
		Cost:         0.50,
	}))

	daily, err := repo.GetUsage(ctx, "openai/gpt-4o-mini", model.PeriodDaily, "2026-03-01")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, daily.TotalCost, 1e-9)
	assert.EqualValues(t, 450, daily.TotalTokens)
	assert.EqualValues(t, 2, daily.APICalls)

	monthly, err := repo.GetUsage(ctx, "openai/gpt-4o-mini", model.PeriodMonthly, "2026-03")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, monthly.TotalCost, 1e-9)
}

func TestBudgetLedger_BucketsAreSeparatedByDay(t *testing.T) {
	repo := newFakeBudgetRepo()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	ledger := NewBudgetLedger(BudgetLedgerOptions{Repo: repo, Logger: testLogger(), Time: clock})
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, model.UsageRecord{ProviderID: "p", Cost: 1.00}))
	clock.AddTime(2 * time.Hour) // crosses midnight into 2026-03-02
	require.NoError(t, ledger.Record(ctx, model.UsageRecord{ProviderID: "p", Cost: 2.00}))

	day1, err := repo.GetUsage(ctx, "p", model.PeriodDaily, "2026-03-01")
	require.NoError(t, err)
	day2, err := repo.GetUsage(ctx, "p", model.PeriodDaily, "2026-03-02")
	require.NoError(t, err)
	month, err := repo.GetUsage(ctx, "p", model.PeriodMonthly, "2026-03")
	require.NoError(t, err)

	assert.InDelta(t, 1.00, day1.TotalCost, 1e-9)
	assert.InDelta(t, 2.00, day2.TotalCost, 1e-9)
	assert.InDelta(t, 3.00, month.TotalCost, 1e-9)
}

func TestBudgetLedger_Summary(t *testing.T) {
	repo := newFakeBudgetRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newBudgetUnderTest(repo, now)
	ctx := context.Background()

	require.NoError(t, repo.SaveSettings(ctx, &model.BudgetSettings{
		ProviderID:         "openai/gpt-4o-mini",
		DailyBudgetEnabled: true,
		DailyBudget:        10.00,
	}))
	require.NoError(t, ledger.Record(ctx, model.UsageRecord{
		ProviderID: "openai/gpt-4o-mini",
		Cost:       2.50,
	}))

	summary, err := ledger.Summary(ctx, "openai/gpt-4o-mini")
	require.NoError(t, err)

	assert.InDelta(t, 2.50, summary.Daily.Spent, 1e-9)
	assert.InDelta(t, 7.50, summary.Daily.Remaining, 1e-9)
	assert.InDelta(t, 25.0, summary.Daily.Percent, 1e-9)
	assert.False(t, summary.Daily.Exceeded)
	// Monthly window is unlimited; only raw spend is reported.
	assert.Zero(t, summary.Monthly.Limit)
	assert.InDelta(t, 2.50, summary.Monthly.Spent, 1e-9)
}

func TestBudgetLedger_ResetUsageValidatesPeriod(t *testing.T) {
	ledger := newBudgetUnderTest(newFakeBudgetRepo(), time.Now())

	_, err := ledger.ResetUsage(context.Background(), "p", model.PeriodType("weekly"))

	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
