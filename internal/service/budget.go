package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// BudgetLedgerOptions configures NewBudgetLedger.
type BudgetLedgerOptions struct {
	Repo   core.BudgetRepository
	Logger *slog.Logger
	Time   data.TimeProvider
}

// BudgetLedger accounts provider spend into daily and monthly buckets and
// enforces the configured limits before a call is made. Enforcement is
// pre-flight only: a call that raced past the limit is still recorded, so
// reported spend may slightly exceed a limit but never drifts.
type BudgetLedger struct {
	repo   core.BudgetRepository
	logger *slog.Logger
	time   data.TimeProvider
}

func NewBudgetLedger(opts BudgetLedgerOptions) *BudgetLedger {
	if opts.Time == nil {
		opts.Time = &data.RealTimeProvider{}
	}
	return &BudgetLedger{
		repo:   opts.Repo,
		logger: opts.Logger.With("component", "budget_ledger"),
		time:   opts.Time,
	}
}

// EstimateTokens approximates the token count of a text at four characters
// per token, rounded up.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// CostFor prices a token pair against per-million-token rates. Zero pricing
// yields zero cost; tokens are still recorded then.
func CostFor(inputTokens, outputTokens int, pricing model.PricingConfig) float64 {
	return float64(inputTokens)/1_000_000*pricing.InputPerMillion +
		float64(outputTokens)/1_000_000*pricing.OutputPerMillion
}

// EnsureWithinLimit rejects a projected spend that would push either the
// daily or the monthly bucket past its configured limit. Only cost limits
// are enforced; estimatedTokens feeds the audit log so near-limit calls can
// be traced back to their size. The returned error carries the
// budget_exceeded code and is not retryable.
func (l *BudgetLedger) EnsureWithinLimit(ctx context.Context, providerID string, estimatedTokens int, estimatedCost float64) error {
	settings, err := l.repo.GetSettings(ctx, providerID)
	if err != nil {
		return fmt.Errorf("budget settings %s: %w", providerID, err)
	}

	if limit := settings.DailyLimit(); limit > 0 {
		if err := l.checkWindow(ctx, providerID, model.PeriodDaily, limit, estimatedTokens, estimatedCost, "Daily"); err != nil {
			return err
		}
	}
	if limit := settings.MonthlyLimit(); limit > 0 {
		if err := l.checkWindow(ctx, providerID, model.PeriodMonthly, limit, estimatedTokens, estimatedCost, "Monthly"); err != nil {
			return err
		}
	}
	return nil
}

func (l *BudgetLedger) checkWindow(ctx context.Context, providerID string, period model.PeriodType, limit float64, estimatedTokens int, estimated float64, label string) error {
	usage, err := l.repo.GetUsage(ctx, providerID, period, period.PeriodKey(l.time.Now()))
	if err != nil {
		return fmt.Errorf("budget usage %s/%s: %w", providerID, period, err)
	}
	if usage.TotalCost+estimated > limit {
		msg := fmt.Sprintf("%s budget limit exceeded for provider %s: $%.4f spent + $%.4f estimated = $%.4f (limit: $%.4f)",
			label, providerID, usage.TotalCost, estimated, usage.TotalCost+estimated, limit)
		l.logger.WarnContext(ctx, "budget limit reached",
			"provider_id", providerID, "period", string(period),
			"spent", usage.TotalCost, "estimated", estimated,
			"estimated_tokens", estimatedTokens, "limit", limit)
		return apperrors.BudgetExceeded(msg)
	}
	return nil
}

// Record accounts one provider call into both buckets. Recording is
// unconditional so callers must not skip it on partial failures once tokens
// were consumed.
func (l *BudgetLedger) Record(ctx context.Context, rec model.UsageRecord) error {
	now := l.time.Now()
	for _, period := range []model.PeriodType{model.PeriodDaily, model.PeriodMonthly} {
		usage := &model.BudgetUsage{
			ProviderID:  rec.ProviderID,
			PeriodType:  period,
			PeriodKey:   period.PeriodKey(now),
			TotalCost:   rec.Cost,
			TotalTokens: int64(rec.InputTokens + rec.OutputTokens),
			APICalls:    1,
			LastUpdated: now,
		}
		if err := l.repo.AddUsage(ctx, usage); err != nil {
			return fmt.Errorf("record usage %s/%s: %w", rec.ProviderID, period, err)
		}
	}
	return nil
}

// Summary reports both accounting windows of a provider against its limits.
func (l *BudgetLedger) Summary(ctx context.Context, providerID string) (*model.BudgetSummary, error) {
	settings, err := l.repo.GetSettings(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("budget settings %s: %w", providerID, err)
	}

	daily, err := l.windowSummary(ctx, providerID, model.PeriodDaily, settings.DailyLimit())
	if err != nil {
		return nil, err
	}
	monthly, err := l.windowSummary(ctx, providerID, model.PeriodMonthly, settings.MonthlyLimit())
	if err != nil {
		return nil, err
	}

	return &model.BudgetSummary{ProviderID: providerID, Daily: daily, Monthly: monthly}, nil
}

func (l *BudgetLedger) windowSummary(ctx context.Context, providerID string, period model.PeriodType, limit float64) (model.BudgetWindow, error) {
	usage, err := l.repo.GetUsage(ctx, providerID, period, period.PeriodKey(l.time.Now()))
	if err != nil {
		return model.BudgetWindow{}, fmt.Errorf("budget usage %s/%s: %w", providerID, period, err)
	}

	w := model.BudgetWindow{
		Limit:    limit,
		Spent:    usage.TotalCost,
		Tokens:   usage.TotalTokens,
		APICalls: usage.APICalls,
	}
	if limit > 0 {
		w.Remaining = math.Max(0, limit-usage.TotalCost)
		w.Percent = usage.TotalCost / limit * 100
		w.Exceeded = usage.TotalCost >= limit
	}
	return w, nil
}

// ResetUsage clears the usage buckets of a provider for one period type.
func (l *BudgetLedger) ResetUsage(ctx context.Context, providerID string, period model.PeriodType) (int64, error) {
	if !period.Valid() {
		return 0, apperrors.Validation(fmt.Sprintf("unknown period type %q", period))
	}
	n, err := l.repo.ResetUsage(ctx, providerID, period)
	if err != nil {
		return 0, fmt.Errorf("reset usage %s/%s: %w", providerID, period, err)
	}
	l.logger.InfoContext(ctx, "budget usage reset", "provider_id", providerID, "period", string(period), "buckets", n)
	return n, nil
}

// Settings returns the configured limits for a provider.
func (l *BudgetLedger) Settings(ctx context.Context, providerID string) (*model.BudgetSettings, error) {
	return l.repo.GetSettings(ctx, providerID)
}

// SaveSettings persists new limits for a provider.
func (l *BudgetLedger) SaveSettings(ctx context.Context, settings *model.BudgetSettings) error {
	if settings.ProviderID == "" {
		return apperrors.Validation("provider id is required")
	}
	return l.repo.SaveSettings(ctx, settings)
}
