package model

import "time"

// PeriodType is the accounting window of a budget bucket.
type PeriodType string

const (
	// PeriodDaily buckets usage by calendar date.
	PeriodDaily PeriodType = "daily"
	// PeriodMonthly buckets usage by year-month.
	PeriodMonthly PeriodType = "monthly"
)

// Valid reports whether the period type is known.
func (p PeriodType) Valid() bool {
	return p == PeriodDaily || p == PeriodMonthly
}

// PeriodKey formats the bucket key for the period containing t.
func (p PeriodType) PeriodKey(t time.Time) string {
	if p == PeriodMonthly {
		return t.UTC().Format("2006-01")
	}
	return t.UTC().Format("2006-01-02")
}

// BudgetUsage is one aggregated usage bucket for a provider and period.
type BudgetUsage struct {
	ProviderID  string
	PeriodType  PeriodType
	PeriodKey   string
	TotalCost   float64
	TotalTokens int64
	APICalls    int64
	LastUpdated time.Time
}

// BudgetSettings carries the configured spend limits for a provider.
// A zero limit (or disabled flag) means unlimited for that window.
type BudgetSettings struct {
	ProviderID           string
	DailyBudgetEnabled   bool
	DailyBudget          float64
	MonthlyBudgetEnabled bool
	MonthlyBudget        float64
}

// DailyLimit returns the effective daily cap, 0 meaning unlimited.
func (s BudgetSettings) DailyLimit() float64 {
	if !s.DailyBudgetEnabled {
		return 0
	}
	return s.DailyBudget
}

// MonthlyLimit returns the effective monthly cap, 0 meaning unlimited.
func (s BudgetSettings) MonthlyLimit() float64 {
	if !s.MonthlyBudgetEnabled {
		return 0
	}
	return s.MonthlyBudget
}

// BudgetWindow summarizes one accounting window for observability.
type BudgetWindow struct {
	Limit     float64
	Spent     float64
	Remaining float64
	Percent   float64
	Exceeded  bool
	Tokens    int64
	APICalls  int64
}

// BudgetSummary exposes both accounting windows of a provider.
type BudgetSummary struct {
	ProviderID string
	Daily      BudgetWindow
	Monthly    BudgetWindow
}

// UsageRecord is one billed (or attempted) provider call to account for.
type UsageRecord struct {
	ProviderID   string
	InputTokens  int
	OutputTokens int
	// Cost may be zero when pricing data is unavailable; tokens are
	// still recorded so totals stay accurate.
	Cost float64
}
