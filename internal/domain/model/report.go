package model

import "time"

// JobReport is the append-only record written when a job reaches a terminal state.
type JobReport struct {
	ID               int64
	VariantCode      string
	PageID           string
	PageTitle        string
	Status           JobStatus
	Strategy         Strategy
	TranslatedFields int
	TokensUsed       int
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Error            string
	DurationMillis   int64
	CreatedAt        time.Time
}

// TranslationStats is the append-only per-variant usage record.
type TranslationStats struct {
	ID               int64
	VariantCode      string
	ProviderID       string
	Model            string
	TokensUsed       int
	Cost             float64
	FieldsTranslated int
	CacheHits        int
	CreatedAt        time.Time
}
