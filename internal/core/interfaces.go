// Package core defines the port interfaces shared between the service layer
// and its adapters. Services depend on these interfaces, never on concrete
// repository or provider implementations.
package core

import (
	"context"
	"time"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// JobRepository provides durable storage for the translation job queue.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	GetByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error)
	NextPending(ctx context.Context) (*model.Job, error)
	RunningForPage(ctx context.Context, pageID, variantCode string) (*model.Job, error)
	SetStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error
	UpdateProgress(ctx context.Context, id string, progress model.JobProgress) error
	UpdateStrategy(ctx context.Context, id string, strategy model.Strategy, fields []string) error
	UpdateResult(ctx context.Context, id string, result model.JobResult) error
	Delete(ctx context.Context, id string) error
	StaleProcessing(ctx context.Context, cutoff time.Time) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.QueueStats, error)
	WaitForNotification(ctx context.Context) error
}

// WorkerLockRepository is the cross-process worker mutex.
type WorkerLockRepository interface {
	Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, holder string) (bool, error)
	Holder(ctx context.Context) (string, error)
}

// CacheRepository provides durable storage for memoized field translations.
type CacheRepository interface {
	Get(ctx context.Context, pageUUID, languageCode, fieldName string) (*model.CacheEntry, error)
	Upsert(ctx context.Context, entry *model.CacheEntry) error
	DeleteByPage(ctx context.Context, pageUUID string) (int64, error)
	DeleteByLanguage(ctx context.Context, languageCode string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*model.CacheStats, error)
}

// BudgetRepository provides durable storage for usage buckets and limits.
type BudgetRepository interface {
	AddUsage(ctx context.Context, usage *model.BudgetUsage) error
	GetUsage(ctx context.Context, providerID string, periodType model.PeriodType, periodKey string) (*model.BudgetUsage, error)
	ResetUsage(ctx context.Context, providerID string, periodType model.PeriodType) (int64, error)
	GetSettings(ctx context.Context, providerID string) (*model.BudgetSettings, error)
	SaveSettings(ctx context.Context, settings *model.BudgetSettings) error
}

// VariantConfigRepository stores per-variant configuration documents.
type VariantConfigRepository interface {
	Get(ctx context.Context, variantCode string) (*model.VariantConfig, error)
	Save(ctx context.Context, cfg *model.VariantConfig) error
	SetPageMode(ctx context.Context, variantCode, pageUUID string, mode model.PageMode) error
	List(ctx context.Context) ([]string, error)
}

// ContentStore is the narrow contract onto the hosting CMS content layer.
type ContentStore interface {
	GetPage(ctx context.Context, pageUUID, sourceLanguage string) (*model.Page, error)
	GetFields(ctx context.Context, pageUUID, languageCode string) (model.FieldMap, error)
	WriteFields(ctx context.Context, pageUUID, languageCode string, fields model.FieldMap) error
	ListPages(ctx context.Context, languageCode string) ([]string, error)
}

// ReportRepository provides the append-only report and stats ledgers.
type ReportRepository interface {
	AppendReport(ctx context.Context, report *model.JobReport) error
	AppendStats(ctx context.Context, stats *model.TranslationStats) error
	ListReports(ctx context.Context, variantCode string, limit int) ([]*model.JobReport, error)
	DeleteOldReports(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Provider is the uniform completion contract over heterogeneous LLM wire
// protocols. Implementations retry transient upstream failures internally
// and return taxonomy errors for everything else.
type Provider interface {
	Kind() model.ProviderKind
	Complete(ctx context.Context, req *model.CompletionRequest) (*model.CompletionResult, error)
}

// Executor dispatches job processing. The background implementation relies on
// a long-lived worker draining the queue; the inline implementation processes
// the job synchronously in the caller before returning.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}
