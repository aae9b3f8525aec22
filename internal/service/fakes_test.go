package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeJobRepo is an in-memory JobRepository preserving insertion order.
type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	order   []string
	now     func() time.Time
	deleted []string

	createErr      error
	setStatusErr   error
	nextPendingErr error

	nextPendingCalls int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs: map[string]*model.Job{},
		now:  time.Now,
	}
}

func (r *fakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	job := &model.Job{
		ID:             model.NewJobID(),
		PageID:         req.PageID,
		PageTitle:      req.PageTitle,
		VariantCode:    req.VariantCode,
		Status:         model.JobStatusPending,
		IsManual:       req.IsManual,
		SourceSnapshot: req.Snapshot.Clone(),
		Strategy:       model.StrategyFull,
		CreatedAt:      r.now(),
	}
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	return cloneJob(job), nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *fakeJobRepo) GetByStatus(_ context.Context, status model.JobStatus) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Job
	for _, id := range r.order {
		if job, ok := r.jobs[id]; ok && job.Status == status {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

func (r *fakeJobRepo) NextPending(_ context.Context) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPendingCalls++
	if r.nextPendingErr != nil {
		return nil, r.nextPendingErr
	}
	for _, id := range r.order {
		job, ok := r.jobs[id]
		if !ok || job.Status != model.JobStatusPending {
			continue
		}
		job.Status = model.JobStatusProcessing
		started := r.now()
		job.StartedAt = &started
		return cloneJob(job), nil
	}
	return nil, model.ErrNoJobsAvailable
}

func (r *fakeJobRepo) RunningForPage(_ context.Context, pageID, variantCode string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		job, ok := r.jobs[id]
		if !ok {
			continue
		}
		if job.PageID == pageID && job.VariantCode == variantCode && !job.Status.Terminal() {
			return cloneJob(job), nil
		}
	}
	return nil, nil
}

func (r *fakeJobRepo) SetStatus(_ context.Context, id string, status model.JobStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setStatusErr != nil {
		return r.setStatusErr
	}
	job, ok := r.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	job.Status = status
	job.Error = errMsg
	if status == model.JobStatusProcessing && job.StartedAt == nil {
		started := r.now()
		job.StartedAt = &started
	}
	return nil
}

func (r *fakeJobRepo) UpdateProgress(_ context.Context, id string, progress model.JobProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	job.Progress = progress
	return nil
}

func (r *fakeJobRepo) UpdateStrategy(_ context.Context, id string, strategy model.Strategy, fields []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	job.Strategy = strategy
	job.FieldsToTranslate = append([]string(nil), fields...)
	return nil
}

func (r *fakeJobRepo) UpdateResult(_ context.Context, id string, result model.JobResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	copied := result
	job.Result = &copied
	return nil
}

func (r *fakeJobRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return data.ErrJobNotFound
	}
	delete(r.jobs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeJobRepo) StaleProcessing(_ context.Context, cutoff time.Time) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Job
	for _, id := range r.order {
		job, ok := r.jobs[id]
		if !ok || job.Status != model.JobStatusProcessing {
			continue
		}
		if job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

func (r *fakeJobRepo) Stats(_ context.Context) (*model.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.QueueStats{}
	for _, job := range r.jobs {
		switch job.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusProcessing:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusTimeout, model.JobStatusCancelled:
		}
	}
	return stats, nil
}

func (r *fakeJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeJobRepo) WithReaperLock(ctx context.Context, fn func(context.Context) error) (bool, error) {
	return true, fn(ctx)
}

func cloneJob(job *model.Job) *model.Job {
	copied := *job
	copied.SourceSnapshot = job.SourceSnapshot.Clone()
	copied.FieldsToTranslate = append([]string(nil), job.FieldsToTranslate...)
	if job.Result != nil {
		result := *job.Result
		copied.Result = &result
	}
	if job.StartedAt != nil {
		started := *job.StartedAt
		copied.StartedAt = &started
	}
	return &copied
}

// fakeReportRepo records appended ledger rows.
type fakeReportRepo struct {
	mu      sync.Mutex
	reports []*model.JobReport
	stats   []*model.TranslationStats

	deleteBatches []int64
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{}
}

func (r *fakeReportRepo) AppendReport(_ context.Context, report *model.JobReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeReportRepo) AppendStats(_ context.Context, stats *model.TranslationStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, stats)
	return nil
}

func (r *fakeReportRepo) ListReports(_ context.Context, variantCode string, limit int) ([]*model.JobReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.JobReport
	for _, report := range r.reports {
		if variantCode == "" || report.VariantCode == variantCode {
			out = append(out, report)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeReportRepo) DeleteOldReports(_ context.Context, _ time.Time, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.deleteBatches) == 0 {
		return 0, nil
	}
	n := r.deleteBatches[0]
	r.deleteBatches = r.deleteBatches[1:]
	return n, nil
}

// fakeCacheRepo is an in-memory CacheRepository.
type fakeCacheRepo struct {
	mu      sync.Mutex
	entries map[string]*model.CacheEntry
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: map[string]*model.CacheEntry{}}
}

func cacheKey(pageUUID, languageCode, fieldName string) string {
	return pageUUID + "|" + languageCode + "|" + fieldName
}

func (r *fakeCacheRepo) Get(_ context.Context, pageUUID, languageCode, fieldName string) (*model.CacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[cacheKey(pageUUID, languageCode, fieldName)]
	if !ok {
		return nil, data.ErrCacheMiss
	}
	copied := *entry
	return &copied, nil
}

func (r *fakeCacheRepo) Upsert(_ context.Context, entry *model.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *entry
	r.entries[cacheKey(entry.PageUUID, entry.LanguageCode, entry.FieldName)] = &copied
	return nil
}

func (r *fakeCacheRepo) DeleteByPage(_ context.Context, pageUUID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, entry := range r.entries {
		if entry.PageUUID == pageUUID {
			delete(r.entries, key)
			n++
		}
	}
	return n, nil
}

func (r *fakeCacheRepo) DeleteByLanguage(_ context.Context, languageCode string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, entry := range r.entries {
		if entry.LanguageCode == languageCode {
			delete(r.entries, key)
			n++
		}
	}
	return n, nil
}

func (r *fakeCacheRepo) DeleteAll(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.entries))
	r.entries = map[string]*model.CacheEntry{}
	return n, nil
}

func (r *fakeCacheRepo) Stats(_ context.Context) (*model.CacheStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := map[string]bool{}
	languages := map[string]bool{}
	for _, entry := range r.entries {
		pages[entry.PageUUID] = true
		languages[entry.LanguageCode] = true
	}
	return &model.CacheStats{
		Entries:   int64(len(r.entries)),
		Pages:     int64(len(pages)),
		Languages: int64(len(languages)),
	}, nil
}

// fakeBudgetRepo is an in-memory BudgetRepository.
type fakeBudgetRepo struct {
	mu       sync.Mutex
	usage    map[string]*model.BudgetUsage
	settings map[string]*model.BudgetSettings
}

func newFakeBudgetRepo() *fakeBudgetRepo {
	return &fakeBudgetRepo{
		usage:    map[string]*model.BudgetUsage{},
		settings: map[string]*model.BudgetSettings{},
	}
}

func usageKey(providerID string, periodType model.PeriodType, periodKey string) string {
	return fmt.Sprintf("%s|%s|%s", providerID, periodType, periodKey)
}

func (r *fakeBudgetRepo) AddUsage(_ context.Context, usage *model.BudgetUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey(usage.ProviderID, usage.PeriodType, usage.PeriodKey)
	existing, ok := r.usage[key]
	if !ok {
		copied := *usage
		r.usage[key] = &copied
		return nil
	}
	existing.TotalCost += usage.TotalCost
	existing.TotalTokens += usage.TotalTokens
	existing.APICalls += usage.APICalls
	existing.LastUpdated = usage.LastUpdated
	return nil
}

func (r *fakeBudgetRepo) GetUsage(_ context.Context, providerID string, periodType model.PeriodType, periodKey string) (*model.BudgetUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage, ok := r.usage[usageKey(providerID, periodType, periodKey)]
	if !ok {
		return &model.BudgetUsage{
			ProviderID: providerID,
			PeriodType: periodType,
			PeriodKey:  periodKey,
		}, nil
	}
	copied := *usage
	return &copied, nil
}

func (r *fakeBudgetRepo) ResetUsage(_ context.Context, providerID string, periodType model.PeriodType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, usage := range r.usage {
		if usage.ProviderID == providerID && usage.PeriodType == periodType {
			delete(r.usage, key)
			n++
		}
	}
	return n, nil
}

func (r *fakeBudgetRepo) GetSettings(_ context.Context, providerID string) (*model.BudgetSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	settings, ok := r.settings[providerID]
	if !ok {
		return &model.BudgetSettings{ProviderID: providerID}, nil
	}
	copied := *settings
	return &copied, nil
}

func (r *fakeBudgetRepo) SaveSettings(_ context.Context, settings *model.BudgetSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *settings
	r.settings[settings.ProviderID] = &copied
	return nil
}

// fakeLockRepo is an in-process WorkerLockRepository.
type fakeLockRepo struct {
	mu         sync.Mutex
	holder     string
	acquireErr error
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{}
}

func (r *fakeLockRepo) Acquire(_ context.Context, holder string, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acquireErr != nil {
		return false, r.acquireErr
	}
	if r.holder != "" && r.holder != holder {
		return false, nil
	}
	r.holder = holder
	return true, nil
}

func (r *fakeLockRepo) Extend(_ context.Context, holder string, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holder == holder, nil
}

func (r *fakeLockRepo) Release(_ context.Context, holder string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder != holder {
		return false, nil
	}
	r.holder = ""
	return true, nil
}

func (r *fakeLockRepo) Holder(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holder, nil
}

// fakeVariantRepo serves a fixed set of variant configs.
type fakeVariantRepo struct {
	mu      sync.Mutex
	configs map[string]*model.VariantConfig
}

func newFakeVariantRepo(configs ...*model.VariantConfig) *fakeVariantRepo {
	repo := &fakeVariantRepo{configs: map[string]*model.VariantConfig{}}
	for _, cfg := range configs {
		repo.configs[cfg.VariantCode] = cfg
	}
	return repo
}

func (r *fakeVariantRepo) Get(_ context.Context, variantCode string) (*model.VariantConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[variantCode]
	if !ok {
		return nil, data.ErrVariantConfigNotFound
	}
	return cfg, nil
}

func (r *fakeVariantRepo) Save(_ context.Context, cfg *model.VariantConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.VariantCode] = cfg
	return nil
}

func (r *fakeVariantRepo) SetPageMode(_ context.Context, variantCode, pageUUID string, mode model.PageMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[variantCode]
	if !ok {
		return data.ErrVariantConfigNotFound
	}
	for i, entry := range cfg.Pages {
		if entry.UUID == pageUUID {
			cfg.Pages[i].Mode = mode
			return nil
		}
	}
	cfg.Pages = append(cfg.Pages, model.PageEntry{UUID: pageUUID, Mode: mode})
	return nil
}

func (r *fakeVariantRepo) List(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var codes []string
	for code := range r.configs {
		codes = append(codes, code)
	}
	return codes, nil
}

// fakeContentStore is an in-memory ContentStore keyed by page and language.
type fakeContentStore struct {
	mu     sync.Mutex
	pages  map[string]*model.Page
	fields map[string]model.FieldMap
	writes []string
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{
		pages:  map[string]*model.Page{},
		fields: map[string]model.FieldMap{},
	}
}

func contentKey(pageUUID, languageCode string) string {
	return pageUUID + "|" + languageCode
}

func (s *fakeContentStore) addPage(page *model.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.UUID] = page
}

func (s *fakeContentStore) setFields(pageUUID, languageCode string, fields model.FieldMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[contentKey(pageUUID, languageCode)] = fields.Clone()
}

func (s *fakeContentStore) getFields(pageUUID, languageCode string) model.FieldMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[contentKey(pageUUID, languageCode)].Clone()
}

func (s *fakeContentStore) GetPage(_ context.Context, pageUUID, _ string) (*model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageUUID]
	if !ok {
		return nil, data.ErrPageContentNotFound
	}
	return page, nil
}

func (s *fakeContentStore) GetFields(_ context.Context, pageUUID, languageCode string) (model.FieldMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.fields[contentKey(pageUUID, languageCode)]
	if !ok {
		return nil, data.ErrPageContentNotFound
	}
	return fields.Clone(), nil
}

func (s *fakeContentStore) WriteFields(_ context.Context, pageUUID, languageCode string, fields model.FieldMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[contentKey(pageUUID, languageCode)] = fields.Clone()
	s.writes = append(s.writes, contentKey(pageUUID, languageCode))
	return nil
}

func (s *fakeContentStore) ListPages(_ context.Context, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for uuid := range s.pages {
		out = append(out, uuid)
	}
	return out, nil
}

// fakeProvider returns canned completions, or queued errors first.
type fakeProvider struct {
	mu        sync.Mutex
	kind      model.ProviderKind
	translate func(input string) string
	errQueue  []error
	requests  []*model.CompletionRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		kind:      model.ProviderOpenAI,
		translate: func(input string) string { return "translated: " + input },
	}
}

func (p *fakeProvider) Kind() model.ProviderKind {
	return p.kind
}

func (p *fakeProvider) Complete(_ context.Context, req *model.CompletionRequest) (*model.CompletionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.errQueue) > 0 {
		err := p.errQueue[0]
		p.errQueue = p.errQueue[1:]
		return nil, err
	}
	user := ""
	for _, msg := range req.Messages {
		if msg.Role == model.RoleUser {
			user = msg.Content
		}
	}
	return &model.CompletionResult{
		Text:             p.translate(user),
		PromptTokens:     100,
		CompletionTokens: 50,
		Model:            req.Model,
	}, nil
}

// fakeResolver hands out one provider for every model assignment.
type fakeResolver struct {
	provider *fakeProvider
	err      error
	resolved int
}

func (r *fakeResolver) Resolve(_ model.ModelSettings) (core.Provider, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.resolved++
	return r.provider, nil
}
