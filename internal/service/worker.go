package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// provenanceField is written into the target content on every successful
// job, recording which provider produced the translation and when.
const provenanceField = "simplify"

// ProviderResolver yields the provider adapter for a variant's model settings.
type ProviderResolver interface {
	Resolve(settings model.ModelSettings) (core.Provider, error)
}

// EngineOptions wires the collaborators of the worker engine.
type EngineOptions struct {
	Jobs      core.JobRepository
	Lock      core.WorkerLockRepository
	Variants  core.VariantConfigRepository
	Content   core.ContentStore
	Reports   core.ReportRepository
	Cache     *TranslationCache
	Budget    *BudgetLedger
	Providers ProviderResolver
	Filter    *FieldFilter
	Detector  *ChangeDetector
	Prompts   *PromptBuilder
	Masker    *ContentMasker
	Config    config.WorkerConfig
	Logger    *slog.Logger
	Time      data.TimeProvider
}

// Engine drains the translation job queue. At most one engine runs per
// deployment, enforced by the worker lock; within a job, fields are
// translated strictly sequentially with an inter-field delay.
type Engine struct {
	jobs      core.JobRepository
	lock      core.WorkerLockRepository
	variants  core.VariantConfigRepository
	content   core.ContentStore
	reports   core.ReportRepository
	cache     *TranslationCache
	budget    *BudgetLedger
	providers ProviderResolver
	filter    *FieldFilter
	detector  *ChangeDetector
	prompts   *PromptBuilder
	masker    *ContentMasker
	cfg       config.WorkerConfig
	logger    *slog.Logger
	time      data.TimeProvider
}

func NewEngine(opts EngineOptions) *Engine {
	opts.Config.Sanitize()
	if opts.Time == nil {
		opts.Time = &data.RealTimeProvider{}
	}
	return &Engine{
		jobs:      opts.Jobs,
		lock:      opts.Lock,
		variants:  opts.Variants,
		content:   opts.Content,
		reports:   opts.Reports,
		cache:     opts.Cache,
		budget:    opts.Budget,
		providers: opts.Providers,
		filter:    opts.Filter,
		detector:  opts.Detector,
		prompts:   opts.Prompts,
		masker:    opts.Masker,
		cfg:       opts.Config,
		logger:    opts.Logger.With("component", "worker"),
		time:      opts.Time,
	}
}

// Run acquires the worker lock and drains the queue until the context is
// cancelled. Failing to acquire the lock is a clean no-op when the queue is
// empty; with pending work it is an error, since nobody else is guaranteed
// to pick it up.
func (e *Engine) Run(ctx context.Context) error {
	holder := lockHolder()

	acquired := false
	for attempt := 1; attempt <= e.cfg.LockRetries; attempt++ {
		ok, err := e.lock.Acquire(ctx, holder, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire worker lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		e.logger.InfoContext(ctx, "worker lock held elsewhere, retrying",
			"attempt", attempt, "retries", e.cfg.LockRetries)
		if attempt < e.cfg.LockRetries {
			if err := sleepCtx(ctx, e.cfg.LockRetryDelay); err != nil {
				return err
			}
		}
	}
	if !acquired {
		stats, err := e.jobs.Stats(ctx)
		if err != nil {
			return fmt.Errorf("queue stats after lock contention: %w", err)
		}
		if stats.Pending == 0 {
			e.logger.InfoContext(ctx, "worker lock unavailable and queue empty, nothing to do")
			return nil
		}
		return fmt.Errorf("worker lock held by another process with %d jobs pending", stats.Pending)
	}

	e.logger.InfoContext(ctx, "worker lock acquired", "holder", holder)
	defer func() {
		released, err := e.lock.Release(context.WithoutCancel(ctx), holder)
		if err != nil {
			e.logger.Error("release worker lock", "error", err)
		} else if !released {
			e.logger.Warn("worker lock was no longer held on release", "holder", holder)
		}
	}()

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go e.heartbeat(hbCtx, holder)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := e.ProcessNextJob(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		if err != nil {
			// Job failures are recorded on the job itself; the loop
			// carries on with the next one.
			e.logger.ErrorContext(ctx, "job processing failed", "error", err)
			if !processed {
				// The claim itself failed, likely a database outage.
				// Back off instead of hammering the queue.
				_ = sleepCtx(ctx, e.cfg.PollInterval)
			}
			continue
		}
		if processed {
			continue
		}

		e.waitForWork(ctx)
	}
}

// waitForWork blocks until a queue notification arrives or the poll interval
// elapses. Notification delivery is best-effort; the poll bound guarantees
// progress even if it is lost.
func (e *Engine) waitForWork(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.PollInterval)
	defer cancel()
	if err := e.jobs.WaitForNotification(waitCtx); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		e.logger.WarnContext(ctx, "queue notification wait failed", "error", err)
		_ = sleepCtx(ctx, e.cfg.PollInterval)
	}
}

func (e *Engine) heartbeat(ctx context.Context, holder string) {
	interval := e.cfg.LockTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := e.lock.Extend(ctx, holder, e.cfg.LockTTL)
			if err != nil {
				e.logger.Warn("worker lock heartbeat failed", "error", err)
			} else if !ok {
				e.logger.Warn("worker lock lost, another process may take over", "holder", holder)
			}
		}
	}
}

// ProcessNextJob claims and processes the oldest pending job. It returns
// false when the queue is empty.
func (e *Engine) ProcessNextJob(ctx context.Context) (bool, error) {
	job, err := e.jobs.NextPending(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return false, nil
		}
		return false, fmt.Errorf("claim next job: %w", err)
	}
	return true, e.process(ctx, job)
}

// ProcessJob processes one specific job regardless of queue order. Used by
// the inline executor.
func (e *Engine) ProcessJob(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return apperrors.NotFoundf("job %s not found", jobID)
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	return e.process(ctx, job)
}

// process runs one job to a terminal state. Finalization (report, stats,
// job deletion) always happens, success or failure.
func (e *Engine) process(ctx context.Context, job *model.Job) error {
	logger := e.logger.With("job_id", job.ID, "page_id", job.PageID, "variant", job.VariantCode)
	logger.InfoContext(ctx, "job started")

	if job.Status != model.JobStatusProcessing {
		if err := e.jobs.SetStatus(ctx, job.ID, model.JobStatusProcessing, ""); err != nil {
			return fmt.Errorf("mark job %s processing: %w", job.ID, err)
		}
	}

	runErr := e.translate(ctx, job)
	if runErr != nil {
		logger.ErrorContext(ctx, "job failed", "error", runErr)
		if err := e.jobs.SetStatus(ctx, job.ID, model.JobStatusFailed, runErr.Error()); err != nil {
			logger.ErrorContext(ctx, "mark job failed", "error", err)
		}
	} else {
		logger.InfoContext(ctx, "job completed")
	}

	if err := e.finalize(ctx, job.ID); err != nil {
		// A finalization failure must not mask the job outcome or crash
		// the worker loop.
		logger.ErrorContext(ctx, "job finalization failed", "error", err)
	}
	return runErr
}

// translate runs steps 2-6 of the job state machine: load content and
// config, pick a strategy, filter fields, translate sequentially, merge and
// write back.
func (e *Engine) translate(ctx context.Context, job *model.Job) error {
	cfg, err := e.variants.Get(ctx, job.VariantCode)
	if err != nil {
		if errors.Is(err, data.ErrVariantConfigNotFound) {
			return apperrors.NotFoundf("no configuration found for variant %s", job.VariantCode)
		}
		return fmt.Errorf("load variant config %s: %w", job.VariantCode, err)
	}

	page, err := e.content.GetPage(ctx, job.PageID, cfg.SourceLanguage)
	if err != nil {
		if errors.Is(err, data.ErrPageContentNotFound) {
			return apperrors.NotFoundf("page not found: %s", job.PageID)
		}
		return fmt.Errorf("load page %s: %w", job.PageID, err)
	}

	source, err := e.content.GetFields(ctx, job.PageID, cfg.SourceLanguage)
	if err != nil {
		return fmt.Errorf("load source content %s: %w", job.PageID, err)
	}

	// The existing target content is the merge base so untouched
	// translations survive a partial update. A missing target forces a
	// full translation seeded from the source.
	target, err := e.content.GetFields(ctx, job.PageID, job.VariantCode)
	variantExists := true
	if err != nil {
		if !errors.Is(err, data.ErrPageContentNotFound) {
			return fmt.Errorf("load target content %s/%s: %w", job.PageID, job.VariantCode, err)
		}
		variantExists = false
		target = source.Clone()
	}

	var change ChangeResult
	if !variantExists || job.IsManual {
		change = ChangeResult{
			Strategy:         model.StrategyFull,
			Fields:           sortedKeys(source),
			ChangePercentage: 100,
		}
	} else {
		change = e.detector.DetectChanges(source, job.SourceSnapshot, page.FieldTypes)
	}

	// title is host-managed and never translated.
	candidates := make([]string, 0, len(change.Fields))
	for _, f := range change.Fields {
		if f != "title" {
			candidates = append(candidates, f)
		}
	}

	filtered := e.filter.Apply(FilterInput{
		Page:      page,
		Config:    cfg,
		Candidate: candidates,
		Current:   source,
		IsManual:  job.IsManual,
	})
	if filtered.Blocked {
		e.logger.InfoContext(ctx, "page excluded from translation",
			"job_id", job.ID, "reason", filtered.BlockReason)
	}

	if err := e.jobs.UpdateStrategy(ctx, job.ID, change.Strategy, filtered.Eligible); err != nil {
		return fmt.Errorf("persist strategy for job %s: %w", job.ID, err)
	}
	// Defensive re-read so the loop below works off persisted state.
	job, err = e.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}

	translated, result, err := e.translateFields(ctx, job, page, cfg, source, variantExists)
	if err != nil {
		return err
	}

	if len(translated) > 0 {
		merged := target.Clone()
		for name, value := range translated {
			merged[name] = value
		}
		merged[provenanceField] = fmt.Sprintf("%s | %s",
			cfg.ModelSettings.ProviderID(), e.time.Now().Format("2006-01-02 15:04:05"))

		if err := e.content.WriteFields(ctx, job.PageID, job.VariantCode, merged); err != nil {
			return fmt.Errorf("write translated content %s/%s: %w", job.PageID, job.VariantCode, err)
		}
	}

	if err := e.jobs.SetStatus(ctx, job.ID, model.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	result.TranslatedFields = len(translated)
	if err := e.jobs.UpdateResult(ctx, job.ID, result); err != nil {
		return fmt.Errorf("persist result for job %s: %w", job.ID, err)
	}
	return nil
}

// translateFields walks the field list sequentially with progress tracking,
// per-field retries and the inter-field rate-limit delay.
func (e *Engine) translateFields(ctx context.Context, job *model.Job, page *model.Page, cfg *model.VariantConfig, source model.FieldMap, variantExists bool) (model.FieldMap, model.JobResult, error) {
	var result model.JobResult
	translated := model.FieldMap{}

	total := len(job.FieldsToTranslate)
	if total == 0 {
		return translated, result, nil
	}

	provider, err := e.providers.Resolve(cfg.ModelSettings)
	if err != nil {
		return nil, result, fmt.Errorf("resolve provider for variant %s: %w", job.VariantCode, err)
	}

	if cfg.GroupedCalls {
		return e.translateGrouped(ctx, job, page, cfg, provider, source, variantExists)
	}

	for i, field := range job.FieldsToTranslate {
		if err := ctx.Err(); err != nil {
			return nil, result, err
		}

		if err := e.jobs.UpdateProgress(ctx, job.ID, model.JobProgress{
			Current: i, Total: total, CurrentField: field,
		}); err != nil {
			e.logger.WarnContext(ctx, "progress update failed", "job_id", job.ID, "error", err)
		}

		out, err := e.translateFieldWithRetry(ctx, job, page, cfg, provider, field, source[field], variantExists)
		if err != nil {
			return nil, result, err
		}

		translated[field] = out.text
		result.PromptTokens += out.promptTokens
		result.CompletionTokens += out.completionTokens
		result.TokensUsed += out.promptTokens + out.completionTokens
		result.Cost += out.cost
		if out.cacheHit {
			result.CacheHits++
		}

		if err := e.jobs.UpdateProgress(ctx, job.ID, model.JobProgress{
			Current: i + 1, Total: total,
		}); err != nil {
			e.logger.WarnContext(ctx, "progress update failed", "job_id", job.ID, "error", err)
		}

		if i < total-1 {
			if err := sleepCtx(ctx, cfg.FieldDelay()); err != nil {
				return nil, result, err
			}
		}
	}
	return translated, result, nil
}

// translateGrouped is the batched alternative to the per-field loop: fields
// of one type travel in a single provider call, cut into batches of
// cfg.BatchSize(). Fields whose type the page schema does not know are
// skipped.
func (e *Engine) translateGrouped(ctx context.Context, job *model.Job, page *model.Page, cfg *model.VariantConfig, provider core.Provider, source model.FieldMap, variantExists bool) (model.FieldMap, model.JobResult, error) {
	var result model.JobResult
	translated := model.FieldMap{}

	batches := BatchFieldsByType(page, job.FieldsToTranslate, cfg.BatchSize())
	total := len(job.FieldsToTranslate)
	done := 0

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, result, err
		}

		if err := e.jobs.UpdateProgress(ctx, job.ID, model.JobProgress{
			Current: done, Total: total, CurrentField: batch.Fields[0],
		}); err != nil {
			e.logger.WarnContext(ctx, "progress update failed", "job_id", job.ID, "error", err)
		}

		out, err := e.translateGroupWithRetry(ctx, job, cfg, provider, batch, source, variantExists)
		if err != nil {
			return nil, result, err
		}

		for name, value := range out.fields {
			translated[name] = value
		}
		result.PromptTokens += out.promptTokens
		result.CompletionTokens += out.completionTokens
		result.TokensUsed += out.promptTokens + out.completionTokens
		result.Cost += out.cost
		result.CacheHits += out.cacheHits

		done += len(batch.Fields)
		if err := e.jobs.UpdateProgress(ctx, job.ID, model.JobProgress{
			Current: done, Total: total,
		}); err != nil {
			e.logger.WarnContext(ctx, "progress update failed", "job_id", job.ID, "error", err)
		}

		if i < len(batches)-1 {
			if err := sleepCtx(ctx, cfg.FieldDelay()); err != nil {
				return nil, result, err
			}
		}
	}
	return translated, result, nil
}

// groupOutcome is the accounting of one grouped provider call.
type groupOutcome struct {
	fields           model.FieldMap
	promptTokens     int
	completionTokens int
	cost             float64
	cacheHits        int
}

func (e *Engine) translateGroupWithRetry(ctx context.Context, job *model.Job, cfg *model.VariantConfig, provider core.Provider, batch FieldBatch, source model.FieldMap, variantExists bool) (groupOutcome, error) {
	for attempt := 0; ; attempt++ {
		out, err := e.translateGroup(ctx, job, cfg, provider, batch, source, variantExists)
		if err == nil {
			return out, nil
		}

		if apperrors.IsBudgetExceeded(err) {
			return out, fmt.Errorf("translate %s fields: %w", batch.Type, err)
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if attempt >= e.cfg.RetryLimit {
			return out, fmt.Errorf("failed to translate %s fields after %d retries: %w", batch.Type, e.cfg.RetryLimit, err)
		}

		wait := e.cfg.TransientBackoff
		if isRateLimitError(err) {
			wait = e.cfg.RateLimitBackoff
		}
		e.logger.WarnContext(ctx, "grouped translation failed, backing off",
			"job_id", job.ID, "field_type", batch.Type, "fields", len(batch.Fields),
			"attempt", attempt+1, "wait", wait.String(), "error", err)
		if serr := sleepCtx(ctx, wait); serr != nil {
			return out, serr
		}
	}
}

// translateGroup runs one grouped call: per-field mask and cache pass, one
// budget pre-check and completion for the remainder, then the two-tier
// response parse, per-field demask, normalize and cache write-back.
func (e *Engine) translateGroup(ctx context.Context, job *model.Job, cfg *model.VariantConfig, provider core.Provider, batch FieldBatch, source model.FieldMap, variantExists bool) (groupOutcome, error) {
	out := groupOutcome{fields: model.FieldMap{}}
	rule, _ := cfg.FieldTypeRuleFor(batch.Type)

	sources := map[string]string{}
	maskedContents := map[string]string{}
	masks := map[string]MaskResult{}
	anyMasked := false

	pending := make([]string, 0, len(batch.Fields))
	for _, field := range batch.Fields {
		content := normalizeQuotes(source[field])
		if strings.TrimSpace(content) == "" {
			out.fields[field] = ""
			continue
		}
		masked := e.masker.Mask(content, cfg.Privacy.Masking)
		sources[field] = content
		maskedContents[field] = masked.Masked
		masks[field] = masked
		if len(masked.Placeholders) > 0 {
			anyMasked = true
		}
		pending = append(pending, field)
	}
	if len(pending) == 0 {
		return out, nil
	}

	prompt := e.prompts.BuildGrouped(cfg, rule, pending, maskedContents, anyMasked)

	remaining := pending
	if variantExists {
		remaining = make([]string, 0, len(pending))
		for _, field := range pending {
			cached, hit, err := e.cache.Lookup(ctx, job.PageID, job.VariantCode, field, sources[field], prompt.Hash)
			if err != nil {
				return out, err
			}
			if hit {
				e.logger.DebugContext(ctx, "cache hit", "job_id", job.ID, "field", field)
				out.fields[field] = cached
				out.cacheHits++
				continue
			}
			remaining = append(remaining, field)
		}
		if len(remaining) == 0 {
			return out, nil
		}
		prompt = e.prompts.BuildGrouped(cfg, rule, remaining, maskedContents, anyMasked)
	}

	estInput := EstimateTokens(prompt.System + prompt.User)
	estOutput := 0
	for _, field := range remaining {
		estOutput += EstimateTokens(maskedContents[field]) * 2
	}
	estCost := CostFor(estInput, estOutput, cfg.ModelSettings.Pricing)
	providerID := cfg.ModelSettings.ProviderID()

	if err := e.budget.EnsureWithinLimit(ctx, providerID, estInput+estOutput, estCost); err != nil {
		return out, err
	}

	res, err := provider.Complete(ctx, &model.CompletionRequest{
		Messages: []model.ChatMessage{
			{Role: model.RoleSystem, Content: prompt.System},
			{Role: model.RoleUser, Content: prompt.User},
		},
		Model:       cfg.ModelSettings.Model,
		MaxTokens:   cfg.ModelSettings.MaxOutputTokens,
		Temperature: cfg.ModelSettings.Temperature,
	})
	if err != nil {
		return out, err
	}

	parsed := ParseGroupedResponse(res.Text, remaining)
	for _, field := range remaining {
		text := e.masker.Demask(parsed[field], masks[field].Placeholders)
		text = e.prompts.NormalizeResponse(text, batch.Type)
		out.fields[field] = text

		if err := e.cache.Store(ctx, job.PageID, job.VariantCode, field, batch.Type, sources[field], prompt.Hash, text); err != nil {
			return out, err
		}
	}

	out.promptTokens = res.PromptTokens
	out.completionTokens = res.CompletionTokens
	out.cost = CostFor(res.PromptTokens, res.CompletionTokens, cfg.ModelSettings.Pricing)
	if err := e.budget.Record(ctx, model.UsageRecord{
		ProviderID:   providerID,
		InputTokens:  res.PromptTokens,
		OutputTokens: res.CompletionTokens,
		Cost:         out.cost,
	}); err != nil {
		return out, err
	}
	return out, nil
}

// fieldOutcome is the accounting of one translated field.
type fieldOutcome struct {
	text             string
	promptTokens     int
	completionTokens int
	cost             float64
	cacheHit         bool
}

func (e *Engine) translateFieldWithRetry(ctx context.Context, job *model.Job, page *model.Page, cfg *model.VariantConfig, provider core.Provider, field, rawSource string, variantExists bool) (fieldOutcome, error) {
	for attempt := 0; ; attempt++ {
		out, err := e.translateField(ctx, job, page, cfg, provider, field, rawSource, variantExists)
		if err == nil {
			return out, nil
		}

		// A budget violation will reproduce on retry and on every later
		// field, so it aborts the whole job.
		if apperrors.IsBudgetExceeded(err) {
			return out, fmt.Errorf("translate field %s: %w", field, err)
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if attempt >= e.cfg.RetryLimit {
			return out, fmt.Errorf("failed to translate field %s after %d retries: %w", field, e.cfg.RetryLimit, err)
		}

		wait := e.cfg.TransientBackoff
		if isRateLimitError(err) {
			wait = e.cfg.RateLimitBackoff
		}
		e.logger.WarnContext(ctx, "field translation failed, backing off",
			"job_id", job.ID, "field", field, "attempt", attempt+1, "wait", wait.String(), "error", err)
		if serr := sleepCtx(ctx, wait); serr != nil {
			return out, serr
		}
	}
}

// translateField translates one field: cache lookup first, then mask,
// budget pre-check, provider call, demask, normalize, cache write-back.
func (e *Engine) translateField(ctx context.Context, job *model.Job, page *model.Page, cfg *model.VariantConfig, provider core.Provider, field, rawSource string, variantExists bool) (fieldOutcome, error) {
	sourceContent := normalizeQuotes(rawSource)
	if strings.TrimSpace(sourceContent) == "" {
		return fieldOutcome{text: ""}, nil
	}

	fieldType := page.FieldTypeOf(field)
	rule, _ := cfg.FieldTypeRuleFor(fieldType)

	masked := e.masker.Mask(sourceContent, cfg.Privacy.Masking)
	prompt := e.prompts.Build(cfg, rule, masked.Masked, len(masked.Placeholders) > 0)

	// Serve from cache only when the target content still exists; a
	// deleted variant invalidates prior translations implicitly.
	if variantExists {
		cached, hit, err := e.cache.Lookup(ctx, job.PageID, job.VariantCode, field, sourceContent, prompt.Hash)
		if err != nil {
			return fieldOutcome{}, err
		}
		if hit {
			e.logger.DebugContext(ctx, "cache hit", "job_id", job.ID, "field", field)
			return fieldOutcome{text: cached, cacheHit: true}, nil
		}
	}

	estInput := EstimateTokens(prompt.System + masked.Masked)
	estOutput := EstimateTokens(masked.Masked) * 2
	estCost := CostFor(estInput, estOutput, cfg.ModelSettings.Pricing)
	providerID := cfg.ModelSettings.ProviderID()

	if err := e.budget.EnsureWithinLimit(ctx, providerID, estInput+estOutput, estCost); err != nil {
		return fieldOutcome{}, err
	}

	res, err := provider.Complete(ctx, &model.CompletionRequest{
		Messages: []model.ChatMessage{
			{Role: model.RoleSystem, Content: prompt.System},
			{Role: model.RoleUser, Content: prompt.User},
		},
		Model:       cfg.ModelSettings.Model,
		MaxTokens:   cfg.ModelSettings.MaxOutputTokens,
		Temperature: cfg.ModelSettings.Temperature,
	})
	if err != nil {
		return fieldOutcome{}, err
	}

	text := e.masker.Demask(res.Text, masked.Placeholders)
	text = e.prompts.NormalizeResponse(text, fieldType)

	if err := e.cache.Store(ctx, job.PageID, job.VariantCode, field, fieldType, sourceContent, prompt.Hash, text); err != nil {
		return fieldOutcome{}, err
	}

	cost := CostFor(res.PromptTokens, res.CompletionTokens, cfg.ModelSettings.Pricing)
	if err := e.budget.Record(ctx, model.UsageRecord{
		ProviderID:   providerID,
		InputTokens:  res.PromptTokens,
		OutputTokens: res.CompletionTokens,
		Cost:         cost,
	}); err != nil {
		return fieldOutcome{}, err
	}

	return fieldOutcome{
		text:             text,
		promptTokens:     res.PromptTokens,
		completionTokens: res.CompletionTokens,
		cost:             cost,
	}, nil
}

// finalize writes the terminal-state ledgers and removes the job record.
func (e *Engine) finalize(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload job %s for finalization: %w", jobID, err)
	}

	now := e.time.Now()
	report := buildJobReport(job, job.Status, job.Error, now)
	if err := e.reports.AppendReport(ctx, report); err != nil {
		return fmt.Errorf("append report for job %s: %w", jobID, err)
	}

	stats := &model.TranslationStats{
		VariantCode: job.VariantCode,
		CreatedAt:   now,
	}
	if cfg, cerr := e.variants.Get(ctx, job.VariantCode); cerr == nil {
		stats.ProviderID = cfg.ModelSettings.ProviderID()
		stats.Model = cfg.ModelSettings.Model
	}
	if job.Result != nil {
		stats.TokensUsed = job.Result.TokensUsed
		stats.Cost = job.Result.Cost
		stats.FieldsTranslated = job.Result.TranslatedFields
		stats.CacheHits = job.Result.CacheHits
	}
	if err := e.reports.AppendStats(ctx, stats); err != nil {
		return fmt.Errorf("append stats for job %s: %w", jobID, err)
	}

	if err := e.jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete finalized job %s: %w", jobID, err)
	}
	return nil
}

// isRateLimitError matches the upstream signatures of quota exhaustion so
// the retry loop can back off longer.
func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit")
}

var quoteReplacer = strings.NewReplacer(
	"„", `\"`, "“", `\"`, "”", `\"`,
	"‚", "'", "‘", "'", "’", "'",
)

// normalizeQuotes rewrites typographic quotes to ASCII before hashing and
// prompting, so models cannot corrupt structured JSON by echoing them back
// differently.
func normalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

func lockHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
