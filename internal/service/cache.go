package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// TranslationCacheOptions configures NewTranslationCache.
type TranslationCacheOptions struct {
	Repo   core.CacheRepository
	Logger *slog.Logger
	Time   data.TimeProvider
}

// TranslationCache stores field translations keyed by page, language and
// field name, with hashes guarding reuse: a cached entry is served only when
// the source content is unchanged and the prompt that produced it still
// matches (entries persisted before prompt hashing count as matching).
type TranslationCache struct {
	repo   core.CacheRepository
	logger *slog.Logger
	time   data.TimeProvider
}

func NewTranslationCache(opts TranslationCacheOptions) *TranslationCache {
	if opts.Time == nil {
		opts.Time = &data.RealTimeProvider{}
	}
	return &TranslationCache{
		repo:   opts.Repo,
		logger: opts.Logger.With("component", "translation_cache"),
		time:   opts.Time,
	}
}

// Lookup returns the cached translation for a field, or ("", false) on miss.
// Source content is hashed here; the caller supplies the prompt hash.
func (c *TranslationCache) Lookup(ctx context.Context, pageUUID, language, field, sourceContent, promptHash string) (string, bool, error) {
	entry, err := c.repo.Get(ctx, pageUUID, language, field)
	if err != nil {
		if errors.Is(err, data.ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache lookup %s/%s/%s: %w", pageUUID, language, field, err)
	}

	if !entry.Matches(HashText(sourceContent), promptHash) {
		c.logger.DebugContext(ctx, "cache entry stale", "page_uuid", pageUUID, "field", field)
		return "", false, nil
	}
	return entry.TranslatedContent, true, nil
}

// Store upserts a cache entry for a freshly translated field.
func (c *TranslationCache) Store(ctx context.Context, pageUUID, language, field, fieldType, sourceContent, promptHash, translated string) error {
	entry := &model.CacheEntry{
		PageUUID:          pageUUID,
		LanguageCode:      language,
		FieldName:         field,
		FieldType:         fieldType,
		SourceHash:        HashText(sourceContent),
		PromptHash:        promptHash,
		SourceContent:     sourceContent,
		TranslatedContent: translated,
		UpdatedAt:         c.time.Now(),
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("cache store %s/%s/%s: %w", pageUUID, language, field, err)
	}
	return nil
}

// InvalidatePage drops every cached translation for one page.
func (c *TranslationCache) InvalidatePage(ctx context.Context, pageUUID string) (int64, error) {
	n, err := c.repo.DeleteByPage(ctx, pageUUID)
	if err != nil {
		return 0, fmt.Errorf("cache invalidate page %s: %w", pageUUID, err)
	}
	c.logger.InfoContext(ctx, "cache invalidated for page", "page_uuid", pageUUID, "entries", n)
	return n, nil
}

// InvalidateLanguage drops every cached translation for one target language.
func (c *TranslationCache) InvalidateLanguage(ctx context.Context, language string) (int64, error) {
	n, err := c.repo.DeleteByLanguage(ctx, language)
	if err != nil {
		return 0, fmt.Errorf("cache invalidate language %s: %w", language, err)
	}
	c.logger.InfoContext(ctx, "cache invalidated for language", "language", language, "entries", n)
	return n, nil
}

// Clear drops the whole cache.
func (c *TranslationCache) Clear(ctx context.Context) (int64, error) {
	n, err := c.repo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	c.logger.InfoContext(ctx, "cache cleared", "entries", n)
	return n, nil
}

// Stats reports cache size grouped by page and language.
func (c *TranslationCache) Stats(ctx context.Context) (*model.CacheStats, error) {
	stats, err := c.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}
