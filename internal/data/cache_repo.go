package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// CacheRepo provides database operations for the translation cache.
type CacheRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCacheRepo creates a new CacheRepo.
func NewCacheRepo(db *sql.DB, tp TimeProvider) *CacheRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &CacheRepo{DB: db, timeProvider: tp}
}

const cacheColumns = `
  page_uuid,
  language_code,
  field_name,
  field_type,
  source_hash,
  prompt_hash,
  source_content,
  translated_content,
  created_at,
  updated_at
`

// Get retrieves the cache entry for a (page, language, field) key.
// Returns ErrCacheMiss when no row exists.
func (r *CacheRepo) Get(ctx context.Context, pageUUID, languageCode, fieldName string) (*model.CacheEntry, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+cacheColumns+`
		FROM translation_cache
		WHERE page_uuid = $1 AND language_code = $2 AND field_name = $3
	`, pageUUID, languageCode, fieldName)

	entry := &model.CacheEntry{}
	err := row.Scan(
		&entry.PageUUID,
		&entry.LanguageCode,
		&entry.FieldName,
		&entry.FieldType,
		&entry.SourceHash,
		&entry.PromptHash,
		&entry.SourceContent,
		&entry.TranslatedContent,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return entry, nil
}

// Upsert writes a cache entry, refreshing hashes and content on conflict.
func (r *CacheRepo) Upsert(ctx context.Context, entry *model.CacheEntry) error {
	if entry == nil {
		return errors.New("cache entry is required")
	}

	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO translation_cache (page_uuid, language_code, field_name, field_type, source_hash, prompt_hash, source_content, translated_content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (page_uuid, language_code, field_name) DO UPDATE
		SET field_type = EXCLUDED.field_type,
		    source_hash = EXCLUDED.source_hash,
		    prompt_hash = EXCLUDED.prompt_hash,
		    source_content = EXCLUDED.source_content,
		    translated_content = EXCLUDED.translated_content,
		    updated_at = EXCLUDED.updated_at
	`, entry.PageUUID, entry.LanguageCode, entry.FieldName, entry.FieldType,
		entry.SourceHash, entry.PromptHash, entry.SourceContent, entry.TranslatedContent, now)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", mapPgError(err, "upsert cache entry"))
	}
	return nil
}

// DeleteByPage removes all cache entries for a page, returning the count.
func (r *CacheRepo) DeleteByPage(ctx context.Context, pageUUID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM translation_cache WHERE page_uuid = $1`, pageUUID)
	if err != nil {
		return 0, fmt.Errorf("delete cache by page: %w", err)
	}
	return res.RowsAffected()
}

// DeleteByLanguage removes all cache entries for a language, returning the count.
func (r *CacheRepo) DeleteByLanguage(ctx context.Context, languageCode string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM translation_cache WHERE language_code = $1`, languageCode)
	if err != nil {
		return 0, fmt.Errorf("delete cache by language: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll clears the whole cache, returning the count.
func (r *CacheRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM translation_cache`)
	if err != nil {
		return 0, fmt.Errorf("delete cache: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes the cache contents.
func (r *CacheRepo) Stats(ctx context.Context) (*model.CacheStats, error) {
	var s model.CacheStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*),
		       count(DISTINCT page_uuid),
		       count(DISTINCT language_code)
		FROM translation_cache
	`).Scan(&s.Entries, &s.Pages, &s.Languages)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return &s, nil
}
