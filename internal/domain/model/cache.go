package model

import "time"

// CacheEntry is a memoized field translation addressed by content and prompt hashes.
type CacheEntry struct {
	PageUUID          string
	LanguageCode      string
	FieldName         string
	FieldType         string
	SourceHash        string
	PromptHash        string
	SourceContent     string
	TranslatedContent string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Matches applies the cache hit rule: the source hash must match, and the
// prompt hash must match unless the stored entry predates prompt-hash
// validation (stored hash empty).
func (e *CacheEntry) Matches(sourceHash, promptHash string) bool {
	if e.SourceHash != sourceHash {
		return false
	}
	return e.PromptHash == "" || e.PromptHash == promptHash
}

// CacheStats summarizes the cache for observability.
type CacheStats struct {
	Entries   int64
	Pages     int64
	Languages int64
}
