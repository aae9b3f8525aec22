package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/internal/data"
)

func newCacheUnderTest(repo *fakeCacheRepo) *TranslationCache {
	return NewTranslationCache(TranslationCacheOptions{
		Repo:   repo,
		Logger: testLogger(),
		Time:   data.NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
}

func TestTranslationCache_MissOnEmptyCache(t *testing.T) {
	cache := newCacheUnderTest(newFakeCacheRepo())

	text, hit, err := cache.Lookup(context.Background(), "page-1", "de-x-ls", "headline", "Hello", "prompt-hash")

	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, text)
}

func TestTranslationCache_StoreThenLookup(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := newCacheUnderTest(repo)
	ctx := context.Background()

	err := cache.Store(ctx, "page-1", "de-x-ls", "headline", "text", "Hello", "prompt-hash", "Hallo")
	require.NoError(t, err)

	text, hit, err := cache.Lookup(ctx, "page-1", "de-x-ls", "headline", "Hello", "prompt-hash")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Hallo", text)
}

func TestTranslationCache_SourceChangeMisses(t *testing.T) {
	cache := newCacheUnderTest(newFakeCacheRepo())
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "page-1", "de-x-ls", "headline", "text", "Hello", "prompt-hash", "Hallo"))

	_, hit, err := cache.Lookup(ctx, "page-1", "de-x-ls", "headline", "Hello, edited", "prompt-hash")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestTranslationCache_PromptChangeMisses(t *testing.T) {
	cache := newCacheUnderTest(newFakeCacheRepo())
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "page-1", "de-x-ls", "headline", "text", "Hello", "old-prompt", "Hallo"))

	_, hit, err := cache.Lookup(ctx, "page-1", "de-x-ls", "headline", "Hello", "new-prompt")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestTranslationCache_LegacyEntryWithoutPromptHashMatches(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := newCacheUnderTest(repo)
	ctx := context.Background()

	// Entries persisted before prompt hashing carry an empty prompt hash and
	// still count as hits.
	require.NoError(t, cache.Store(ctx, "page-1", "de-x-ls", "headline", "text", "Hello", "", "Hallo"))

	text, hit, err := cache.Lookup(ctx, "page-1", "de-x-ls", "headline", "Hello", "any-prompt")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Hallo", text)
}

func TestTranslationCache_Invalidation(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := newCacheUnderTest(repo)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "page-1", "de-x-ls", "headline", "text", "a", "h", "A"))
	require.NoError(t, cache.Store(ctx, "page-1", "fr-x-ls", "headline", "text", "b", "h", "B"))
	require.NoError(t, cache.Store(ctx, "page-2", "de-x-ls", "headline", "text", "c", "h", "C"))

	n, err := cache.InvalidatePage(ctx, "page-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = cache.InvalidateLanguage(ctx, "de-x-ls")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Entries)
}

func TestTranslationCache_Clear(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := newCacheUnderTest(repo)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "page-1", "de-x-ls", "headline", "text", "a", "h", "A"))
	require.NoError(t, cache.Store(ctx, "page-2", "de-x-ls", "body", "textarea", "b", "h", "B"))

	n, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
