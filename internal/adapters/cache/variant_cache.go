// Package cache provides an in-process read-through cache over the variant
// configuration store. Variant configs are read on every job and change
// rarely, so a short-TTL cache keeps the hot path off the database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coocood/freecache"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// CachedVariantRepo wraps a VariantConfigRepository with a freecache layer.
// Writes go straight through and evict the cached entry.
type CachedVariantRepo struct {
	inner  core.VariantConfigRepository
	cache  *freecache.Cache
	ttl    int
	logger *slog.Logger
}

// CachedVariantRepoOptions configures a CachedVariantRepo.
type CachedVariantRepoOptions struct {
	Inner  core.VariantConfigRepository
	Config config.VariantCacheConfig
	Logger *slog.Logger
}

// NewCachedVariantRepo creates the read-through cache.
func NewCachedVariantRepo(opts CachedVariantRepoOptions) (*CachedVariantRepo, error) {
	if opts.Inner == nil {
		return nil, fmt.Errorf("new cached variant repo: inner repository is required")
	}
	cfg := opts.Config
	cfg.Sanitize()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedVariantRepo{
		inner:  opts.Inner,
		cache:  freecache.NewCache(cfg.SizeBytes),
		ttl:    int(cfg.TTL.Seconds()),
		logger: logger.With("component", "variant_cache"),
	}, nil
}

func variantKey(code string) []byte {
	return []byte("variant:" + code)
}

// Get returns the cached config when fresh, falling back to the inner store.
func (r *CachedVariantRepo) Get(ctx context.Context, variantCode string) (*model.VariantConfig, error) {
	key := variantKey(variantCode)
	if raw, err := r.cache.Get(key); err == nil {
		var cfg model.VariantConfig
		if err := json.Unmarshal(raw, &cfg); err == nil {
			return &cfg, nil
		}
		// Corrupt entry, drop it and fall through to the store.
		r.cache.Del(key)
	}

	cfg, err := r.inner.Get(ctx, variantCode)
	if err != nil {
		return nil, err
	}
	if raw, merr := json.Marshal(cfg); merr == nil {
		if serr := r.cache.Set(key, raw, r.ttl); serr != nil {
			r.logger.Warn("failed to cache variant config", "variant", variantCode, "error", serr)
		}
	}
	return cfg, nil
}

// Save persists the config and evicts the cached copy.
func (r *CachedVariantRepo) Save(ctx context.Context, cfg *model.VariantConfig) error {
	if err := r.inner.Save(ctx, cfg); err != nil {
		return err
	}
	r.cache.Del(variantKey(cfg.VariantCode))
	return nil
}

// SetPageMode updates one page entry and evicts the cached copy.
func (r *CachedVariantRepo) SetPageMode(ctx context.Context, variantCode, pageUUID string, mode model.PageMode) error {
	if err := r.inner.SetPageMode(ctx, variantCode, pageUUID, mode); err != nil {
		return err
	}
	r.cache.Del(variantKey(variantCode))
	return nil
}

// List passes through to the inner store.
func (r *CachedVariantRepo) List(ctx context.Context) ([]string, error) {
	return r.inner.List(ctx)
}
