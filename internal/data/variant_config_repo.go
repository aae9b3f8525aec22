package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// VariantConfigRepo stores per-variant configuration documents as jsonb.
type VariantConfigRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewVariantConfigRepo creates a new VariantConfigRepo.
func NewVariantConfigRepo(db *sql.DB, tp TimeProvider) *VariantConfigRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &VariantConfigRepo{DB: db, timeProvider: tp}
}

// Get loads the configuration document for a variant.
func (r *VariantConfigRepo) Get(ctx context.Context, variantCode string) (*model.VariantConfig, error) {
	var document []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT document
		FROM variant_configs
		WHERE variant_code = $1
	`, variantCode).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVariantConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get variant config: %w", err)
	}

	var cfg model.VariantConfig
	if err := json.Unmarshal(document, &cfg); err != nil {
		return nil, fmt.Errorf("decode variant config: %w", err)
	}
	if cfg.VariantCode == "" {
		cfg.VariantCode = variantCode
	}
	return &cfg, nil
}

// Save upserts the configuration document for a variant.
func (r *VariantConfigRepo) Save(ctx context.Context, cfg *model.VariantConfig) error {
	if cfg == nil {
		return errors.New("variant config is required")
	}
	if cfg.VariantCode == "" {
		return errors.New("variant code is required")
	}

	document, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode variant config: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO variant_configs (variant_code, document, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (variant_code) DO UPDATE
		SET document = EXCLUDED.document,
		    updated_at = EXCLUDED.updated_at
	`, cfg.VariantCode, document, now)
	if err != nil {
		return fmt.Errorf("save variant config: %w", mapPgError(err, "save variant config"))
	}
	return nil
}

// SetPageMode updates the per-page mode entry inside a variant document.
// This is the only write-back the translation core performs on variant configs.
func (r *VariantConfigRepo) SetPageMode(ctx context.Context, variantCode, pageUUID string, mode model.PageMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid page mode: %s", mode)
	}

	cfg, err := r.Get(ctx, variantCode)
	if err != nil {
		return err
	}

	updated := false
	for i := range cfg.Pages {
		if cfg.Pages[i].UUID == pageUUID {
			cfg.Pages[i].Mode = mode
			updated = true
			break
		}
	}
	if !updated {
		cfg.Pages = append(cfg.Pages, model.PageEntry{UUID: pageUUID, Mode: mode})
	}

	return r.Save(ctx, cfg)
}

// List returns the codes of all stored variants.
func (r *VariantConfigRepo) List(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT variant_code FROM variant_configs ORDER BY variant_code`)
	if err != nil {
		return nil, fmt.Errorf("list variant configs: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan variant code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant codes: %w", err)
	}
	return codes, nil
}
