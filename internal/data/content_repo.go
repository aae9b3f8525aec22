package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// ContentRepo is the reference implementation of the host content contract,
// backed by the page_contents table. A hosting CMS can replace it with its
// own adapter; the worker only depends on the ContentStore interface.
type ContentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewContentRepo creates a new ContentRepo.
func NewContentRepo(db *sql.DB, tp TimeProvider) *ContentRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ContentRepo{DB: db, timeProvider: tp}
}

// GetPage loads page metadata (title, template, field schema) from the
// source-language content row.
func (r *ContentRepo) GetPage(ctx context.Context, pageUUID, sourceLanguage string) (*model.Page, error) {
	var (
		page       model.Page
		fieldTypes []byte
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT page_uuid, page_id, title, template, field_types
		FROM page_contents
		WHERE page_uuid = $1 AND language_code = $2
	`, pageUUID, sourceLanguage).Scan(&page.UUID, &page.ID, &page.Title, &page.Template, &fieldTypes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}

	if len(fieldTypes) > 0 {
		if err := json.Unmarshal(fieldTypes, &page.FieldTypes); err != nil {
			return nil, fmt.Errorf("decode field types: %w", err)
		}
	}
	if page.FieldTypes == nil {
		page.FieldTypes = map[string]string{}
	}
	return &page, nil
}

// GetFields loads the flat field map for a page in a language.
// Returns ErrPageContentNotFound when no content row exists.
func (r *ContentRepo) GetFields(ctx context.Context, pageUUID, languageCode string) (model.FieldMap, error) {
	var fields []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT fields
		FROM page_contents
		WHERE page_uuid = $1 AND language_code = $2
	`, pageUUID, languageCode).Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fields: %w", err)
	}

	out := model.FieldMap{}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &out); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	return out, nil
}

// WriteFields replaces the field map for a page in a language. The caller is
// responsible for merging translated fields over existing content first.
func (r *ContentRepo) WriteFields(ctx context.Context, pageUUID, languageCode string, fields model.FieldMap) error {
	encoded, err := json.Marshal(orEmptyMap(fields))
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO page_contents (page_uuid, language_code, fields, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (page_uuid, language_code) DO UPDATE
		SET fields = EXCLUDED.fields,
		    updated_at = EXCLUDED.updated_at
	`, pageUUID, languageCode, encoded, now)
	if err != nil {
		return fmt.Errorf("write fields: %w", mapPgError(err, "write fields"))
	}
	return nil
}

// ListPages enumerates page UUIDs available in the given language.
func (r *ContentRepo) ListPages(ctx context.Context, languageCode string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT page_uuid
		FROM page_contents
		WHERE language_code = $1
		ORDER BY page_uuid
	`, languageCode)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("scan page uuid: %w", err)
		}
		uuids = append(uuids, uuid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return uuids, nil
}
