package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a translation job is not found.
	ErrJobNotFound = errors.New("translation job not found")
	// ErrVariantConfigNotFound is returned when no config document exists for a variant.
	ErrVariantConfigNotFound = errors.New("variant config not found")
	// ErrPageContentNotFound is returned when no content row exists for a page/language.
	ErrPageContentNotFound = errors.New("page content not found")
	// ErrCacheMiss is returned when no cache row exists for the key.
	ErrCacheMiss = errors.New("translation cache miss")
)

// mapPgError converts well-known PostgreSQL error codes into the application
// error taxonomy; other errors pass through unchanged.
func mapPgError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return apperrors.Wrapf(err, apperrors.ErrCodeConflict, "%s: duplicate record", operation)
	case pgerrcode.ForeignKeyViolation:
		return apperrors.Wrapf(err, apperrors.ErrCodeValidation, "%s: referenced record missing", operation)
	default:
		return err
	}
}
