package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phrazzld/batchflow/internal/redact"
	"github.com/phrazzld/batchflow/internal/store"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is the PostgreSQL error code for unique constraint violations
	uniqueViolationCode = "23505"

	// checkViolationCode is the PostgreSQL error code for check constraint violations
	checkViolationCode = "23514"

	// notNullViolationCode is the PostgreSQL error code for not null violations
	notNullViolationCode = "23502"

	// invalidJSONCode is raised when a payload is not valid jsonb
	invalidJSONCode = "22P02"
)

// MapError maps a database error to a store error. The message is redacted
// because driver errors can echo the connection string.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, redact.Error(err))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode, checkViolationCode:
			return fmt.Errorf("%w: constraint violation (%s): %s",
				store.ErrInvalidEntity, pgErr.ConstraintName, redact.Error(err))
		case notNullViolationCode:
			return fmt.Errorf("%w: not null violation (%s): %s",
				store.ErrInvalidEntity, pgErr.ColumnName, redact.Error(err))
		case invalidJSONCode:
			return fmt.Errorf("%w: invalid payload: %s", store.ErrInvalidEntity, redact.Error(err))
		}
	}

	return errors.New(redact.Error(err))
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
