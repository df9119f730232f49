package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phrazzld/sqlqueue/internal/store"
)

// PostgreSQL error codes
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
	undefinedTableCode      = "42P01"
)

// MapError maps a database error to a store error, keeping the original
// error in the chain. Errors with no specific mapping become persistence
// errors for entity and op.
func MapError(entity, op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, entity)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %s (%s): %v", store.ErrDuplicate, entity, pgErr.ConstraintName, err)
		case foreignKeyViolationCode, checkViolationCode:
			return fmt.Errorf("%w: %s constraint %s: %v", store.ErrInvalidEntity, entity, pgErr.ConstraintName, err)
		case notNullViolationCode:
			return fmt.Errorf("%w: %s column %s is required: %v", store.ErrInvalidEntity, entity, pgErr.ColumnName, err)
		}
	}

	return store.NewStoreError(entity, op, err)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// IsUndefinedTable reports whether err says a relation does not exist,
// which for a queue means its schema was never defined.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode
}

// rowsAffected returns the affected row count or a persistence error.
func rowsAffected(res sql.Result, entity, op string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError(entity, op, err)
	}
	return n, nil
}
