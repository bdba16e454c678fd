package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateUniqueViolation           = "23505"
	sqlStateInvalidTextRepresentation = "22P02"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == sqlStateUniqueViolation
}

// isInvalidText reports a malformed value for a typed column, such as a
// non-UUID id.
func isInvalidText(err error) bool {
	return pgErrorCode(err) == sqlStateInvalidTextRepresentation
}
