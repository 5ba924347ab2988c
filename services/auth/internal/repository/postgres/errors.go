package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation      = "23505"
	invalidTextRepresent = "22P02"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	return pgCode(err) == uniqueViolation
}

// isInvalidID reports whether the id parameter could not be cast to UUID.
func isInvalidID(err error) bool {
	return pgCode(err) == invalidTextRepresent
}
