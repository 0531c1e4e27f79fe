package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	CodeUniqueViolation    = "23505"
	CodeExclusionViolation = "23P01"
	CodeForeignKey         = "23503"
)

// ConstraintViolation reports the violated constraint name when err is a
// Postgres error with the given SQLSTATE.
func ConstraintViolation(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr.ConstraintName, true
	}
	return "", false
}
