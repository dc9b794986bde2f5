package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chiro/chiro/internal/platform/apperror"
)

const uniqueViolation = "23505"

// Translate maps storage errors onto the domain taxonomy: a missing row
// becomes NotFound and a unique violation becomes Conflict. Other errors
// pass through unchanged.
func Translate(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound("%s not found", resource)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperror.Conflict("%s already exists (%s)", resource, pgErr.ConstraintName)
	}
	return err
}
