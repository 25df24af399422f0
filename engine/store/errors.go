package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekkoscope/sherlock/engine/domain"
)

// ErrConflict is a unique-constraint violation.
var ErrConflict = errors.New("already exists")

// mapError converts pgx errors to domain errors. notFound is the sentinel
// used for pgx.ErrNoRows. Context errors pass through.
func mapError(err error, entity string, id int64, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %d: %w", entity, id, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, notFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %d: %w", entity, id, ErrConflict)
		case "23503": // foreign_key_violation: every table references businesses
			return fmt.Errorf("%s %d: %w", entity, id, domain.ErrBusinessNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s %d: %w", entity, id, domain.ErrInvalidInput)
		}
	}
	return fmt.Errorf("%s %d: %w", entity, id, err)
}
