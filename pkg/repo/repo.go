// Package repo provides a generic keyed repository over Neo4j nodes.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node matches.
var ErrNotFound = errors.New("repo: not found")

// Repository stores entities keyed by ID.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	Merge(ctx context.Context, entity T) error
	DeleteBy(ctx context.Context, prop string, value any) (int64, error)
}
