package repo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the part of a Neo4j result the repository reads.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner is the part of a Neo4j session the repository uses.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// SessionFactory opens a Runner per operation.
type SessionFactory func(ctx context.Context) Runner

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// DriverSessions opens sessions on driver against the named database ("" for
// the default).
func DriverSessions(driver neo4j.DriverWithContext, database string) SessionFactory {
	return func(ctx context.Context) Runner {
		return &sessionAdapter{sess: driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})}
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Neo4jRepo maps entities of type T to nodes carrying one label, keyed by
// their id property.
type Neo4jRepo[T any, ID comparable] struct {
	sessions   SessionFactory
	label      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
}

// NewNeo4jRepo creates a repository. fromRecord receives records whose node
// is bound to "n".
func NewNeo4jRepo[T any, ID comparable](
	sessions SessionFactory,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
) *Neo4jRepo[T, ID] {
	if !identifier.MatchString(label) {
		panic(fmt.Sprintf("repo: invalid label %q", label))
	}
	return &Neo4jRepo[T, ID]{
		sessions:   sessions,
		label:      label,
		toMap:      toMap,
		fromRecord: fromRecord,
	}
}

var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// Get returns the node whose id property equals id.
func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.sessions(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n", r.label)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(res.Record())
}

// Merge upserts entity by its ID property.
func (r *Neo4jRepo[T, ID]) Merge(ctx context.Context, entity T) error {
	props := r.toMap(entity)
	id, ok := props["id"]
	if !ok {
		return fmt.Errorf("repo: %s entity has no id property", r.label)
	}
	sess := r.sessions(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props", r.label)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id, "props": props})
	if err != nil {
		return err
	}
	return res.Err()
}

// DeleteBy detaches and deletes every node whose prop equals value.
func (r *Neo4jRepo[T, ID]) DeleteBy(ctx context.Context, prop string, value any) (int64, error) {
	if !identifier.MatchString(prop) {
		return 0, fmt.Errorf("repo: invalid property %q", prop)
	}
	sess := r.sessions(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $value}) DETACH DELETE n RETURN count(n) AS deleted", r.label, prop)
	res, err := sess.Run(ctx, cypher, map[string]any{"value": value})
	if err != nil {
		return 0, err
	}
	if !res.Next(ctx) {
		return 0, res.Err()
	}
	n, _, err := neo4j.GetRecordValue[int64](res.Record(), "deleted")
	return n, err
}
