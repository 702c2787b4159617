// Package backend wraps the remote relational backend the inbox state is
// synchronized against: windowed queries, single-row inserts and updates,
// and row-level change subscriptions.
package backend

import "context"

// Op enumerates the filter operators the backend can render.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpIn     Op = "in"
	OpLike   Op = "like"
	OpIsNull Op = "is_null"
)

// Cond is a single column predicate.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality predicate.
func Eq(column string, value any) Cond {
	return Cond{Column: column, Op: OpEq, Value: value}
}

// In matches rows whose column equals any of the given values.
func In(column string, values []int) Cond {
	return Cond{Column: column, Op: OpIn, Value: values}
}

// Like builds a substring-match predicate; the value carries SQL wildcards.
func Like(column string, value string) Cond {
	return Cond{Column: column, Op: OpLike, Value: value}
}

// IsNull matches rows where the column is NULL.
func IsNull(column string) Cond {
	return Cond{Column: column, Op: OpIsNull}
}

// Filter combines predicates: everything in All is ANDed, the Any group is
// ORed internally and ANDed with the rest. Query paths may use Any; the
// subscription path cannot (see Subscribe).
type Filter struct {
	All []Cond
	Any []Cond
}

// Order describes the sort applied to a query.
type Order struct {
	Column string
	Desc   bool
}

// EventKind is the class of row change a subscription listens for.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// Event is a backend-pushed row change. Only the row id travels with the
// event; consumers re-fetch the full enriched row themselves.
type Event struct {
	Table string
	Kind  EventKind
	RowID int
}

// EventFunc handles one change event.
type EventFunc func(Event)

// Subscription is a live change feed. Close is idempotent and releases the
// underlying channel registration.
type Subscription interface {
	Close() error
}

// Backend is the remote data collaborator. Subscribe accepts only a single
// equality predicate: the change feed cannot express an OR across columns,
// which is why callers needing "sender OR receiver" subscribe twice and
// merge by idempotent upsert.
type Backend interface {
	Query(ctx context.Context, dest any, table string, filter Filter, order Order, from, to int) error
	Insert(ctx context.Context, dest any, table string, row map[string]any) error
	Update(ctx context.Context, table string, filter Filter, patch map[string]any) error
	Subscribe(ctx context.Context, table string, kind EventKind, filter Cond, fn EventFunc) (Subscription, error)
}
