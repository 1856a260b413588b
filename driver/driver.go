// Package driver declares the document-store contract the ORM engine is
// built on. Everything here is an external collaborator: the engine never
// assumes a concrete implementation, only this interface set.
package driver

import (
	"context"
	"time"
)

// Document is a single stored record, keyed by field name. The driver owns
// the `_id` and `_creationTime` keys; callers never set them directly.
type Document map[string]any

// OrderDirection controls scan ordering for Query.Order.
type OrderDirection int

const (
	Asc OrderDirection = iota
	Desc
)

// Page is the result of a cursor-paginated scan.
type Page struct {
	Documents      []Document
	ContinueCursor string
	IsDone         bool
}

// IndexBuilder accumulates equality and range clauses for an indexed scan, mirroring
// the document store's `q.eq(col, v).eq(...)` chain.
type IndexBuilder interface {
	Eq(field string, value any) IndexBuilder
	Gt(field string, value any) IndexBuilder
	Gte(field string, value any) IndexBuilder
	Lt(field string, value any) IndexBuilder
	Lte(field string, value any) IndexBuilder
}

// FilterBuilder accumulates the driver's native boolean-expression filter
// primitive: {eq, neq, gt, gte, lt, lte, and, or, not, field}.
type FilterBuilder interface {
	Field(name string) FilterExpr
	Eq(a, b FilterExpr) FilterExpr
	Neq(a, b FilterExpr) FilterExpr
	Gt(a, b FilterExpr) FilterExpr
	Gte(a, b FilterExpr) FilterExpr
	Lt(a, b FilterExpr) FilterExpr
	Lte(a, b FilterExpr) FilterExpr
	And(exprs ...FilterExpr) FilterExpr
	Or(exprs ...FilterExpr) FilterExpr
	Not(expr FilterExpr) FilterExpr
	Literal(value any) FilterExpr
}

// FilterExpr is an opaque handle into a FilterBuilder-constructed predicate
// tree. The driver evaluates it server-side; the engine only ever builds one
// from operators it knows the driver can execute natively.
type FilterExpr interface{ IsFilterExpr() }

// Query is an in-progress scan against one table.
type Query interface {
	WithIndex(name string, build func(IndexBuilder) IndexBuilder) Query
	Filter(build func(FilterBuilder) FilterExpr) Query
	Order(dir OrderDirection) Query
	Collect(ctx context.Context) ([]Document, error)
	First(ctx context.Context) (Document, bool, error)
	Unique(ctx context.Context) (Document, bool, error)
	Paginate(ctx context.Context, cursor string, limit int) (Page, error)
}

// JobRef names a deferred function registered with the host's scheduler. The
// engine only ever enqueues the refs scheduler.MutationBatchHandler and
// scheduler.ScheduledDeleteHandler are registered under; it never invents
// new ones.
type JobRef string

// Scheduler defers work to run after the enclosing mutation commits.
type Scheduler interface {
	RunAfter(ctx context.Context, delayMs int64, fn JobRef, args Document) (string, error)
	RunAt(ctx context.Context, at time.Time, fn JobRef, args Document) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

// Driver is the full document-store surface the ORM engine consumes.
type Driver interface {
	Query(table string) Query
	Get(ctx context.Context, id string) (Document, bool, error)
	Insert(ctx context.Context, table string, row Document) (string, error)
	Patch(ctx context.Context, id string, partial Document) error
	Replace(ctx context.Context, id string, row Document) error
	Delete(ctx context.Context, id string) error
	NormalizeID(ctx context.Context, table string, candidate string) (string, bool)
	Scheduler() Scheduler
}
