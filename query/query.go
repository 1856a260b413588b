// Package query implements the relational query executor: the
// ten-step contract from where-compilation through nested-relation hydration
// to cursor pagination. It generalizes a query builder's Find execution
// path, replacing SQL generation with driver.Query calls and
// reflection-based row scanning with driver.Document map hydration.
package query

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ESGI-M2/docuorm/compiler"
	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/relations"
	"github.com/ESGI-M2/docuorm/rls"
	"github.com/ESGI-M2/docuorm/schema"
)

// Config is one query's parameters, the executor's equivalent of an
// accumulated query builder's state.
type Config struct {
	Table   string
	Where   filter.Expr
	With    []string // relation names to hydrate, by edge Name
	OrderBy string   // column name; empty means driver/index order
	Desc    bool
	Limit   int // 0 means unbounded
	Offset  int
	Cursor  string // opaque continuation cursor from a prior Page
	// Extras computes additional output columns per hydrated row. They run
	// during hydration, before relation loading, so they do not see loaded
	// relation fields.
	Extras map[string]func(row map[string]any) (any, error)
}

// Executor runs Config values against one driver.Driver, schema.Manager and
// relation edge set, applying row-level security for the calling context.
type Executor struct {
	Driver      driver.Driver
	Tables      *schema.Manager
	Edges       []*relations.Edge
	Policies    map[string]rls.PolicySet
	Roles       rls.RoleResolver
	Concurrency int
}

func (e *Executor) concurrency() int {
	if e.Concurrency > 0 {
		return e.Concurrency
	}
	return 8
}

// FindMany executes cfg and returns every matching, hydrated row.
func (e *Executor) FindMany(ctx context.Context, cfg Config) ([]map[string]any, error) {
	page, err := e.run(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	return page.Rows, nil
}

// FindFirst executes cfg with an effective limit of 1 and returns the first
// match, or nil if none.
func (e *Executor) FindFirst(ctx context.Context, cfg Config) (map[string]any, error) {
	cfg.Limit = 1
	rows, err := e.FindMany(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Result is a paginated page of hydrated rows plus the continuation cursor.
type Result struct {
	Rows           []map[string]any
	ContinueCursor string
	IsDone         bool
}

// Paginate executes cfg as a single page and returns the continuation
// cursor; ordering is delegated entirely to the selected index: combining an explicit in-memory OrderBy with
// cursor pagination is unsupported and returns an error, since the index
// scan order and the in-memory sort order could silently disagree across
// pages.
func (e *Executor) Paginate(ctx context.Context, cfg Config) (Result, error) {
	page, err := e.run(ctx, cfg, true)
	if err != nil {
		return Result{}, err
	}
	return Result{Rows: page.Rows, ContinueCursor: page.Cursor, IsDone: page.Done}, nil
}

type execResult struct {
	Rows   []map[string]any
	Cursor string
	Done   bool
}

// run implements the ten-step contract:
//  1. compile the where expression against the table's declared indexes
//  2. apply the chosen index (or an unindexed scan) via driver.Query
//  3. driver-native filtering is limited to the index bound of step 2; the
//     driver's Filter primitive is not used
//  4. re-evaluate the FULL where expression in memory (never trust the scan alone)
//  5. apply row-level security SELECT filtering
//  6. apply an in-memory orderBy only when the index didn't already produce it
//  7. apply offset/limit
//  8. hydrate rows: _id -> id, _creationTime -> createdAt, temporal decoding, Extras
//  9. load nested relations with bounded concurrency
//  10. paginate via cursor when requested
func (e *Executor) run(ctx context.Context, cfg Config, paginate bool) (execResult, error) {
	md, ok := e.Tables.Table(cfg.Table)
	if !ok {
		return execResult{}, fmt.Errorf("query: undeclared table %q", cfg.Table)
	}
	if paginate && cfg.OrderBy != "" {
		return execResult{}, fmt.Errorf("query: explicit OrderBy combined with cursor pagination is unsupported; ordering follows the selected index")
	}

	// Steps 1-3: compile + scan.
	plan := compiler.Compile(cfg.Where, md.Indexes)
	rows, cursor, done, err := e.scan(ctx, cfg, plan, paginate)
	if err != nil {
		return execResult{}, err
	}

	// Step 4: full in-memory re-check (defense against a driver whose native
	// filter is an approximation, and the sole enforcement for the residual).
	// Rows are still raw here, so the public "id" name is made visible
	// alongside "_id" for the check.
	filtered := rows[:0]
	for _, r := range rows {
		view := filter.Row(r)
		if id, ok := r["_id"]; ok {
			view = make(filter.Row, len(r)+1)
			for k, v := range r {
				view[k] = v
			}
			view["id"] = id
		}
		if filter.Eval(cfg.Where, view) {
			filtered = append(filtered, r)
		}
	}
	rows = filtered

	// Step 5: RLS select filtering.
	if ps, ok := e.Policies[cfg.Table]; ok {
		kept := rows[:0]
		for _, r := range rows {
			if rls.Evaluate(ctx, ps, rls.OpSelect, r, e.Roles, rls.SkipFromContext(ctx)) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	// Step 6: in-memory orderBy, only when the index didn't already apply it.
	if cfg.OrderBy != "" && !indexCovers(plan, cfg.OrderBy) {
		sortRows(rows, cfg.OrderBy, cfg.Desc)
	}

	// Step 7: offset/limit.
	if cfg.Offset > 0 {
		if cfg.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[cfg.Offset:]
		}
	}
	if cfg.Limit > 0 && len(rows) > cfg.Limit {
		rows = rows[:cfg.Limit]
	}

	// Step 8: hydrate.
	hydrated := make([]map[string]any, len(rows))
	for i, r := range rows {
		h, err := e.hydrate(md, r, cfg.Extras)
		if err != nil {
			return execResult{}, err
		}
		hydrated[i] = h
	}

	// Step 9: nested relations, bounded concurrency.
	if len(cfg.With) > 0 {
		if err := e.loadRelations(ctx, md, hydrated, cfg.With); err != nil {
			return execResult{}, err
		}
	}

	return execResult{Rows: hydrated, Cursor: cursor, Done: done}, nil
}

func (e *Executor) scan(ctx context.Context, cfg Config, plan compiler.Plan, paginate bool) ([]map[string]any, string, bool, error) {
	q := e.Driver.Query(cfg.Table)
	if plan.Index != nil && len(plan.Bound) > 0 {
		bound := plan.Bound
		q = q.WithIndex(plan.Index.Name, func(ib driver.IndexBuilder) driver.IndexBuilder {
			for _, b := range bound {
				switch b.Op {
				case filter.Eq:
					ib = ib.Eq(b.Field, b.Value)
				case filter.Gt:
					ib = ib.Gt(b.Field, b.Value)
				case filter.Gte:
					ib = ib.Gte(b.Field, b.Value)
				case filter.Lt:
					ib = ib.Lt(b.Field, b.Value)
				case filter.Lte:
					ib = ib.Lte(b.Field, b.Value)
				}
			}
			return ib
		})
	}
	if cfg.OrderBy != "" && indexCovers(plan, cfg.OrderBy) {
		dir := driver.Asc
		if cfg.Desc {
			dir = driver.Desc
		}
		q = q.Order(dir)
	}

	if paginate {
		size := cfg.Limit
		if size <= 0 {
			size = 100
		}
		page, err := q.Paginate(ctx, cfg.Cursor, size)
		if err != nil {
			return nil, "", false, fmt.Errorf("query: paginate %q: %w", cfg.Table, err)
		}
		rows := make([]map[string]any, len(page.Documents))
		for i, d := range page.Documents {
			rows[i] = map[string]any(d)
		}
		return rows, page.ContinueCursor, page.IsDone, nil
	}

	docs, err := q.Collect(ctx)
	if err != nil {
		return nil, "", false, fmt.Errorf("query: collect %q: %w", cfg.Table, err)
	}
	rows := make([]map[string]any, len(docs))
	for i, d := range docs {
		rows[i] = map[string]any(d)
	}
	return rows, "", true, nil
}

func indexCovers(plan compiler.Plan, field string) bool {
	if plan.Index == nil || len(plan.Bound) == 0 || len(plan.Index.Columns) == 0 {
		return false
	}
	return plan.Index.Columns[0] == field
}

func sortRows(rows []map[string]any, field string, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessValue(rows[i][field], rows[j][field])
		if desc {
			return !less && rows[i][field] != rows[j][field]
		}
		return less
	})
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

// hydrate converts a raw driver document into the engine's public row shape:
// `_id` becomes `id`, `_creationTime` becomes `createdAt` (or the declared
// createdAt column, if any), temporal columns are decoded to their declared
// mode, and Extras are computed last.
func (e *Executor) hydrate(md *schema.Metadata, doc map[string]any, extras map[string]func(map[string]any) (any, error)) (map[string]any, error) {
	out := make(map[string]any, len(doc)+2)
	for k, v := range doc {
		out[k] = v
	}
	if id, ok := out["_id"]; ok {
		out["id"] = id
		delete(out, "_id")
	}
	if ct, ok := out["_creationTime"]; ok {
		key := "createdAt"
		if md.HasCreatedAt {
			key = md.CreatedAtCol
		}
		out[key] = ct
		delete(out, "_creationTime")
	}
	for col, tc := range md.Temporal {
		if raw, ok := out[col]; ok && raw != nil {
			hv, err := tc.Hydrate(raw)
			if err != nil {
				return nil, fmt.Errorf("query: hydrate %s.%s: %w", md.Name, col, err)
			}
			out[col] = hv
		}
	}
	for name, fn := range extras {
		v, err := fn(out)
		if err != nil {
			return nil, fmt.Errorf("query: compute extra %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// loadRelations hydrates every requested relation name onto rows with a
// bounded-concurrency errgroup: at most Concurrency rows hydrate at once,
// and each row's relations load sequentially within its goroutine, so a
// row map is only ever written by one goroutine.
func (e *Executor) loadRelations(ctx context.Context, md *schema.Metadata, rows []map[string]any, with []string) error {
	if len(with) == 0 {
		return nil
	}
	edges := make([]*relations.Edge, 0, len(with))
	for _, name := range with {
		edge, ok := relations.ByName(e.Edges, md.Name, name)
		if !ok {
			return fmt.Errorf("query: table %q has no relation %q", md.Name, name)
		}
		edges = append(edges, edge)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())

	for _, row := range rows {
		row := row
		g.Go(func() error {
			for _, edge := range edges {
				if err := e.loadOne(gctx, edge, row); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// rawField translates the hydrated field name "id" to the raw document key
// "_id" a pre-hydration where-clause must match against; every other field
// name (foreign key columns, join columns) is a real stored column and
// passes through unchanged.
func rawField(name string) string {
	if name == "id" {
		return "_id"
	}
	return name
}

func (e *Executor) loadOne(ctx context.Context, edge *relations.Edge, row map[string]any) error {
	switch edge.Kind {
	case relations.One:
		fk, ok := row[edge.LocalField]
		if !ok || fk == nil {
			row[edge.Name] = nil
			return nil
		}
		target, err := e.FindFirst(ctx, Config{Table: edge.Target, Where: filter.Bin(filter.Eq, rawField(edge.ForeignField), fk)})
		if err != nil {
			return err
		}
		row[edge.Name] = target
		return nil
	case relations.Many:
		id := row["id"]
		rows, err := e.FindMany(ctx, Config{Table: edge.Target, Where: filter.Bin(filter.Eq, rawField(edge.ForeignField), id)})
		if err != nil {
			return err
		}
		row[edge.Name] = rows
		return nil
	case relations.ManyThrough:
		id := row["id"]
		joins, err := e.FindMany(ctx, Config{Table: edge.Through, Where: filter.Bin(filter.Eq, edge.ThroughLocal, id)})
		if err != nil {
			return err
		}
		var ids []any
		for _, j := range joins {
			ids = append(ids, j[edge.ThroughOther])
		}
		if len(ids) == 0 {
			row[edge.Name] = []map[string]any{}
			return nil
		}
		targets, err := e.FindMany(ctx, Config{Table: edge.Target, Where: filter.Bin(filter.InArray, "_id", ids)})
		if err != nil {
			return err
		}
		row[edge.Name] = targets
		return nil
	default:
		return fmt.Errorf("query: unknown relation kind for %s.%s", edge.Table, edge.Name)
	}
}
