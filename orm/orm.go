// Package orm is the public facade: it wires schema, relations, compiler,
// query, mutation, fkaction, trigger, scheduler, and rls into the single
// request-scoped API consumers call against a driver.Driver-backed
// document store.
package orm

import (
	"context"
	"fmt"
	"time"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/fkaction"
	"github.com/ESGI-M2/docuorm/query"
	"github.com/ESGI-M2/docuorm/relations"
	"github.com/ESGI-M2/docuorm/rls"
	"github.com/ESGI-M2/docuorm/schema"
	"github.com/ESGI-M2/docuorm/trigger"

	"github.com/ESGI-M2/docuorm/mutation"
)

// Options configures a Database at construction time.
type Options struct {
	Defaults schema.Defaults
	Policies map[string]rls.PolicySet
	Roles    rls.RoleResolver
	Logger   Logger
	Now      func() any
	Triggers *trigger.Pipeline
}

// Database is the constructed engine instance bound to one driver.Driver,
// one schema.Manager, and one relation edge set.
type Database struct {
	driver   driver.Driver
	tables   *schema.Manager
	edges    []*relations.Edge
	policies map[string]rls.PolicySet
	roles    rls.RoleResolver
	defaults schema.Defaults
	logger   Logger
	now      func() any
	pipeline *trigger.Pipeline
	exec     *query.Executor
	fk       *fkaction.Engine
}

// NewDatabase wires a concrete driver and schema into a ready-to-use
// Database, running relation inverse-pairing/cycle-detection once at
// construction time so every subsequent call is panic-free.
func NewDatabase(drv driver.Driver, tables *schema.Manager, edgeDefs []*relations.Def, opts Options) (*Database, error) {
	edges, err := relations.Extract(tables.Tables(), edgeDefs...)
	if err != nil {
		return nil, fmt.Errorf("orm: %w", err)
	}
	if opts.Defaults == (schema.Defaults{}) {
		opts.Defaults = schema.DefaultDefaults()
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	if opts.Now == nil {
		opts.Now = func() any { return time.Now() }
	}
	if opts.Policies == nil {
		opts.Policies = map[string]rls.PolicySet{}
	}
	pipeline := opts.Triggers
	if pipeline == nil {
		pipeline = trigger.NewPipeline()
	}
	wrapped := pipeline.Wrap(drv)

	db := &Database{
		driver:   wrapped,
		tables:   tables,
		edges:    edges,
		policies: opts.Policies,
		roles:    opts.Roles,
		defaults: opts.Defaults,
		logger:   opts.Logger,
		now:      opts.Now,
		pipeline: pipeline,
	}
	db.exec = &query.Executor{
		Driver:      wrapped,
		Tables:      tables,
		Edges:       edges,
		Policies:    opts.Policies,
		Roles:       opts.Roles,
		Concurrency: opts.Defaults.RelationConcurrency,
	}
	db.fk = &fkaction.Engine{
		Tables: tables,
		Driver: wrapped,
		Finder: db.finder,
		Now:    opts.Now,
	}
	return db, nil
}

func (db *Database) finder(ctx context.Context, table string, where filter.Expr) ([]map[string]any, error) {
	return db.exec.FindMany(ctx, query.Config{Table: table, Where: where})
}

func (db *Database) runner(table string) (*mutation.Runner, error) {
	md, ok := db.tables.Table(table)
	if !ok {
		return nil, fmt.Errorf("orm: undeclared table %q", table)
	}
	return &mutation.Runner{
		Driver:   db.driver,
		Table:    md,
		Policies: db.policies[table],
		Roles:    db.roles,
		Defaults: db.defaults,
		Now:      db.now,
		Finder:   db.finder,
		FK:       db.fk,
	}, nil
}

// Query starts a read. Chain Where/With/OrderBy/Limit/Offset then call one
// of Collect/First/Paginate.
func (db *Database) Query(table string) *Builder {
	return &Builder{db: db, cfg: query.Config{Table: table}}
}

// Insert starts an insert into table.
func (db *Database) Insert(ctx context.Context, table string, values map[string]any) (string, error) {
	r, err := db.runner(table)
	if err != nil {
		return "", err
	}
	return r.Insert(values).Execute(ctx)
}

// Upsert inserts values, applying onConflictSet to the existing row (running
// its onUpdate factories) instead of failing when a unique constraint on
// table already matches.
func (db *Database) Upsert(ctx context.Context, table string, values, onConflictSet map[string]any) (string, error) {
	r, err := db.runner(table)
	if err != nil {
		return "", err
	}
	return r.Insert(values).OnConflictDoUpdate(onConflictSet).Execute(ctx)
}

// Update starts an update builder against table.
func (db *Database) Update(table string) (*mutation.Update, error) {
	r, err := db.runner(table)
	if err != nil {
		return nil, err
	}
	return r.Update(), nil
}

// Delete starts a delete builder against table.
func (db *Database) Delete(table string) (*mutation.Delete, error) {
	r, err := db.runner(table)
	if err != nil {
		return nil, err
	}
	return r.Delete(), nil
}

// RunDelete cascades a direct delete of (table, id) through every declared
// foreign key before removing the row itself.
func (db *Database) RunDelete(ctx context.Context, table, id string, mode fkaction.CascadeMode) error {
	if err := db.fk.RunDelete(ctx, table, id, mode); err != nil {
		return err
	}
	wctx := trigger.WithTable(ctx, table)
	return db.driver.Delete(wctx, id)
}

// Stream exposes the same Builder API with no hard row cap, intended for
// callers that page through results themselves via Paginate rather than
// Collect-ing an entire table into memory.
func (db *Database) Stream(table string) *Builder {
	return db.Query(table)
}

// SkipRules returns a context that bypasses row-level security for every
// call made with it.
func (db *Database) SkipRules(ctx context.Context) context.Context {
	return rls.WithSkip(ctx)
}

// Builder is the lazy read-query accumulator returned by Database.Query.
type Builder struct {
	db  *Database
	cfg query.Config
}

func (b *Builder) Where(expr filter.Expr) *Builder {
	b.cfg.Where = expr
	return b
}

func (b *Builder) With(relationNames ...string) *Builder {
	b.cfg.With = append(b.cfg.With, relationNames...)
	return b
}

func (b *Builder) OrderBy(column string, desc bool) *Builder {
	b.cfg.OrderBy = column
	b.cfg.Desc = desc
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.cfg.Limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.cfg.Offset = n
	return b
}

func (b *Builder) Extra(name string, fn func(row map[string]any) (any, error)) *Builder {
	if b.cfg.Extras == nil {
		b.cfg.Extras = map[string]func(map[string]any) (any, error){}
	}
	b.cfg.Extras[name] = fn
	return b
}

func (b *Builder) Collect(ctx context.Context) ([]map[string]any, error) {
	return b.db.exec.FindMany(ctx, b.cfg)
}

func (b *Builder) First(ctx context.Context) (map[string]any, error) {
	return b.db.exec.FindFirst(ctx, b.cfg)
}

func (b *Builder) Paginate(ctx context.Context, cursor string, limit int) (query.Result, error) {
	b.cfg.Cursor = cursor
	b.cfg.Limit = limit
	return b.db.exec.Paginate(ctx, b.cfg)
}
