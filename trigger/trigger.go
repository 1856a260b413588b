// Package trigger implements the lifecycle hook pipeline: a
// wrapped writer that produces a Change record for every insert/patch/
// replace/delete and dispatches it to registered handlers in registration
// order, with an innerDb escape hatch for handlers that must write without
// re-triggering themselves.
package trigger

import (
	"context"
	"fmt"

	"github.com/ESGI-M2/docuorm/driver"
)

// Operation names the write that produced a Change.
type Operation int

const (
	OpInsert Operation = iota
	OpPatch
	OpReplace
	OpDelete
)

// Change is the record handed to every registered handler.
type Change struct {
	Table     string
	Operation Operation
	OldDoc    driver.Document // nil on insert
	NewDoc    driver.Document // nil on delete
}

// Handler reacts to one specific operation on one table.
type Handler func(ctx context.Context, db driver.Driver, change Change) error

// Pipeline collects handlers and wraps a driver.Driver so every write
// dispatches through them.
type Pipeline struct {
	onInsert  map[string][]Handler
	onPatch   map[string][]Handler
	onReplace map[string][]Handler
	onDelete  map[string][]Handler
	onChange  map[string][]Handler
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		onInsert:  map[string][]Handler{},
		onPatch:   map[string][]Handler{},
		onReplace: map[string][]Handler{},
		onDelete:  map[string][]Handler{},
		onChange:  map[string][]Handler{},
	}
}

func (p *Pipeline) OnInsert(table string, h Handler) *Pipeline {
	p.onInsert[table] = append(p.onInsert[table], h)
	return p
}

func (p *Pipeline) OnPatch(table string, h Handler) *Pipeline {
	p.onPatch[table] = append(p.onPatch[table], h)
	return p
}

func (p *Pipeline) OnReplace(table string, h Handler) *Pipeline {
	p.onReplace[table] = append(p.onReplace[table], h)
	return p
}

func (p *Pipeline) OnDelete(table string, h Handler) *Pipeline {
	p.onDelete[table] = append(p.onDelete[table], h)
	return p
}

// OnChange registers a handler that fires after every operation-specific
// handler for table has run, regardless of which operation occurred.
func (p *Pipeline) OnChange(table string, h Handler) *Pipeline {
	p.onChange[table] = append(p.onChange[table], h)
	return p
}

// Wrap returns a driver.Driver that dispatches registered handlers around
// inner's writes. Handler errors abort the write's dispatch immediately; the
// underlying write has already committed by the time handlers run (handlers
// observe a committed change, they do not gate it), so a handler error
// surfaces as a post-commit failure the caller must handle, not a rollback.
func (p *Pipeline) Wrap(inner driver.Driver) driver.Driver {
	return &wrapped{Driver: inner, inner: inner, pipeline: p}
}

// wrapped embeds inner so every read-only method (Query, Get, NormalizeID,
// Scheduler) passes straight through; only the four write methods below are
// overridden to interpose dispatch.
type wrapped struct {
	driver.Driver
	inner    driver.Driver
	pipeline *Pipeline
}

// innerKey marks a context produced by InnerDB, so a handler's own writes
// made through it bypass the pipeline entirely instead of re-triggering.
type innerKey struct{}

// InnerDB returns a context whose driver calls (when made via the same
// wrapped Pipeline instance) skip trigger dispatch, for handlers that need
// to write without recursing into themselves.
func InnerDB(ctx context.Context) context.Context {
	return context.WithValue(ctx, innerKey{}, true)
}

func isInner(ctx context.Context) bool {
	v, _ := ctx.Value(innerKey{}).(bool)
	return v
}

// innerDBKey carries the unwrapped writer through dispatch so a handler can
// fetch it directly instead of constructing an InnerDB-tagged context itself.
type innerDBKey struct{}

// Inner returns the un-wrapped writer for the Pipeline invocation that
// produced ctx, for handlers that must avoid re-entry (e.g. self-mutation).
// It is only set on contexts passed to a Handler; calling it outside a
// handler returns nil, false.
func Inner(ctx context.Context) (driver.Driver, bool) {
	d, ok := ctx.Value(innerDBKey{}).(driver.Driver)
	return d, ok
}

// tableKey carries the target table name through Patch/Replace/Delete calls,
// since driver.Driver identifies rows by id alone. The mutation, fkaction,
// and scheduler packages set this via WithTable before every write made
// through a Pipeline-wrapped driver.
type tableKey struct{}

// WithTable annotates ctx with the table a subsequent Patch/Replace/Delete
// call targets, so the wrapped driver can dispatch the right table's
// handlers without re-deriving it from the document.
func WithTable(ctx context.Context, table string) context.Context {
	return context.WithValue(ctx, tableKey{}, table)
}

func tableFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tableKey{}).(string)
	return t
}

func (w *wrapped) Insert(ctx context.Context, table string, row driver.Document) (string, error) {
	id, err := w.inner.Insert(ctx, table, row)
	if err != nil || isInner(ctx) {
		return id, err
	}
	newDoc := driver.Document{}
	for k, v := range row {
		newDoc[k] = v
	}
	newDoc["_id"] = id
	change := Change{Table: table, Operation: OpInsert, NewDoc: newDoc}
	if derr := w.pipeline.dispatch(ctx, w, table, w.pipeline.onInsert, change); derr != nil {
		return id, fmt.Errorf("trigger: onInsert handler for %q: %w", table, derr)
	}
	if derr := w.pipeline.dispatch(ctx, w, table, w.pipeline.onChange, change); derr != nil {
		return id, fmt.Errorf("trigger: onChange handler for %q: %w", table, derr)
	}
	return id, nil
}

func (w *wrapped) Patch(ctx context.Context, id string, partial driver.Document) error {
	var oldDoc driver.Document
	if !isInner(ctx) {
		if d, ok, _ := w.inner.Get(ctx, id); ok {
			oldDoc = d
		}
	}
	if err := w.inner.Patch(ctx, id, partial); err != nil {
		return err
	}
	if isInner(ctx) {
		return nil
	}
	newDoc, _, _ := w.inner.Get(ctx, id)
	table := tableFromContext(ctx)
	change := Change{Table: table, Operation: OpPatch, OldDoc: oldDoc, NewDoc: newDoc}
	if err := w.pipeline.dispatch(ctx, w, table, w.pipeline.onPatch, change); err != nil {
		return fmt.Errorf("trigger: onPatch handler for %q: %w", table, err)
	}
	return w.pipeline.dispatch(ctx, w, table, w.pipeline.onChange, change)
}

func (w *wrapped) Replace(ctx context.Context, id string, row driver.Document) error {
	var oldDoc driver.Document
	if !isInner(ctx) {
		if d, ok, _ := w.inner.Get(ctx, id); ok {
			oldDoc = d
		}
	}
	if err := w.inner.Replace(ctx, id, row); err != nil {
		return err
	}
	if isInner(ctx) {
		return nil
	}
	table := tableFromContext(ctx)
	change := Change{Table: table, Operation: OpReplace, OldDoc: oldDoc, NewDoc: row}
	if err := w.pipeline.dispatch(ctx, w, table, w.pipeline.onReplace, change); err != nil {
		return fmt.Errorf("trigger: onReplace handler for %q: %w", table, err)
	}
	return w.pipeline.dispatch(ctx, w, table, w.pipeline.onChange, change)
}

func (w *wrapped) Delete(ctx context.Context, id string) error {
	var oldDoc driver.Document
	if !isInner(ctx) {
		if d, ok, _ := w.inner.Get(ctx, id); ok {
			oldDoc = d
		}
	}
	if err := w.inner.Delete(ctx, id); err != nil {
		return err
	}
	table := tableFromContext(ctx)
	if isInner(ctx) || table == "" {
		return nil
	}
	change := Change{Table: table, Operation: OpDelete, OldDoc: oldDoc}
	if err := w.pipeline.dispatch(ctx, w, table, w.pipeline.onDelete, change); err != nil {
		return fmt.Errorf("trigger: onDelete handler for %q: %w", table, err)
	}
	return w.pipeline.dispatch(ctx, w, table, w.pipeline.onChange, change)
}

func (p *Pipeline) dispatch(ctx context.Context, db driver.Driver, table string, registry map[string][]Handler, change Change) error {
	handlers := registry[table]
	if len(handlers) == 0 {
		return nil
	}
	w, _ := db.(*wrapped)
	hctx := ctx
	if w != nil {
		hctx = context.WithValue(ctx, innerDBKey{}, w.inner)
	}
	for _, h := range handlers {
		if err := h(hctx, db, change); err != nil {
			return err
		}
	}
	return nil
}
