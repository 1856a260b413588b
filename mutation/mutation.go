// Package mutation implements the insert/update/delete/upsert pipeline:
// defaults application, temporal normalization, check constraints,
// foreign-key and unique enforcement, RLS write-path evaluation, and the
// lazy lock-step builder API a query builder models for reads, mirrored
// here for writes (accumulate fields on a builder; nothing happens until
// .Execute).
package mutation

import (
	"context"
	"fmt"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/fkaction"
	"github.com/ESGI-M2/docuorm/rls"
	"github.com/ESGI-M2/docuorm/schema"
	"github.com/ESGI-M2/docuorm/scheduler"
	"github.com/ESGI-M2/docuorm/trigger"
)

// ValidationError reports a caller-supplied value the pipeline rejects
// before any write: a reserved system column addressed directly, or a value
// the column's storage validator refuses.
type ValidationError struct {
	Table  string
	Column string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mutation: table %q column %q: %s", e.Table, e.Column, e.Reason)
}

// ConstraintError reports a failed check, unique, or not-null constraint.
type ConstraintError struct {
	Table      string
	Constraint string
	Reason     string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("mutation: table %q constraint %q: %s", e.Table, e.Constraint, e.Reason)
}

// CapacityError reports a mutation that would affect more rows than the
// configured MutationMaxRows permits in synchronous execution mode.
type CapacityError struct {
	Table   string
	Limit   int
	Matched int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("mutation: table %q would affect %d rows, exceeding the cap of %d", e.Table, e.Matched, e.Limit)
}

// StrictnessError reports an update/delete call with no Where() in strict
// mode.
type StrictnessError struct{ Table, Op string }

func (e *StrictnessError) Error() string {
	return fmt.Sprintf("mutation: table %q: %s requires an explicit Where() in strict mode", e.Table, e.Op)
}

// Runner is the shared execution context every builder closes over.
type Runner struct {
	Driver   driver.Driver
	Table    *schema.Metadata
	Policies rls.PolicySet
	Roles    rls.RoleResolver
	Defaults schema.Defaults
	Now      func() any // returns the current instant in the driver's native representation
	// Finder is used by Update/Delete/Upsert to locate matching rows; it is
	// satisfied by query.Executor.FindMany but kept as a narrow function type
	// here to avoid an import cycle between mutation and query.
	Finder func(ctx context.Context, table string, where filter.Expr) ([]map[string]any, error)
	// FK applies incoming-FK on-update/on-delete actions before Update/Delete
	// perform their own write. Nil disables incoming-FK propagation (only
	// Insert/Update's own checkForeignKeys presence check still runs).
	FK *fkaction.Engine
}

// scheduledFinder adapts Runner.Finder into a scheduler.Finder, filtering
// already-visited ids and capping at limit locally — the same shape
// tests/integration's membershipFinder uses to adapt a full table scan for
// the in-memory driver.
func (r *Runner) scheduledFinder() scheduler.Finder {
	return func(ctx context.Context, table string, where filter.Expr, excludeIDs map[string]bool, limit int) ([]string, error) {
		rows, err := r.Finder(ctx, table, where)
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, row := range rows {
			id := fmt.Sprint(row["id"])
			if excludeIDs[id] {
				continue
			}
			ids = append(ids, id)
			if len(ids) >= limit {
				break
			}
		}
		return ids, nil
	}
}

// ScheduledFinder exposes scheduledFinder for facade code wiring a
// scheduler.MutationBatchHandler to the same row-location path the builders
// use.
func (r *Runner) ScheduledFinder() scheduler.Finder { return r.scheduledFinder() }

// capRows enforces Defaults.MutationMaxRows over a located row set: in sync
// mode matching more rows than the cap fails before any write; in scheduled
// mode the head is processed inline and the caller hands the remainder to a
// batch.
func (r *Runner) capRows(table string, rows []map[string]any) (head []map[string]any, overflow bool, err error) {
	max := r.Defaults.MutationMaxRows
	if max <= 0 || len(rows) <= max {
		return rows, false, nil
	}
	if r.Defaults.MutationExecutionMode == schema.ExecSync {
		return nil, false, &CapacityError{Table: table, Limit: max, Matched: len(rows)}
	}
	return rows[:max], true, nil
}

// ResumeMutator rebuilds the per-row mutation a serialized batch payload
// describes, for scheduler.MutationBatchHandler. Each resumed row runs
// through the full builder pipeline, so RLS, constraints, and incoming-FK
// actions apply on resumption exactly as they did inline.
func (r *Runner) ResumeMutator(p *scheduler.Payload) (scheduler.RowMutator, error) {
	switch p.Op {
	case "delete":
		mode := fkaction.ParseCascadeMode(p.CascadeMode)
		return func(ctx context.Context, table, id string) (bool, error) {
			d := r.Delete().Where(filter.Bin(filter.Eq, "id", id)).Cascade(mode)
			if p.Soft {
				d.Soft(p.DeletedCol)
			}
			n, err := d.Execute(ctx)
			return n > 0, err
		}, nil
	case "update":
		return func(ctx context.Context, table, id string) (bool, error) {
			n, err := r.Update().Set(p.Set).Where(filter.Bin(filter.Eq, "id", id)).Execute(ctx)
			return n > 0, err
		}, nil
	default:
		return nil, fmt.Errorf("mutation: batch payload for %q names unknown op %q", p.Table, p.Op)
	}
}

// runFKUpdate propagates every changed column from oldRow to newRow through
// other tables' declared onUpdate actions, skipping "id" (the document store
// never mutates it) and any column whose value did not change.
func (r *Runner) runFKUpdate(ctx context.Context, md *schema.Metadata, oldRow, newRow map[string]any) error {
	if r.FK == nil {
		return nil
	}
	for _, col := range md.ColumnOrder {
		if fmt.Sprint(oldRow[col]) == fmt.Sprint(newRow[col]) {
			continue
		}
		if err := r.FK.RunUpdate(ctx, md.Name, oldRow[col], newRow[col], col); err != nil {
			return err
		}
	}
	return nil
}

// project returns a copy of row restricted to cols, or a full clone when
// cols is empty — the materialized "returning" row a caller asked for.
func project(row map[string]any, cols []string) map[string]any {
	if len(cols) == 0 {
		return cloneMap(row)
	}
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		out[c] = row[c]
	}
	return out
}

// Insert is a lazy builder: Values accumulates, Execute runs the pipeline.
type Insert struct {
	r                   *Runner
	values              map[string]any
	onConflictDoNothing bool
	onConflictUpdate    map[string]any
	err                 error
	returning           bool
	returningCols       []string
	returnedRow         map[string]any
}

func (r *Runner) Insert(values map[string]any) *Insert {
	return &Insert{r: r, values: cloneMap(values)}
}

// OnConflictDoNothing makes Execute silently skip the insert if a unique
// constraint would be violated, returning the conflicting row's id.
func (b *Insert) OnConflictDoNothing() *Insert {
	b.onConflictDoNothing = true
	return b
}

// OnConflictDoUpdate makes Execute apply set on conflict instead of
// inserting, returning the conflicting row's id.
func (b *Insert) OnConflictDoUpdate(set map[string]any) *Insert {
	b.onConflictUpdate = set
	return b
}

// Returning marks Execute to re-read and project the inserted (or
// conflicting) row after the write, every column or only cols if given.
// Retrieve it afterward with Returned.
func (b *Insert) Returning(cols ...string) *Insert {
	b.returning = true
	b.returningCols = cols
	return b
}

// Returned is the row Execute materialized, or nil unless Returning was
// called and Execute has already run.
func (b *Insert) Returned() map[string]any { return b.returnedRow }

// loadReturning re-reads id through Finder (the same hydration every other
// mutation read goes through) and projects it per Returning's selection.
func (b *Insert) loadReturning(ctx context.Context, md *schema.Metadata, id string) error {
	if !b.returning {
		return nil
	}
	matches, err := b.r.Finder(ctx, md.Name, filter.Bin(filter.Eq, "id", id))
	if err != nil {
		return fmt.Errorf("mutation: insert into %q: returning: %w", md.Name, err)
	}
	if len(matches) > 0 {
		b.returnedRow = project(matches[0], b.returningCols)
	}
	return nil
}

// Execute runs defaults, temporal normalization, check constraints, FK
// presence, and unique enforcement, then performs the write. Returns the
// new row's id.
func (b *Insert) Execute(ctx context.Context) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	md := b.r.Table
	if err := checkReservedWrites(md, b.values); err != nil {
		return "", err
	}
	row := applyDefaults(md, b.values, b.r.Now)
	normalizeTemporal(md, row)

	if existing, conflict := b.findConflict(ctx, md, row); conflict {
		id := fmt.Sprint(existing["id"])
		if b.onConflictDoNothing {
			return id, b.loadReturning(ctx, md, id)
		}
		if b.onConflictUpdate != nil {
			if err := checkReservedWrites(md, b.onConflictUpdate); err != nil {
				return "", err
			}
			newRow := cloneMap(existing)
			for k, v := range b.onConflictUpdate {
				newRow[k] = v
			}
			patch := applyOnUpdate(md, newRow, b.onConflictUpdate, b.r.Now)
			normalizeTemporal(md, patch)
			if err := validateStorage(md, newRow); err != nil {
				return "", err
			}
			if err := b.r.Patch(ctx, id, patch); err != nil {
				return id, err
			}
			return id, b.loadReturning(ctx, md, id)
		}
		return "", &ConstraintError{Table: md.Name, Constraint: "unique", Reason: "conflicting row already exists"}
	}

	if err := validateStorage(md, row); err != nil {
		return "", err
	}
	if err := evalChecks(md, row); err != nil {
		return "", err
	}
	if err := b.r.checkForeignKeys(ctx, md, row); err != nil {
		return "", err
	}
	if ps := b.r.Policies; ps.Enabled {
		if !rls.Evaluate(ctx, ps, rls.OpInsert, row, b.r.Roles, rls.SkipFromContext(ctx)) {
			return "", &rls.DenialError{Table: md.Name, Policy: "insert.withCheck", Op: rls.OpInsert}
		}
	}

	id, err := b.r.Driver.Insert(ctx, md.Name, driver.Document(row))
	if err != nil {
		return "", fmt.Errorf("mutation: insert into %q: %w", md.Name, err)
	}
	return id, b.loadReturning(ctx, md, id)
}

// findConflict checks the insert row against every declared unique
// constraint, returning the first conflicting row if any matches (required
// to support OnConflict*, including OnConflictDoUpdate applying onUpdate
// factories against the row that already exists rather than the insert's
// own values).
func (b *Insert) findConflict(ctx context.Context, md *schema.Metadata, row map[string]any) (map[string]any, bool) {
	for _, u := range md.Uniques {
		if len(u.Columns) == 0 {
			continue
		}
		var conjuncts []filter.Expr
		allNull := true
		for _, col := range u.Columns {
			v := row[col]
			if v != nil {
				allNull = false
			}
			conjuncts = append(conjuncts, filter.Bin(filter.Eq, col, v))
		}
		if allNull && !u.NullsNotDistinct {
			continue
		}
		matches, err := b.r.Finder(ctx, md.Name, filter.All(conjuncts...))
		if err != nil || len(matches) == 0 {
			continue
		}
		return matches[0], true
	}
	return nil, false
}

// Update is a lazy builder accumulating Where/Set, executed by Execute.
type Update struct {
	r             *Runner
	where         filter.Expr
	set           map[string]any
	force         bool // explicit opt-out of strictness
	returning     bool
	returningCols []string
	returnedRows  []map[string]any
}

func (r *Runner) Update() *Update { return &Update{r: r, set: map[string]any{}} }

func (b *Update) Where(expr filter.Expr) *Update {
	b.where = expr
	return b
}

func (b *Update) Set(values map[string]any) *Update {
	for k, v := range values {
		b.set[k] = v
	}
	return b
}

// AllowUnfiltered opts out of strict-mode's required Where() for this call.
func (b *Update) AllowUnfiltered() *Update {
	b.force = true
	return b
}

// Returning marks Execute to re-read and project every patched row
// afterward, every column or only cols if given. Retrieve the rows
// afterward with Returned.
func (b *Update) Returning(cols ...string) *Update {
	b.returning = true
	b.returningCols = cols
	return b
}

// Returned is the rows Execute materialized, one per affected row in visit
// order, or nil unless Returning was called and Execute has already run.
func (b *Update) Returned() []map[string]any { return b.returnedRows }

// Execute applies onUpdate factories, temporal normalization, checks, FK and
// unique enforcement, and the RLS using/withCheck split, then writes every
// matching row. Returns the number of rows affected.
func (b *Update) Execute(ctx context.Context) (int, error) {
	md := b.r.Table
	if b.where == nil && b.r.Defaults.Strict && !b.force {
		return 0, &StrictnessError{Table: md.Name, Op: "update"}
	}
	if err := checkReservedWrites(md, b.set); err != nil {
		return 0, err
	}
	rows, err := b.r.Finder(ctx, md.Name, b.where)
	if err != nil {
		return 0, fmt.Errorf("mutation: update %q: locating rows: %w", md.Name, err)
	}
	rows, overflow, err := b.r.capRows(md.Name, rows)
	if err != nil {
		return 0, err
	}

	affected := 0
	for _, oldRow := range rows {
		newRow := cloneMap(oldRow)
		for k, v := range b.set {
			newRow[k] = v
		}
		patch := applyOnUpdate(md, newRow, b.set, b.r.Now)
		normalizeTemporal(md, newRow)
		normalizeTemporal(md, patch)

		if ps := b.r.Policies; ps.Enabled {
			skip, err := rls.EvaluateUpdate(ctx, ps, oldRow, newRow, b.r.Roles, rls.SkipFromContext(ctx))
			if err != nil {
				return affected, err
			}
			if skip {
				continue
			}
		}

		if err := validateStorage(md, newRow); err != nil {
			return affected, err
		}
		if err := evalChecks(md, newRow); err != nil {
			return affected, err
		}
		if err := b.r.checkForeignKeys(ctx, md, newRow); err != nil {
			return affected, err
		}
		if err := b.r.checkUniqueOnUpdate(ctx, md, oldRow, newRow); err != nil {
			return affected, err
		}
		// Incoming-FK on-update actions run after constraint checks but
		// before the primary write, mirroring Delete.Execute's placement
		// of RunDelete.
		if err := b.r.runFKUpdate(ctx, md, oldRow, newRow); err != nil {
			return affected, err
		}

		id := fmt.Sprint(oldRow["id"])
		if err := b.r.Patch(ctx, id, patch); err != nil {
			return affected, err
		}
		if b.returning {
			matches, err := b.r.Finder(ctx, md.Name, filter.Bin(filter.Eq, "id", id))
			if err != nil {
				return affected, fmt.Errorf("mutation: update %q: returning: %w", md.Name, err)
			}
			if len(matches) > 0 {
				b.returnedRows = append(b.returnedRows, project(matches[0], b.returningCols))
			}
		}
		affected++
	}
	if overflow {
		batch := &scheduler.Batch{
			Table:     md.Name,
			Where:     b.where,
			BatchSize: b.r.Defaults.MutationBatchSize,
			Scheduler: b.r.Driver.Scheduler(),
			Op:        "update",
			Set:       b.set,
		}
		if _, err := batch.EnqueueResume(ctx, 0, rowIDs(rows), 0); err != nil {
			return affected, fmt.Errorf("mutation: update %q: enqueue tail: %w", md.Name, err)
		}
	}
	return affected, nil
}

func rowIDs(rows []map[string]any) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, fmt.Sprint(row["id"]))
	}
	return ids
}

func (r *Runner) checkUniqueOnUpdate(ctx context.Context, md *schema.Metadata, oldRow, newRow map[string]any) error {
	for _, u := range md.Uniques {
		changed := false
		for _, col := range u.Columns {
			if fmt.Sprint(oldRow[col]) != fmt.Sprint(newRow[col]) {
				changed = true
			}
		}
		if !changed {
			continue
		}
		var conjuncts []filter.Expr
		for _, col := range u.Columns {
			conjuncts = append(conjuncts, filter.Bin(filter.Eq, col, newRow[col]))
		}
		matches, err := r.Finder(ctx, md.Name, filter.All(conjuncts...))
		if err != nil {
			return fmt.Errorf("mutation: checking unique %q: %w", u.Name, err)
		}
		for _, m := range matches {
			if fmt.Sprint(m["id"]) != fmt.Sprint(oldRow["id"]) {
				return &ConstraintError{Table: md.Name, Constraint: u.Name, Reason: "unique constraint violated"}
			}
		}
	}
	return nil
}

// Delete is a lazy builder; Execute may perform a soft delete (setting a
// deletionTime column), a hard delete, or enqueue a scheduled delete,
// optionally cascading through incoming foreign keys and materializing a
// returning projection, matching the chain
// delete(table).where(expr).soft()?.scheduled(delayMs)?.cascade(mode)?.returning(?).
type Delete struct {
	r             *Runner
	where         filter.Expr
	force         bool
	soft          bool
	deletedCol    string
	cascadeMode   fkaction.CascadeMode
	scheduled     bool
	delayMs       int64
	returning     bool
	returningCols []string
	returnedRows  []map[string]any
}

func (r *Runner) Delete() *Delete { return &Delete{r: r, deletedCol: "deletionTime"} }

func (b *Delete) Where(expr filter.Expr) *Delete {
	b.where = expr
	return b
}

func (b *Delete) AllowUnfiltered() *Delete {
	b.force = true
	return b
}

// Soft makes Execute set the deletedCol timestamp instead of removing the
// row.
func (b *Delete) Soft(column string) *Delete {
	b.soft = true
	if column != "" {
		b.deletedCol = column
	}
	return b
}

// Cascade selects the hard/soft mode applied to rows removed by an incoming
// cascade action (fkaction.Hard by default); it is independent of Soft,
// which controls only this row's own removal.
func (b *Delete) Cascade(mode fkaction.CascadeMode) *Delete {
	b.cascadeMode = mode
	return b
}

// Scheduled splits Execute into two phases: matching rows are soft-deleted
// (deletionTime stamped, dependents soft-cascaded) inline, and a deferred
// hard-delete job per row is enqueued to fire after delayMs. The jobs
// dispatch through scheduler.ScheduledDeleteHandler; until the host drains
// them the rows remain recoverable by clearing deletionTime and cancelling
// the job.
func (b *Delete) Scheduled(delayMs int64) *Delete {
	b.scheduled = true
	b.delayMs = delayMs
	return b
}

// Returning marks Execute to project every removed row (as it existed
// immediately before removal) afterward, every column or only cols if
// given. Retrieve the rows afterward with Returned. Ignored by Scheduled,
// whose rows are only soft-deleted when Execute returns.
func (b *Delete) Returning(cols ...string) *Delete {
	b.returning = true
	b.returningCols = cols
	return b
}

// Returned is the rows Execute projected, one per affected row in visit
// order, or nil unless Returning was called and Execute has already run.
func (b *Delete) Returned() []map[string]any { return b.returnedRows }

func (b *Delete) Execute(ctx context.Context) (int, error) {
	md := b.r.Table
	if b.where == nil && b.r.Defaults.Strict && !b.force {
		return 0, &StrictnessError{Table: md.Name, Op: "delete"}
	}
	if b.scheduled {
		return b.executeScheduled(ctx)
	}

	rows, err := b.r.Finder(ctx, md.Name, b.where)
	if err != nil {
		return 0, fmt.Errorf("mutation: delete %q: locating rows: %w", md.Name, err)
	}
	rows, overflow, err := b.r.capRows(md.Name, rows)
	if err != nil {
		return 0, err
	}

	affected := 0
	for _, row := range rows {
		if ps := b.r.Policies; ps.Enabled {
			if !rls.Evaluate(ctx, ps, rls.OpDelete, row, b.r.Roles, rls.SkipFromContext(ctx)) {
				continue
			}
		}
		id := fmt.Sprint(row["id"])
		// Incoming-FK on-delete actions run before the primary write: a
		// restrict dependent must fail the call before this row is touched
		// at all.
		if b.r.FK != nil {
			if err := b.r.FK.RunDelete(ctx, md.Name, id, b.cascadeMode); err != nil {
				return affected, err
			}
		}
		if b.soft {
			if err := b.r.Patch(ctx, id, map[string]any{b.deletedCol: b.r.Now()}); err != nil {
				return affected, err
			}
		} else if err := b.r.deleteRow(ctx, id); err != nil {
			return affected, fmt.Errorf("mutation: delete %q/%s: %w", md.Name, id, err)
		}
		if b.returning {
			b.returnedRows = append(b.returnedRows, project(row, b.returningCols))
		}
		affected++
	}
	if overflow {
		batch := &scheduler.Batch{
			Table:       md.Name,
			Where:       b.where,
			BatchSize:   b.r.Defaults.MutationBatchSize,
			Scheduler:   b.r.Driver.Scheduler(),
			Op:          "delete",
			Soft:        b.soft,
			DeletedCol:  b.deletedCol,
			CascadeMode: b.cascadeMode.String(),
		}
		if _, err := batch.EnqueueResume(ctx, 0, rowIDs(rows), 0); err != nil {
			return affected, fmt.Errorf("mutation: delete %q: enqueue tail: %w", md.Name, err)
		}
	}
	return affected, nil
}

// executeScheduled soft-deletes every matching row immediately, then
// enqueues one deferred hard-delete job per row that fires after delayMs.
// Cascades run twice: soft over dependents now, so nothing dangles while
// the rows wait out the delay, and again in the configured mode when the
// hard delete lands.
func (b *Delete) executeScheduled(ctx context.Context) (int, error) {
	md := b.r.Table
	if b.delayMs < 0 {
		return 0, fmt.Errorf("mutation: scheduled delete %q: invalid delayMs %d", md.Name, b.delayMs)
	}
	rows, err := b.r.Finder(ctx, md.Name, b.where)
	if err != nil {
		return 0, fmt.Errorf("mutation: scheduled delete %q: locating rows: %w", md.Name, err)
	}
	sched := b.r.Driver.Scheduler()
	affected := 0
	for _, row := range rows {
		if ps := b.r.Policies; ps.Enabled {
			if !rls.Evaluate(ctx, ps, rls.OpDelete, row, b.r.Roles, rls.SkipFromContext(ctx)) {
				continue
			}
		}
		id := fmt.Sprint(row["id"])
		if b.r.FK != nil {
			if err := b.r.FK.RunDelete(ctx, md.Name, id, fkaction.Soft); err != nil {
				return affected, err
			}
		}
		if err := b.r.Patch(ctx, id, map[string]any{b.deletedCol: b.r.Now()}); err != nil {
			return affected, err
		}
		args := driver.Document{"table": md.Name, "id": id, "cascadeMode": b.cascadeMode.String()}
		if _, err := sched.RunAfter(ctx, b.delayMs, scheduler.BatchDeleteRef, args); err != nil {
			return affected, fmt.Errorf("mutation: scheduled delete %q/%s: enqueue: %w", md.Name, id, err)
		}
		affected++
	}
	return affected, nil
}

// Patch is a single-row direct write, used by the facade for already-located
// rows (e.g. insert's OnConflictDoUpdate) where re-running Finder is wasted
// work. It tags ctx with the table name so a trigger-wrapped driver can
// dispatch the right handlers.
func (r *Runner) Patch(ctx context.Context, id string, set map[string]any) error {
	ctx = trigger.WithTable(ctx, r.Table.Name)
	if err := r.Driver.Patch(ctx, id, driver.Document(set)); err != nil {
		return fmt.Errorf("mutation: patch %q/%s: %w", r.Table.Name, id, err)
	}
	return nil
}

// deleteRow removes id outright, tagging ctx with the table name.
func (r *Runner) deleteRow(ctx context.Context, id string) error {
	ctx = trigger.WithTable(ctx, r.Table.Name)
	return r.Driver.Delete(ctx, id)
}

func (r *Runner) checkForeignKeys(ctx context.Context, md *schema.Metadata, row map[string]any) error {
	for _, fk := range md.ForeignKeys {
		var conjuncts []filter.Expr
		allNull := true
		for i, col := range fk.Columns {
			v := row[col]
			if v != nil {
				allNull = false
			}
			refCol := fk.RefColumns[i]
			conjuncts = append(conjuncts, filter.Bin(filter.Eq, refCol, v))
		}
		if allNull {
			continue // a null FK column set is valid (no parent required)
		}
		matches, err := r.Finder(ctx, fk.RefTable, filter.All(conjuncts...))
		if err != nil {
			return fmt.Errorf("mutation: checking foreign key %q: %w", fk.Name, err)
		}
		if len(matches) == 0 {
			return &ConstraintError{Table: md.Name, Constraint: fk.Name, Reason: fmt.Sprintf("no matching row in %q", fk.RefTable)}
		}
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyDefaults(md *schema.Metadata, values map[string]any, now func() any) map[string]any {
	row := cloneMap(values)
	for _, name := range md.ColumnOrder {
		if _, set := row[name]; set {
			continue
		}
		if v, ok := md.Columns[name].ResolveDefault(); ok {
			row[name] = v
		}
	}
	return row
}

// applyOnUpdate fills in onUpdate-factory columns not already present in
// explicit, mutating row, and returns the subset of row that changed
// (explicit plus any onUpdate additions) so the caller can send a minimal
// patch instead of rewriting the whole row.
func applyOnUpdate(md *schema.Metadata, row, explicit map[string]any, now func() any) map[string]any {
	patch := cloneMap(explicit)
	for _, name := range md.ColumnOrder {
		if _, set := explicit[name]; set {
			continue
		}
		if fn, ok := md.Columns[name].ResolveOnUpdate(); ok {
			v := fn()
			row[name] = v
			patch[name] = v
		}
	}
	return patch
}

func normalizeTemporal(md *schema.Metadata, row map[string]any) {
	for col, tc := range md.Temporal {
		if v, ok := row[col]; ok && v != nil {
			row[col] = tc.Encode(v)
		}
	}
}

// checkReservedWrites rejects caller-supplied values addressing the system
// creation timestamp: `_creationTime` always, and the `createdAt` alias
// column when the table declares one. Both are driver-owned.
func checkReservedWrites(md *schema.Metadata, values map[string]any) error {
	if _, ok := values["_creationTime"]; ok {
		return &ValidationError{Table: md.Name, Column: "_creationTime", Reason: "system column cannot be written"}
	}
	if md.HasCreatedAt {
		if _, ok := values[md.CreatedAtCol]; ok {
			return &ValidationError{Table: md.Name, Column: md.CreatedAtCol, Reason: "aliases the system creation time and cannot be written"}
		}
	}
	return nil
}

// validateStorage runs each opaque column's storage validator over its
// value, the one place the engine checks stored value shapes itself rather
// than delegating to the driver.
func validateStorage(md *schema.Metadata, row map[string]any) error {
	for _, name := range md.ColumnOrder {
		col := md.Columns[name]
		check, ok := col.ResolveOpaqueCheck()
		if !ok {
			continue
		}
		v, present := row[name]
		if !present || v == nil {
			continue
		}
		if err := check(v); err != nil {
			return &ValidationError{Table: md.Name, Column: name, Reason: err.Error()}
		}
	}
	return nil
}

func evalChecks(md *schema.Metadata, row map[string]any) error {
	for _, c := range md.Checks {
		ok, known := c.Predicate(row)
		if known && !ok {
			return &ConstraintError{Table: md.Name, Constraint: c.Name, Reason: "check constraint violated"}
		}
	}
	return nil
}
