// Package scheduler implements bounded, idempotently-resumable mutation
// batching: when a mutation's execution mode is scheduled
// rather than synchronous, work is split into MutationBatchSize-sized steps
// dispatched through driver.Scheduler.RunAfter, each step re-enqueuing the
// next until the matching row set is drained. A `visited` id set threaded
// through the job payload makes resumption after a retry idempotent.
package scheduler

import (
	"context"
	"fmt"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/trigger"
)

// BatchMutationRef is the job name the driver scheduler dispatches back to
// MutationBatchHandler.
const BatchMutationRef driver.JobRef = "docuorm/mutationBatch"

// BatchDeleteRef is the job name dispatched back to ScheduledDeleteHandler.
const BatchDeleteRef driver.JobRef = "docuorm/scheduledDelete"

// RowMutator applies one mutation step to a single row's id, returning
// whether the row was actually affected (false lets the batch skip
// re-counting rows an RLS check silently excluded).
type RowMutator func(ctx context.Context, table, id string) (bool, error)

// Finder locates the next batch of candidate ids for a table/where pair.
type Finder func(ctx context.Context, table string, where filter.Expr, excludeIDs map[string]bool, limit int) ([]string, error)

// Batch drives one scheduled mutation to completion across as many
// RunAfter hops as needed, each touching at most batchSize rows. It is also
// the function scheduler.MutationBatchHandler resumes from a serialized job
// payload.
type Batch struct {
	Table     string
	Where     filter.Expr
	BatchSize int
	Mutate    RowMutator
	Find      Finder
	Scheduler driver.Scheduler

	// Op describes which mutation the batch resumes ("delete" or "update"),
	// serialized into the job payload so MutationBatchHandler can rebuild
	// the matching RowMutator on the other side of a RunAfter hop. The
	// remaining fields qualify it: Set is an update's patch; Soft,
	// DeletedCol, and CascadeMode shape a delete.
	Op          string
	Set         map[string]any
	Soft        bool
	DeletedCol  string
	CascadeMode string
}

// Payload is the JSON-safe state threaded through RunAfter hops.
type Payload struct {
	Table     string   `json:"table"`
	WhereJSON []byte   `json:"where,omitempty"`
	BatchSize int      `json:"batchSize"`
	Visited   []string `json:"visited"`
	Affected  int      `json:"affected"`

	Op          string         `json:"op,omitempty"`
	Set         map[string]any `json:"set,omitempty"`
	Soft        bool           `json:"soft,omitempty"`
	DeletedCol  string         `json:"deletedCol,omitempty"`
	CascadeMode string         `json:"cascadeMode,omitempty"`
}

// Run executes one step: finds up to BatchSize unvisited matching rows,
// mutates each, and returns the running affected count with done=true once
// the set is drained. Run enqueues nothing itself; MutationBatchHandler
// enqueues the next step when done is false.
func (b *Batch) Run(ctx context.Context, visited map[string]bool, affectedSoFar int) (done bool, affected int, err error) {
	ids, err := b.Find(ctx, b.Table, b.Where, visited, b.BatchSize)
	if err != nil {
		return false, affectedSoFar, fmt.Errorf("scheduler: finding batch for %q: %w", b.Table, err)
	}
	if len(ids) == 0 {
		return true, affectedSoFar, nil
	}
	for _, id := range ids {
		if visited[id] {
			continue
		}
		visited[id] = true
		ok, err := b.Mutate(ctx, b.Table, id)
		if err != nil {
			return false, affectedSoFar, fmt.Errorf("scheduler: mutating %q/%s: %w", b.Table, id, err)
		}
		if ok {
			affectedSoFar++
		}
	}
	return len(ids) < b.BatchSize, affectedSoFar, nil
}

// RunToCompletion drives Run in a loop without yielding to the scheduler,
// for synchronous-mode callers or test harnesses that want deterministic
// completion. Production scheduled execution instead re-enqueues via
// RunAfter between each Run call so the batch doesn't hold a single
// function invocation open.
func (b *Batch) RunToCompletion(ctx context.Context) (int, error) {
	visited := map[string]bool{}
	affected := 0
	for {
		done, total, err := b.Run(ctx, visited, affected)
		affected = total
		if err != nil {
			return affected, err
		}
		if done {
			return affected, nil
		}
	}
}

// Enqueue schedules the first hop of a batch via the driver scheduler,
// serializing its where-expression and empty visited set into the job args.
func (b *Batch) Enqueue(ctx context.Context) (string, error) {
	return b.EnqueueAfter(ctx, 0)
}

// EnqueueAfter is Enqueue with an explicit first-hop delay, for callers
// implementing a `.scheduled({delayMs})` chain over a Batch.
func (b *Batch) EnqueueAfter(ctx context.Context, delayMs int64) (string, error) {
	return b.EnqueueResume(ctx, delayMs, nil, 0)
}

// EnqueueResume enqueues a hop that continues from an already-consumed
// visited set and running affected count, used both by the mutation
// pipeline's async-mode tail handoff and by MutationBatchHandler between
// its own hops.
func (b *Batch) EnqueueResume(ctx context.Context, delayMs int64, visited []string, affected int) (string, error) {
	whereJSON, err := marshalWhere(b.Where)
	if err != nil {
		return "", err
	}
	if visited == nil {
		visited = []string{}
	}
	args := driver.Document{
		"table":     b.Table,
		"where":     string(whereJSON),
		"batchSize": b.BatchSize,
		"visited":   visited,
		"affected":  affected,
	}
	if b.Op != "" {
		args["op"] = b.Op
	}
	if b.Set != nil {
		args["set"] = b.Set
	}
	if b.Soft {
		args["soft"] = true
	}
	if b.DeletedCol != "" {
		args["deletedCol"] = b.DeletedCol
	}
	if b.CascadeMode != "" {
		args["cascadeMode"] = b.CascadeMode
	}
	id, err := b.Scheduler.RunAfter(ctx, delayMs, BatchMutationRef, args)
	if err != nil {
		return "", fmt.Errorf("scheduler: enqueue batch for %q: %w", b.Table, err)
	}
	return id, nil
}

func marshalWhere(expr filter.Expr) ([]byte, error) {
	if expr == nil {
		return []byte("null"), nil
	}
	return filter.MarshalExpr(expr)
}

// DeleteHandler drains every row matching a where-expression through Batch
// steps, soft- or hard-deleting each row directly through Driver rather
// than applying an arbitrary RowMutator. It applies no foreign-key actions.
type DeleteHandler struct {
	Table      string
	Soft       bool
	DeletedCol string
	Now        func() any
	Driver     driver.Driver
	Find       Finder
	BatchSize  int
	Scheduler  driver.Scheduler
}

func (h *DeleteHandler) mutate(ctx context.Context, table, id string) (bool, error) {
	ctx = trigger.WithTable(ctx, table)
	if h.Soft {
		col := h.DeletedCol
		if col == "" {
			col = "deletionTime"
		}
		return true, h.Driver.Patch(ctx, id, driver.Document{col: h.Now()})
	}
	return true, h.Driver.Delete(ctx, id)
}

// RunToCompletion drains every row matching where via repeated Find+mutate
// steps, never materializing more than BatchSize ids at a time.
func (h *DeleteHandler) RunToCompletion(ctx context.Context, where filter.Expr) (int, error) {
	b := &Batch{Table: h.Table, Where: where, BatchSize: h.BatchSize, Mutate: h.mutate, Find: h.Find, Scheduler: h.Scheduler}
	return b.RunToCompletion(ctx)
}
