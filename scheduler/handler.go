package scheduler

import (
	"context"
	"fmt"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
)

// Handler is the deferred-function shape a host registers under a
// driver.JobRef: its dispatch loop calls the handler with the job's
// serialized args document.
type Handler func(ctx context.Context, args driver.Document) error

// MutatorFactory rebuilds the RowMutator a resumed batch applies, from the
// parsed payload's op descriptor. Injected by the facade so this package
// stays free of the mutation pipeline it resumes.
type MutatorFactory func(p *Payload) (RowMutator, error)

// ParsePayload decodes a BatchMutationRef job args document back into a
// Payload plus its deserialized where-expression, rejecting malformed
// shapes (missing table, non-positive batch size).
func ParsePayload(args driver.Document) (*Payload, filter.Expr, error) {
	p := &Payload{
		Table:       asString(args["table"]),
		BatchSize:   asInt(args["batchSize"]),
		Affected:    asInt(args["affected"]),
		Op:          asString(args["op"]),
		Soft:        args["soft"] == true,
		DeletedCol:  asString(args["deletedCol"]),
		CascadeMode: asString(args["cascadeMode"]),
	}
	if p.Table == "" {
		return nil, nil, fmt.Errorf("scheduler: batch payload missing table")
	}
	if p.BatchSize <= 0 {
		return nil, nil, fmt.Errorf("scheduler: batch payload for %q has batch size %d", p.Table, p.BatchSize)
	}
	switch v := args["visited"].(type) {
	case []string:
		p.Visited = v
	case []any:
		for _, id := range v {
			p.Visited = append(p.Visited, asString(id))
		}
	}
	if set, ok := args["set"].(map[string]any); ok {
		p.Set = set
	} else if set, ok := args["set"].(driver.Document); ok {
		p.Set = set
	}
	var where filter.Expr
	if raw := asString(args["where"]); raw != "" && raw != "null" {
		expr, err := filter.UnmarshalExpr([]byte(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("scheduler: batch payload for %q: %w", p.Table, err)
		}
		where = expr
	}
	return p, where, nil
}

// MutationBatchHandler produces the function a host registers under
// BatchMutationRef: each dispatch runs one bounded batch step and
// re-enqueues itself with the grown visited set until the row set drains.
func MutationBatchHandler(find Finder, mutators MutatorFactory, sched driver.Scheduler) Handler {
	return func(ctx context.Context, args driver.Document) error {
		p, where, err := ParsePayload(args)
		if err != nil {
			return err
		}
		mutate, err := mutators(p)
		if err != nil {
			return err
		}
		b := &Batch{
			Table:       p.Table,
			Where:       where,
			BatchSize:   p.BatchSize,
			Mutate:      mutate,
			Find:        find,
			Scheduler:   sched,
			Op:          p.Op,
			Set:         p.Set,
			Soft:        p.Soft,
			DeletedCol:  p.DeletedCol,
			CascadeMode: p.CascadeMode,
		}
		visited := make(map[string]bool, len(p.Visited))
		for _, id := range p.Visited {
			visited[id] = true
		}
		done, affected, err := b.Run(ctx, visited, p.Affected)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		ids := make([]string, 0, len(visited))
		for id := range visited {
			ids = append(ids, id)
		}
		_, err = b.EnqueueResume(ctx, 0, ids, affected)
		return err
	}
}

// DeletePayload is the args shape of a BatchDeleteRef job: one row
// soft-deleted at enqueue time, hard-deleted when the job fires.
type DeletePayload struct {
	Table       string
	ID          string
	CascadeMode string
}

// ParseDeletePayload decodes and validates a BatchDeleteRef args document.
func ParseDeletePayload(args driver.Document) (DeletePayload, error) {
	p := DeletePayload{
		Table:       asString(args["table"]),
		ID:          asString(args["id"]),
		CascadeMode: asString(args["cascadeMode"]),
	}
	if p.Table == "" || p.ID == "" {
		return DeletePayload{}, fmt.Errorf("scheduler: scheduled delete payload missing table or id")
	}
	return p, nil
}

// ScheduledDeleteHandler produces the function a host registers under
// BatchDeleteRef. known guards against jobs naming a table the schema no
// longer declares; mutate performs the hard delete (including whatever
// cascade the payload's mode calls for).
func ScheduledDeleteHandler(known func(table string) bool, mutate func(ctx context.Context, p DeletePayload) error) Handler {
	return func(ctx context.Context, args driver.Document) error {
		p, err := ParseDeletePayload(args)
		if err != nil {
			return err
		}
		if !known(p.Table) {
			return fmt.Errorf("scheduler: scheduled delete targets unknown table %q", p.Table)
		}
		return mutate(ctx, p)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
