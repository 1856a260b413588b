package orm

import (
	"context"
	"fmt"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/fkaction"
	"github.com/ESGI-M2/docuorm/scheduler"
)

// JobHandlers returns the deferred functions a host must register with its
// scheduler for this database's scheduled mutations to complete:
// BatchMutationRef resumes bounded batch tails, BatchDeleteRef lands the
// hard-delete phase of Delete().Scheduled().
func (db *Database) JobHandlers() map[driver.JobRef]scheduler.Handler {
	return map[driver.JobRef]scheduler.Handler{
		scheduler.BatchMutationRef: scheduler.MutationBatchHandler(
			db.batchFinder(),
			db.batchMutator,
			db.driver.Scheduler(),
		),
		scheduler.BatchDeleteRef: scheduler.ScheduledDeleteHandler(
			func(table string) bool { _, ok := db.tables.Table(table); return ok },
			db.scheduledHardDelete,
		),
	}
}

// DispatchJob routes one dequeued job to the matching handler, for hosts
// whose scheduler hands back (ref, args) pairs rather than registering
// functions up front.
func (db *Database) DispatchJob(ctx context.Context, fn driver.JobRef, args driver.Document) error {
	h, ok := db.JobHandlers()[fn]
	if !ok {
		return fmt.Errorf("orm: no handler registered for job %q", fn)
	}
	return h(ctx, args)
}

func (db *Database) batchFinder() scheduler.Finder {
	return func(ctx context.Context, table string, where filter.Expr, excludeIDs map[string]bool, limit int) ([]string, error) {
		r, err := db.runner(table)
		if err != nil {
			return nil, err
		}
		return r.ScheduledFinder()(ctx, table, where, excludeIDs, limit)
	}
}

func (db *Database) batchMutator(p *scheduler.Payload) (scheduler.RowMutator, error) {
	r, err := db.runner(p.Table)
	if err != nil {
		return nil, err
	}
	return r.ResumeMutator(p)
}

func (db *Database) scheduledHardDelete(ctx context.Context, p scheduler.DeletePayload) error {
	r, err := db.runner(p.Table)
	if err != nil {
		return err
	}
	n, err := r.Delete().
		Where(filter.Bin(filter.Eq, "id", p.ID)).
		Cascade(fkaction.ParseCascadeMode(p.CascadeMode)).
		Execute(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		db.logger.Printf("scheduled delete: %s/%s already gone", p.Table, p.ID)
	}
	return nil
}
