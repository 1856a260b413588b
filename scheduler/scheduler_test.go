package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/internal/drivertest"
	"github.com/ESGI-M2/docuorm/scheduler"
)

// staticFinder returns up to limit ids from a fixed list, honoring
// excludeIDs, simulating a table's matching rows without a real driver.
func staticFinder(ids []string) scheduler.Finder {
	return func(ctx context.Context, table string, where filter.Expr, excludeIDs map[string]bool, limit int) ([]string, error) {
		var out []string
		for _, id := range ids {
			if excludeIDs[id] {
				continue
			}
			out = append(out, id)
			if len(out) == limit {
				break
			}
		}
		return out, nil
	}
}

func TestBatchRunToCompletionDrainsAllMatchingRows(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	var mutated []string
	b := &scheduler.Batch{
		Table:     "users",
		BatchSize: 2,
		Find:      staticFinder(ids),
		Mutate: func(ctx context.Context, table, id string) (bool, error) {
			mutated = append(mutated, id)
			return true, nil
		},
	}

	affected, err := b.RunToCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, affected)
	assert.ElementsMatch(t, ids, mutated)
}

func TestBatchRunReportsDoneWhenFewerThanBatchSizeReturned(t *testing.T) {
	b := &scheduler.Batch{
		Table:     "users",
		BatchSize: 5,
		Find:      staticFinder([]string{"a"}),
		Mutate:    func(ctx context.Context, table, id string) (bool, error) { return true, nil },
	}

	done, affected, err := b.Run(context.Background(), map[string]bool{}, 0)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 1, affected)
}

func TestBatchRunSkipsUnaffectedRowsInCount(t *testing.T) {
	b := &scheduler.Batch{
		Table:     "users",
		BatchSize: 5,
		Find:      staticFinder([]string{"a", "b"}),
		Mutate: func(ctx context.Context, table, id string) (bool, error) {
			return id == "a", nil
		},
	}

	_, affected, err := b.Run(context.Background(), map[string]bool{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)
}

func TestBatchRunPropagatesFinderError(t *testing.T) {
	b := &scheduler.Batch{
		Table:     "users",
		BatchSize: 5,
		Find: func(ctx context.Context, table string, where filter.Expr, excludeIDs map[string]bool, limit int) ([]string, error) {
			return nil, fmt.Errorf("boom")
		},
	}

	_, _, err := b.Run(context.Background(), map[string]bool{}, 0)
	assert.Error(t, err)
}

type fakeScheduler struct {
	calls []fakeCall
}

type fakeCall struct {
	delayMs int64
	fn      driver.JobRef
	args    driver.Document
}

func (f *fakeScheduler) RunAfter(ctx context.Context, delayMs int64, fn driver.JobRef, args driver.Document) (string, error) {
	f.calls = append(f.calls, fakeCall{delayMs, fn, args})
	return "job-1", nil
}

func (f *fakeScheduler) RunAt(ctx context.Context, at time.Time, fn driver.JobRef, args driver.Document) (string, error) {
	return "job-1", nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, jobID string) error { return nil }

func TestEnqueueSchedulesBatchMutationJob(t *testing.T) {
	fs := &fakeScheduler{}
	b := &scheduler.Batch{
		Table:     "users",
		BatchSize: 10,
		Where:     filter.Bin(filter.Eq, "role", "member"),
		Scheduler: fs,
	}

	id, err := b.Enqueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	require.Len(t, fs.calls, 1)
	assert.Equal(t, scheduler.BatchMutationRef, fs.calls[0].fn)
	assert.Equal(t, "users", fs.calls[0].args["table"])
	assert.Equal(t, 10, fs.calls[0].args["batchSize"])
}

// idFinder adapts a drivertest.Memory table scan to scheduler.Finder,
// hydrating _id -> id the way the query executor does.
func idFinder(drv *drivertest.Memory) scheduler.Finder {
	return func(ctx context.Context, table string, where filter.Expr, excludeIDs map[string]bool, limit int) ([]string, error) {
		docs, err := drv.Query(table).Collect(ctx)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, d := range docs {
			id, _ := d["_id"].(string)
			if excludeIDs[id] {
				continue
			}
			hydrated := map[string]any{}
			for k, v := range d {
				hydrated[k] = v
			}
			hydrated["id"] = id
			if where != nil && !filter.Eval(where, filter.Row(hydrated)) {
				continue
			}
			out = append(out, id)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return out, nil
	}
}

func TestDeleteHandlerSoftDeletesMatchingRows(t *testing.T) {
	drv := drivertest.New(func() time.Time { return time.Unix(0, 0) })
	ctx := context.Background()
	id1, err := drv.Insert(ctx, "users", map[string]any{"role": "member"})
	require.NoError(t, err)
	id2, err := drv.Insert(ctx, "users", map[string]any{"role": "admin"})
	require.NoError(t, err)

	h := &scheduler.DeleteHandler{
		Table:     "users",
		Soft:      true,
		BatchSize: 10,
		Now:       func() any { return int64(7) },
		Driver:    drv,
		Find:      idFinder(drv),
	}
	n, err := h.RunToCompletion(ctx, filter.Bin(filter.Eq, "role", "member"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc1, ok, err := drv.Get(ctx, id1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), doc1["deletionTime"])

	doc2, ok, err := drv.Get(ctx, id2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, doc2, "deletionTime")
}

func TestDeleteHandlerHardDeletesMatchingRows(t *testing.T) {
	drv := drivertest.New(nil)
	ctx := context.Background()
	id1, err := drv.Insert(ctx, "users", map[string]any{"role": "member"})
	require.NoError(t, err)

	h := &scheduler.DeleteHandler{Table: "users", BatchSize: 10, Driver: drv, Find: idFinder(drv)}
	n, err := h.RunToCompletion(ctx, filter.Bin(filter.Eq, "role", "member"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := drv.Get(ctx, id1)
	require.NoError(t, err)
	assert.False(t, ok)
}
