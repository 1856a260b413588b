package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/internal/drivertest"
	"github.com/ESGI-M2/docuorm/orm"
	"github.com/ESGI-M2/docuorm/schema"
	"github.com/ESGI-M2/docuorm/scheduler"
)

// Delete().Scheduled() soft-deletes inline, then the drained hard-delete
// job removes the row and cascades for real.
func TestScheduledDeleteSoftThenHardEndToEnd(t *testing.T) {
	tables, drv := membershipSchema(schema.ActionCascade)
	db, err := orm.NewDatabase(drv, tables, nil, orm.Options{})
	require.NoError(t, err)
	ctx := context.Background()

	userID, err := db.Insert(ctx, "users", map[string]any{"slug": "u1"})
	require.NoError(t, err)
	var membershipIDs []string
	for i := 0; i < 3; i++ {
		id, err := db.Insert(ctx, "memberships", map[string]any{"userId": userID})
		require.NoError(t, err)
		membershipIDs = append(membershipIDs, id)
	}

	del, err := db.Delete("users")
	require.NoError(t, err)
	n, err := del.Where(filter.Bin(filter.Eq, "id", userID)).Scheduled(500).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	userDoc, ok, err := drv.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, userDoc["deletionTime"], "user is soft-deleted while the job waits")
	for _, id := range membershipIDs {
		doc, ok, err := drv.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotNil(t, doc["deletionTime"], "dependents soft-cascade immediately")
	}

	jobs := drv.PendingJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.BatchDeleteRef, jobs[0].Fn)

	require.NoError(t, drv.Drain(ctx, func(ctx context.Context, fn driver.JobRef, args driver.Document) error {
		return db.DispatchJob(ctx, fn, args)
	}))

	_, ok, err = drv.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok, "user hard-deleted once the job fires")
	for _, id := range membershipIDs {
		_, ok, err := drv.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, "membership %s hard-deleted by the job's cascade", id)
	}
}

// In scheduled execution mode an update over the cap patches its head
// inline and the enqueued tail drains through MutationBatchHandler,
// re-enqueuing until done.
func TestScheduledModeUpdateTailDrains(t *testing.T) {
	users := schema.Table("users",
		schema.StringCol("name").NotNull(),
		schema.StringCol("role").Default("member"),
	)
	tables, err := schema.NewManager(users)
	require.NoError(t, err)
	drv := drivertest.New(clockAt(0))

	defaults := schema.DefaultDefaults()
	defaults.MutationExecutionMode = schema.ExecScheduled
	defaults.MutationMaxRows = 2
	defaults.MutationBatchSize = 2
	db, err := orm.NewDatabase(drv, tables, nil, orm.Options{Defaults: defaults})
	require.NoError(t, err)
	ctx := context.Background()

	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		_, err := db.Insert(ctx, "users", map[string]any{"name": name})
		require.NoError(t, err)
	}

	upd, err := db.Update("users")
	require.NoError(t, err)
	n, err := upd.Set(map[string]any{"role": "admin"}).
		Where(filter.Bin(filter.Eq, "role", "member")).
		Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the head runs inline")
	require.Len(t, drv.PendingJobs(), 1)

	dispatched := 0
	require.NoError(t, drv.Drain(ctx, func(ctx context.Context, fn driver.JobRef, args driver.Document) error {
		dispatched++
		return db.DispatchJob(ctx, fn, args)
	}))
	assert.Equal(t, 2, dispatched, "draining 3 remaining rows at batch size 2 takes two continuations")

	rows, err := db.Query("users").Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.Equal(t, "admin", row["role"])
	}
}

// Exceeding the cap in sync mode stays a hard error; nothing is enqueued.
func TestSyncModeCapStillFailsFast(t *testing.T) {
	users := schema.Table("users", schema.StringCol("name").NotNull())
	tables, err := schema.NewManager(users)
	require.NoError(t, err)
	drv := drivertest.New(clockAt(0))

	defaults := schema.DefaultDefaults()
	defaults.MutationMaxRows = 1
	db, err := orm.NewDatabase(drv, tables, nil, orm.Options{Defaults: defaults})
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, err := db.Insert(ctx, "users", map[string]any{"name": name})
		require.NoError(t, err)
	}

	del, err := db.Delete("users")
	require.NoError(t, err)
	_, err = del.Where(filter.IsNotNull("name")).Execute(ctx)
	require.ErrorContains(t, err, "exceeding the cap")
	assert.Empty(t, drv.PendingJobs())
}
