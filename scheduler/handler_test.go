package scheduler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/scheduler"
)

func TestMutationBatchHandlerStepsAndReenqueues(t *testing.T) {
	fs := &fakeScheduler{}
	var mutated []string
	mutators := func(p *scheduler.Payload) (scheduler.RowMutator, error) {
		return func(ctx context.Context, table, id string) (bool, error) {
			mutated = append(mutated, id)
			return true, nil
		}, nil
	}
	handler := scheduler.MutationBatchHandler(staticFinder([]string{"a", "b", "c"}), mutators, fs)
	ctx := context.Background()

	err := handler(ctx, driver.Document{
		"table": "users", "batchSize": 2, "visited": []string{}, "affected": 0, "op": "delete",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, mutated)
	require.Len(t, fs.calls, 1, "a full first step re-enqueues the remainder")
	assert.Equal(t, scheduler.BatchMutationRef, fs.calls[0].fn)
	assert.ElementsMatch(t, []string{"a", "b"}, fs.calls[0].args["visited"])
	assert.Equal(t, "delete", fs.calls[0].args["op"])

	err = handler(ctx, fs.calls[0].args)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, mutated)
	assert.Len(t, fs.calls, 1, "a drained step enqueues nothing further")
}

func TestParsePayloadRejectsMalformedArgs(t *testing.T) {
	_, _, err := scheduler.ParsePayload(driver.Document{"batchSize": 10})
	require.ErrorContains(t, err, "missing table")

	_, _, err = scheduler.ParsePayload(driver.Document{"table": "users"})
	require.ErrorContains(t, err, "batch size")
}

func TestParsePayloadRoundTripsVisitedAndWhere(t *testing.T) {
	p, where, err := scheduler.ParsePayload(driver.Document{
		"table":     "users",
		"batchSize": 3,
		"visited":   []any{"a", "b"},
		"affected":  2,
		"where":     `{"kind":"binary","op":"eq","field":"role","value":"member"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Visited)
	assert.Equal(t, 2, p.Affected)
	assert.NotNil(t, where)
}

func TestScheduledDeleteHandlerRejectsUnknownTable(t *testing.T) {
	handler := scheduler.ScheduledDeleteHandler(
		func(table string) bool { return table == "users" },
		func(ctx context.Context, p scheduler.DeletePayload) error { return nil },
	)
	err := handler(context.Background(), driver.Document{"table": "ghosts", "id": "g1"})
	require.ErrorContains(t, err, "unknown table")

	err = handler(context.Background(), driver.Document{"table": "users"})
	require.ErrorContains(t, err, "missing table or id")
}

func TestScheduledDeleteHandlerDispatchesPayload(t *testing.T) {
	var got scheduler.DeletePayload
	handler := scheduler.ScheduledDeleteHandler(
		func(table string) bool { return true },
		func(ctx context.Context, p scheduler.DeletePayload) error { got = p; return nil },
	)
	err := handler(context.Background(), driver.Document{"table": "users", "id": "u1", "cascadeMode": "soft"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.DeletePayload{Table: "users", ID: "u1", CascadeMode: "soft"}, got)
}
