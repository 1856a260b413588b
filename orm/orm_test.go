package orm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/internal/drivertest"
	"github.com/ESGI-M2/docuorm/orm"
	"github.com/ESGI-M2/docuorm/relations"
	"github.com/ESGI-M2/docuorm/schema"
	"github.com/ESGI-M2/docuorm/scheduler"
)

func usersManager(t *testing.T) *schema.Manager {
	t.Helper()
	tables, err := schema.NewManager(schema.Table("users",
		schema.StringCol("name").NotNull(),
	))
	require.NoError(t, err)
	return tables
}

func TestWithBindsDatabaseIntoContext(t *testing.T) {
	engine, err := orm.New(usersManager(t), nil, orm.Options{})
	require.NoError(t, err)

	ctx, db, err := engine.With(context.Background(), drivertest.New(nil))
	require.NoError(t, err)
	require.NotNil(t, db)

	got, ok := orm.FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, db, got)

	_, ok = orm.FromContext(context.Background())
	assert.False(t, ok)
}

func TestWithReturnsIndependentFacadesPerRequest(t *testing.T) {
	engine, err := orm.New(usersManager(t), nil, orm.Options{})
	require.NoError(t, err)

	_, db1, err := engine.With(context.Background(), drivertest.New(nil))
	require.NoError(t, err)
	_, db2, err := engine.With(context.Background(), drivertest.New(nil))
	require.NoError(t, err)
	assert.NotSame(t, db1, db2)
}

func TestNewRejectsRelationToUndeclaredTable(t *testing.T) {
	def := relations.NewDef().One("users", "team", "teams", "teamId")
	_, err := orm.New(usersManager(t), []*relations.Def{def}, orm.Options{})
	require.Error(t, err)
}

func TestDispatchJobRejectsUnknownRef(t *testing.T) {
	db, err := orm.NewDatabase(drivertest.New(nil), usersManager(t), nil, orm.Options{})
	require.NoError(t, err)

	err = db.DispatchJob(context.Background(), driver.JobRef("docuorm/unknown"), driver.Document{})
	require.ErrorContains(t, err, "no handler registered")
}

func TestJobHandlersCoverBothRefs(t *testing.T) {
	db, err := orm.NewDatabase(drivertest.New(nil), usersManager(t), nil, orm.Options{})
	require.NoError(t, err)

	handlers := db.JobHandlers()
	assert.Contains(t, handlers, scheduler.BatchMutationRef)
	assert.Contains(t, handlers, scheduler.BatchDeleteRef)
}
