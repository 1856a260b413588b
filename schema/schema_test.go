package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/schema"
)

func TestReservedColumnNameRejected(t *testing.T) {
	tbl := schema.Table("users", schema.StringCol("id"))
	_, err := tbl.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestCreatedAtNameRequiresAlias(t *testing.T) {
	// A plain user column may not claim the name; only the DefaultNow alias
	// of the system creation timestamp may.
	tbl := schema.Table("users", schema.StringCol("createdAt"))
	_, err := tbl.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")

	alias := schema.Table("users",
		schema.TimestampCol("createdAt").NotNull().DefaultNow(func() any { return int64(0) }),
	)
	md, err := alias.Build()
	require.NoError(t, err)
	assert.True(t, md.HasCreatedAt)
	assert.Equal(t, "createdAt", md.CreatedAtCol)
}

func TestCreatedAtMustBeTemporal(t *testing.T) {
	tbl := schema.Table("users", schema.StringCol("createdAt").DefaultNow(func() any { return "now" }))
	_, err := tbl.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "createdAt")
}

func TestUniqueColumnBecomesConstraint(t *testing.T) {
	tbl := schema.Table("users", schema.StringCol("email").Unique())
	md, err := tbl.Build()
	require.NoError(t, err)
	require.Len(t, md.Uniques, 1)
	assert.Equal(t, []string{"email"}, md.Uniques[0].Columns)
}

func TestForwardSelfReference(t *testing.T) {
	var users *schema.TableDef
	users = schema.Table("users",
		schema.StringCol("name"),
		schema.StringCol("managerId").References(schema.LazyRef(func() (string, []string) {
			return users.Name, []string{"id"}
		})),
	)
	md, err := users.Build()
	require.NoError(t, err)
	require.Len(t, md.ForeignKeys, 1)
	assert.Equal(t, "users", md.ForeignKeys[0].RefTable)
}

func TestManagerRejectsUndeclaredForeignKeyTarget(t *testing.T) {
	orders := schema.Table("orders",
		schema.StringCol("userId").References(schema.LazyRef(func() (string, []string) {
			return "users", []string{"id"}
		})),
	)
	_, err := schema.NewManager(orders)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared table")
}

func TestManagerBuildsCrossTableGraph(t *testing.T) {
	users := schema.Table("users", schema.StringCol("name"))
	orders := schema.Table("orders",
		schema.StringCol("userId").References(schema.LazyRef(func() (string, []string) {
			return "users", []string{"id"}
		})),
	)
	mgr, err := schema.NewManager(users, orders)
	require.NoError(t, err)

	md, ok := mgr.Table("orders")
	require.True(t, ok)
	assert.Equal(t, "users", md.ForeignKeys[0].RefTable)
}

func TestColumnDefaultFactoryInvokedFresh(t *testing.T) {
	calls := 0
	col := schema.StringCol("code").DefaultFn(func() any {
		calls++
		return "generated"
	})
	v1, ok1 := col.ResolveDefault()
	v2, ok2 := col.ResolveDefault()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, "generated", v1)
	assert.Equal(t, "generated", v2)
	assert.Equal(t, 2, calls)
}
