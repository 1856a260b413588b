package query_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/internal/drivertest"
	"github.com/ESGI-M2/docuorm/query"
	"github.com/ESGI-M2/docuorm/relations"
	"github.com/ESGI-M2/docuorm/schema"
)

func setup(t *testing.T) (*drivertest.Memory, *schema.Manager, []*relations.Edge) {
	t.Helper()
	clock := func() time.Time { return time.Unix(0, 0) }
	drv := drivertest.New(clock)
	drv.DeclareIndex("posts", drivertest.IndexDef{Name: "by_author", Columns: []string{"authorId"}})

	users := schema.Table("users", schema.StringCol("name"))
	posts := schema.Table("posts", schema.StringCol("title"), schema.StringCol("authorId")).
		WithIndex(schema.NewIndex("by_author", "authorId"))

	mgr, err := schema.NewManager(users, posts)
	require.NoError(t, err)

	defs := relations.NewDef().
		One("posts", "author", "users", "authorId").
		Many("users", "posts", "posts", "authorId")
	edges, err := relations.Extract(mgr.Tables(), defs)
	require.NoError(t, err)

	return drv, mgr, edges
}

func TestFindManyFiltersAndHydrates(t *testing.T) {
	drv, mgr, edges := setup(t)
	ctx := context.Background()

	uid, err := drv.Insert(ctx, "users", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	_, err = drv.Insert(ctx, "posts", map[string]any{"title": "hello", "authorId": uid})
	require.NoError(t, err)
	_, err = drv.Insert(ctx, "posts", map[string]any{"title": "world", "authorId": "someone-else"})
	require.NoError(t, err)

	exec := &query.Executor{Driver: drv, Tables: mgr}
	rows, err := exec.FindMany(ctx, query.Config{
		Table: "posts",
		Where: filter.Bin(filter.Eq, "authorId", uid),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0]["title"])
	assert.NotEmpty(t, rows[0]["id"])
	assert.Equal(t, int64(0), rows[0]["createdAt"])

	_ = edges
}

func TestFindFirstReturnsNilWhenNoMatch(t *testing.T) {
	drv, mgr, _ := setup(t)
	ctx := context.Background()
	exec := &query.Executor{Driver: drv, Tables: mgr}

	row, err := exec.FindFirst(ctx, query.Config{Table: "posts", Where: filter.Bin(filter.Eq, "title", "missing")})
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestLoadRelationsHydratesOneAndMany(t *testing.T) {
	drv, mgr, edges := setup(t)
	ctx := context.Background()

	uid, err := drv.Insert(ctx, "users", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	_, err = drv.Insert(ctx, "posts", map[string]any{"title": "hello", "authorId": uid})
	require.NoError(t, err)

	exec := &query.Executor{Driver: drv, Tables: mgr, Edges: edges}

	posts, err := exec.FindMany(ctx, query.Config{Table: "posts", With: []string{"author"}})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	author, ok := posts[0]["author"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", author["name"])

	users, err := exec.FindMany(ctx, query.Config{Table: "users", With: []string{"posts"}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	userPosts, ok := users[0]["posts"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, userPosts, 1)
	assert.Equal(t, "hello", userPosts[0]["title"])
}

// Two relations on the same row set: each row is hydrated by exactly one
// goroutine, so loading author and comments together never races on the
// shared row map.
func TestLoadRelationsMultipleEdgesPerRow(t *testing.T) {
	clock := func() time.Time { return time.Unix(0, 0) }
	drv := drivertest.New(clock)
	drv.DeclareIndex("posts", drivertest.IndexDef{Name: "by_author", Columns: []string{"authorId"}})
	drv.DeclareIndex("comments", drivertest.IndexDef{Name: "by_post", Columns: []string{"postId"}})

	users := schema.Table("users", schema.StringCol("name"))
	posts := schema.Table("posts", schema.StringCol("title"), schema.StringCol("authorId")).
		WithIndex(schema.NewIndex("by_author", "authorId"))
	comments := schema.Table("comments", schema.StringCol("body"), schema.StringCol("postId")).
		WithIndex(schema.NewIndex("by_post", "postId"))

	mgr, err := schema.NewManager(users, posts, comments)
	require.NoError(t, err)

	defs := relations.NewDef().
		One("posts", "author", "users", "authorId").
		Many("posts", "comments", "comments", "postId")
	edges, err := relations.Extract(mgr.Tables(), defs)
	require.NoError(t, err)

	ctx := context.Background()
	uid, err := drv.Insert(ctx, "users", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		pid, err := drv.Insert(ctx, "posts", map[string]any{"title": fmt.Sprintf("p%d", i), "authorId": uid})
		require.NoError(t, err)
		_, err = drv.Insert(ctx, "comments", map[string]any{"body": "nice", "postId": pid})
		require.NoError(t, err)
	}

	exec := &query.Executor{Driver: drv, Tables: mgr, Edges: edges}
	rows, err := exec.FindMany(ctx, query.Config{Table: "posts", With: []string{"author", "comments"}})
	require.NoError(t, err)
	require.Len(t, rows, 6)
	for _, row := range rows {
		author, ok := row["author"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Ada", author["name"])
		cs, ok := row["comments"].([]map[string]any)
		require.True(t, ok)
		require.Len(t, cs, 1)
	}
}

func TestPaginateRejectsExplicitOrderBy(t *testing.T) {
	drv, mgr, _ := setup(t)
	exec := &query.Executor{Driver: drv, Tables: mgr}

	_, err := exec.Paginate(context.Background(), query.Config{Table: "posts", OrderBy: "title"})
	require.Error(t, err)
}

func TestPaginateWalksPagesToCompletion(t *testing.T) {
	drv, mgr, _ := setup(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := drv.Insert(ctx, "posts", map[string]any{"title": "p", "authorId": "x"})
		require.NoError(t, err)
	}
	exec := &query.Executor{Driver: drv, Tables: mgr}

	seen := 0
	cursor := ""
	for {
		res, err := exec.Paginate(ctx, query.Config{Table: "posts", Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		seen += len(res.Rows)
		if res.IsDone {
			break
		}
		cursor = res.ContinueCursor
	}
	assert.Equal(t, 5, seen)
}

func TestExtrasComputedAfterHydration(t *testing.T) {
	drv, mgr, _ := setup(t)
	ctx := context.Background()
	_, err := drv.Insert(ctx, "posts", map[string]any{"title": "hello", "authorId": "x"})
	require.NoError(t, err)

	exec := &query.Executor{Driver: drv, Tables: mgr}
	rows, err := exec.FindMany(ctx, query.Config{
		Table: "posts",
		Extras: map[string]func(map[string]any) (any, error){
			"shout": func(row map[string]any) (any, error) {
				return row["title"].(string) + "!", nil
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello!", rows[0]["shout"])
}
