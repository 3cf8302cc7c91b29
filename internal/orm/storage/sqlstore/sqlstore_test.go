package sqlstore_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/japi/internal/blog"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
	"github.com/conduit-lang/japi/internal/orm/storage/sqlstore"
)

var userColumns = []string{"id", "name", "email", "created_at", "post_ids"}

func mockStore(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := sqlstore.New(db, sqlstore.Postgres, blog.Registry(), blog.Tables(),
		sqlstore.WithIDGenerator(func() string { return "new-id" }))
	require.NoError(t, err)
	return store, mock
}

func TestNew_RejectsUnknownTypes(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = sqlstore.New(db, sqlstore.Postgres, blog.Registry(), []*sqlstore.Table{{Type: "Ghost", Name: "ghosts"}})
	assert.ErrorContains(t, err, "unknown type Ghost")
}

func TestParseDialect(t *testing.T) {
	d, err := sqlstore.ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.DriverName())

	d, err = sqlstore.ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d.DriverName())

	_, err = sqlstore.ParseDialect("oracle")
	assert.Error(t, err)
}

func TestStore_GetManyPostgres(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "id" = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("1", "Alice", "alice@example.com", created, `["1","2"]`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "admins" WHERE "id" = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(append(userColumns, "level")).
			AddRow("3", "Carol", "carol@example.com", created, `["3"]`, int64(2)))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	alice := schema.Identifier{Type: blog.TypeUser, ID: "1"}
	carol := schema.Identifier{Type: blog.TypeUser, ID: "3"}
	found, err := tx.GetMany(ctx, []schema.Identifier{alice, carol})
	require.NoError(t, err)

	require.IsType(t, &blog.User{}, found[alice])
	assert.Equal(t, []string{"1", "2"}, found[alice].(*blog.User).PostIDs)
	assert.Equal(t, created, found[alice].(*blog.User).CreatedAt)
	require.IsType(t, &blog.Admin{}, found[carol])
	assert.Equal(t, 2, found[carol].(*blog.Admin).Level)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryPostgres(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "posts" WHERE "published" = $1 ORDER BY "views" DESC LIMIT $2 OFFSET $3`)).
		WithArgs(true, 2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "body", "tags", "published", "views", "author_id", "comment_ids"}).
			AddRow("1", "Hello", "First post", `["intro"]`, true, int64(10), "1", `["1","2"]`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "posts" WHERE "published" = $1`)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	filters := []storage.Filter{{Field: "published", Op: storage.OpEq, Value: true}}
	posts, err := tx.Query(ctx, blog.TypePost, storage.Query{
		Filters: filters,
		Sort:    []storage.Sort{{Field: "views", Descending: true}},
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	post := posts[0].(*blog.Post)
	assert.Equal(t, "Hello", post.Title)
	assert.Equal(t, []string{"intro"}, post.Tags)
	assert.True(t, post.Published)

	n, err := tx.QuerySize(ctx, blog.TypePost, filters)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitPostgres(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "comments" WHERE "id" = $1`)).
		WithArgs("2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO "comments" ("id", "text", "author_id", "author_type", "post_id") VALUES ($1, $2, $3, $4, $5) ON CONFLICT ("id") DO UPDATE SET`)).
		WithArgs("new-id", "hi", "", "", "2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	comment := &blog.Comment{Text: "hi", PostID: "2"}
	require.NoError(t, tx.Delete(ctx, &blog.Comment{ID: "2"}))
	require.NoError(t, tx.Save(ctx, comment))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, "new-id", comment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitRollsBackOnFailure(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "comments"`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Save(ctx, &blog.Comment{ID: "9", Text: "x"}))

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SQLite(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := sqlstore.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	reg := blog.Registry()
	store, err := sqlstore.New(db, dialect, reg, blog.Tables())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	n, err := blog.Seed(ctx, reg, store)
	require.NoError(t, err)
	assert.Equal(t, len(blog.Fixtures()), n)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	users, err := tx.Query(ctx, blog.TypeUser, storage.Query{Sort: []storage.Sort{{Field: "name", Descending: true}}})
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.IsType(t, &blog.Admin{}, users[0])

	posts, err := tx.Query(ctx, blog.TypePost, storage.Query{
		Filters: []storage.Filter{
			{Field: "title", Op: storage.OpIContains, Value: "L"},
			{Field: "published", Op: storage.OpEq, Value: true},
		},
		Sort: []storage.Sort{{Field: "views"}},
	})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "Hello", posts[0].(*blog.Post).Title)
	assert.Equal(t, []string{"meta", "intro"}, posts[1].(*blog.Post).Tags)

	posts, err = tx.Query(ctx, blog.TypePost, storage.Query{
		Filters: []storage.Filter{{Field: "title", Op: storage.OpContains, Value: "l"}},
	})
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	count, err := tx.QuerySize(ctx, blog.TypeUser, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	found, err := tx.GetMany(ctx, []schema.Identifier{{Type: blog.TypeUser, ID: "3"}})
	require.NoError(t, err)
	admin := found[schema.Identifier{Type: blog.TypeUser, ID: "3"}].(*blog.Admin)
	assert.Equal(t, "Carol", admin.Name)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), admin.CreatedAt.UTC())
}
