package sqlstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/storage"
)

func articles() *Table {
	return &Table{
		Type: "Article",
		Name: "articles",
		Columns: []Column{
			{Name: "title", Kind: KindText},
			{Name: "score", Kind: KindInteger},
			{Name: "tags", Kind: KindJSON},
			{Name: "published_at", Kind: KindTime},
		},
		Fields: map[string]string{"published": "published_at"},
	}
}

func TestBuilder_Filters(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		filter  storage.Filter
		sql     string
		args    []any
	}{
		{
			name:    "eq postgres",
			dialect: Postgres,
			filter:  storage.Filter{Field: "title", Op: storage.OpEq, Value: "Go"},
			sql:     `"title" = $1`,
			args:    []any{"Go"},
		},
		{
			name:    "eq null",
			dialect: Postgres,
			filter:  storage.Filter{Field: "title", Op: storage.OpEq, Value: nil},
			sql:     `"title" IS NULL`,
		},
		{
			name:    "gte number sqlite",
			dialect: SQLite,
			filter:  storage.Filter{Field: "score", Op: storage.OpGte, Value: json.Number("3")},
			sql:     `"score" >= ?`,
			args:    []any{int64(3)},
		},
		{
			name:    "mapped field",
			dialect: Postgres,
			filter:  storage.Filter{Field: "published", Op: storage.OpExists, Value: false},
			sql:     `"published_at" IS NULL`,
		},
		{
			name:    "nin sqlite",
			dialect: SQLite,
			filter:  storage.Filter{Field: "id", Op: storage.OpNin, Value: []any{"a", "b"}},
			sql:     `NOT ("id" IN (?, ?))`,
			args:    []any{"a", "b"},
		},
		{
			name:    "empty in",
			dialect: SQLite,
			filter:  storage.Filter{Field: "id", Op: storage.OpIn, Value: []any{}},
			sql:     `1 = 0`,
		},
		{
			name:    "contains postgres",
			dialect: Postgres,
			filter:  storage.Filter{Field: "title", Op: storage.OpContains, Value: "50%"},
			sql:     `"title" LIKE $1 ESCAPE '\'`,
			args:    []any{`%50\%%`},
		},
		{
			name:    "startswith sqlite",
			dialect: SQLite,
			filter:  storage.Filter{Field: "title", Op: storage.OpStartsWith, Value: "a*"},
			sql:     `"title" GLOB ?`,
			args:    []any{"a[*]*"},
		},
		{
			name:    "iexact",
			dialect: SQLite,
			filter:  storage.Filter{Field: "title", Op: storage.OpIExact, Value: "go"},
			sql:     `LOWER("title") = LOWER(?)`,
			args:    []any{"go"},
		},
		{
			name:    "match postgres",
			dialect: Postgres,
			filter:  storage.Filter{Field: "title", Op: storage.OpMatch, Value: "^G"},
			sql:     `"title" ~ $1`,
			args:    []any{"^G"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(tt.dialect, articles())
			require.NoError(t, b.filter("Article", tt.filter))
			require.Len(t, b.conds, 1)
			assert.Equal(t, tt.sql, b.conds[0])
			if tt.args == nil {
				assert.Empty(t, b.args)
			} else {
				assert.Equal(t, tt.args, b.args)
			}
		})
	}
}

func TestBuilder_UnsupportedFilters(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		filter  storage.Filter
		kind    apierrors.Kind
	}{
		{"unknown field", Postgres, storage.Filter{Field: "author", Op: storage.OpEq, Value: "1"}, apierrors.KindUnfilterableField},
		{"json column", Postgres, storage.Filter{Field: "tags", Op: storage.OpEq, Value: "x"}, apierrors.KindUnfilterableField},
		{"match on sqlite", SQLite, storage.Filter{Field: "title", Op: storage.OpMatch, Value: "x"}, apierrors.KindUnfilterableField},
		{"size", Postgres, storage.Filter{Field: "title", Op: storage.OpSize, Value: json.Number("1")}, apierrors.KindUnfilterableField},
		{"in without array", Postgres, storage.Filter{Field: "title", Op: storage.OpIn, Value: "x"}, apierrors.KindBadRequest},
		{"contains on number", Postgres, storage.Filter{Field: "score", Op: storage.OpContains, Value: "1"}, apierrors.KindUnfilterableField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(tt.dialect, articles())
			err := b.filter("Article", tt.filter)
			assert.True(t, apierrors.HasKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestBuilder_SelectSQL(t *testing.T) {
	b := newBuilder(Postgres, articles())
	require.NoError(t, b.filter("Article", storage.Filter{Field: "score", Op: storage.OpGt, Value: json.Number("1")}))
	require.NoError(t, b.orderBy("Article", storage.Sort{Field: "score", Descending: true}))
	require.NoError(t, b.orderBy("Article", storage.Sort{Field: "title"}))

	assert.Equal(t,
		`SELECT * FROM "articles" WHERE "score" > $1 ORDER BY "score" DESC, "title" ASC LIMIT $2 OFFSET $3`,
		b.selectSQL(10, 20))
	assert.Equal(t, []any{int64(1), 10, 20}, b.args)

	s := newBuilder(SQLite, articles())
	assert.Equal(t, `SELECT * FROM "articles" ORDER BY "id" ASC LIMIT -1 OFFSET ?`, s.selectSQL(0, 5))

	err := newBuilder(Postgres, articles()).orderBy("Article", storage.Sort{Field: "tags"})
	assert.True(t, apierrors.HasKind(err, apierrors.KindUnsortableField))
}

func TestBuilder_UpsertSQL(t *testing.T) {
	table := &Table{Type: "Tag", Name: "tags", Columns: []Column{{Name: "label", Kind: KindText}}}
	b := newBuilder(SQLite, table)

	sql := b.upsertSQL(map[string]any{"id": "t1", "label": "go"})
	assert.Equal(t,
		`INSERT INTO "tags" ("id", "label") VALUES (?, ?) ON CONFLICT ("id") DO UPDATE SET "label" = excluded."label"`,
		sql)
	assert.Equal(t, []any{"t1", "go"}, b.args)
}

func TestTable_CreateStatement(t *testing.T) {
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "articles" ("id" TEXT PRIMARY KEY, "title" TEXT, "score" BIGINT, "tags" TEXT, "published_at" TIMESTAMPTZ)`,
		articles().CreateStatement(Postgres))
	assert.Contains(t, articles().CreateStatement(SQLite), `"published_at" DATETIME`)
}

func TestEncodeDecode(t *testing.T) {
	type article struct {
		ID    string   `json:"id"`
		Title string   `json:"title"`
		Score int      `json:"score"`
		Tags  []string `json:"tags"`
	}
	table := articles()

	values, err := encode(table, &article{ID: "a1", Title: "Go", Score: 7, Tags: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "a1", values["id"])
	assert.Equal(t, int64(7), values["score"])
	assert.Equal(t, `["x"]`, values["tags"])
	assert.Nil(t, values["published_at"])

	data, err := decode(table, map[string]any{
		"id": "a1", "title": []byte("Go"), "score": int64(7), "tags": `["x"]`, "published_at": nil,
	})
	require.NoError(t, err)

	var got article
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, article{ID: "a1", Title: "Go", Score: 7, Tags: []string{"x"}}, got)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(assert.AnError))
	assert.True(t, IsRetryableError(errString("ERROR: deadlock detected (SQLSTATE 40P01)")))
	assert.True(t, IsRetryableError(errString("database is locked")))
	assert.False(t, IsRetryableError(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
