package serializer_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/blog"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
	"github.com/conduit-lang/japi/internal/orm/storage/memory"
	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/serializer"
)

func seededSession(t *testing.T) *storage.Session {
	t.Helper()
	ctx := context.Background()
	reg := blog.Registry()
	store := memory.New(reg)
	_, err := blog.Seed(ctx, reg, store)
	require.NoError(t, err)

	session, err := storage.Open(ctx, reg, store)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close(ctx) })
	return session
}

func get(t *testing.T, session *storage.Session, typename, id string) any {
	t.Helper()
	r, err := session.Get(context.Background(), schema.Identifier{Type: typename, ID: id}, true)
	require.NoError(t, err)
	return r
}

func marshal(t require.TestingT, v any) string {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestLinks(t *testing.T) {
	links := serializer.Links{BaseURI: "/api/"}
	assert.Equal(t, "/api/User", links.Collection("User"))
	assert.Equal(t, "/api/User/a%2Fb", links.Resource("User", "a/b"))
	assert.Equal(t, "/api/User/1/relationships/posts", links.Relationship("User", "1", "posts"))
	assert.Equal(t, "/api/User/1/posts", links.Related("User", "1", "posts"))
}

func TestSerializer_Resource(t *testing.T) {
	session := seededSession(t)
	s := serializer.New(session.Registry(), serializer.WithLinks(serializer.Links{BaseURI: "/api"}))

	obj, err := s.Resource(get(t, session, blog.TypePost, "1"), nil)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "Post",
		"id": "1",
		"attributes": {
			"body": "First post",
			"published": true,
			"tags": ["intro"],
			"title": "Hello",
			"views": 10
		},
		"relationships": {
			"author": {
				"data": {"type": "User", "id": "1"},
				"links": {"self": "/api/Post/1/relationships/author", "related": "/api/Post/1/author"}
			},
			"comments": {
				"data": [{"type": "Comment", "id": "1"}, {"type": "Comment", "id": "2"}],
				"links": {"self": "/api/Post/1/relationships/comments", "related": "/api/Post/1/comments"}
			}
		},
		"links": {"self": "/api/Post/1"}
	}`, marshal(t, obj))
}

func TestSerializer_SparseFieldsets(t *testing.T) {
	session := seededSession(t)
	s := serializer.New(session.Registry())
	post := get(t, session, blog.TypePost, "1")

	obj, err := s.Resource(post, []string{"title", "author", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Hello"}, obj.Attributes)
	assert.Len(t, obj.Relationships, 1)
	assert.Contains(t, obj.Relationships, "author")

	obj, err = s.Resource(post, []string{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "Post", "id": "1"}`, marshal(t, obj))
}

func TestSerializer_Resources(t *testing.T) {
	session := seededSession(t)
	s := serializer.New(session.Registry())

	users, err := session.Query(context.Background(), blog.TypeUser, storage.Query{})
	require.NoError(t, err)

	objs, err := s.Resources(users, serializer.Fieldsets{blog.TypeAdmin: {"level"}})
	require.NoError(t, err)
	require.Len(t, objs, 3)

	assert.Equal(t, "User", objs[0].Type)
	assert.Contains(t, objs[0].Attributes, "name")
	assert.Equal(t, "Admin", objs[2].Type)
	assert.Equal(t, map[string]any{"level": 2}, objs[2].Attributes)
}

func TestSerializer_Relationship(t *testing.T) {
	session := seededSession(t)
	s := serializer.New(session.Registry())

	rel, err := s.Relationship(get(t, session, blog.TypeUser, "2"), "posts")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": []}`, marshal(t, rel))

	rel, err = s.Relationship(&blog.Comment{ID: "9"}, "author")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": null}`, marshal(t, rel))

	rel, err = s.Relationship(get(t, session, blog.TypeComment, "1"), "author")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": {"type": "User", "id": "2"}}`, marshal(t, rel))

	_, err = s.Relationship(get(t, session, blog.TypeComment, "1"), "likes")
	assert.True(t, apierrors.HasKind(err, apierrors.KindRelationshipNotFound))
}

func TestSerializer_Deterministic(t *testing.T) {
	reg := blog.Registry()
	s := serializer.New(reg)
	names := []string{"title", "body", "tags", "published", "views", "author", "comments", "nope"}

	rapid.Check(t, func(rt *rapid.T) {
		post := &blog.Post{
			ID:         rapid.StringMatching(`[a-z0-9]{1,8}`).Draw(rt, "id"),
			Title:      rapid.String().Draw(rt, "title"),
			Tags:       rapid.SliceOf(rapid.String()).Draw(rt, "tags"),
			Views:      rapid.Int().Draw(rt, "views"),
			AuthorID:   rapid.StringMatching(`[0-9]{0,3}`).Draw(rt, "author"),
			CommentIDs: rapid.SliceOf(rapid.StringMatching(`[0-9]{1,3}`)).Draw(rt, "comments"),
		}
		var fields []string
		if rapid.Bool().Draw(rt, "sparse") {
			fields = rapid.SliceOfDistinct(rapid.SampledFrom(names), rapid.ID[string]).Draw(rt, "fields")
		}

		first, err := s.Resource(post, fields)
		require.NoError(rt, err)
		second, err := s.Resource(post, fields)
		require.NoError(rt, err)

		a, b := marshal(rt, first), marshal(rt, second)
		assert.Equal(rt, a, b)

		// Emitted members appear in sorted order.
		last := -1
		for _, name := range []string{"body", "published", "tags", "title", "views"} {
			if i := strings.Index(a, `"`+name+`":`); i >= 0 {
				assert.Greater(rt, i, last)
				last = i
			}
		}
		if fields != nil && len(fields) == 0 {
			assert.Nil(rt, first.Attributes)
			assert.Nil(rt, first.Relationships)
		}
	})
}

func TestSerializer_RoundTrip(t *testing.T) {
	reg := blog.Registry()
	s := serializer.New(reg)
	session, err := storage.Open(context.Background(), reg, memory.New(reg))
	require.NoError(t, err)
	defer session.Close(context.Background())
	u := serializer.NewUnserializer(session)

	postType, err := reg.Get(blog.TypePost)
	require.NoError(t, err)
	attributes := postType.AttributeNames()

	rapid.Check(t, func(rt *rapid.T) {
		post := &blog.Post{
			ID:        "1",
			Title:     rapid.String().Draw(rt, "title"),
			Body:      rapid.String().Draw(rt, "body"),
			Tags:      rapid.SliceOf(rapid.String()).Draw(rt, "tags"),
			Published: rapid.Bool().Draw(rt, "published"),
			Views:     rapid.IntRange(-1<<40, 1<<40).Draw(rt, "views"),
		}
		obj, err := s.Resource(post, attributes)
		require.NoError(rt, err)

		inbound, err := document.ParseResource([]byte(marshal(rt, document.New(obj))))
		require.NoError(rt, err)

		fresh := &blog.Post{ID: "1"}
		require.NoError(rt, u.Update(context.Background(), fresh, inbound))

		again, err := s.Resource(fresh, attributes)
		require.NoError(rt, err)
		assert.Equal(rt, marshal(rt, obj.Attributes), marshal(rt, again.Attributes))
	})
}
