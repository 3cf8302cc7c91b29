package serializer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/blog"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/serializer"
)

func parse(t *testing.T, body string) *document.ResourceObject {
	t.Helper()
	obj, err := document.ParseResource([]byte(body))
	require.NoError(t, err)
	return obj
}

func linkage(t *testing.T, body string) document.Linkage {
	t.Helper()
	l, err := document.ParseLinkage([]byte(body))
	require.NoError(t, err)
	return l
}

func apiError(t *testing.T, err error) *apierrors.Error {
	t.Helper()
	var e *apierrors.Error
	require.ErrorAs(t, err, &e)
	return e
}

func pointers(t *testing.T, err error) []string {
	t.Helper()
	var list *apierrors.ErrorList
	require.ErrorAs(t, err, &list)
	out := make([]string, len(list.Errors))
	for i, e := range list.Errors {
		out[i] = e.SourcePointer
	}
	return out
}

func TestUnserializer_Create(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()

	r, err := u.Create(ctx, blog.TypeUser, parse(t, `{"data": {"type": "User", "attributes": {"name": "Homer"}}}`))
	require.NoError(t, err)
	user := r.(*blog.User)
	assert.Equal(t, "Homer", user.Name)
	assert.Empty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
}

func TestUnserializer_CreateWithRelationships(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()
	before := session.Stats().Fetches

	r, err := u.Create(ctx, blog.TypeComment, parse(t, `{"data": {
		"type": "Comment",
		"attributes": {"text": "Nice"},
		"relationships": {
			"author": {"data": {"type": "User", "id": "3"}},
			"post": {"data": {"type": "Post", "id": "1"}}
		}
	}}`))
	require.NoError(t, err)

	comment := r.(*blog.Comment)
	assert.Equal(t, "Nice", comment.Text)
	assert.Equal(t, "3", comment.AuthorID)
	assert.Equal(t, "1", comment.PostID)
	assert.Equal(t, 1, session.Stats().Fetches-before, "relatives are fetched in one batch")
}

func TestUnserializer_CreateSubtype(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)

	r, err := u.Create(context.Background(), blog.TypeUser,
		parse(t, `{"data": {"type": "Admin", "attributes": {"name": "Root", "level": 9}}}`))
	require.NoError(t, err)
	assert.Equal(t, 9, r.(*blog.Admin).Level)
}

func TestUnserializer_CreateClientID(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()

	r, err := u.Create(ctx, blog.TypeUser, parse(t, `{"data": {"type": "User", "id": "42", "attributes": {"name": "Ned"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "42", r.(*blog.User).ID)

	_, err = u.Create(ctx, blog.TypePost, parse(t, `{"data": {"type": "Post", "id": "42"}}`))
	e := apiError(t, err)
	assert.Equal(t, apierrors.KindForbidden, e.Kind)
	assert.Equal(t, "/data/id", e.SourcePointer)

	_, err = u.Create(ctx, blog.TypeUser, parse(t, `{"data": {"type": "User", "id": "1"}}`))
	e = apiError(t, err)
	assert.Equal(t, apierrors.KindConflict, e.Kind)
}

func TestUnserializer_CreateErrors(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()

	t.Run("type mismatch", func(t *testing.T) {
		_, err := u.Create(ctx, blog.TypeUser, parse(t, `{"data": {"type": "Post"}}`))
		e := apiError(t, err)
		assert.Equal(t, 409, e.Status)
		assert.Equal(t, "/data/type", e.SourcePointer)
	})

	t.Run("unknown fields", func(t *testing.T) {
		_, err := u.Create(ctx, blog.TypeUser, parse(t, `{"data": {
			"type": "User",
			"attributes": {"nick": "x"},
			"relationships": {"friends": {"data": []}}
		}}`))
		assert.Equal(t, []string{"/data/attributes/nick", "/data/relationships/friends"}, pointers(t, err))
		assert.Equal(t, 400, apierrors.StatusOf(err))
	})

	t.Run("wrong cardinality", func(t *testing.T) {
		_, err := u.Create(ctx, blog.TypeComment, parse(t, `{"data": {
			"type": "Comment",
			"relationships": {"author": {"data": [{"type": "User", "id": "1"}]}}
		}}`))
		e := apiError(t, err)
		assert.Equal(t, apierrors.KindInvalidDocument, e.Kind)
		assert.Equal(t, "/data/relationships/author/data", e.SourcePointer)
	})

	t.Run("dangling references", func(t *testing.T) {
		_, err := u.Create(ctx, blog.TypeComment, parse(t, `{"data": {
			"type": "Comment",
			"relationships": {
				"author": {"data": {"type": "User", "id": "99"}},
				"post": {"data": {"type": "Post", "id": "98"}}
			}
		}}`))
		assert.Equal(t, []string{"/data/relationships/author/data", "/data/relationships/post/data"}, pointers(t, err))
		assert.Equal(t, 404, apierrors.StatusOf(err))
	})

	t.Run("collects field errors", func(t *testing.T) {
		_, err := u.Create(ctx, blog.TypePost, parse(t, `{"data": {
			"type": "Post",
			"attributes": {"views": "many", "title": "ok"},
			"relationships": {"comments": {"data": [{"type": "Comment", "id": "1"}]}}
		}}`))
		assert.ElementsMatch(t, []string{"/data/attributes/views", "/data/relationships/comments"}, pointers(t, err))
		assert.Equal(t, 400, apierrors.StatusOf(err))
		assert.True(t, apierrors.HasKind(err, apierrors.KindReadOnlyRelationship))
	})

	t.Run("read-only attribute", func(t *testing.T) {
		_, err := u.Create(ctx, blog.TypeUser, parse(t, `{"data": {"type": "User", "attributes": {"created_at": "2024-01-01T00:00:00Z"}}}`))
		e := apiError(t, err)
		assert.Equal(t, apierrors.KindReadOnlyAttribute, e.Kind)
		assert.Equal(t, 403, e.Status)
	})
}

func TestUnserializer_Update(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()
	post := get(t, session, blog.TypePost, "2").(*blog.Post)

	err := u.Update(ctx, post, parse(t, `{"data": {
		"type": "Post",
		"id": "2",
		"attributes": {"title": "Done", "published": true},
		"relationships": {"author": {"data": {"type": "User", "id": "2"}}}
	}}`))
	require.NoError(t, err)
	assert.Equal(t, "Done", post.Title)
	assert.True(t, post.Published)
	assert.Equal(t, "Unfinished", post.Body)
	assert.Equal(t, "2", post.AuthorID)

	err = u.Update(ctx, post, parse(t, `{"data": {"type": "Post", "id": "2", "relationships": {"author": {"data": null}}}}`))
	require.NoError(t, err)
	assert.Empty(t, post.AuthorID)
}

func TestUnserializer_UpdateSubtypeByParentType(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	admin := get(t, session, blog.TypeUser, "3").(*blog.Admin)

	err := u.Update(context.Background(), admin, parse(t, `{"data": {"type": "User", "id": "3", "attributes": {"level": 5}}}`))
	require.NoError(t, err)
	assert.Equal(t, 5, admin.Level)
}

func TestUnserializer_UpdateErrors(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()
	user := get(t, session, blog.TypeUser, "1")

	tests := []struct {
		name    string
		body    string
		kind    apierrors.Kind
		pointer string
	}{
		{"missing id", `{"data": {"type": "User"}}`, apierrors.KindInvalidDocument, "/data"},
		{"id mismatch", `{"data": {"type": "User", "id": "2"}}`, apierrors.KindConflict, "/data/id"},
		{"type mismatch", `{"data": {"type": "Post", "id": "1"}}`, apierrors.KindConflict, "/data/type"},
		{"read-only", `{"data": {"type": "User", "id": "1", "attributes": {"created_at": null}}}`, apierrors.KindReadOnlyAttribute, "/data/attributes/created_at"},
		{"bad value", `{"data": {"type": "User", "id": "1", "attributes": {"name": 12}}}`, apierrors.KindBadRequest, "/data/attributes/name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := apiError(t, u.Update(ctx, user, parse(t, tt.body)))
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.pointer, e.SourcePointer)
		})
	}
	assert.Equal(t, "Alice", user.(*blog.User).Name)
}

func TestUnserializer_ReplaceRelationship(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()
	user := get(t, session, blog.TypeUser, "1").(*blog.User)

	for i := 0; i < 2; i++ {
		require.NoError(t, u.ReplaceRelationship(ctx, user, "posts", linkage(t, `{"data": [{"type": "Post", "id": "3"}]}`)))
		assert.Equal(t, []string{"3"}, user.PostIDs)
	}

	comment := get(t, session, blog.TypeComment, "1").(*blog.Comment)
	require.NoError(t, u.ReplaceRelationship(ctx, comment, "author", linkage(t, `{"data": null}`)))
	assert.Empty(t, comment.AuthorID)

	err := u.ReplaceRelationship(ctx, comment, "author", linkage(t, `{"data": []}`))
	assert.Equal(t, apierrors.KindInvalidDocument, apiError(t, err).Kind)

	err = u.ReplaceRelationship(ctx, get(t, session, blog.TypePost, "1"), "comments", linkage(t, `{"data": []}`))
	assert.Equal(t, 403, apiError(t, err).Status)

	err = u.ReplaceRelationship(ctx, user, "posts", linkage(t, `{"data": [{"type": "Post", "id": "1"}, {"type": "Post", "id": "77"}]}`))
	e := apiError(t, err)
	assert.Equal(t, apierrors.KindResourceNotFound, e.Kind)
	assert.Equal(t, "/data/1", e.SourcePointer)

	err = u.ReplaceRelationship(ctx, user, "friends", linkage(t, `{"data": []}`))
	assert.Equal(t, apierrors.KindRelationshipNotFound, apiError(t, err).Kind)
}

func TestUnserializer_ExtendAndClear(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)
	ctx := context.Background()

	bob := get(t, session, blog.TypeUser, "2").(*blog.User)
	require.NoError(t, u.ExtendRelationship(ctx, bob, "posts", linkage(t, `{"data": [{"type": "Post", "id": "1"}, {"type": "Post", "id": "2"}]}`)))
	assert.Equal(t, []string{"1", "2"}, bob.PostIDs)

	err := u.ExtendRelationship(ctx, get(t, session, blog.TypeComment, "1"), "author", linkage(t, `{"data": {"type": "User", "id": "1"}}`))
	assert.Equal(t, 405, apiError(t, err).Status)

	require.NoError(t, u.ClearRelationship(bob, "posts"))
	assert.Empty(t, bob.PostIDs)

	err = u.ClearRelationship(get(t, session, blog.TypePost, "1"), "comments")
	assert.Equal(t, apierrors.KindReadOnlyRelationship, apiError(t, err).Kind)
}

func TestUnserializer_Relatives(t *testing.T) {
	session := seededSession(t)
	u := serializer.NewUnserializer(session)

	relatives, err := u.Relatives(context.Background(), document.ToMany([]schema.Identifier{
		{Type: blog.TypeUser, ID: "3"},
		{Type: blog.TypeUser, ID: "1"},
	}))
	require.NoError(t, err)
	require.Len(t, relatives, 2)
	assert.IsType(t, &blog.Admin{}, relatives[0])
	assert.Equal(t, "Alice", relatives[1].(*blog.User).Name)
}
