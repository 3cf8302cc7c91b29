package document_test

import (
	"encoding/json"
	"testing"

	"github.com/DataDog/jsonapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/web/document"
)

func TestLinkage_MarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		linkage document.Linkage
		want    string
	}{
		{"empty to-one", document.ToOne(schema.Identifier{}), `null`},
		{"to-one", document.ToOne(schema.Identifier{Type: "User", ID: "1"}), `{"type":"User","id":"1"}`},
		{"empty to-many", document.ToMany(nil), `[]`},
		{"to-many", document.ToMany([]schema.Identifier{{Type: "Post", ID: "7"}}), `[{"type":"Post","id":"7"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.linkage)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestDocument_Marshal(t *testing.T) {
	doc := document.New(&document.Resource{
		Type:       "User",
		ID:         "1",
		Attributes: map[string]any{"name": "Alice", "email": "a@example.com"},
		Relationships: map[string]*document.Relationship{
			"posts": {Data: document.ToMany(nil)},
		},
		Links: &jsonapi.Link{Self: "/api/User/1"},
	})
	doc.AddMeta("count", 1)

	data, err := doc.Marshal(false)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"data": {
			"type": "User",
			"id": "1",
			"attributes": {"email": "a@example.com", "name": "Alice"},
			"relationships": {"posts": {"data": []}},
			"links": {"self": "/api/User/1"}
		},
		"meta": {"count": 1},
		"jsonapi": {"version": "1.0", "meta": {"japi-version": "`+document.EngineVersion+`"}}
	}`, string(data))

	// Attribute keys are emitted in sorted order.
	assert.Less(t, indexOf(string(data), `"email"`), indexOf(string(data), `"name"`))
}

func TestDocument_NullData(t *testing.T) {
	data, err := document.New(nil).Marshal(true)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data": null`)
}

func TestDocument_OmitsEmptyMembers(t *testing.T) {
	data, err := json.Marshal(&document.Resource{Type: "User", ID: "1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"User","id":"1"}`, string(data))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestParseResource(t *testing.T) {
	obj, err := document.ParseResource([]byte(`{
		"data": {
			"type": "Post",
			"attributes": {"title": "Hi", "views": 3},
			"relationships": {
				"author": {"data": {"type": "User", "id": "1"}},
				"comments": {"data": []},
				"editor": {"data": null},
				"tags": {"links": {"related": "/x"}}
			}
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Post", obj.Type)
	assert.False(t, obj.HasID)
	assert.Equal(t, "Hi", obj.Attributes["title"])
	assert.Equal(t, json.Number("3"), obj.Attributes["views"])

	author := obj.Relationships["author"]
	assert.True(t, author.HasData)
	assert.Equal(t, []schema.Identifier{{Type: "User", ID: "1"}}, author.Data.IDs)
	assert.False(t, author.Data.Many)

	assert.True(t, obj.Relationships["comments"].Data.Many)
	assert.True(t, obj.Relationships["editor"].Data.IsNull())
	assert.False(t, obj.Relationships["tags"].HasData)
}

func TestParseResource_ClientID(t *testing.T) {
	obj, err := document.ParseResource([]byte(`{"data": {"type": "User", "id": "42"}}`))
	require.NoError(t, err)
	assert.True(t, obj.HasID)
	assert.Equal(t, "42", obj.ID)
}

func TestParseResource_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    apierrors.Kind
		pointer string
	}{
		{"not json", `{"data":`, apierrors.KindBadRequest, ""},
		{"not an object", `[]`, apierrors.KindInvalidDocument, ""},
		{"missing data", `{"meta": {}}`, apierrors.KindInvalidDocument, ""},
		{"data not an object", `{"data": 1}`, apierrors.KindInvalidDocument, "/data"},
		{"unknown member", `{"data": {"type": "User", "foo": 1}}`, apierrors.KindInvalidDocument, "/data"},
		{"missing type", `{"data": {"id": "1"}}`, apierrors.KindInvalidDocument, "/data"},
		{"type not a string", `{"data": {"type": 1}}`, apierrors.KindInvalidDocument, "/data/type"},
		{"id not a string", `{"data": {"type": "User", "id": 42}}`, apierrors.KindInvalidDocument, "/data/id"},
		{"attributes not an object", `{"data": {"type": "User", "attributes": []}}`, apierrors.KindInvalidDocument, "/data/attributes"},
		{"reserved attribute", `{"data": {"type": "User", "attributes": {"type": "x"}}}`, apierrors.KindInvalidDocument, "/data/attributes/type"},
		{"empty relationship", `{"data": {"type": "Post", "relationships": {"author": {}}}}`, apierrors.KindInvalidDocument, "/data/relationships/author"},
		{
			"relationship member",
			`{"data": {"type": "Post", "relationships": {"author": {"data": null, "foo": 1}}}}`,
			apierrors.KindInvalidDocument, "/data/relationships/author",
		},
		{
			"linkage not an identifier",
			`{"data": {"type": "Post", "relationships": {"author": {"data": "1"}}}}`,
			apierrors.KindInvalidDocument, "/data/relationships/author/data",
		},
		{
			"identifier without id",
			`{"data": {"type": "Post", "relationships": {"comments": {"data": [{"type": "Comment", "id": "1"}, {"type": "Comment"}]}}}}`,
			apierrors.KindInvalidDocument, "/data/relationships/comments/data/1",
		},
		{
			"escaped pointer",
			`{"data": {"type": "Post", "relationships": {"a/b": {"data": 1}}}}`,
			apierrors.KindInvalidDocument, "/data/relationships/a~1b/data",
		},
		{"links not an object", `{"data": {"type": "User", "links": "x"}}`, apierrors.KindInvalidDocument, "/data/links"},
		{"href not a string", `{"data": {"type": "User", "links": {"self": {"href": 1}}}}`, apierrors.KindInvalidDocument, "/data/links/self/href"},
		{"meta not an object", `{"data": {"type": "User", "meta": 1}}`, apierrors.KindInvalidDocument, "/data/meta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := document.ParseResource([]byte(tt.body))
			require.Error(t, err)

			var apiErr *apierrors.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, tt.pointer, apiErr.SourcePointer)
		})
	}
}

func TestParseLinkage(t *testing.T) {
	l, err := document.ParseLinkage([]byte(`{"data": [{"type": "Post", "id": "7"}]}`))
	require.NoError(t, err)
	assert.True(t, l.Many)
	assert.Equal(t, []schema.Identifier{{Type: "Post", ID: "7"}}, l.IDs)

	l, err = document.ParseLinkage([]byte(`{"data": null}`))
	require.NoError(t, err)
	assert.True(t, l.IsNull())

	_, err = document.ParseLinkage([]byte(`{"data": [{"type": "Post", "id": "7", "x": 1}]}`))
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "/data/0", apiErr.SourcePointer)
}
