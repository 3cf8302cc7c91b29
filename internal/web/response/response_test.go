package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/web/document"
)

func TestDocument(t *testing.T) {
	doc := document.New(&document.Resource{Type: "User", ID: "1"})

	resp, err := Document(http.StatusOK, doc, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, document.MediaType, resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{
		"data": {"type": "User", "id": "1"},
		"jsonapi": {"version": "1.0", "meta": {"japi-version": "`+document.EngineVersion+`"}}
	}`, string(resp.Body))

	rec := httptest.NewRecorder()
	require.NoError(t, resp.Location("/api/User/1").Write(rec))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/User/1", rec.Header().Get("Location"))
	assert.Equal(t, string(resp.Body), rec.Body.String())
}

func TestError(t *testing.T) {
	resp, err := Error(apierrors.MethodNotAllowed("PUT"), false)
	require.NoError(t, err)
	resp.Allow("GET", "HEAD")

	rec := httptest.NewRecorder()
	require.NoError(t, resp.Write(rec))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
	assert.Contains(t, rec.Body.String(), `"status":"405"`)
}

func TestError_NonAPIError(t *testing.T) {
	boom := errors.New("boom")
	resp, err := Error(boom, false)
	assert.Nil(t, resp)
	assert.Same(t, boom, err)
}

func TestNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, NoContent().Write(rec))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWithoutBody(t *testing.T) {
	resp, err := Document(http.StatusOK, document.New(nil), false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, resp.WithoutBody().Write(rec))
	assert.Equal(t, document.MediaType, rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.String())
}

func TestPaginationMeta(t *testing.T) {
	assert.Equal(t, map[string]any{
		"total-pages":     3,
		"total-resources": 21,
		"page":            2,
		"page-size":       10,
	}, PaginationMeta(2, 10, 21))

	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 0, TotalPages(10, 0))
}

func TestBuildPaginationLinks(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		total    int
		wantPrev bool
		wantNext bool
		last     string
	}{
		{"first page", 1, 25, false, true, "page%5Bnumber%5D=3"},
		{"middle page", 2, 25, true, true, "page%5Bnumber%5D=3"},
		{"last page", 3, 25, true, false, "page%5Bnumber%5D=3"},
		{"beyond last page", 5, 25, true, false, "page%5Bnumber%5D=3"},
		{"empty collection", 1, 0, false, false, "page%5Bnumber%5D=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := BuildPaginationLinks("/api/Post?sort=-views", tt.page, 10, tt.total)
			require.NotNil(t, links)
			assert.Contains(t, links.Self, "sort=-views")
			assert.Contains(t, links.First, "page%5Bnumber%5D=1")
			assert.Contains(t, links.Last, tt.last)
			assert.Equal(t, tt.wantPrev, links.Prev != "")
			assert.Equal(t, tt.wantNext, links.Next != "")
		})
	}
}

func TestBuildPaginationLinks_WireKeys(t *testing.T) {
	doc := document.New([]*document.Resource{})
	doc.Links = BuildPaginationLinks("/api/Post", 2, 10, 25)

	data, err := doc.Marshal(false)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"prev":"/api/Post?page%5Bnumber%5D=1\u0026page%5Bsize%5D=10"`)
	assert.NotContains(t, string(data), `"previous"`)
}

func TestBuildPageURL(t *testing.T) {
	assert.Equal(t, "/api/Post?page%5Bnumber%5D=2&page%5Bsize%5D=5", buildPageURL("/api/Post", 2, 5))
	assert.Equal(t, "http://example.com/api/Post?page%5Bnumber%5D=1&page%5Bsize%5D=5&sort=title",
		buildPageURL("http://example.com/api/Post?sort=title", 1, 5))
}
