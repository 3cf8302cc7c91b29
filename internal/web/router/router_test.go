package router_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/japi/internal/blog"
	"github.com/conduit-lang/japi/internal/orm/storage/memory"
	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/handler"
	"github.com/conduit-lang/japi/internal/web/middleware"
	"github.com/conduit-lang/japi/internal/web/router"
)

func newRouter(t *testing.T, prefix string, mws ...middleware.Middleware) *router.Router {
	t.Helper()
	reg := blog.Registry()
	store := memory.New(reg)
	_, err := blog.Seed(context.Background(), reg, store)
	require.NoError(t, err)

	api, err := handler.New(reg, store, handler.WithBaseURI(prefix))
	require.NoError(t, err)
	return router.New(api, prefix, mws...)
}

func serve(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", document.MediaType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var doc map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	}
	return rec, doc
}

func TestRouter_Endpoints(t *testing.T) {
	r := newRouter(t, "/api")

	tests := []struct {
		name   string
		target string
		check  func(t *testing.T, doc map[string]any)
	}{
		{
			name:   "collection",
			target: "/api/Post",
			check: func(t *testing.T, doc map[string]any) {
				assert.Len(t, doc["data"], 3)
			},
		},
		{
			name:   "resource",
			target: "/api/Post/1",
			check: func(t *testing.T, doc map[string]any) {
				data := doc["data"].(map[string]any)
				assert.Equal(t, "Post", data["type"])
				assert.Equal(t, "1", data["id"])
			},
		},
		{
			name:   "relationship",
			target: "/api/Post/1/relationships/author",
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, map[string]any{"type": "User", "id": "1"}, doc["data"])
			},
		},
		{
			name:   "related",
			target: "/api/Post/1/comments",
			check: func(t *testing.T, doc map[string]any) {
				assert.Len(t, doc["data"], 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, doc := serve(t, r, http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, document.MediaType, rec.Header().Get("Content-Type"))
			tt.check(t, doc)
		})
	}
}

func TestRouter_Create(t *testing.T) {
	r := newRouter(t, "/api")

	rec, doc := serve(t, r, http.MethodPost, "/api/Comment",
		`{"data":{"type":"Comment","attributes":{"text":"Hi"},"relationships":{"post":{"data":{"type":"Post","id":"2"}}}}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	id := doc["data"].(map[string]any)["id"].(string)
	assert.Equal(t, "/api/Comment/"+id, rec.Header().Get("Location"))

	rec, doc = serve(t, r, http.MethodGet, "/api/Comment/"+id+"/relationships/post", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"type": "Post", "id": "2"}, doc["data"])
}

func TestRouter_UnknownPath(t *testing.T) {
	r := newRouter(t, "/api")

	for _, target := range []string{"/", "/other/Post", "/api/Post/1/comments/extra/path"} {
		rec, doc := serve(t, r, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Equal(t, document.MediaType, rec.Header().Get("Content-Type"))
		require.NotNil(t, doc["errors"], target)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r := newRouter(t, "/api")

	rec, _ := serve(t, r, http.MethodPut, "/api/Post/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD, PATCH, DELETE", rec.Header().Get("Allow"))
}

func TestRouter_EscapedID(t *testing.T) {
	r := newRouter(t, "/api")

	rec, doc := serve(t, r, http.MethodPost, "/api/User",
		`{"data":{"type":"User","id":"a/b","attributes":{"name":"Slash"}}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "a/b", doc["data"].(map[string]any)["id"])

	rec, doc = serve(t, r, http.MethodGet, "/api/User/a%2Fb", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Slash", doc["data"].(map[string]any)["attributes"].(map[string]any)["name"])
}

func TestRouter_NoPrefix(t *testing.T) {
	r := newRouter(t, "")

	rec, doc := serve(t, r, http.MethodGet, "/User/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", doc["data"].(map[string]any)["id"])
}

func TestRouter_Routes(t *testing.T) {
	r := newRouter(t, "/api/")

	routes := r.Routes()
	require.Len(t, routes, 4)

	assert.Equal(t, "/api/{type}", routes[0].Pattern)
	assert.Equal(t, handler.CollectionEndpoint, routes[0].Kind)
	assert.Equal(t, []string{"type"}, routes[0].Parameters)

	assert.Equal(t, "/api/{type}/{id}/relationships/{relationship}", routes[2].Pattern)
	assert.Equal(t, []string{"type", "id", "relationship"}, routes[2].Parameters)
	assert.Contains(t, routes[2].Methods, http.MethodPost)

	assert.Equal(t, handler.RelatedEndpoint, routes[3].Kind)
	assert.NotContains(t, routes[3].Methods, http.MethodPost)
}

func TestRouter_Middleware(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	r := newRouter(t, "/api", tag("first"), tag("second"), middleware.RequestID())

	rec, _ := serve(t, r, http.MethodGet, "/api/User", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	order = nil
	rec, _ = serve(t, r, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRouter_Mount(t *testing.T) {
	r := newRouter(t, "/api")
	r.Mount("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEndpointLabel(t *testing.T) {
	metrics := middleware.NewMetrics("japi")
	r := newRouter(t, "/api", metrics.Instrument(router.EndpointLabel))

	serve(t, r, http.MethodGet, "/api/Post/1", "")
	serve(t, r, http.MethodGet, "/api/Post/2", "")
	serve(t, r, http.MethodGet, "/missing", "")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `japi_http_requests_total{endpoint="/api/{type}/{id}",method="GET",status="200"} 2`)
	assert.Contains(t, body, `endpoint="unmatched"`)
}

// brokenWriter fails every body write
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (b brokenWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestRouter_LogsWriteFailures(t *testing.T) {
	reg := blog.Registry()
	store := memory.New(reg)
	_, err := blog.Seed(context.Background(), reg, store)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	api, err := handler.New(reg, store, handler.WithBaseURI("/api"), handler.WithLogger(zap.New(core)))
	require.NoError(t, err)
	r := router.New(api, "/api")

	w := brokenWriter{httptest.NewRecorder()}
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/Post/1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("failed to write response").Len())
}
