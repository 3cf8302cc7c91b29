// Package router mounts the JSON:API dispatcher on a chi router and keeps
// a list of the mounted routes for introspection.
package router

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/web/handler"
	"github.com/conduit-lang/japi/internal/web/middleware"
)

// Router serves the API below a prefix
type Router struct {
	mux    chi.Router
	api    *handler.API
	prefix string

	// For introspection and debugging
	routes []RouteInfo
}

// RouteInfo describes one mounted route
type RouteInfo struct {
	Pattern    string
	Kind       handler.EndpointKind
	Methods    []string
	Parameters []string
}

// New mounts api below prefix. Middleware runs in the given order for
// every request, including unmatched ones.
func New(api *handler.API, prefix string, middlewares ...middleware.Middleware) *Router {
	r := &Router{
		mux:    chi.NewRouter(),
		api:    api,
		prefix: "/" + strings.Trim(prefix, "/"),
	}
	if r.prefix == "/" {
		r.prefix = ""
	}

	for _, m := range middlewares {
		r.mux.Use(m)
	}

	mountAt := r.prefix
	if mountAt == "" {
		mountAt = "/"
	}
	r.mux.Route(mountAt, func(sub chi.Router) {
		r.endpoint(sub, "/{type}", handler.CollectionEndpoint)
		r.endpoint(sub, "/{type}/{id}", handler.ResourceEndpoint)
		r.endpoint(sub, "/{type}/{id}/relationships/{relationship}", handler.RelationshipEndpoint)
		r.endpoint(sub, "/{type}/{id}/{relationship}", handler.RelatedEndpoint)
	})
	r.mux.NotFound(r.notFound)
	r.mux.MethodNotAllowed(r.notFound)
	return r
}

// endpoint mounts one URL shape for every verb. The dispatcher answers
// verbs the endpoint does not support with 405.
func (r *Router) endpoint(sub chi.Router, pattern string, kind handler.EndpointKind) {
	sub.HandleFunc(pattern, func(w http.ResponseWriter, req *http.Request) {
		ep, err := endpointOf(req, kind)
		if err != nil {
			r.api.WriteError(w, err)
			return
		}
		r.serve(w, req, ep)
	})

	r.routes = append(r.routes, RouteInfo{
		Pattern:    r.prefix + pattern,
		Kind:       kind,
		Methods:    kind.Methods(),
		Parameters: extractParameters(pattern),
	})
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request, ep handler.Endpoint) {
	apiReq, err := r.api.ReadRequest(w, req)
	if err != nil {
		r.api.WriteError(w, err)
		return
	}
	resp, err := r.api.HandleEndpoint(apiReq, ep)
	if err != nil {
		r.api.WriteError(w, err)
		return
	}
	r.api.WriteResponse(w, resp)
}

func (r *Router) notFound(w http.ResponseWriter, req *http.Request) {
	r.api.WriteError(w, apierrors.NotFound("The path '"+req.URL.Path+"' does not name an endpoint."))
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Mount attaches another handler, e.g. the metrics endpoint
func (r *Router) Mount(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

// Routes returns the mounted API routes for introspection
func (r *Router) Routes() []RouteInfo {
	out := make([]RouteInfo, len(r.routes))
	copy(out, r.routes)
	return out
}

// EndpointLabel names the route pattern a request matched, for use as a
// low cardinality metrics label. Unmatched requests are "unmatched".
func EndpointLabel(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func endpointOf(req *http.Request, kind handler.EndpointKind) (handler.Endpoint, error) {
	ep := handler.Endpoint{Kind: kind}
	for name, dst := range map[string]*string{
		"type":         &ep.Type,
		"id":           &ep.ID,
		"relationship": &ep.Relationship,
	} {
		value := chi.URLParam(req, name)
		// chi routes on the raw path when the path has escapes
		if req.URL.RawPath != "" {
			unescaped, err := url.PathUnescape(value)
			if err != nil {
				return ep, apierrors.NotFound("The path '" + req.URL.Path + "' is malformed.")
			}
			value = unescaped
		}
		*dst = value
	}
	return ep, nil
}

// extractParameters lists the parameter names of a route pattern
func extractParameters(pattern string) []string {
	params := make([]string, 0)
	for _, part := range strings.Split(pattern, "/") {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			params = append(params, strings.Trim(part, "{}"))
		}
	}
	return params
}
