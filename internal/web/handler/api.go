// Package handler dispatches JSON:API requests to the collection, resource,
// relationship and related endpoints. Each request runs inside its own
// storage session.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/relationships"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
	"github.com/conduit-lang/japi/internal/web/request"
	"github.com/conduit-lang/japi/internal/web/response"
	"github.com/conduit-lang/japi/internal/web/serializer"
)

// DefaultMaxPageSize bounds page[size] unless configured otherwise
const DefaultMaxPageSize = 100

// API is the dispatcher. It is safe for concurrent use: the only state
// shared between requests is the frozen registry.
type API struct {
	registry        *schema.Registry
	adapter         storage.Adapter
	baseURI         string
	basePath        string
	links           serializer.Links
	debug           bool
	log             *zap.Logger
	maxPageSize     int
	maxIncludeDepth int
	maxBodySize     int64
}

// Option configures an API
type Option func(*API)

// WithBaseURI sets the URI the endpoints live under, e.g. "/api" or
// "https://example.com/api"
func WithBaseURI(uri string) Option {
	return func(a *API) {
		a.baseURI = uri
	}
}

// WithDebug enables debug mode: documents are indented and API errors are
// returned to the caller instead of being rendered
func WithDebug(debug bool) Option {
	return func(a *API) {
		a.debug = debug
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(a *API) {
		a.log = log
	}
}

// WithMaxPageSize bounds page[size]. Zero disables the bound.
func WithMaxPageSize(size int) Option {
	return func(a *API) {
		a.maxPageSize = size
	}
}

// WithMaxIncludeDepth bounds the length of include paths
func WithMaxIncludeDepth(depth int) Option {
	return func(a *API) {
		a.maxIncludeDepth = depth
	}
}

// WithMaxBodySize bounds request bodies read by ServeHTTP
func WithMaxBodySize(size int64) Option {
	return func(a *API) {
		a.maxBodySize = size
	}
}

// New creates a dispatcher. The registry must be frozen.
func New(registry *schema.Registry, adapter storage.Adapter, opts ...Option) (*API, error) {
	if !registry.Frozen() {
		return nil, errors.New("the registry must be frozen before serving requests")
	}
	if adapter == nil {
		return nil, errors.New("adapter cannot be nil")
	}

	a := &API{
		registry:        registry,
		adapter:         adapter,
		baseURI:         "/api",
		log:             zap.NewNop(),
		maxPageSize:     DefaultMaxPageSize,
		maxIncludeDepth: relationships.DefaultMaxDepth,
		maxBodySize:     request.DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(a)
	}

	u, err := url.Parse(a.baseURI)
	if err != nil {
		return nil, fmt.Errorf("invalid base uri %q: %w", a.baseURI, err)
	}
	a.basePath = u.Path
	a.links = serializer.Links{BaseURI: a.baseURI}
	return a, nil
}

// Registry returns the schema registry
func (a *API) Registry() *schema.Registry {
	return a.registry
}

// Debug reports whether debug mode is on
func (a *API) Debug() bool {
	return a.debug
}

// Handle matches the request path and dispatches it
func (a *API) Handle(req *request.Request) (*response.Response, error) {
	ep, err := a.Match(req.URL.EscapedPath())
	if err != nil {
		return a.fail(req, nil, err)
	}
	return a.HandleEndpoint(req, ep)
}

// HandleEndpoint dispatches a request whose endpoint is already known.
// API errors become error documents unless debug mode is on. Any other
// error is returned: it signals a defect, not a bad request.
func (a *API) HandleEndpoint(req *request.Request, ep Endpoint) (*response.Response, error) {
	start := time.Now()
	req.MaxPageSize = a.maxPageSize

	resp, err := a.dispatch(req, ep)
	if err != nil {
		return a.fail(req, &ep, err)
	}

	a.log.Debug("handled request",
		zap.String("method", req.Method),
		zap.String("endpoint", ep.Kind.String()),
		zap.String("type", ep.Type),
		zap.Int("status", resp.Status),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

func (a *API) fail(req *request.Request, ep *Endpoint, err error) (*response.Response, error) {
	if !apierrors.IsAPIError(err) {
		a.log.Error("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		return nil, err
	}

	a.log.Debug("api error",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", apierrors.StatusOf(err)),
		zap.Error(err),
	)
	if a.debug {
		return nil, err
	}

	resp, renderErr := response.Error(err, false)
	if renderErr != nil {
		return nil, renderErr
	}
	if ep != nil && apierrors.HasKind(err, apierrors.KindMethodNotAllowed) {
		resp.Allow(a.allowed(ep)...)
	}
	return resp, nil
}

// allowed returns the methods an endpoint answers. To-one relationships
// can not be extended, so they do not answer POST.
func (a *API) allowed(ep *Endpoint) []string {
	methods := ep.Kind.Methods()
	if ep.Kind != RelationshipEndpoint {
		return methods
	}
	rt, err := a.registry.Get(ep.Type)
	if err != nil {
		return methods
	}
	rel, ok := rt.Relationship(ep.Relationship)
	if !ok || !rel.IsToOne() {
		return methods
	}
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		if m != http.MethodPost {
			out = append(out, m)
		}
	}
	return out
}

// ReadRequest reads an http.Request, bounding the body size
func (a *API) ReadRequest(w http.ResponseWriter, r *http.Request) (*request.Request, error) {
	return request.FromHTTP(w, r, a.maxBodySize)
}

// ServeHTTP serves the API on net/http. In debug mode API errors are
// rendered indented; other errors become a bare 500.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := a.ReadRequest(w, r)
	if err == nil {
		var resp *response.Response
		if resp, err = a.Handle(req); err == nil {
			a.write(w, resp)
			return
		}
	}
	a.WriteError(w, err)
}

// WriteResponse writes a response, logging write failures
func (a *API) WriteResponse(w http.ResponseWriter, resp *response.Response) {
	a.write(w, resp)
}

// WriteError renders an error that escaped Handle
func (a *API) WriteError(w http.ResponseWriter, err error) {
	if apierrors.IsAPIError(err) {
		if resp, renderErr := response.Error(err, a.debug); renderErr == nil {
			a.write(w, resp)
			return
		}
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (a *API) write(w http.ResponseWriter, resp *response.Response) {
	if err := resp.Write(w); err != nil {
		a.log.Warn("failed to write response", zap.Error(err))
	}
}
