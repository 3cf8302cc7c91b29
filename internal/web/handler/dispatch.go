package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/relationships"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/request"
	"github.com/conduit-lang/japi/internal/web/response"
	"github.com/conduit-lang/japi/internal/web/serializer"
)

// call is the state of one request
type call struct {
	api          *API
	req          *request.Request
	ep           Endpoint
	method       string
	session      *storage.Session
	serializer   *serializer.Serializer
	unserializer *serializer.Unserializer
	resolver     *relationships.Resolver

	rt       *schema.ResourceType
	resource any
	rel      *schema.Relationship
}

func (a *API) dispatch(req *request.Request, ep Endpoint) (*response.Response, error) {
	ctx := req.Context()

	session, err := storage.Open(ctx, a.registry, a.adapter, storage.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	c := &call{
		api:          a,
		req:          req,
		ep:           ep,
		method:       req.Method,
		session:      session,
		serializer:   serializer.New(a.registry, serializer.WithLinks(a.links)),
		unserializer: serializer.NewUnserializer(session),
		resolver: relationships.NewResolver(session,
			relationships.WithMaxDepth(a.maxIncludeDepth),
			relationships.WithLogger(a.log)),
	}
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}

	// HEAD is answered like GET, without the body
	head := req.Method == http.MethodHead
	if head {
		c.method = http.MethodGet
	}

	var resp *response.Response
	switch ep.Kind {
	case CollectionEndpoint:
		resp, err = c.collection(ctx)
	case ResourceEndpoint:
		resp, err = c.resourceEndpoint(ctx)
	case RelationshipEndpoint:
		resp, err = c.relationshipEndpoint(ctx)
	case RelatedEndpoint:
		resp, err = c.related(ctx)
	default:
		err = apierrors.NotFound("Unknown endpoint.")
	}
	if err != nil {
		return nil, err
	}
	if head {
		resp.WithoutBody()
	}
	return resp, nil
}

// prepare checks content negotiation and loads what the URL names: the
// type, the resource and the relationship of its actual type
func (c *call) prepare(ctx context.Context) error {
	if err := c.req.CheckAccept(); err != nil {
		return err
	}
	if err := c.req.CheckContentType(); err != nil {
		return err
	}

	rt, err := c.api.registry.Get(c.ep.Type)
	if err != nil {
		return err
	}
	c.rt = rt
	if c.ep.Kind == CollectionEndpoint {
		return nil
	}

	id := schema.Identifier{Type: c.ep.Type, ID: c.ep.ID}
	resource, err := c.session.Get(ctx, id, true)
	if err != nil {
		return err
	}
	c.resource = resource

	// A subtype may declare relationships its parent does not have
	actual, err := c.api.registry.TypeOf(resource)
	if err != nil {
		return err
	}
	c.rt = actual
	if c.ep.Kind == ResourceEndpoint {
		return nil
	}

	rel, err := actual.MustRelationship(c.ep.Relationship)
	if err != nil {
		return err
	}
	c.rel = rel
	return nil
}

func (c *call) methodNotAllowed() error {
	return apierrors.MethodNotAllowed(c.req.Method)
}

// commit stages the resources and commits the session. Every mutation
// ends here; reads never do.
func (c *call) commit(ctx context.Context, resources ...any) error {
	if len(resources) > 0 {
		if err := c.session.Save(ctx, resources...); err != nil {
			return err
		}
	}
	return c.session.Commit(ctx)
}

// included resolves the include paths of roots and serializes every
// touched resource that is not itself a root, ordered by identifier
func (c *call) included(ctx context.Context, roots []any) ([]*document.Resource, error) {
	paths, err := c.req.Include()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}

	found, err := c.resolver.Resolve(ctx, roots, paths)
	if err != nil {
		return nil, err
	}

	for _, root := range roots {
		id, err := c.api.registry.IdentifierOf(root)
		if err != nil {
			return nil, err
		}
		delete(found, id)
	}

	ids := make([]schema.Identifier, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].ID < ids[j].ID
	})

	resources := make([]any, len(ids))
	for i, id := range ids {
		resources[i] = found[id]
	}
	return c.serializer.Resources(resources, c.req.Fields())
}

// validateInclude rejects unknown include paths before anything is loaded,
// so an empty result still reports them
func (c *call) validateInclude(typename string) error {
	paths, err := c.req.Include()
	if err != nil {
		return err
	}
	return c.resolver.Validate(typename, paths)
}

func (c *call) render(status int, doc *document.Document) (*response.Response, error) {
	return response.Document(status, doc, c.api.debug)
}

func selfLink(url string) *document.Links {
	return &document.Links{Self: url}
}
