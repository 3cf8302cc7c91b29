package handler

import (
	"context"
	"net/http"

	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/response"
)

func (c *call) resourceEndpoint(ctx context.Context) (*response.Response, error) {
	switch c.method {
	case http.MethodGet:
		return c.fetchResource(ctx)
	case http.MethodPatch:
		return c.updateResource(ctx)
	case http.MethodDelete:
		return c.deleteResource(ctx)
	default:
		return nil, c.methodNotAllowed()
	}
}

func (c *call) resourceDocument(ctx context.Context, withIncludes bool) (*document.Document, error) {
	data, err := c.serializer.Resource(c.resource, c.req.Fields()[c.rt.Name])
	if err != nil {
		return nil, err
	}
	doc := document.New(data)
	doc.Links = selfLink(c.api.links.Resource(c.ep.Type, c.ep.ID))

	if withIncludes {
		included, err := c.included(ctx, []any{c.resource})
		if err != nil {
			return nil, err
		}
		doc.Included = included
	}
	return doc, nil
}

func (c *call) fetchResource(ctx context.Context) (*response.Response, error) {
	if err := c.validateInclude(c.rt.Name); err != nil {
		return nil, err
	}
	doc, err := c.resourceDocument(ctx, true)
	if err != nil {
		return nil, err
	}
	return c.render(http.StatusOK, doc)
}

func (c *call) updateResource(ctx context.Context) (*response.Response, error) {
	obj, err := c.req.Resource()
	if err != nil {
		return nil, err
	}
	if err := c.unserializer.Update(ctx, c.resource, obj); err != nil {
		return nil, err
	}
	if err := c.commit(ctx, c.resource); err != nil {
		return nil, err
	}

	doc, err := c.resourceDocument(ctx, false)
	if err != nil {
		return nil, err
	}
	return c.render(http.StatusOK, doc)
}

func (c *call) deleteResource(ctx context.Context) (*response.Response, error) {
	if err := c.session.Delete(ctx, c.resource); err != nil {
		return nil, err
	}
	if err := c.session.Commit(ctx); err != nil {
		return nil, err
	}
	return response.NoContent(), nil
}
