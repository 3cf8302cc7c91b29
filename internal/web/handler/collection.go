package handler

import (
	"context"
	"net/http"

	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/response"
)

func (c *call) collection(ctx context.Context) (*response.Response, error) {
	switch c.method {
	case http.MethodGet:
		return c.listCollection(ctx)
	case http.MethodPost:
		return c.createResource(ctx)
	default:
		return nil, c.methodNotAllowed()
	}
}

// listCollection answers GET /{type} with the filtered, sorted and
// paginated collection
func (c *call) listCollection(ctx context.Context) (*response.Response, error) {
	if err := c.validateInclude(c.rt.Name); err != nil {
		return nil, err
	}
	q, err := c.req.CollectionQuery()
	if err != nil {
		return nil, err
	}
	page, err := c.req.Page()
	if err != nil {
		return nil, err
	}

	resources, err := c.session.Query(ctx, c.rt.Name, q)
	if err != nil {
		return nil, err
	}
	data, err := c.serializer.Resources(resources, c.req.Fields())
	if err != nil {
		return nil, err
	}
	included, err := c.included(ctx, resources)
	if err != nil {
		return nil, err
	}

	doc := document.New(data)
	doc.Included = included

	self := c.api.links.Collection(c.rt.Name)
	if c.req.URL.RawQuery != "" {
		self += "?" + c.req.URL.RawQuery
	}
	doc.Links = selfLink(self)

	if page != nil {
		total, err := c.session.QuerySize(ctx, c.rt.Name, q.Filters)
		if err != nil {
			return nil, err
		}
		for key, value := range response.PaginationMeta(page.Number, page.Size, total) {
			doc.AddMeta(key, value)
		}
		doc.Links = response.BuildPaginationLinks(self, page.Number, page.Size, total)
	}

	return c.render(http.StatusOK, doc)
}

// createResource answers POST /{type}. The response carries the new
// resource and its URL in the Location header.
func (c *call) createResource(ctx context.Context) (*response.Response, error) {
	obj, err := c.req.Resource()
	if err != nil {
		return nil, err
	}

	resource, err := c.unserializer.Create(ctx, c.rt.Name, obj)
	if err != nil {
		return nil, err
	}
	if err := c.commit(ctx, resource); err != nil {
		return nil, err
	}

	id, err := c.api.registry.IdentifierOf(resource)
	if err != nil {
		return nil, err
	}
	data, err := c.serializer.Resource(resource, c.req.Fields()[id.Type])
	if err != nil {
		return nil, err
	}

	location := c.api.links.Resource(id.Type, id.ID)
	doc := document.New(data)
	doc.Links = selfLink(location)

	resp, err := c.render(http.StatusCreated, doc)
	if err != nil {
		return nil, err
	}
	return resp.Location(location), nil
}
