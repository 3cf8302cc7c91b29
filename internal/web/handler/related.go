package handler

import (
	"context"
	"net/http"

	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/response"
)

// related answers GET /{type}/{id}/{relationship} with the related
// resource, null, or the list of related resources
func (c *call) related(ctx context.Context) (*response.Response, error) {
	if c.method != http.MethodGet {
		return nil, c.methodNotAllowed()
	}
	if c.rel.Target != "" {
		if err := c.validateInclude(c.rel.Target); err != nil {
			return nil, err
		}
	}

	resources, rel, err := c.resolver.Related(ctx, c.resource, c.rel.Name)
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

	var doc *document.Document
	switch {
	case rel.IsToMany():
		doc = document.New(data)
	case len(data) > 0:
		doc = document.New(data[0])
	default:
		doc = document.New(nil)
	}
	doc.Included = included
	doc.Links = selfLink(c.api.links.Related(c.ep.Type, c.ep.ID, rel.Name))
	return c.render(http.StatusOK, doc)
}
