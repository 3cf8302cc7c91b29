package handler

import (
	"context"
	"net/http"

	"github.com/conduit-lang/japi/internal/web/document"
	"github.com/conduit-lang/japi/internal/web/response"
)

func (c *call) relationshipEndpoint(ctx context.Context) (*response.Response, error) {
	switch c.method {
	case http.MethodGet:
		return c.relationshipDocument()
	case http.MethodPost:
		return c.extendRelationship(ctx)
	case http.MethodPatch:
		return c.replaceRelationship(ctx)
	case http.MethodDelete:
		return c.clearRelationship(ctx)
	default:
		return nil, c.methodNotAllowed()
	}
}

// relationshipDocument renders the linkage of the relationship with links
// to this endpoint and to the related endpoint
func (c *call) relationshipDocument() (*response.Response, error) {
	rel, err := c.serializer.Relationship(c.resource, c.rel.Name)
	if err != nil {
		return nil, err
	}

	doc := document.New(rel.Data)
	doc.Meta = rel.Meta
	doc.Links = &document.Links{
		Self:    c.api.links.Relationship(c.ep.Type, c.ep.ID, c.rel.Name),
		Related: c.api.links.Related(c.ep.Type, c.ep.ID, c.rel.Name),
	}
	return c.render(http.StatusOK, doc)
}

// extendRelationship answers POST, which only to-many relationships allow
func (c *call) extendRelationship(ctx context.Context) (*response.Response, error) {
	if !c.rel.IsToMany() {
		return nil, c.methodNotAllowed()
	}
	linkage, err := c.req.Linkage()
	if err != nil {
		return nil, err
	}
	if err := c.unserializer.ExtendRelationship(ctx, c.resource, c.rel.Name, linkage); err != nil {
		return nil, err
	}
	if err := c.commit(ctx, c.resource); err != nil {
		return nil, err
	}
	return c.relationshipDocument()
}

func (c *call) replaceRelationship(ctx context.Context) (*response.Response, error) {
	linkage, err := c.req.Linkage()
	if err != nil {
		return nil, err
	}
	if err := c.unserializer.ReplaceRelationship(ctx, c.resource, c.rel.Name, linkage); err != nil {
		return nil, err
	}
	if err := c.commit(ctx, c.resource); err != nil {
		return nil, err
	}
	return c.relationshipDocument()
}

func (c *call) clearRelationship(ctx context.Context) (*response.Response, error) {
	if err := c.unserializer.ClearRelationship(c.resource, c.rel.Name); err != nil {
		return nil, err
	}
	if err := c.commit(ctx, c.resource); err != nil {
		return nil, err
	}
	return c.relationshipDocument()
}
