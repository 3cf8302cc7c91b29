// Package serializer translates live resources into JSON:API resource
// objects and applies inbound documents to resources.
package serializer

import (
	"sort"

	"github.com/DataDog/jsonapi"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/web/document"
)

// Fieldsets maps a typename to the fields requested for it. A type
// missing from the map is serialized with all fields.
type Fieldsets map[string][]string

// For returns the fieldset of typename, or nil when none was requested
func (f Fieldsets) For(typename string) []string {
	if f == nil {
		return nil
	}
	return f[typename]
}

// Serializer renders resources using the accessors in a Registry
type Serializer struct {
	registry *schema.Registry
	links    *Links
}

// Option configures a Serializer
type Option func(*Serializer)

// WithLinks adds self and related links to serialized resources
func WithLinks(links Links) Option {
	return func(s *Serializer) {
		s.links = &links
	}
}

// New creates a serializer
func New(registry *schema.Registry, opts ...Option) *Serializer {
	s := &Serializer{registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identifier returns the canonical identifier of a resource
func (s *Serializer) Identifier(resource any) (schema.Identifier, error) {
	return s.registry.IdentifierOf(resource)
}

func selected(fields []string, name string) bool {
	if fields == nil {
		return true
	}
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

// Resource builds the resource object of resource. A non-nil fields list
// restricts the emitted attributes and relationships; members left empty
// are omitted.
func (s *Serializer) Resource(resource any, fields []string) (*document.Resource, error) {
	rt, err := s.registry.TypeOf(resource)
	if err != nil {
		return nil, err
	}

	obj := &document.Resource{Type: rt.Name, ID: rt.ID(resource)}

	for _, name := range rt.AttributeNames() {
		if !selected(fields, name) {
			continue
		}
		attr, _ := rt.Attribute(name)
		if obj.Attributes == nil {
			obj.Attributes = make(map[string]any)
		}
		obj.Attributes[name] = attr.Get(resource)
	}

	for _, name := range rt.RelationshipNames() {
		if !selected(fields, name) {
			continue
		}
		rel, _ := rt.Relationship(name)
		relObj, err := s.relationship(rt, resource, rel)
		if err != nil {
			return nil, err
		}
		if obj.Relationships == nil {
			obj.Relationships = make(map[string]*document.Relationship)
		}
		obj.Relationships[name] = relObj
	}

	if s.links != nil {
		obj.Links = &jsonapi.Link{Self: s.links.Resource(obj.Type, obj.ID)}
	}
	return obj, nil
}

// Resources serializes a list, choosing each resource's fieldset by its
// own typename
func (s *Serializer) Resources(resources []any, fieldsets Fieldsets) ([]*document.Resource, error) {
	out := make([]*document.Resource, 0, len(resources))
	for _, r := range resources {
		id, err := s.registry.IdentifierOf(r)
		if err != nil {
			return nil, err
		}
		obj, err := s.Resource(r, fieldsets.For(id.Type))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Relationship builds the relationship object of the named relationship
func (s *Serializer) Relationship(resource any, name string) (*document.Relationship, error) {
	rt, err := s.registry.TypeOf(resource)
	if err != nil {
		return nil, err
	}
	rel, err := rt.MustRelationship(name)
	if err != nil {
		return nil, err
	}
	return s.relationship(rt, resource, rel)
}

func (s *Serializer) relationship(rt *schema.ResourceType, resource any, rel *schema.Relationship) (*document.Relationship, error) {
	linkage, err := s.Linkage(resource, rel)
	if err != nil {
		return nil, err
	}
	obj := &document.Relationship{Data: linkage}
	if s.links != nil {
		id := rt.ID(resource)
		obj.Links = &jsonapi.Link{
			Self:    s.links.Relationship(rt.Name, id, rel.Name),
			Related: s.links.Related(rt.Name, id, rel.Name),
		}
	}
	return obj, nil
}

// Linkage returns the identifiers referenced by a relationship
func (s *Serializer) Linkage(resource any, rel *schema.Relationship) (document.Linkage, error) {
	ids, err := s.registry.IdentifiersOf(rel.Relatives(resource))
	if err != nil {
		return document.Linkage{}, err
	}
	if rel.IsToMany() {
		return document.ToMany(ids), nil
	}
	if len(ids) == 0 {
		return document.ToOne(schema.Identifier{}), nil
	}
	return document.ToOne(ids[0]), nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortErrors orders errors by source pointer so reports are stable
func sortErrors(errs *apierrors.ErrorList) {
	sort.SliceStable(errs.Errors, func(i, j int) bool {
		return errs.Errors[i].SourcePointer < errs.Errors[j].SourcePointer
	})
}
