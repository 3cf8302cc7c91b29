package schema

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/conduit-lang/japi/internal/apierrors"
)

// ResourceType describes one registered resource type
type ResourceType struct {
	Name string
	// Extends names the parent type of a subtype. Empty for root types.
	Extends string

	goType        reflect.Type
	id            func(any) string
	setID         func(any, string) error
	clientIDs     bool
	newFn         func() any
	constructor   func(map[string]any) (any, error)
	attributes    map[string]*Attribute
	relationships map[string]*Relationship
}

func newResourceType(name string, goType reflect.Type) *ResourceType {
	return &ResourceType{
		Name:          name,
		goType:        goType,
		attributes:    make(map[string]*Attribute),
		relationships: make(map[string]*Relationship),
	}
}

// GoType returns the Go type of live resources
func (t *ResourceType) GoType() reflect.Type {
	return t.goType
}

// ID returns the id of a resource. New resources have an empty id.
func (t *ResourceType) ID(resource any) string {
	return t.id(resource)
}

// HasIDSetter reports whether ids can be assigned to new resources
func (t *ResourceType) HasIDSetter() bool {
	return t.setID != nil
}

// AcceptsClientIDs reports whether clients may choose the id of new
// resources.
func (t *ResourceType) AcceptsClientIDs() bool {
	return t.clientIDs && t.setID != nil
}

// SetID assigns an id to a resource
func (t *ResourceType) SetID(resource any, id string) error {
	if t.setID == nil {
		return apierrors.Forbidden(fmt.Sprintf("The type '%s' does not support client generated ids.", t.Name)).
			WithPointer("/data/id")
	}
	return t.setID(resource, id)
}

// New returns a fresh, empty resource
func (t *ResourceType) New() any {
	return t.newFn()
}

// Attribute looks up an attribute by name
func (t *ResourceType) Attribute(name string) (*Attribute, bool) {
	attr, ok := t.attributes[name]
	return attr, ok
}

// Relationship looks up a relationship by name
func (t *ResourceType) Relationship(name string) (*Relationship, bool) {
	rel, ok := t.relationships[name]
	return rel, ok
}

// MustRelationship looks up a relationship and raises RelationshipNotFound
// when it does not exist.
func (t *ResourceType) MustRelationship(name string) (*Relationship, error) {
	rel, ok := t.relationships[name]
	if !ok {
		return nil, apierrors.RelationshipNotFound(t.Name, name)
	}
	return rel, nil
}

// AttributeNames returns the attribute names in sorted order
func (t *ResourceType) AttributeNames() []string {
	return sortedKeys(t.attributes)
}

// RelationshipNames returns the relationship names in sorted order
func (t *ResourceType) RelationshipNames() []string {
	return sortedKeys(t.relationships)
}

// HasField reports whether name is "id", an attribute or a relationship
func (t *ResourceType) HasField(name string) bool {
	if name == "id" {
		return true
	}
	_, attr := t.attributes[name]
	_, rel := t.relationships[name]
	return attr || rel
}

// Create builds a new resource from attribute values and resolved
// relatives keyed by field name. A custom constructor receives args
// untouched; the default one applies every value through its setter and
// collects all failures.
func (t *ResourceType) Create(args map[string]any) (any, error) {
	if t.constructor != nil {
		return t.constructor(args)
	}

	resource := t.New()
	errs := apierrors.NewErrorList()

	for _, name := range sortedKeys(args) {
		value := args[name]
		var err error
		if attr, ok := t.attributes[name]; ok {
			err = apierrors.Locate(attr.Set(resource, value), "/data/attributes/"+apierrors.EscapePointer(name))
		} else if rel, ok := t.relationships[name]; ok {
			err = apierrors.Locate(t.assign(resource, rel, value), "/data/relationships/"+apierrors.EscapePointer(name))
		} else {
			err = apierrors.BadRequest(fmt.Sprintf("The type '%s' has no field '%s'.", t.Name, name))
		}
		if err != nil && !errs.Add(err) {
			return nil, err
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return resource, nil
}

func (t *ResourceType) assign(resource any, rel *Relationship, value any) error {
	if rel.IsToOne() {
		return rel.Set(resource, value)
	}
	relatives, ok := value.([]any)
	if !ok && value != nil {
		return fmt.Errorf("relationship %s of %s expects []any, got %T", rel.Name, t.Name, value)
	}
	return rel.SetMany(resource, relatives)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
