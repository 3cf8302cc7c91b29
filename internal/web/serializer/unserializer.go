package serializer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
	"github.com/conduit-lang/japi/internal/web/document"
)

// Unserializer applies validated inbound documents to resources. Related
// resources are loaded through the session in one batch per document.
type Unserializer struct {
	session  *storage.Session
	registry *schema.Registry
}

// NewUnserializer creates an unserializer reading through session
func NewUnserializer(session *storage.Session) *Unserializer {
	return &Unserializer{session: session, registry: session.Registry()}
}

func attributePointer(name string) string {
	return "/data/attributes/" + apierrors.EscapePointer(name)
}

func relationshipPointer(name string) string {
	return "/data/relationships/" + apierrors.EscapePointer(name)
}

// checkFields rejects unknown fields and linkage of the wrong cardinality
func checkFields(rt *schema.ResourceType, obj *document.ResourceObject) *apierrors.ErrorList {
	errs := apierrors.NewErrorList()
	for name := range obj.Attributes {
		if _, ok := rt.Attribute(name); !ok {
			errs.Append(apierrors.BadRequest(
				fmt.Sprintf("The type '%s' has no attribute '%s'.", rt.Name, name),
			).WithPointer(attributePointer(name)))
		}
	}
	for name, relObj := range obj.Relationships {
		rel, ok := rt.Relationship(name)
		if !ok {
			errs.Append(apierrors.BadRequest(
				fmt.Sprintf("The type '%s' has no relationship '%s'.", rt.Name, name),
			).WithPointer(relationshipPointer(name)))
			continue
		}
		if relObj.HasData {
			if err := checkLinkage(rel, relObj.Data, relationshipPointer(name)+"/data"); err != nil {
				errs.Append(err)
			}
		}
	}
	sortErrors(errs)
	return errs
}

func checkLinkage(rel *schema.Relationship, linkage document.Linkage, pointer string) *apierrors.Error {
	if rel.IsToMany() && !linkage.Many {
		return apierrors.InvalidDocument(
			fmt.Sprintf("The relationship '%s' is to-many and requires an array of resource identifiers.", rel.Name),
			pointer,
		)
	}
	if rel.IsToOne() && linkage.Many {
		return apierrors.InvalidDocument(
			fmt.Sprintf("The relationship '%s' is to-one and requires null or a single resource identifier.", rel.Name),
			pointer,
		)
	}
	return nil
}

// resolveRelationships loads every resource referenced by the relationship
// objects with a single GetMany call. The result maps each relationship
// name to a resource (or nil) for to-one and to a []any for to-many.
func (u *Unserializer) resolveRelationships(ctx context.Context, rt *schema.ResourceType, rels map[string]*document.RelationshipObject) (map[string]any, error) {
	var ids []schema.Identifier
	for _, relObj := range rels {
		if relObj.HasData {
			ids = append(ids, relObj.Data.IDs...)
		}
	}
	found, err := u.session.GetMany(ctx, ids, false)
	if err != nil {
		return nil, err
	}

	errs := apierrors.NewErrorList()
	resolved := make(map[string]any, len(rels))
	for name, relObj := range rels {
		if !relObj.HasData {
			continue
		}
		rel, _ := rt.Relationship(name)
		relatives, missing := collect(relObj.Data, found, relationshipPointer(name)+"/data")
		errs.Extend(missing)
		if rel.IsToMany() {
			resolved[name] = relatives
		} else if len(relatives) > 0 {
			resolved[name] = relatives[0]
		} else {
			resolved[name] = nil
		}
	}
	sortErrors(errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// collect picks the linked resources out of found in linkage order and
// reports every dangling identifier
func collect(linkage document.Linkage, found map[schema.Identifier]any, pointer string) ([]any, *apierrors.ErrorList) {
	errs := apierrors.NewErrorList()
	relatives := make([]any, 0, len(linkage.IDs))
	for i, id := range linkage.IDs {
		r, ok := found[id]
		if !ok {
			p := pointer
			if linkage.Many {
				p += "/" + strconv.Itoa(i)
			}
			errs.Append(apierrors.ResourceNotFound(id.Type, id.ID).WithPointer(p))
			continue
		}
		relatives = append(relatives, r)
	}
	return relatives, errs
}

// Create builds a new resource of the collection type typename. The body
// may name a subtype of typename. A client supplied id is accepted only by
// types allowing client generated ids.
func (u *Unserializer) Create(ctx context.Context, typename string, obj *document.ResourceObject) (any, error) {
	if obj.Type != typename && !u.registry.IsA(obj.Type, typename) {
		return nil, apierrors.Conflict(
			fmt.Sprintf("The type '%s' does not match the collection type '%s'.", obj.Type, typename),
		).WithPointer("/data/type")
	}
	rt, err := u.registry.Get(obj.Type)
	if err != nil {
		return nil, err
	}

	if obj.HasID {
		if !rt.AcceptsClientIDs() {
			return nil, apierrors.Forbidden(
				fmt.Sprintf("The type '%s' does not accept client generated ids.", rt.Name),
			).WithPointer("/data/id")
		}
		existing, err := u.session.Get(ctx, schema.Identifier{Type: rt.Name, ID: obj.ID}, false)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apierrors.Conflict(
				fmt.Sprintf("A resource '%s' with the id '%s' already exists.", rt.Name, obj.ID),
			).WithPointer("/data/id")
		}
	}

	if errs := checkFields(rt, obj); errs.Len() > 0 {
		return nil, errs.Err()
	}
	relatives, err := u.resolveRelationships(ctx, rt, obj.Relationships)
	if err != nil {
		return nil, err
	}

	args := make(map[string]any, len(obj.Attributes)+len(relatives))
	for name, value := range obj.Attributes {
		args[name] = value
	}
	for name, value := range relatives {
		args[name] = value
	}

	resource, err := rt.Create(args)
	if err != nil {
		return nil, err
	}
	if obj.HasID {
		if err := rt.SetID(resource, obj.ID); err != nil {
			return nil, err
		}
	}
	return resource, nil
}

// Update applies the attributes and relationships of obj to resource. All
// failing fields are reported together.
func (u *Unserializer) Update(ctx context.Context, resource any, obj *document.ResourceObject) error {
	rt, err := u.registry.TypeOf(resource)
	if err != nil {
		return err
	}
	if obj.Type != rt.Name && !u.registry.IsA(rt.Name, obj.Type) {
		return apierrors.Conflict(
			fmt.Sprintf("The type '%s' does not match the resource type '%s'.", obj.Type, rt.Name),
		).WithPointer("/data/type")
	}
	if !obj.HasID {
		return apierrors.InvalidDocument("The 'id' member is not present.", "/data")
	}
	if id := rt.ID(resource); obj.ID != id {
		return apierrors.Conflict(
			fmt.Sprintf("The id '%s' does not match the resource id '%s'.", obj.ID, id),
		).WithPointer("/data/id")
	}

	if errs := checkFields(rt, obj); errs.Len() > 0 {
		return errs.Err()
	}
	relatives, err := u.resolveRelationships(ctx, rt, obj.Relationships)
	if err != nil {
		return err
	}

	errs := apierrors.NewErrorList()
	for _, name := range sortedNames(obj.Attributes) {
		attr, _ := rt.Attribute(name)
		err := apierrors.Locate(attr.Set(resource, obj.Attributes[name]), attributePointer(name))
		if err != nil && !errs.Add(err) {
			return err
		}
	}
	for _, name := range sortedNames(relatives) {
		rel, _ := rt.Relationship(name)
		var err error
		if rel.IsToMany() {
			err = rel.SetMany(resource, relatives[name].([]any))
		} else {
			err = rel.Set(resource, relatives[name])
		}
		err = apierrors.Locate(err, relationshipPointer(name))
		if err != nil && !errs.Add(err) {
			return err
		}
	}
	return errs.Err()
}

// Relatives resolves the identifiers of a relationship endpoint document
func (u *Unserializer) Relatives(ctx context.Context, linkage document.Linkage) ([]any, error) {
	found, err := u.session.GetMany(ctx, linkage.IDs, false)
	if err != nil {
		return nil, err
	}
	relatives, errs := collect(linkage, found, "/data")
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return relatives, nil
}

// ReplaceRelationship makes the named relationship of resource point to
// exactly the resources in linkage
func (u *Unserializer) ReplaceRelationship(ctx context.Context, resource any, name string, linkage document.Linkage) error {
	rel, err := u.relationship(resource, name)
	if err != nil {
		return err
	}
	if err := checkLinkage(rel, linkage, "/data"); err != nil {
		return err
	}
	relatives, err := u.Relatives(ctx, linkage)
	if err != nil {
		return err
	}
	if rel.IsToMany() {
		return rel.SetMany(resource, relatives)
	}
	if len(relatives) == 0 {
		return rel.Set(resource, nil)
	}
	return rel.Set(resource, relatives[0])
}

// ExtendRelationship appends the resources in linkage to a to-many
// relationship
func (u *Unserializer) ExtendRelationship(ctx context.Context, resource any, name string, linkage document.Linkage) error {
	rel, err := u.relationship(resource, name)
	if err != nil {
		return err
	}
	if rel.IsToOne() {
		return apierrors.MethodNotAllowed("POST")
	}
	if err := checkLinkage(rel, linkage, "/data"); err != nil {
		return err
	}
	relatives, err := u.Relatives(ctx, linkage)
	if err != nil {
		return err
	}
	return rel.Extend(resource, relatives)
}

// ClearRelationship removes every relative from the named relationship
func (u *Unserializer) ClearRelationship(resource any, name string) error {
	rel, err := u.relationship(resource, name)
	if err != nil {
		return err
	}
	return rel.Clear(resource)
}

func (u *Unserializer) relationship(resource any, name string) (*schema.Relationship, error) {
	rt, err := u.registry.TypeOf(resource)
	if err != nil {
		return nil, err
	}
	return rt.MustRelationship(name)
}
