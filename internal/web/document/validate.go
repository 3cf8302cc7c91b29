package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/schema"
)

// ResourceObject is a validated inbound resource object
type ResourceObject struct {
	Type          string
	ID            string
	HasID         bool
	Attributes    map[string]any
	Relationships map[string]*RelationshipObject
}

// RelationshipObject is a validated inbound relationship object.
// HasData is false when the object only carries links or meta.
type RelationshipObject struct {
	Data    Linkage
	HasData bool
}

// Decode parses a request body into a generic JSON value. Numbers are kept
// as json.Number so integer attributes survive unchanged.
func Decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, apierrors.BadRequest(fmt.Sprintf("The request body is not valid JSON: %v", err))
	}
	if dec.More() {
		return nil, apierrors.BadRequest("The request body contains trailing data.")
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, apierrors.InvalidDocument("A JSON:API document must be an object.", "")
	}
	return doc, nil
}

// ParseResource decodes a document whose primary data is one resource object
func ParseResource(body []byte) (*ResourceObject, error) {
	doc, err := Decode(body)
	if err != nil {
		return nil, err
	}
	data, ok := doc["data"]
	if !ok {
		return nil, apierrors.InvalidDocument("The 'data' member is not present.", "")
	}
	if err := ValidateResourceObject(data, "/data"); err != nil {
		return nil, err
	}
	return resourceObject(data.(map[string]any)), nil
}

// ParseLinkage decodes a document whose primary data is a resource linkage
func ParseLinkage(body []byte) (Linkage, error) {
	doc, err := Decode(body)
	if err != nil {
		return Linkage{}, err
	}
	data, ok := doc["data"]
	if !ok {
		return Linkage{}, apierrors.InvalidDocument("The 'data' member is not present.", "")
	}
	if err := ValidateLinkage(data, "/data"); err != nil {
		return Linkage{}, err
	}
	return linkage(data), nil
}

func resourceObject(d map[string]any) *ResourceObject {
	obj := &ResourceObject{
		Type:          d["type"].(string),
		Attributes:    map[string]any{},
		Relationships: map[string]*RelationshipObject{},
	}
	if id, ok := d["id"]; ok {
		obj.ID, obj.HasID = id.(string), true
	}
	if attrs, ok := d["attributes"].(map[string]any); ok {
		obj.Attributes = attrs
	}
	if rels, ok := d["relationships"].(map[string]any); ok {
		for name, v := range rels {
			rel := v.(map[string]any)
			data, has := rel["data"]
			obj.Relationships[name] = &RelationshipObject{Data: linkage(data), HasData: has}
		}
	}
	return obj
}

func linkage(v any) Linkage {
	switch x := v.(type) {
	case []any:
		ids := make([]schema.Identifier, len(x))
		for i, item := range x {
			ids[i] = identifier(item.(map[string]any))
		}
		return ToMany(ids)
	case map[string]any:
		return ToOne(identifier(x))
	default:
		return Linkage{}
	}
}

func identifier(d map[string]any) schema.Identifier {
	return schema.Identifier{Type: d["type"].(string), ID: d["id"].(string)}
}

func child(pointer, token string) string {
	return pointer + "/" + apierrors.EscapePointer(token)
}

func allowed(d map[string]any, members ...string) bool {
	for key := range d {
		ok := false
		for _, m := range members {
			if key == m {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ValidateResourceObject checks that v is a resource object
func ValidateResourceObject(v any, pointer string) error {
	d, ok := v.(map[string]any)
	if !ok {
		return apierrors.InvalidDocument("A resource object must be an object.", pointer)
	}
	if !allowed(d, "id", "type", "attributes", "relationships", "links", "meta") {
		return apierrors.InvalidDocument(
			"A resource object may only contain these members: 'id', 'type', 'attributes', 'relationships', 'links', 'meta'.",
			pointer,
		)
	}
	if err := validateTypeAndID(d, pointer, false); err != nil {
		return err
	}
	if attrs, ok := d["attributes"]; ok {
		if err := validateAttributes(attrs, child(pointer, "attributes")); err != nil {
			return err
		}
	}
	if rels, ok := d["relationships"]; ok {
		if err := validateRelationships(rels, child(pointer, "relationships")); err != nil {
			return err
		}
	}
	if links, ok := d["links"]; ok {
		if err := ValidateLinks(links, child(pointer, "links")); err != nil {
			return err
		}
	}
	if meta, ok := d["meta"]; ok {
		if err := ValidateMeta(meta, child(pointer, "meta")); err != nil {
			return err
		}
	}
	return nil
}

func validateTypeAndID(d map[string]any, pointer string, requireID bool) error {
	typ, ok := d["type"]
	if !ok {
		return apierrors.InvalidDocument("The 'type' member is not present.", pointer)
	}
	if _, ok := typ.(string); !ok {
		return apierrors.InvalidDocument("The value of 'type' must be a string.", child(pointer, "type"))
	}

	id, ok := d["id"]
	if !ok {
		if requireID {
			return apierrors.InvalidDocument("The 'id' member is not present.", pointer)
		}
		return nil
	}
	if _, ok := id.(string); !ok {
		return apierrors.InvalidDocument("The value of 'id' must be a string.", child(pointer, "id"))
	}
	return nil
}

func validateAttributes(v any, pointer string) error {
	d, ok := v.(map[string]any)
	if !ok {
		return apierrors.InvalidDocument("An attributes object must be an object.", pointer)
	}
	for _, reserved := range []string{"id", "type", "relationships", "links"} {
		if _, ok := d[reserved]; ok {
			return apierrors.InvalidDocument(
				fmt.Sprintf("The attributes object must not contain a member named '%s'.", reserved),
				child(pointer, reserved),
			)
		}
	}
	return nil
}

func validateRelationships(v any, pointer string) error {
	d, ok := v.(map[string]any)
	if !ok {
		return apierrors.InvalidDocument("A relationships object must be an object.", pointer)
	}
	for _, name := range sortedNames(d) {
		if err := ValidateRelationshipObject(d[name], child(pointer, name)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRelationshipObject checks that v is a relationship object
func ValidateRelationshipObject(v any, pointer string) error {
	d, ok := v.(map[string]any)
	if !ok {
		return apierrors.InvalidDocument("A relationship object must be an object.", pointer)
	}
	if len(d) == 0 {
		return apierrors.InvalidDocument(
			"A relationship object must contain at least one of these members: 'data', 'links', 'meta'.",
			pointer,
		)
	}
	if !allowed(d, "data", "links", "meta") {
		return apierrors.InvalidDocument(
			"A relationship object may only contain these members: 'data', 'links', 'meta'.",
			pointer,
		)
	}
	if links, ok := d["links"]; ok {
		if err := ValidateLinks(links, child(pointer, "links")); err != nil {
			return err
		}
	}
	if meta, ok := d["meta"]; ok {
		if err := ValidateMeta(meta, child(pointer, "meta")); err != nil {
			return err
		}
	}
	if data, ok := d["data"]; ok {
		return ValidateLinkage(data, child(pointer, "data"))
	}
	return nil
}

// ValidateLinkage checks that v is null, an identifier object or an array
// of identifier objects
func ValidateLinkage(v any, pointer string) error {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return ValidateIdentifier(x, pointer)
	case []any:
		for i, item := range x {
			if err := ValidateIdentifier(item, child(pointer, strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	default:
		return apierrors.InvalidDocument(
			"A resource linkage must be null, an empty array, a resource identifier object or an array of resource identifier objects.",
			pointer,
		)
	}
}

// ValidateIdentifier checks that v is a resource identifier object
func ValidateIdentifier(v any, pointer string) error {
	d, ok := v.(map[string]any)
	if !ok {
		return apierrors.InvalidDocument("A resource identifier object must be an object.", pointer)
	}
	if !allowed(d, "id", "type", "meta") {
		return apierrors.InvalidDocument(
			"A resource identifier object may only contain these members: 'id', 'type', 'meta'.",
			pointer,
		)
	}
	if meta, ok := d["meta"]; ok {
		if err := ValidateMeta(meta, child(pointer, "meta")); err != nil {
			return err
		}
	}
	return validateTypeAndID(d, pointer, true)
}

// ValidateLinks checks that v is a links object
func ValidateLinks(v any, pointer string) error {
	d, ok := v.(map[string]any)
	if !ok {
		return apierrors.InvalidDocument("A links object must be an object.", pointer)
	}
	for _, name := range sortedNames(d) {
		p := child(pointer, name)
		switch link := d[name].(type) {
		case nil, string:
		case map[string]any:
			if !allowed(link, "href", "meta") {
				return apierrors.InvalidDocument("A link object may only contain these members: 'href', 'meta'.", p)
			}
			if href, ok := link["href"]; ok {
				if _, ok := href.(string); !ok {
					return apierrors.InvalidDocument("The value of 'href' must be a string.", child(p, "href"))
				}
			}
			if meta, ok := link["meta"]; ok {
				if err := ValidateMeta(meta, child(p, "meta")); err != nil {
					return err
				}
			}
		default:
			return apierrors.InvalidDocument("A link must be a string or a link object.", p)
		}
	}
	return nil
}

// ValidateMeta checks that v is a meta object
func ValidateMeta(v any, pointer string) error {
	if _, ok := v.(map[string]any); !ok {
		return apierrors.InvalidDocument("A meta object must be an object.", pointer)
	}
	return nil
}
