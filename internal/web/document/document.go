// Package document defines the JSON:API wire document and validates
// inbound documents against the JSON:API 1.0 document structure.
package document

import (
	"encoding/json"
	"sort"

	"github.com/DataDog/jsonapi"

	"github.com/conduit-lang/japi/internal/orm/schema"
)

const (
	// MediaType is the JSON:API media type
	MediaType = "application/vnd.api+json"
	// Version is the JSON:API version implemented by the engine
	Version = "1.0"
)

// EngineVersion is reported in the meta member of every jsonapi object
var EngineVersion = "0.1.0"

// JSONAPIObject is the top level jsonapi member
type JSONAPIObject struct {
	Version string         `json:"version"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// DefaultJSONAPI returns the jsonapi object attached to every document
func DefaultJSONAPI() JSONAPIObject {
	return JSONAPIObject{
		Version: Version,
		Meta:    map[string]any{"japi-version": EngineVersion},
	}
}

// Linkage is the data member of a relationship object. A to-one linkage
// renders as null or a single identifier; a to-many linkage always renders
// as an array.
type Linkage struct {
	Many bool
	IDs  []schema.Identifier
}

// ToOne creates a to-one linkage. A zero identifier means no target.
func ToOne(id schema.Identifier) Linkage {
	if id.IsZero() {
		return Linkage{}
	}
	return Linkage{IDs: []schema.Identifier{id}}
}

// ToMany creates a to-many linkage
func ToMany(ids []schema.Identifier) Linkage {
	return Linkage{Many: true, IDs: ids}
}

// IsNull reports whether a to-one linkage has no target
func (l Linkage) IsNull() bool {
	return !l.Many && len(l.IDs) == 0
}

// MarshalJSON renders null, an identifier object or an array
func (l Linkage) MarshalJSON() ([]byte, error) {
	if l.Many {
		if l.IDs == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(l.IDs)
	}
	if len(l.IDs) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(l.IDs[0])
}

// Relationship is a relationship object
type Relationship struct {
	Data  Linkage        `json:"data"`
	Links *jsonapi.Link  `json:"links,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Resource is a resource object. Attribute and relationship maps encode
// with sorted keys, which keeps the output deterministic.
type Resource struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id"`
	Attributes    map[string]any           `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Links         *jsonapi.Link            `json:"links,omitempty"`
	Meta          map[string]any           `json:"meta,omitempty"`
}

// Identifier returns the (type, id) pair of the resource object
func (r *Resource) Identifier() schema.Identifier {
	return schema.Identifier{Type: r.Type, ID: r.ID}
}

// Links is the top level links object. Pagination links use the "prev"
// key, which jsonapi.Link cannot emit.
type Links struct {
	Self    string `json:"self,omitempty"`
	Related string `json:"related,omitempty"`
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Prev    string `json:"prev,omitempty"`
	Next    string `json:"next,omitempty"`
}

// Document is a top level JSON:API document. Data holds a *Resource, a
// []*Resource, a Linkage or nil.
type Document struct {
	Data     any            `json:"data"`
	Included []*Resource    `json:"included,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Links    *Links         `json:"links,omitempty"`
	JSONAPI  JSONAPIObject  `json:"jsonapi"`
}

// New creates a document around data
func New(data any) *Document {
	return &Document{Data: data, JSONAPI: DefaultJSONAPI()}
}

// Marshal encodes the document. Indented output is used in debug mode.
func (d *Document) Marshal(indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(d, "", "  ")
	}
	return json.Marshal(d)
}

// AddMeta sets a meta member
func (d *Document) AddMeta(key string, value any) {
	if d.Meta == nil {
		d.Meta = make(map[string]any)
	}
	d.Meta[key] = value
}

func sortedNames(d map[string]any) []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
