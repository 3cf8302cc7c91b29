package serializer

import (
	"net/url"
	"strings"
)

// Links builds the URLs of the four endpoint kinds below a base URI
type Links struct {
	BaseURI string
}

func (l Links) join(segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(l.BaseURI, "/"))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// Collection returns the URL of a collection endpoint
func (l Links) Collection(typename string) string {
	return l.join(typename)
}

// Resource returns the URL of a resource endpoint
func (l Links) Resource(typename, id string) string {
	return l.join(typename, id)
}

// Relationship returns the URL of a relationship endpoint
func (l Links) Relationship(typename, id, name string) string {
	return l.join(typename, id, "relationships", name)
}

// Related returns the URL of a related endpoint
func (l Links) Related(typename, id, name string) string {
	return l.join(typename, id, name)
}
