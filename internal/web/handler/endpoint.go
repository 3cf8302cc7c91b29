package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/conduit-lang/japi/internal/apierrors"
)

// EndpointKind is one of the four JSON:API endpoint shapes
type EndpointKind int

const (
	// CollectionEndpoint is /{type}
	CollectionEndpoint EndpointKind = iota
	// ResourceEndpoint is /{type}/{id}
	ResourceEndpoint
	// RelationshipEndpoint is /{type}/{id}/relationships/{relationship}
	RelationshipEndpoint
	// RelatedEndpoint is /{type}/{id}/{relationship}
	RelatedEndpoint
)

// String returns the string representation of EndpointKind
func (k EndpointKind) String() string {
	switch k {
	case CollectionEndpoint:
		return "collection"
	case ResourceEndpoint:
		return "resource"
	case RelationshipEndpoint:
		return "relationship"
	case RelatedEndpoint:
		return "related"
	default:
		return "unknown"
	}
}

// Methods returns the verbs an endpoint kind supports
func (k EndpointKind) Methods() []string {
	switch k {
	case CollectionEndpoint:
		return []string{http.MethodGet, http.MethodHead, http.MethodPost}
	case ResourceEndpoint:
		return []string{http.MethodGet, http.MethodHead, http.MethodPatch, http.MethodDelete}
	case RelationshipEndpoint:
		return []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPatch, http.MethodDelete}
	case RelatedEndpoint:
		return []string{http.MethodGet, http.MethodHead}
	default:
		return nil
	}
}

// Endpoint is a matched URL
type Endpoint struct {
	Kind         EndpointKind
	Type         string
	ID           string
	Relationship string
}

// Match maps a request path below the API's base URI to an endpoint.
// Paths outside the base URI or of any other shape raise NotFound.
func (a *API) Match(path string) (Endpoint, error) {
	notFound := apierrors.NotFound(fmt.Sprintf("The path '%s' does not name an endpoint.", path))

	base := strings.TrimRight(a.basePath, "/")
	rest, ok := strings.CutPrefix(path, base)
	if !ok || !strings.HasPrefix(rest, "/") {
		return Endpoint{}, notFound
	}

	raw := strings.Split(strings.Trim(rest, "/"), "/")
	segments := make([]string, len(raw))
	for i, s := range raw {
		unescaped, err := url.PathUnescape(s)
		if err != nil || unescaped == "" {
			return Endpoint{}, notFound
		}
		segments[i] = unescaped
	}

	switch {
	case len(segments) == 1:
		return Endpoint{Kind: CollectionEndpoint, Type: segments[0]}, nil
	case len(segments) == 2:
		return Endpoint{Kind: ResourceEndpoint, Type: segments[0], ID: segments[1]}, nil
	case len(segments) == 3:
		return Endpoint{Kind: RelatedEndpoint, Type: segments[0], ID: segments[1], Relationship: segments[2]}, nil
	case len(segments) == 4 && raw[2] == "relationships":
		return Endpoint{Kind: RelationshipEndpoint, Type: segments[0], ID: segments[1], Relationship: segments[3]}, nil
	default:
		return Endpoint{}, notFound
	}
}

// ReverseURL builds the URL of an endpoint. id is required for every kind
// but collections; rel for relationship and related endpoints.
func (a *API) ReverseURL(typename string, kind EndpointKind, id, rel string) (string, error) {
	if !a.registry.Has(typename) {
		return "", fmt.Errorf("unknown type %s", typename)
	}
	if kind != CollectionEndpoint && id == "" {
		return "", fmt.Errorf("the %s endpoint requires an id", kind)
	}
	if (kind == RelationshipEndpoint || kind == RelatedEndpoint) && rel == "" {
		return "", fmt.Errorf("the %s endpoint requires a relationship name", kind)
	}

	switch kind {
	case CollectionEndpoint:
		return a.links.Collection(typename), nil
	case ResourceEndpoint:
		return a.links.Resource(typename, id), nil
	case RelationshipEndpoint:
		return a.links.Relationship(typename, id, rel), nil
	case RelatedEndpoint:
		return a.links.Related(typename, id, rel), nil
	default:
		return "", fmt.Errorf("unknown endpoint kind %d", kind)
	}
}
