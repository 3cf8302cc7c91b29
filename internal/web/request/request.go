// Package request holds the normalized form of one inbound JSON:API call.
// Query directives and the body document are parsed lazily on first use
// and cached afterwards.
package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/storage"
	"github.com/conduit-lang/japi/internal/web/document"
)

// DefaultMaxBodySize limits request bodies read by FromHTTP
const DefaultMaxBodySize = 10 << 20

// Request is one inbound call
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte

	// MaxPageSize rejects larger page[size] values. Zero means unlimited.
	MaxPageSize int

	ctx   context.Context
	query url.Values

	include     *[][]string
	fields      map[string][]string
	fieldsDone  bool
	sort        *[]storage.Sort
	filters     *[]storage.Filter
	page        *Page
	pageDone    bool
	window      *window
	resource    *document.ResourceObject
	linkage     *document.Linkage
	parseErrors map[string]error
}

// New creates a request from its parts
func New(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apierrors.BadRequest(fmt.Sprintf("The URL '%s' is malformed.", rawURL))
	}
	if header == nil {
		header = http.Header{}
	}
	return &Request{
		Method:      strings.ToUpper(method),
		URL:         u,
		Header:      header,
		Body:        body,
		ctx:         ctx,
		parseErrors: make(map[string]error),
	}, nil
}

// FromHTTP reads an http.Request, limiting the body to maxBodySize bytes
func FromHTTP(w http.ResponseWriter, r *http.Request, maxBodySize int64) (*Request, error) {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	var body []byte
	if r.Body != nil {
		defer r.Body.Close()
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, apierrors.New(apierrors.KindBadRequest, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("The request body exceeds %d bytes.", maxBodySize))
			}
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		body = data
	}
	req, err := New(r.Context(), r.Method, r.URL.String(), r.Header, body)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Context returns the request context
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Query returns the parsed query string
func (r *Request) Query() url.Values {
	if r.query == nil {
		r.query = r.URL.Query()
	}
	return r.query
}

// HasBody reports whether the request carries a body
func (r *Request) HasBody() bool {
	return len(strings.TrimSpace(string(r.Body))) > 0
}

// ContentType returns the media type and its parameters. A missing header
// yields an empty media type.
func (r *Request) ContentType() (string, map[string]string, error) {
	header := r.Header.Get("Content-Type")
	if header == "" {
		return "", nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		return "", nil, apierrors.BadRequest(fmt.Sprintf("Invalid 'Content-Type' header '%s'.", header))
	}
	return mediaType, params, nil
}

// CheckContentType rejects bodies that are not plain JSON:API documents.
// The JSON:API media type must not carry parameters.
func (r *Request) CheckContentType() error {
	if !r.HasBody() {
		return nil
	}
	mediaType, params, err := r.ContentType()
	if err != nil {
		return err
	}
	if mediaType != document.MediaType {
		return apierrors.UnsupportedMediaType(
			fmt.Sprintf("The request body must be sent with the media type '%s'.", document.MediaType))
	}
	if len(params) > 0 {
		return apierrors.UnsupportedMediaType(
			fmt.Sprintf("The media type '%s' must not carry parameters.", document.MediaType))
	}
	return nil
}

// CheckAccept fails when the Accept header names the JSON:API media type
// only with parameters
func (r *Request) CheckAccept() error {
	header := strings.Join(r.Header.Values("Accept"), ",")
	if strings.TrimSpace(header) == "" {
		return nil
	}

	jsonapi, plain := 0, 0
	for _, part := range strings.Split(header, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil || mediaType != document.MediaType {
			continue
		}
		jsonapi++
		delete(params, "q")
		if len(params) == 0 {
			plain++
		}
	}
	if jsonapi > 0 && plain == 0 {
		return apierrors.NotAcceptable(
			fmt.Sprintf("The media type '%s' is only accepted without parameters.", document.MediaType))
	}
	return nil
}

// Resource parses the body as a document holding a single resource object
func (r *Request) Resource() (*document.ResourceObject, error) {
	if err, ok := r.parseErrors["resource"]; ok {
		return nil, err
	}
	if r.resource == nil {
		obj, err := document.ParseResource(r.Body)
		if err != nil {
			r.parseErrors["resource"] = err
			return nil, err
		}
		r.resource = obj
	}
	return r.resource, nil
}

// Linkage parses the body as a document holding resource linkage
func (r *Request) Linkage() (document.Linkage, error) {
	if err, ok := r.parseErrors["linkage"]; ok {
		return document.Linkage{}, err
	}
	if r.linkage == nil {
		l, err := document.ParseLinkage(r.Body)
		if err != nil {
			r.parseErrors["linkage"] = err
			return document.Linkage{}, err
		}
		r.linkage = &l
	}
	return *r.linkage, nil
}
