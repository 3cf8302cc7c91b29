// Package response holds the outcome of a handled JSON:API request and
// writes it to an http.ResponseWriter.
package response

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/web/document"
)

// Response is a fully rendered response. A nil Body means no content.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// New creates an empty response with the given status
func New(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// NoContent returns a 204 response
func NoContent() *Response {
	return New(http.StatusNoContent)
}

// Document renders doc with the given status
func Document(status int, doc *document.Document, indent bool) (*Response, error) {
	// Marshal before building the response so a failure leaves nothing half written
	data, err := doc.Marshal(indent)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	resp := New(status)
	resp.Header.Set("Content-Type", document.MediaType)
	resp.Body = data
	return resp, nil
}

// Error renders an API error as an error document. Non-API errors are
// returned unchanged.
func Error(err error, indent bool) (*Response, error) {
	data, status, renderErr := apierrors.Document(err, indent)
	if renderErr != nil {
		return nil, err
	}

	resp := New(status)
	resp.Header.Set("Content-Type", document.MediaType)
	resp.Body = data
	return resp, nil
}

// Allow sets the Allow header
func (r *Response) Allow(methods ...string) *Response {
	r.Header.Set("Allow", strings.Join(methods, ", "))
	return r
}

// Location sets the Location header
func (r *Response) Location(url string) *Response {
	r.Header.Set("Location", url)
	return r
}

// WithoutBody drops the body but keeps the headers, as HEAD requires
func (r *Response) WithoutBody() *Response {
	r.Body = nil
	return r
}

// Write sends the response
func (r *Response) Write(w http.ResponseWriter) error {
	for key, values := range r.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(r.Status)
	if r.Body == nil {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
