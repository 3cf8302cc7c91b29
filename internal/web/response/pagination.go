package response

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/conduit-lang/japi/internal/web/document"
)

// TotalPages returns the number of pages of size needed for total resources
func TotalPages(total, size int) int {
	if size < 1 {
		return 0
	}
	return (total + size - 1) / size
}

// PaginationMeta returns the meta members of a paginated collection
func PaginationMeta(page, size, total int) map[string]any {
	return map[string]any{
		"total-pages":     TotalPages(total, size),
		"total-resources": total,
		"page":            page,
		"page-size":       size,
	}
}

// BuildPaginationLinks creates pagination links for JSON:API responses.
// Self, first and last are always set; prev and next only when the page
// has a neighbour.
func BuildPaginationLinks(baseURL string, page, size, total int) *document.Links {
	totalPages := TotalPages(total, size)
	if totalPages < 1 {
		totalPages = 1
	}

	links := &document.Links{
		Self:  buildPageURL(baseURL, page, size),
		First: buildPageURL(baseURL, 1, size),
		Last:  buildPageURL(baseURL, totalPages, size),
	}

	if page > 1 {
		links.Prev = buildPageURL(baseURL, page-1, size)
	}

	if page < totalPages {
		links.Next = buildPageURL(baseURL, page+1, size)
	}

	return links
}

func buildPageURL(baseURL string, page, size int) string {
	// Parse the base URL to keep existing query parameters
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Sprintf("%s?page[number]=%d&page[size]=%d", baseURL, page, size)
	}

	q := u.Query()
	q.Set("page[number]", strconv.Itoa(page))
	q.Set("page[size]", strconv.Itoa(size))
	u.RawQuery = q.Encode()

	return u.String()
}
