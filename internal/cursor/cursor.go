package cursor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// DefaultLimit is the page size requested when none is given.
const DefaultLimit = 200

// Cursor tracks the position within a paginated collection. Collections page
// either by _limit/_offset or by a _links.next URL carrying the next offset.
type Cursor struct {
	Limit  int
	Offset int
	pages  int
}

// Page is the envelope returned by paginated list endpoints.
type Page struct {
	Items    []json.RawMessage `json:"items"`
	Links    Links             `json:"_links"`
	Metadata Metadata          `json:"_metadata"`
}

// Links holds navigation URLs.
type Links struct {
	Next string `json:"next"`
}

// Metadata holds collection totals when the server reports them.
type Metadata struct {
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// New starts a cursor at offset zero.
func New(limit int) *Cursor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Cursor{Limit: limit}
}

// Apply returns path with _limit and _offset set for the current position.
// Existing query parameters are preserved.
func (c *Cursor) Apply(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	q := u.Query()
	q.Set("_limit", strconv.Itoa(c.Limit))
	q.Set("_offset", strconv.Itoa(c.Offset))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Advance moves past page and reports whether another page should be
// requested. A _links.next URL takes precedence. Without one, a short or
// empty page ends the collection, as does reaching the reported total.
func (c *Cursor) Advance(page *Page) (bool, error) {
	c.pages++
	got := len(page.Items)

	if page.Links.Next != "" {
		next, err := offsetFromLink(page.Links.Next)
		if err != nil {
			return false, err
		}
		if next <= c.Offset || got == 0 {
			// A next link that does not move forward would loop forever.
			return false, nil
		}
		c.Offset = next
		return true, nil
	}

	if got == 0 || got < c.Limit {
		return false, nil
	}
	c.Offset += got
	if page.Metadata.TotalItems > 0 && c.Offset >= page.Metadata.TotalItems {
		return false, nil
	}
	if page.Metadata.TotalPages > 0 && c.pages >= page.Metadata.TotalPages {
		return false, nil
	}
	return true, nil
}

// Pages returns how many pages have been consumed.
func (c *Cursor) Pages() int {
	return c.pages
}

func offsetFromLink(link string) (int, error) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, fmt.Errorf("invalid next link %q: %w", link, err)
	}
	raw := u.Query().Get("_offset")
	if raw == "" {
		return 0, fmt.Errorf("next link %q has no _offset", link)
	}
	offset, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("next link %q has invalid _offset: %w", link, err)
	}
	return offset, nil
}
