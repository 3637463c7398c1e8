// Package gallery holds the domain types shared by the fetch layers.
package gallery

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// Category is the site category of a gallery.
type Category string

// Gallery is one entry of a list page.
type Gallery struct {
	ID        string    `json:"gid"`
	Token     string    `json:"token"`
	Title     string    `json:"title"`
	Category  Category  `json:"category,omitempty"`
	Uploader  string    `json:"uploader,omitempty"`
	PageCount int       `json:"page_count,omitempty"`
	PostedAt  time.Time `json:"posted_at,omitempty"`
	URL       string    `json:"url"`
}

// Identity returns the value used for list deduplication and as the
// continuation cursor.
func (g Gallery) Identity() string {
	return g.ID
}

// PageNumber is the pagination position reported by the server.
// Maximum is authoritative from the latest response and may move either way.
type PageNumber struct {
	Current int `json:"current"`
	Maximum int `json:"maximum"`
}

// HasNext reports whether another page exists after Current.
func (p PageNumber) HasNext() bool {
	return p.Current+1 <= p.Maximum
}

// Exhausted reports whether Current has reached Maximum.
func (p PageNumber) Exhausted() bool {
	return p.Current >= p.Maximum
}

// ValidJump reports whether the 1-based page index can be jumped to.
func (p PageNumber) ValidJump(index int) bool {
	return index > 0 && index <= p.Maximum+1
}

// SortOrder is the favorites sort order echoed by the server.
type SortOrder string

const (
	SortByFavoritedTime SortOrder = "favorited"
	SortByLastUpdate    SortOrder = "updated"
)

// Query is the filter set for a list fetch.
type Query struct {
	Keyword   string     `json:"keyword,omitempty"`
	Params    url.Values `json:"params,omitempty"`
	SortOrder SortOrder  `json:"sort_order,omitempty"`
}

// Key renders a deterministic representation of q, used in scope ids.
// Format: keyword:param1=val1:param2=val2:sort=order
func (q Query) Key() string {
	parts := []string{q.Keyword}

	if len(q.Params) > 0 {
		keys := make([]string, 0, len(q.Params))
		for k := range q.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+strings.Join(q.Params[k], ","))
		}
	}

	if q.SortOrder != "" {
		parts = append(parts, "sort="+string(q.SortOrder))
	}
	return strings.Join(parts, ":")
}
