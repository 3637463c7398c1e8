// Package testutil provides testing utilities for the gallery fetch layers.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
)

// MockResponse defines a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// ListPage is one list page served by the mock.
type ListPage struct {
	Galleries []gallery.Gallery
	Page      gallery.PageNumber
	SortOrder gallery.SortOrder
}

// MockGallery is a configurable mock gallery site for testing.
//
// Routes:
//
//	GET /api/list?page=N&next=CURSOR&...       list page N
//	GET /api/gallery/{gid}/previews?page=N     preview batch N of a gallery
type MockGallery struct {
	server *httptest.Server

	mu        sync.RWMutex
	overrides map[string]MockResponse
	lists     map[int]ListPage
	previews  map[string]map[int]map[int]string

	requestCount int
	requests     []url.Values
}

// NewMockGallery starts a mock gallery server.
func NewMockGallery() *MockGallery {
	mock := &MockGallery{
		overrides: make(map[string]MockResponse),
		lists:     make(map[int]ListPage),
		previews:  make(map[string]map[int]map[int]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.requests = append(mock.requests, r.URL.Query())
		override, hasOverride := mock.overrides[r.URL.Path]
		mock.mu.Unlock()

		if hasOverride {
			writeResponse(w, override)
			return
		}

		switch {
		case r.URL.Path == "/api/list":
			mock.serveList(w, r)
		case strings.HasPrefix(r.URL.Path, "/api/gallery/") && strings.HasSuffix(r.URL.Path, "/previews"):
			mock.servePreviews(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGallery) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGallery) Close() {
	m.server.Close()
}

// SetListPage configures list page n.
func (m *MockGallery) SetListPage(n int, page ListPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[n] = page
}

// SetPreviews configures preview batch n of gallery gid, keyed by 1-based
// preview index.
func (m *MockGallery) SetPreviews(gid string, n int, previews map[int]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previews[gid] == nil {
		m.previews[gid] = make(map[int]map[int]string)
	}
	m.previews[gid][n] = previews
}

// SetResponse replaces every response for path with resp.
func (m *MockGallery) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[path] = resp
}

// ClearResponse removes an override set by SetResponse.
func (m *MockGallery) ClearResponse(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, path)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGallery) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// Requests returns the query parameters of every request so far.
func (m *MockGallery) Requests() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]url.Values(nil), m.requests...)
}

func (m *MockGallery) serveList(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		n = 0
	}

	m.mu.RLock()
	page, ok := m.lists[n]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	galleries := page.Galleries
	if galleries == nil {
		galleries = []gallery.Gallery{}
	}
	writeJSON(w, map[string]any{
		"galleries":  galleries,
		"page":       page.Page,
		"sort_order": page.SortOrder,
	})
}

func (m *MockGallery) servePreviews(w http.ResponseWriter, r *http.Request) {
	gid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/gallery/"), "/previews")
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		n = 0
	}

	m.mu.RLock()
	batch, ok := m.previews[gid][n]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	previews := make(map[string]string, len(batch))
	for index, u := range batch {
		previews[strconv.Itoa(index)] = u
	}
	writeJSON(w, map[string]any{"previews": previews})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
