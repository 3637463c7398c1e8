package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/gallery-fetch/internal/testutil"
	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
	"github.com/Sternrassler/gallery-fetch/pkg/pagination"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, mock *testutil.MockGallery) *Client {
	t.Helper()
	c, err := New(DefaultConfig(mock.URL(), "GalleryFetch/test"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetLogger(zerolog.Nop())
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "valid config", config: DefaultConfig("https://gallery.example.org", "App/1.0")},
		{name: "empty base url", config: Config{UserAgent: "App/1.0"}, expectError: true},
		{name: "empty user agent", config: Config{BaseURL: "https://gallery.example.org"}, expectError: true},
		{name: "unsupported scheme", config: Config{BaseURL: "ftp://gallery.example.org", UserAgent: "App/1.0"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.expectError {
				t.Errorf("New() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestFetchGalleries(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()

	mock.SetListPage(1, testutil.ListPage{
		Galleries: []gallery.Gallery{{ID: "101", Token: "aa", Title: "First"}, {ID: "102", Token: "bb", Title: "Second"}},
		Page:      gallery.PageNumber{Current: 1, Maximum: 4},
		SortOrder: gallery.SortByFavoritedTime,
	})

	c := newTestClient(t, mock)
	page, err := c.FetchGalleries(context.Background(), pagination.Request{
		Query:  gallery.Query{Keyword: "artbook", SortOrder: gallery.SortByFavoritedTime},
		Page:   1,
		Cursor: "100",
	})
	if err != nil {
		t.Fatalf("FetchGalleries() error = %v", err)
	}

	if len(page.Items) != 2 || page.Items[1].Identity() != "102" {
		t.Errorf("items = %+v", page.Items)
	}
	if page.Number != (gallery.PageNumber{Current: 1, Maximum: 4}) {
		t.Errorf("number = %+v", page.Number)
	}
	if page.SortOrder != gallery.SortByFavoritedTime {
		t.Errorf("sort order = %q", page.SortOrder)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("request count = %d, want 1", len(reqs))
	}
	q := reqs[0]
	if q.Get("keyword") != "artbook" || q.Get("page") != "1" || q.Get("next") != "100" || q.Get("sort") != "favorited" {
		t.Errorf("query = %v", q)
	}
}

func TestFetchGalleries_FirstPageHasNoCursor(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetListPage(0, testutil.ListPage{Page: gallery.PageNumber{Current: 0, Maximum: 2}})

	c := newTestClient(t, mock)
	page, err := c.FetchGalleries(context.Background(), pagination.Request{})
	if err != nil {
		t.Fatalf("FetchGalleries() error = %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("items = %+v, want empty", page.Items)
	}
	if mock.Requests()[0].Has("next") {
		t.Error("first page request should not carry a cursor")
	}
}

func TestFetchGalleries_Errors(t *testing.T) {
	tests := []struct {
		name     string
		response *testutil.MockResponse
		wantKind apperr.Kind
	}{
		{name: "missing page", wantKind: apperr.KindNotFound},
		{name: "server error", response: ptr(testutil.NewServerErrorResponse()), wantKind: apperr.KindNetwork},
		{name: "rate limited", response: ptr(testutil.NewRateLimitResponse()), wantKind: apperr.KindNetwork},
		{name: "malformed body", response: ptr(testutil.NewMalformedResponse()), wantKind: apperr.KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockGallery()
			defer mock.Close()
			if tt.response != nil {
				mock.SetResponse("/api/list", *tt.response)
			}

			c := newTestClient(t, mock)
			_, err := c.FetchGalleries(context.Background(), pagination.Request{Page: 7})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperr.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q (err: %v)", got, tt.wantKind, err)
			}
			if mock.GetRequestCount() != 1 {
				t.Errorf("request count = %d, client must not retry", mock.GetRequestCount())
			}
		})
	}
}

func TestFetchGalleries_Cancelled(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetResponse("/api/list", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{}`, Delay: 500 * time.Millisecond})

	c := newTestClient(t, mock)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.FetchGalleries(ctx, pagination.Request{})
	if !apperr.IsCancelled(err) {
		t.Errorf("error = %v, want cancellation", err)
	}
}

func TestFetchPreviews(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetPreviews("101", 1, map[int]string{41: "https://img.example.org/41.jpg", 42: "https://img.example.org/42.jpg"})

	c := newTestClient(t, mock)
	previews, err := c.FetchPreviews(context.Background(), gallery.Gallery{ID: "101", Token: "aa"}, 1)
	if err != nil {
		t.Fatalf("FetchPreviews() error = %v", err)
	}
	if len(previews) != 2 || previews[42] != "https://img.example.org/42.jpg" {
		t.Errorf("previews = %v", previews)
	}
	if got := mock.Requests()[0].Get("token"); got != "aa" {
		t.Errorf("token = %q, want aa", got)
	}

	_, err = c.FetchPreviews(context.Background(), gallery.Gallery{ID: "101"}, 9)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing batch error = %v, want not found", err)
	}
}

func TestFetchPreviews_InvalidIndex(t *testing.T) {
	mock := testutil.NewMockGallery()
	defer mock.Close()
	mock.SetResponse("/api/gallery/101/previews", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"previews": {"first": "https://img.example.org/1.jpg"}}`,
	})

	c := newTestClient(t, mock)
	_, err := c.FetchPreviews(context.Background(), gallery.Gallery{ID: "101"}, 0)
	if got := apperr.KindOf(err); got != apperr.KindParse {
		t.Errorf("KindOf() = %q, want parse", got)
	}
}

func ptr[T any](v T) *T { return &v }
