// Package client provides the HTTP client for the gallery site's JSON API:
// list pages with cursor continuation and preview batches.
//
// The client never retries. Retrying is a user decision made through the
// loading state of the slot that failed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
	"github.com/Sternrassler/gallery-fetch/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for gallery API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_client_requests_total",
		Help: "Total gallery API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gallery_client_request_duration_seconds",
		Help:    "Gallery API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_client_errors_total",
		Help: "Total gallery API errors by class",
	}, []string{"class"})
)

const (
	endpointList     = "list"
	endpointPreviews = "previews"
)

// Client is the gallery API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the gallery site, e.g. "https://gallery.example.org".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout for a single HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// New creates a gallery API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "gallery-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetLogger replaces the component logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

type listResponse struct {
	Galleries []gallery.Gallery  `json:"galleries"`
	Page      gallery.PageNumber `json:"page"`
	SortOrder gallery.SortOrder  `json:"sort_order"`
}

type previewResponse struct {
	Previews map[string]string `json:"previews"`
}

// FetchGalleries fetches one list page. It has the shape of
// pagination.FetchFunc[gallery.Gallery].
func (c *Client) FetchGalleries(ctx context.Context, req pagination.Request) (pagination.Page[gallery.Gallery], error) {
	const op = "fetch list"

	params := url.Values{}
	for k, v := range req.Query.Params {
		params[k] = append([]string(nil), v...)
	}
	if req.Query.Keyword != "" {
		params.Set("keyword", req.Query.Keyword)
	}
	if req.Query.SortOrder != "" {
		params.Set("sort", string(req.Query.SortOrder))
	}
	params.Set("page", strconv.Itoa(req.Page))
	if req.Cursor != "" {
		params.Set("next", req.Cursor)
	}

	var body listResponse
	if err := c.getJSON(ctx, op, endpointList, "/api/list", params, &body); err != nil {
		return pagination.Page[gallery.Gallery]{}, err
	}

	c.logger.Debug().
		Int("page", body.Page.Current).
		Int("maximum", body.Page.Maximum).
		Int("galleries", len(body.Galleries)).
		Msg("List page received")

	return pagination.Page[gallery.Gallery]{
		Number:    body.Page,
		Items:     body.Galleries,
		SortOrder: body.SortOrder,
	}, nil
}

// FetchPreviews fetches detail page `page` of g and returns its preview
// URLs keyed by 1-based preview index. An empty map means the page exists
// but holds no previews.
func (c *Client) FetchPreviews(ctx context.Context, g gallery.Gallery, page int) (map[int]string, error) {
	const op = "fetch previews"

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	if g.Token != "" {
		params.Set("token", g.Token)
	}

	var body previewResponse
	path := "/api/gallery/" + url.PathEscape(g.ID) + "/previews"
	if err := c.getJSON(ctx, op, endpointPreviews, path, params, &body); err != nil {
		return nil, err
	}

	previews := make(map[int]string, len(body.Previews))
	for key, u := range body.Previews {
		index, err := strconv.Atoi(key)
		if err != nil || index < 1 {
			errorsTotal.WithLabelValues(string(ErrorClassParse)).Inc()
			return nil, apperr.Newf(apperr.KindParse, op, "invalid preview index %q", key)
		}
		previews[index] = u
	}
	return previews, nil
}

// getJSON performs a GET and decodes a 200 response into dest.
func (c *Client) getJSON(ctx context.Context, op, endpoint, path string, params url.Values, dest any) error {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			requestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Gallery request error")
		return apperr.New(kindFor(class, resp.StatusCode), op, &StatusError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		})
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		errorsTotal.WithLabelValues(string(ErrorClassParse)).Inc()
		return apperr.New(apperr.KindParse, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
