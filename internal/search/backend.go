// Package search implements the SearchBackend collaborator: an HTTP-based
// query against a remote catalog, invoked only from the search pool and
// rate-limited per remote host through ratelimit.HostLimiter.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperr "kingo/internal/errors"
	"kingo/internal/ratelimit"

	"github.com/rs/zerolog"
)

// Hit is one result row returned by a search.
type Hit struct {
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Author       string   `json:"author"`
	DurationSecs int      `json:"duration_seconds"`
	ThumbnailURL string   `json:"thumbnail_url"`
	Qualities    []string `json:"available_qualities"`
}

// Filters narrows a query. All fields are optional.
type Filters struct {
	Platform   string
	MaxResults int
}

// Backend is the SearchBackend capability that work submitted to the
// Thread-Pool Registry's search pool consumes.
type Backend interface {
	Search(ctx context.Context, query string, filters Filters) ([]Hit, error)
}

// flexibleInt accepts a JSON field the remote catalog may render as a
// number or a numeric string. As with media.FlexibleInt, a value it cannot
// parse becomes 0 instead of failing the whole decode.
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil {
		*f = 0
		return nil
	}
	*f = flexibleInt(n)
	return nil
}

type catalogHit struct {
	Title        string      `json:"title"`
	URL          string      `json:"url"`
	Author       string      `json:"author"`
	DurationSecs flexibleInt `json:"duration_seconds"`
	ThumbnailURL string      `json:"thumbnail_url"`
	Qualities    []string    `json:"available_qualities"`
}

type catalogResponse struct {
	Results []catalogHit `json:"results"`
}

// HTTPBackend queries a remote search endpoint over HTTP, throttled by a
// host-keyed rate.Limiter.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.HostLimiter
	log        *zerolog.Logger
}

// NewHTTPBackend constructs a Backend against baseURL.
func NewHTTPBackend(baseURL string, limiter *ratelimit.HostLimiter, log *zerolog.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    limiter,
		log:        log,
	}
}

// Search issues the query against the remote catalog, returning at most
// filters.MaxResults hits.
func (b *HTTPBackend) Search(ctx context.Context, query string, filters Filters) ([]Hit, error) {
	if err := b.limiter.Wait(ctx, b.baseURL); err != nil {
		return nil, apperr.Wrap("search.Search", err)
	}

	endpoint, err := b.buildURL(query, filters)
	if err != nil {
		return nil, apperr.Wrap("search.Search", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap("search.Search", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "kingo-download-runtime/1.0")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, apperr.NewWithMessage("search.Search", apperr.ErrTimeout, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.NewWithMessage("search.Search", apperr.ErrDependencyMissing, fmt.Sprintf("search backend returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, apperr.Wrap("search.Search", err)
	}

	var parsed catalogResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Wrap("search.Search", err)
	}

	max := filters.MaxResults
	if max <= 0 || max > len(parsed.Results) {
		max = len(parsed.Results)
	}

	hits := make([]Hit, 0, max)
	for _, h := range parsed.Results[:max] {
		hits = append(hits, Hit{
			Title:        h.Title,
			URL:          h.URL,
			Author:       h.Author,
			DurationSecs: int(h.DurationSecs),
			ThumbnailURL: h.ThumbnailURL,
			Qualities:    h.Qualities,
		})
	}
	return hits, nil
}

func (b *HTTPBackend) buildURL(query string, filters Filters) (string, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("q", query)
	if filters.Platform != "" {
		q.Set("platform", filters.Platform)
	}
	if filters.MaxResults > 0 {
		q.Set("limit", fmt.Sprintf("%d", filters.MaxResults))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
