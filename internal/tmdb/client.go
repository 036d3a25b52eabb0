// Package tmdb provides a rate-limited client for The Movie Database API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/filmbot/pkg/logger"
	"github.com/user/filmbot/pkg/ratelimiter"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://api.themoviedb.org/3"
	ImageBaseURL   = "https://image.tmdb.org/t/p/"
	WebBaseURL     = "https://www.themoviedb.org"
)

// Cache stores raw response bodies for idempotent lookups.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Options configures a Client.
type Options struct {
	APIKey    string
	ReadToken string // v4 read access token; sent as a bearer token when set
	BaseURL   string
	Language  string
	Timeout   time.Duration
	Limiter   ratelimiter.RateLimiter
	Cache     Cache
	CacheTTL  time.Duration
}

// Client wraps the TMDB REST API. Every request passes through the limiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	language   string
	limiter    ratelimiter.RateLimiter
	cache      Cache
	cacheTTL   time.Duration
}

// NewClient creates a new TMDB client.
// With a read token the client authenticates through an oauth2 static token
// source; otherwise the api_key query parameter is used.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var httpClient *http.Client
	if opts.ReadToken != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: opts.ReadToken},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = timeout

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimiter.NewTokenBucket(40, 10*time.Second)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		language:   opts.Language,
		limiter:    limiter,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
	}
}

// MovieDetails fetches the current snapshot of a movie.
func (c *Client) MovieDetails(ctx context.Context, id int) (*MovieDetails, error) {
	var movie MovieDetails
	if err := c.getJSON(ctx, "movie details", fmt.Sprintf("/movie/%d", id), nil, &movie); err != nil {
		return nil, err
	}
	return &movie, nil
}

// TVDetails fetches the current snapshot of a TV show.
func (c *Client) TVDetails(ctx context.Context, id int) (*TVDetails, error) {
	var show TVDetails
	if err := c.getJSON(ctx, "tv details", fmt.Sprintf("/tv/%d", id), nil, &show); err != nil {
		return nil, err
	}
	return &show, nil
}

// SearchMulti searches movies, shows and people. Responses are cached when
// the client has a cache.
func (c *Client) SearchMulti(ctx context.Context, query string) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", "1")
	params.Set("include_adult", "false")

	cacheKey := "search_multi:" + c.language + ":" + strings.ToLower(strings.TrimSpace(query))
	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, cacheKey); err != nil {
			logger.Warn().Err(err).Str("key", cacheKey).Msg("Cache lookup failed")
		} else if ok {
			var cached SearchResponse
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &cached, nil
			}
		}
	}

	body, err := c.get(ctx, "search", "/search/multi", params)
	if err != nil {
		return nil, err
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &RemoteError{Op: "search", Err: fmt.Errorf("decode response: %w", err)}
	}

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, cacheKey, string(body), c.cacheTTL); err != nil {
			logger.Warn().Err(err).Str("key", cacheKey).Msg("Cache store failed")
		}
	}

	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, dst any) error {
	body, err := c.get(ctx, op, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// get performs a rate-limited GET and returns the raw body of a 2xx response.
func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}

	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	if c.language != "" && params.Get("language") == "" {
		params.Set("language", c.language)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	logger.Debug().Str("op", op).Str("path", path).Msg("TMDB request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(statusMessage(body, resp.Status))}
	}

	return body, nil
}

// statusMessage extracts TMDB's status_message from an error body.
func statusMessage(body []byte, fallback string) string {
	var payload struct {
		StatusMessage string `json:"status_message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.StatusMessage != "" {
		return payload.StatusMessage
	}
	return fallback
}

// ImageURL returns the CDN URL of an image path at the given size (w185, w500, original).
func ImageURL(path, size string) string {
	if path == "" {
		return ""
	}
	if size == "" {
		size = "original"
	}
	return ImageBaseURL + size + path
}

// WebURL returns the public catalogue page for a movie or show.
func WebURL(mediaType string, id int) string {
	return fmt.Sprintf("%s/%s/%d", WebBaseURL, mediaType, id)
}
