// Package alquran is a content.Provider for the api.alquran.cloud REST API
// with in-memory memoization of fetched verses and pages.
package alquran

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/tilawa/core/cache"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
	ttlcache "github.com/FocuswithJustin/tilawa/internal/cache"
	"github.com/FocuswithJustin/tilawa/internal/logging"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.alquran.cloud/"

// DefaultEdition is the text edition requested for verse text.
const DefaultEdition = "quran-uthmani"

const userAgent = "tilawa/1.0"

// maxBody caps a decoded response; a full chapter is well under this.
const maxBody = 8 << 20

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %s", e.Status)
}

// IsNotFound reports a 404.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to the API. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	http     *http.Client
	edition  string
	verses   *cache.LRU[verse.GlobalIndex, content.Verse]
	pages    *cache.LRU[int, []content.Verse]
	reciters *ttlcache.TTLCache[string, Reciter]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 15s-timeout client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithEdition selects the text edition.
func WithEdition(e string) Option {
	return func(c *Client) { c.edition = e }
}

// WithReciterTTL sets how long the reciter list is reused.
func WithReciterTTL(d time.Duration) Option {
	return func(c *Client) { c.reciters = ttlcache.New[string, Reciter](d) }
}

// WithCache sets the verse and page memoization limits.
func WithCache(cfg cache.Config) Option {
	return func(c *Client) {
		c.verses = cache.NewLRU[verse.GlobalIndex, content.Verse](cfg)
		pc := cfg
		if pc.MaxSize > 0 {
			pc.MaxSize = max(1, pc.MaxSize/8)
		}
		c.pages = cache.NewLRU[int, []content.Verse](pc)
	}
}

// New returns a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.NewValidation("base_url", fmt.Sprintf("unsupported content URL %q", baseURL))
	}
	c := &Client{
		base:    u,
		http:    &http.Client{Timeout: 15 * time.Second},
		edition: DefaultEdition,
	}
	WithCache(cache.DefaultConfig())(c)
	WithReciterTTL(24 * time.Hour)(c)
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// envelope is the API's response wrapper. On failure Data holds a message
// string instead of the payload.
type envelope struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var zero T
	ref := &url.URL{Path: path}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	u := c.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return zero, errors.NewContentFetch(path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return zero, errors.NewContentFetch(path, err)
	}
	defer resp.Body.Close()
	logging.LoggerFromContext(ctx).Debug("content request",
		"path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || (decodeErr == nil && env.Code != 0 && env.Code != http.StatusOK) {
		he := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
		if decodeErr == nil {
			_ = json.Unmarshal(env.Data, &he.Message)
			if env.Code != 0 {
				he.StatusCode, he.Status = env.Code, strconv.Itoa(env.Code)+" "+env.Status
			}
		}
		var err error = he
		if he.IsNotFound() {
			err = errors.Join(he, errors.NewNotFound("content", path))
		}
		return zero, errors.NewContentFetch(path, err)
	}
	if decodeErr != nil {
		return zero, errors.NewContentFetch(path, fmt.Errorf("decode envelope: %w", decodeErr))
	}
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return zero, errors.NewContentFetch(path, fmt.Errorf("decode data: %w", err))
	}
	return out, nil
}
