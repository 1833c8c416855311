package tiled

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Version is the current version of this library.
	Version = "0.1.0"

	// RequestIDHeader carries a unique id for every request
	RequestIDHeader = "X-Request-ID"

	mimeJSON        = "application/json"
	mimeOctetStream = "application/octet-stream"

	// how much of an error response body to keep in a StatusError
	errorBodyLimit = 1024
)

// Client issues read-only requests against a catalog server. It holds no
// per-request state and is safe for concurrent use; block tasks evaluated in
// parallel share its connection pool.
type Client struct {
	base      *url.URL
	http      *http.Client
	log       *slog.Logger
	header    http.Header
	pageLimit int
	dispatch  map[Tag]Constructor
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Retries, timeouts, auth
// and TLS are its business.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for per-request debug output
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithPageLimit caps the page[limit] requested when slicing. Zero leaves
// page sizes to the server.
func WithPageLimit(n int) Option {
	return func(c *Client) { c.pageLimit = n }
}

// WithDispatch adds dispatch overrides to catalogs opened from this client,
// on top of the default registry
func WithDispatch(overrides map[Tag]Constructor) Option {
	return func(c *Client) {
		for t, ctor := range overrides {
			c.dispatch[t] = ctor
		}
	}
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		base:     u,
		http:     http.DefaultClient,
		log:      slog.Default(),
		header:   http.Header{},
		dispatch: map[Tag]Constructor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address
func (c *Client) BaseURL() string {
	return c.base.String()
}

// registry builds the dispatch registry a root catalog starts from
func (c *Client) registry() *Registry {
	reg := DefaultRegistry()
	for t, ctor := range c.dispatch {
		reg.Register(t, ctor)
	}
	return reg
}

// resolve turns a route ("/search/a/b") or a server supplied link into an
// absolute URL, overlaying params on whatever query the reference carries
func (c *Client) resolve(ref string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", ref, err)
	}
	if !u.IsAbs() {
		rel := u
		u = &url.URL{
			Scheme:   c.base.Scheme,
			User:     c.base.User,
			Host:     c.base.Host,
			Path:     c.base.Path + rel.Path,
			RawPath:  joinRawPath(c.base, rel),
			RawQuery: rel.RawQuery,
		}
	}
	if len(params) > 0 {
		q := u.Query()
		mergeParams(q, params)
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func joinRawPath(base, rel *url.URL) string {
	if base.RawPath == "" && rel.RawPath == "" {
		return ""
	}
	return base.EscapedPath() + rel.EscapedPath()
}

// do performs a GET and checks the status. Callers close the body.
func (c *Client) do(ctx context.Context, endpoint, ref string, params url.Values, accept string) (*http.Response, error) {
	u, err := c.resolve(ref, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Accept", accept)
	if accept == mimeOctetStream {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	start := time.Now()
	res, err := c.http.Do(req)
	elapsed := time.Since(start)
	requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "error").Inc()
		c.log.Debug("request failed", "url", u.String(), "request_id", reqID, "error", err)
		return nil, fmt.Errorf("GET %s: %w", u.Redacted(), err)
	}
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(res.StatusCode)).Inc()
	c.log.Debug("request", "url", u.String(), "status", res.StatusCode, "duration", elapsed, "request_id", reqID)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
		c.log.Warn("unexpected status", "url", u.String(), "status", res.StatusCode, "request_id", reqID)
		return nil, &StatusError{
			Method:     http.MethodGet,
			URL:        u.Redacted(),
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return res, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, ref string, params url.Values, v interface{}) error {
	res, err := c.do(ctx, endpoint, ref, params, mimeJSON)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

// getBytes fetches a binary payload, undoing any content encoding
func (c *Client) getBytes(ctx context.Context, endpoint, ref string, params url.Values) ([]byte, error) {
	res, err := c.do(ctx, endpoint, ref, params, mimeOctetStream)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	r, err := decompress(res.Header.Get("Content-Encoding"), res.Body)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s response: %w", endpoint, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Path is a sequence of catalog keys from the root
type Path []string

// NewPath splits a slash-delimited path into segments. Paths are
// normalized: backslashes become forward slashes and empty segments
// (leading, trailing or repeated slashes) are dropped.
func NewPath(posix string) Path {
	posix = strings.ReplaceAll(posix, "\\", "/")
	p := Path{}
	for _, seg := range strings.Split(posix, "/") {
		if seg != "" {
			p = append(p, seg)
		}
	}
	return p
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// escaped joins segments for use in a URL path
func (p Path) escaped() string {
	segs := make([]string, len(p))
	for i, s := range p {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Shift splits off the first segment
func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

// Join returns a new path with elems appended. The receiver's backing array
// is never shared with the result.
func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}

// route builds a server route for a path, e.g. "/search/a/b"
func route(prefix string, p Path) string {
	return "/" + prefix + "/" + p.escaped()
}
