package origin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the network side of the offline cache: every request that is
// not answered from a cache store goes through it to the application origin.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient builds a client for the origin at baseURL. A zero timeout leaves
// network fetches unbounded. transport may be nil.
func NewClient(baseURL string, transport http.RoundTripper, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	return &Client{
		base: u,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (c *Client) BaseURL() *url.URL {
	clone := *c.base
	return &clone
}

// Resolve turns an origin-relative path such as "/icons/icon.png" into an
// absolute URL on the origin.
func (c *Client) Resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	u := c.BaseURL()
	u.Path = strings.TrimRight(u.Path, "/") + ref.Path
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	return u, nil
}

// SameOrigin reports whether u has the scheme and host of the origin.
func (c *Client) SameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.base.Scheme) && strings.EqualFold(u.Host, c.base.Host)
}

// Do performs a network fetch. Redirects are handed back to the caller
// rather than followed, so a page navigation sees the redirect itself.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.RequestURI != "" {
		req = req.Clone(req.Context())
		req.RequestURI = ""
	}
	return c.http.Do(req)
}

// Fetch GETs an origin-relative path and reads the whole body.
func (c *Client) Fetch(ctx context.Context, path string, headers http.Header) (*http.Response, []byte, error) {
	u, err := c.Resolve(path)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	copyHeaders(req.Header, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
