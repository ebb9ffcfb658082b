package origin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	c, err := NewClient("https://tracker.example.com/app/", nil, 0)
	require.NoError(t, err)

	u, err := c.Resolve("/icons/icon-192x192.png?v=3")
	require.NoError(t, err)
	assert.Equal(t, "https://tracker.example.com/app/icons/icon-192x192.png?v=3", u.String())

	root, err := c.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, "https://tracker.example.com/app/", root.String())
}

func TestSameOrigin(t *testing.T) {
	c, err := NewClient("https://tracker.example.com", nil, 0)
	require.NoError(t, err)

	mustParse := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}
	assert.True(t, c.SameOrigin(mustParse("https://TRACKER.example.com/x")))
	assert.False(t, c.SameOrigin(mustParse("http://tracker.example.com/x")))
	assert.False(t, c.SameOrigin(mustParse("https://tiles.example.com/1/2/3.png")))
	assert.False(t, c.SameOrigin(mustParse("https://tracker.example.com:8443/x")))
	assert.False(t, c.SameOrigin(nil))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/favicon.ico", r.URL.Path)
		assert.Equal(t, "newt", r.Header.Get("X-Client"))
		w.Header().Set("Content-Type", "image/x-icon")
		_, _ = w.Write([]byte("ico"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil, 0)
	require.NoError(t, err)

	resp, body, err := c.Fetch(context.Background(), "/favicon.ico", http.Header{"X-Client": {"newt"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ico", string(body))
}

func TestDoDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			_, _ = w.Write([]byte("login"))
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil, 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, srv.URL+"/dashboard", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}
