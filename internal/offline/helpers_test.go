package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/newt-tracker/offline/internal/cache"
	"github.com/newt-tracker/offline/internal/origin"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://tracker.example.com"

var testManifest = []string{"/", "/favicon.ico", "/icons/icon-192x192.png", "/icons/icon-512x512.png"}

var errUnreachable = errors.New("network unreachable")

// fakeNetwork answers requests for any host from an in-memory asset table.
type fakeNetwork struct {
	mu     sync.Mutex
	assets map[string]string
	hits   map[string]int
	down   atomic.Bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		assets: map[string]string{
			"tracker.example.com/":                       "<html>newt tracker</html>",
			"tracker.example.com/favicon.ico":            "ico",
			"tracker.example.com/icons/icon-192x192.png": "png-192",
			"tracker.example.com/icons/icon-512x512.png": "png-512",
			"tracker.example.com/static/app.js":          "console.log('newt')",
			"tiles.example.com/3/4/2.png":                "tile",
		},
		hits: map[string]int{},
	}
}

func (f *fakeNetwork) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.down.Load() {
		return nil, errUnreachable
	}
	id := r.URL.Host + r.URL.Path

	f.mu.Lock()
	f.hits[id]++
	body, ok := f.assets[id]
	f.mu.Unlock()

	status := http.StatusOK
	if r.Method != http.MethodGet {
		body = "accepted " + r.Method
	} else if !ok {
		status = http.StatusNotFound
		body = "not found"
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}, nil
}

func (f *fakeNetwork) hitCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[id]
}

func (f *fakeNetwork) remove(id string) {
	f.mu.Lock()
	delete(f.assets, id)
	f.mu.Unlock()
}

type fixture struct {
	net     *fakeNetwork
	storage *cache.MemoryStorage
	worker  *Worker
}

func newFixture(t *testing.T, cacheName string) *fixture {
	t.Helper()
	return newFixtureWith(t, cacheName, nil)
}

// newFixtureWith lets a test adjust the options, typically to wrap the
// storage, before the worker is built.
func newFixtureWith(t *testing.T, cacheName string, adjust func(*Options)) *fixture {
	t.Helper()
	net := newFakeNetwork()
	client, err := origin.NewClient(testOrigin, net, 0)
	require.NoError(t, err)

	storage := cache.NewMemoryStorage()
	opts := Options{
		CacheName: cacheName,
		Manifest:  testManifest,
		Storage:   storage,
		Origin:    client,
	}
	if adjust != nil {
		adjust(&opts)
	}
	w, err := New(opts)
	require.NoError(t, err)
	return &fixture{net: net, storage: storage, worker: w}
}

// flakyStorage fails a set number of Names calls and, through the stores
// it opens, the putFailAt-th Put (1-based, 0 for never).
type flakyStorage struct {
	*cache.MemoryStorage
	namesFailures atomic.Int32
	putFailAt     int32
	puts          atomic.Int32
}

var errStorage = errors.New("storage unavailable")

func (s *flakyStorage) Names(ctx context.Context) ([]string, error) {
	if s.namesFailures.Load() > 0 {
		s.namesFailures.Add(-1)
		return nil, errStorage
	}
	return s.MemoryStorage.Names(ctx)
}

func (s *flakyStorage) Open(ctx context.Context, name string) (cache.Store, error) {
	st, err := s.MemoryStorage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flakyStore{Store: st, storage: s}, nil
}

type flakyStore struct {
	cache.Store
	storage *flakyStorage
}

func (s *flakyStore) Put(ctx context.Context, key string, obj cache.Object) error {
	n := s.storage.puts.Add(1)
	if s.storage.putFailAt > 0 && n == s.storage.putFailAt {
		return errStorage
	}
	return s.Store.Put(ctx, key, obj)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
