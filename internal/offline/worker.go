package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/newt-tracker/offline/internal/cache"
	"github.com/newt-tracker/offline/internal/lock"
	"github.com/newt-tracker/offline/internal/observe"
	"github.com/newt-tracker/offline/internal/origin"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	lifecycleLockKey = "lock:lifecycle"
	rootPath         = "/"

	// DefaultMaxObjectBytes bounds the body of a write-back. Larger
	// responses stream through to the caller and are not stored.
	DefaultMaxObjectBytes = 8 << 20
)

var (
	ErrInstallFailed  = errors.New("offline: install failed")
	ErrActivateFailed = errors.New("offline: activate failed")
	ErrInvalidState   = errors.New("offline: invalid lifecycle state")
)

type Options struct {
	// CacheName names the store of the running version. It must change
	// whenever Manifest does.
	CacheName string
	// Manifest lists the origin paths that must be cached at install.
	Manifest []string
	Storage  cache.Storage
	Origin   *origin.Client

	Locker      lock.Locker
	LockTTL     time.Duration
	MaxLockWait time.Duration

	// MaxObjectBytes caps opportunistic write-backs; zero means
	// DefaultMaxObjectBytes.
	MaxObjectBytes int64

	Logger  *zap.Logger
	Metrics observe.Metrics
}

// Worker is the offline asset cache. It installs the manifest into its
// named store, purges the stores of other versions on activation, and then
// answers GET requests cache-first.
type Worker struct {
	opts    Options
	log     *zap.Logger
	metrics observe.Metrics

	mu      sync.RWMutex
	state   State
	store   cache.Store
	closing bool

	pending sync.WaitGroup
}

func New(opts Options) (*Worker, error) {
	if opts.CacheName == "" {
		return nil, errors.New("offline: cache name is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("offline: storage is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("offline: origin is required")
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.MaxLockWait <= 0 {
		opts.MaxLockWait = 10 * time.Second
	}
	if opts.MaxObjectBytes <= 0 {
		opts.MaxObjectBytes = DefaultMaxObjectBytes
	}
	opts.Manifest = append([]string(nil), opts.Manifest...)

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.NoopMetrics{}
	}

	return &Worker{
		opts:    opts,
		log:     log.With(zap.String("cache", opts.CacheName)),
		metrics: metrics,
		state:   StateParsed,
	}, nil
}

func (w *Worker) CacheName() string { return w.opts.CacheName }

func (w *Worker) Manifest() []string {
	return append([]string(nil), w.opts.Manifest...)
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Start runs Install and then Activate without waiting for older versions
// to go away. Replicas sharing a Locker never run these steps concurrently.
// A worker left Installed by a failed activation only repeats Activate; an
// active worker is left alone.
func (w *Worker) Start(ctx context.Context) error {
	l, err := lock.Acquire(ctx, w.opts.Locker, lifecycleLockKey, w.opts.LockTTL, w.opts.MaxLockWait)
	if err != nil {
		return fmt.Errorf("acquire lifecycle lock: %w", err)
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			w.log.Warn("lifecycle unlock failed", zap.Error(err))
		}
	}()

	switch w.State() {
	case StateActive:
		return nil
	case StateRedundant:
		return fmt.Errorf("%w: worker is redundant", ErrInstallFailed)
	case StateParsed:
		if err := w.Install(ctx); err != nil {
			return err
		}
	}
	return w.Activate(ctx)
}

// StartWithRetry calls Start until the worker is active, waiting b between
// attempts. A failed install is final and returned at once.
func (w *Worker) StartWithRetry(ctx context.Context, b backoff.BackOff) error {
	b.Reset()
	for {
		err := w.Start(ctx)
		if err == nil || errors.Is(err, ErrInstallFailed) {
			return err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		w.log.Warn("lifecycle start failed, retrying", zap.Duration("in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Install opens the current store and fills it with every manifest path.
// It is all-or-nothing: the snapshots are only written once every fetch
// returned 200, and any failure leaves the worker Redundant.
func (w *Worker) Install(ctx context.Context) (err error) {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	defer func() {
		w.metrics.RecordLifecycle(ctx, "install", err)
		if err != nil {
			w.setState(StateRedundant)
			w.log.Error("install failed", zap.Error(err))
		}
	}()

	store, err := w.opts.Storage.Open(ctx, w.opts.CacheName)
	if err != nil {
		return fmt.Errorf("%w: open store: %w", ErrInstallFailed, err)
	}

	entries := make([]manifestEntry, len(w.opts.Manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range w.opts.Manifest {
		g.Go(func() error {
			u, err := w.opts.Origin.Resolve(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			resp, body, err := w.opts.Origin.Fetch(gctx, path, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
			}
			key := cache.URLKey(u)
			entries[i] = manifestEntry{key: key, obj: snapshot(resp, key, body)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	for i, e := range entries {
		if err := store.Put(ctx, e.key, e.obj); err != nil {
			w.discard(ctx, store, entries[:i])
			return fmt.Errorf("%w: store %s: %w", ErrInstallFailed, e.key, err)
		}
	}

	w.mu.Lock()
	w.store = store
	w.state = StateInstalled
	w.mu.Unlock()

	w.log.Info("installed", zap.Int("assets", len(entries)))
	return nil
}

// discard removes manifest entries written before a failed Put so the
// store never holds part of a manifest.
func (w *Worker) discard(ctx context.Context, store cache.Store, written []manifestEntry) {
	for _, e := range written {
		if err := store.Delete(context.WithoutCancel(ctx), e.key); err != nil {
			w.log.Warn("partial manifest cleanup failed", zap.String("key", e.key), zap.Error(err))
		}
	}
}

// Activate deletes every store not named for this version and then claims
// all clients: from here on RoundTrip answers from the cache. A failed purge
// leaves the worker Installed so activation can be retried.
func (w *Worker) Activate(ctx context.Context) (err error) {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	defer func() {
		w.metrics.RecordLifecycle(ctx, "activate", err)
		if err != nil {
			w.setState(StateInstalled)
			w.log.Error("activate failed", zap.Error(err))
		}
	}()

	names, err := w.opts.Storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("%w: list stores: %w", ErrActivateFailed, err)
	}
	for _, name := range names {
		if name == w.opts.CacheName {
			continue
		}
		if err := w.opts.Storage.Remove(ctx, name); err != nil {
			return fmt.Errorf("%w: remove %s: %w", ErrActivateFailed, name, err)
		}
		w.log.Info("purged old cache", zap.String("old", name))
	}

	w.setState(StateActive)
	w.log.Info("activated, claiming clients")
	return nil
}

// RoundTrip implements http.RoundTripper so the worker can sit under any
// http.Client.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, _, err := w.Fetch(req)
	return resp, err
}

// Fetch answers req cache-first and reports how it was answered.
func (w *Worker) Fetch(req *http.Request) (*http.Response, string, error) {
	ctx := req.Context()

	w.mu.RLock()
	state, store := w.state, w.store
	w.mu.RUnlock()

	info := ClassifyRequest(req)
	if !state.Intercepting() || !info.Intercept {
		w.metrics.RecordFetch(ctx, observe.OutcomeBypass)
		resp, err := w.opts.Origin.Do(req)
		return resp, observe.OutcomeBypass, err
	}

	key := cache.RequestKey(req)
	obj, err := store.Match(ctx, key)
	if err == nil {
		w.metrics.RecordFetch(ctx, observe.OutcomeHit)
		return objectResponse(req, obj), observe.OutcomeHit, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		w.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	resp, err := w.opts.Origin.Do(req)
	if err != nil {
		return w.fallback(req, store, info, err)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	if resp.StatusCode == http.StatusOK && w.opts.Origin.SameOrigin(finalURL) && resp.ContentLength <= w.opts.MaxObjectBytes {
		body, err := io.ReadAll(io.LimitReader(resp.Body, w.opts.MaxObjectBytes+1))
		if err != nil {
			resp.Body.Close()
			return w.fallback(req, store, info, err)
		}
		if int64(len(body)) > w.opts.MaxObjectBytes {
			// Too large to keep: hand back what was read followed by the rest.
			resp.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(body), resp.Body), Closer: resp.Body}
			w.log.Debug("response too large to cache", zap.String("key", key))
		} else {
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(body))
			w.putAsync(ctx, store, key, snapshot(resp, cache.URLKey(finalURL), body))
		}
	}

	w.metrics.RecordFetch(ctx, observe.OutcomeMiss)
	return resp, observe.OutcomeMiss, nil
}

// fallback handles a miss whose network fetch failed. Navigations get the
// cached root document; everything else gets the network error.
func (w *Worker) fallback(req *http.Request, store cache.Store, info RequestInfo, netErr error) (*http.Response, string, error) {
	ctx := req.Context()
	if info.Navigate {
		root, err := w.rootKey()
		if err == nil {
			obj, err := store.Match(ctx, root)
			if err == nil {
				w.metrics.RecordFetch(ctx, observe.OutcomeFallback)
				w.log.Debug("serving root document for failed navigation",
					zap.String("url", req.URL.String()), zap.Error(netErr))
				return objectResponse(req, obj), observe.OutcomeFallback, nil
			}
		}
	}
	w.metrics.RecordFetch(ctx, observe.OutcomeError)
	return nil, observe.OutcomeError, netErr
}

// putAsync writes the snapshot without holding up the caller. Failures are
// only logged; Wait blocks until every write has finished. Once Close has
// begun no new writes are started.
func (w *Worker) putAsync(ctx context.Context, store cache.Store, key string, obj cache.Object) {
	ctx = context.WithoutCancel(ctx)
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.pending.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.pending.Done()
		if err := store.Put(ctx, key, obj); err != nil {
			w.metrics.RecordStoreWriteError(ctx)
			w.log.Warn("cache write-back failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// Wait blocks until all background cache writes have completed.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// Close stops accepting write-backs and waits for the ones in flight.
// Fetch keeps answering; misses are simply no longer stored.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	w.pending.Wait()
}

type manifestEntry struct {
	key string
	obj cache.Object
}

type readCloser struct {
	io.Reader
	io.Closer
}

func (w *Worker) rootKey() (string, error) {
	u, err := w.opts.Origin.Resolve(rootPath)
	if err != nil {
		return "", err
	}
	return cache.URLKey(u), nil
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, w.state, from)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

var _ http.RoundTripper = (*Worker)(nil)
