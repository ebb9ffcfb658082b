package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var ErrNotFound = errors.New("cache object not found")

// Object is a snapshot of a network response.
type Object struct {
	URL         string
	Status      int
	Header      http.Header
	Body        []byte
	ContentType string
	Encoding    string
	UpdatedAt   time.Time
}

// Store is a single named cache store mapping request keys to snapshots.
// Concurrent Puts for one key resolve last-write-wins.
type Store interface {
	Name() string
	Match(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, obj Object) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds every named store of the application.
type Storage interface {
	// Open returns the named store, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)
	Names(ctx context.Context) ([]string, error)
	// Remove destroys a store with all of its entries.
	Remove(ctx context.Context, name string) error
}
