package lock

import (
	"context"
	"errors"
	"time"
)

var ErrTimeout = errors.New("lock wait timed out")

// Lock is a held lock. Unlock releases it only if it is still owned.
type Lock interface {
	Unlock(ctx context.Context) error
}

type Locker interface {
	// TryLock acquires key without waiting. ok is false when someone else
	// holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (l Lock, ok bool, err error)
}

// Acquire polls TryLock until it succeeds, maxWait elapses or ctx ends.
func Acquire(ctx context.Context, locker Locker, key string, ttl, maxWait time.Duration) (Lock, error) {
	deadline := time.Now().Add(maxWait)
	for {
		l, ok, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
