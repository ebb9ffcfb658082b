package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	l, ok, err := locker.TryLock(ctx, "lock:lifecycle", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "lock:lifecycle", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx))
	_, ok, err = locker.TryLock(ctx, "lock:lifecycle", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerExpiredLockDoesNotReleaseNewOwner(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	stale, ok, _ := locker.TryLock(ctx, "k", time.Millisecond)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	_, ok, _ = locker.TryLock(ctx, "k", time.Minute)
	require.True(t, ok)

	require.NoError(t, stale.Unlock(ctx))
	_, ok, _ = locker.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)
}

func TestAcquireTimesOut(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	_, ok, _ := locker.TryLock(ctx, "k", time.Minute)
	require.True(t, ok)

	_, err := Acquire(ctx, locker, "k", time.Minute, 60*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	held, ok, _ := locker.TryLock(ctx, "k", time.Minute)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held.Unlock(ctx)
	}()

	l, err := Acquire(ctx, locker, "k", time.Minute, time.Second)
	require.NoError(t, err)
	require.NoError(t, l.Unlock(ctx))
}
