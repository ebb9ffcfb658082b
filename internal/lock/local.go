package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is the single-process Locker used when no Redis is configured.
// Held keys expire after their ttl like their Redis counterparts.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	seq  uint64
}

type localEntry struct {
	id      uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry)}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, false, nil
	}
	l.seq++
	l.held[key] = localEntry{id: l.seq, expires: now.Add(ttl)}
	return &localLock{locker: l, key: key, id: l.seq}, true, nil
}

type localLock struct {
	locker *LocalLocker
	key    string
	id     uint64
}

func (h *localLock) Unlock(context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if e, ok := h.locker.held[h.key]; ok && e.id == h.id {
		delete(h.locker.held, h.key)
	}
	return nil
}
