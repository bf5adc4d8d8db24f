// Package lock provides exclusive locks keyed by an identity.
//
// Locks for different keys never contend. Waiting for a lock honours context
// cancellation, and the state kept for a key is dropped once nobody holds or
// waits for it.
package lock

import (
	"context"
	"sync"
	"sync/atomic"
)

// Keyed hands out one exclusive lock per key.
type Keyed[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

// NewKeyed returns an empty Keyed lock set.
func NewKeyed[K comparable]() *Keyed[K] {
	return &Keyed[K]{slots: make(map[K]*slot)}
}

// Acquire blocks until the lock for key is held or ctx is done.
func (k *Keyed[K]) Acquire(ctx context.Context, key K) (*Handle[K], error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
		h := &Handle[K]{owner: k, key: key, slot: s}
		h.held.Store(true)
		return h, nil
	case <-ctx.Done():
		k.unref(key, s)
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or waited for.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

func (k *Keyed[K]) unref(key K, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Handle is a held lock.
type Handle[K comparable] struct {
	owner *Keyed[K]
	key   K
	slot  *slot
	held  atomic.Bool
}

// Key returns the key the handle locks.
func (h *Handle[K]) Key() K {
	return h.key
}

// Held reports whether the handle has not been released.
func (h *Handle[K]) Held() bool {
	return h.held.Load()
}

// Release unlocks the key. Releasing twice is a no-op.
func (h *Handle[K]) Release() {
	if !h.held.CompareAndSwap(true, false) {
		return
	}
	<-h.slot.sem
	h.owner.unref(h.key, h.slot)
}

// Owner reports whether the handle was handed out by k.
func (h *Handle[K]) Owner(k *Keyed[K]) bool {
	return h.owner == k
}
