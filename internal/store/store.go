package store

import (
	"fmt"
	"sort"
	"sync"
)

// Locker serializes work on named keys within one process.
// Keys are acquired in sorted order so overlapping key sets cannot deadlock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker constructs an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// ClientKey returns the lock key for a client.
func ClientKey(clientID uint64) string { return fmt.Sprintf("client:%d", clientID) }

// SubscriptionKey returns the lock key for a subscription.
func SubscriptionKey(subscriptionID uint64) string {
	return fmt.Sprintf("subscription:%d", subscriptionID)
}

// PoolKey is the lock key guarding bandwidth pool allocations.
const PoolKey = "bandwidth-pool"

// Lock acquires every key and returns a function releasing them.
func (l *Locker) Lock(keys ...string) func() {
	if l == nil || len(keys) == 0 {
		return func() {}
	}
	ordered := dedupe(keys)
	sort.Strings(ordered)

	held := make([]*keyLock, 0, len(ordered))
	for _, key := range ordered {
		kl := l.acquire(key)
		kl.mu.Lock()
		held = append(held, kl)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(ordered[i])
			}
		})
	}
}

func (l *Locker) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	if kl == nil {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	if kl == nil {
		return
	}
	kl.refs--
	if kl.refs <= 0 {
		delete(l.locks, key)
	}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
