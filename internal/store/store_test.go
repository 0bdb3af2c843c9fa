package store

import (
	"sync"
	"testing"
	"time"
)

func TestLockerSerializesSameKey(t *testing.T) {
	locker := NewLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock(ClientKey(1))
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if len(locker.locks) != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", len(locker.locks))
	}
}

func TestLockerOverlappingKeySetsDoNotDeadlock(t *testing.T) {
	locker := NewLocker()
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				locker.Lock(ClientKey(1), SubscriptionKey(2))()
			}()
			go func() {
				defer wg.Done()
				locker.Lock(SubscriptionKey(2), ClientKey(1))()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("lockers deadlocked")
	}
}

func TestLockerUnlockIsIdempotent(t *testing.T) {
	locker := NewLocker()
	unlock := locker.Lock("a", "a", "")
	unlock()
	unlock()

	relock := locker.Lock("a")
	relock()
}
