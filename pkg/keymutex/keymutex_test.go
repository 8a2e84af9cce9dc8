package keymutex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSameKeyIsExclusive(t *testing.T) {
	km := New[string]()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "user-a")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
	if km.Len() != 0 {
		t.Fatalf("expected entries to be cleaned up, got %d", km.Len())
	}
}

func TestLockDifferentKeysDoNotBlock(t *testing.T) {
	km := New[string]()
	unlockA, err := km.Lock(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, "user-b")
	if err != nil {
		t.Fatalf("lock b should not wait for a: %v", err)
	}
	unlockB()
}

func TestLockRespectsContext(t *testing.T) {
	km := New[int]()
	unlock, err := km.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := km.Lock(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock() // 重複呼叫不應 panic
	if km.Len() != 0 {
		t.Fatalf("expected no entries after release, got %d", km.Len())
	}
}
