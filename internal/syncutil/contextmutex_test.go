package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestShardedMutexSerializesSameKey(t *testing.T) {
	var m ShardedMutex
	var counter int
	var wg sync.WaitGroup

	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("trd_abc")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
}

func TestContextMutexLockUnlock(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "trd_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unlock()
}

func TestContextMutexCancelledWaiter(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "trd_busy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := m.LockContext(ctx, "trd_busy"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestContextMutexUnlockAllowsNext(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	unlock, err := m.LockContext(ctx, "trd_relay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(ctx, "trd_relay")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second goroutine acquired lock before first released")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second goroutine never acquired lock")
	}
}
