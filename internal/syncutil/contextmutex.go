package syncutil

import (
	"context"
)

// ContextShardedMutex is a pool of channel-based mutexes keyed by string.
// Unlike ShardedMutex, a waiter can give up when its context is cancelled.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
}

// NewContextShardedMutex creates a context-aware keyed lock pool.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{} // start unlocked
	}
	return m
}

// LockContext acquires the mutex for the given key. On success it returns an
// unlock function which the caller must invoke. If the context is cancelled
// while waiting, it returns nil and the context error.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIndex(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
