// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// shardCount is the fixed number of mutexes backing each keyed lock pool.
// Memory stays bounded no matter how many keys are seen; keys that hash to
// the same shard occasionally contend with each other.
const shardCount = 256

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex is a pool of mutexes keyed by string.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}
