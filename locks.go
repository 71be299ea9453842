package openmemory

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// idLocks serializes writes per memory id without holding a lock object per
// id: ids hash onto a fixed shard table, so two concurrent updates to the
// same memory always contend on the same mutex.
type idLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *idLocks) shard(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &l.shards[h.Sum32()%lockShards]
}

// Lock acquires the shard mutex for id.
func (l *idLocks) Lock(id string) { l.shard(id).Lock() }

// Unlock releases the shard mutex for id.
func (l *idLocks) Unlock(id string) { l.shard(id).Unlock() }

// namespaceRegistry tracks namespaces already ensured in the metadata store,
// so the hot path skips the upsert after first touch.
type namespaceRegistry struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newNamespaceRegistry() *namespaceRegistry {
	return &namespaceRegistry{seen: make(map[string]struct{})}
}

// Known reports whether the namespace was already ensured.
func (r *namespaceRegistry) Known(namespace string) bool {
	r.mu.RLock()
	_, ok := r.seen[namespace]
	r.mu.RUnlock()
	return ok
}

// Mark records a namespace as ensured.
func (r *namespaceRegistry) Mark(namespace string) {
	r.mu.Lock()
	r.seen[namespace] = struct{}{}
	r.mu.Unlock()
}

// Forget drops a namespace from the registry (after deletion).
func (r *namespaceRegistry) Forget(namespace string) {
	r.mu.Lock()
	delete(r.seen, namespace)
	r.mu.Unlock()
}
