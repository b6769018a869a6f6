package lock

import "sync"

type keyedEntry struct {
	mu sync.Mutex

	// refs counts holders and waiters; the entry is dropped at zero
	refs int
}

// KeyedMutex provides one mutex per key, serializing work on a single key
// while letting different keys proceed concurrently. A key's mutex lives only
// while someone holds or waits for it.
type KeyedMutex struct {
	// mu protects the locks map and the refcounts
	mu sync.Mutex

	// locks maps key to its mutex
	locks map[string]*keyedEntry
}

// NewKeyedMutex creates a new KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyedEntry),
	}
}

// acquire returns the entry for key with its refcount taken. Callers hold km.mu.
func (km *KeyedMutex) acquire(key string) *keyedEntry {
	entry, exists := km.locks[key]
	if !exists {
		entry = &keyedEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	return entry
}

// drop gives back a reference taken by acquire. Callers hold km.mu.
func (km *KeyedMutex) drop(key string, entry *keyedEntry) {
	entry.refs--
	if entry.refs == 0 {
		delete(km.locks, key)
	}
}

// Lock acquires the mutex for key, creating it on first use. The map lock is
// released before blocking on the key's mutex.
func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	entry := km.acquire(key)
	km.mu.Unlock()

	entry.mu.Lock()
}

// TryLock acquires the mutex for key without blocking and reports success
func (km *KeyedMutex) TryLock(key string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	entry := km.acquire(key)
	if entry.mu.TryLock() {
		return true
	}
	km.drop(key, entry)
	return false
}

// Unlock releases the mutex for key. It must have been acquired with Lock or TryLock.
func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	entry, exists := km.locks[key]
	if !exists {
		return
	}
	entry.mu.Unlock()
	km.drop(key, entry)
}

// Len returns the number of keys currently held or waited on
func (km *KeyedMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
