// Package locks provides per-key mutual exclusion.
package locks

import "sync"

// KeyedMutex hands out one mutex per key. Mutexes are created on first use and
// kept for the life of the process; the key space is the set of users.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewKeyedMutex creates an empty KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *KeyedMutex) get(key int64) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// TryLock acquires the lock for key without blocking. When ok is false the key is
// held by someone else and unlock is nil.
func (k *KeyedMutex) TryLock(key int64) (unlock func(), ok bool) {
	m := k.get(key)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

// Lock blocks until the lock for key is acquired and returns its unlock function
func (k *KeyedMutex) Lock(key int64) (unlock func()) {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}

// Len returns the number of keys seen so far
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
