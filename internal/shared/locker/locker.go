// Package locker serializes all work on a single user identity. The
// dispatcher, the payment reconciler and the timeout sweeper share one
// KeyedMutex so a duplicate webhook, a racing callback, or a sweep can
// never interleave mutations of the same user record.
package locker

import "sync"

// KeyedMutex provides one mutex per int64 key.
// Entries are never evicted; the map is bounded by the number of distinct
// users the process has seen.
type KeyedMutex struct {
	locks sync.Map // int64 -> *sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	defer locks.Lock(userID)()
func (k *KeyedMutex) Lock(key int64) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
