package procurement

import "sync"

// KeyedMutex serializes read-modify-write cycles per account. The account
// store exposes no compare-and-swap, so concurrent policy mutations for the
// same account would otherwise lose updates. Entries are never evicted; the
// set of concurrently-touched accounts is small.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
