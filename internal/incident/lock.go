package incident

import "sync"

// keyedMutex provides mutual exclusion per string key. Entries are
// refcounted and removed when the last holder releases, so the map does not
// grow with the number of distinct transaction hashes ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	entry map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entry: make(map[string]*keyedEntry)}
}

// lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entry[key]
	if !ok {
		e = &keyedEntry{}
		k.entry[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entry, key)
		}
		k.mu.Unlock()
	}
}
