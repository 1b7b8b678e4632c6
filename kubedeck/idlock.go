package kubedeck

import "sync"

// idLock serializes hub operations per cluster id. Operations on
// different ids never block each other, so the HTTP layer above stays
// free of ordering assumptions.
type idLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDLock() *idLock {
	return &idLock{locks: map[string]*sync.Mutex{}}
}

// lock acquires the mutex for id and returns its release. Entries are
// kept for the life of the hub; the id space is the set of clusters
// ever registered, which is small.
func (l *idLock) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
