package scanner

import "sync"

// RunLocks serialises units of work per channel. Scans, previews, clears and
// cleanup sweeps of one channel take the same lock; other channels are not blocked.
type RunLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunLocks creates an empty lock set.
func NewRunLocks() *RunLocks {
	return &RunLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the channel's lock is held and returns its release func.
func (r *RunLocks) Lock(channelID string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[channelID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
