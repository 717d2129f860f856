package ledger

import "sync"

// clientLocks hands out one mutex per client ID. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type clientLocks struct {
	mu    sync.Mutex
	locks map[int64]*clientLock
}

type clientLock struct {
	mu   sync.Mutex
	refs int
}

func newClientLocks() *clientLocks {
	return &clientLocks{locks: make(map[int64]*clientLock)}
}

// lock blocks until the caller owns clientID and returns the release func.
func (l *clientLocks) lock(clientID int64) func() {
	l.mu.Lock()
	cl, ok := l.locks[clientID]
	if !ok {
		cl = &clientLock{}
		l.locks[clientID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, clientID)
		}
		l.mu.Unlock()
	}
}

func (l *clientLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
