package valuation

import "sync"

// UserLocks hands out a per-user mutex so rebuild_for_user's Phase A -> B -> C
// sequence never interleaves with another rebuild for the same user, while
// rebuild_all's fan-out across different users stays fully concurrent.
type UserLocks struct {
	mu    sync.Mutex
	perID map[string]*sync.Mutex
}

// NewUserLocks constructs an empty registry.
func NewUserLocks() *UserLocks {
	return &UserLocks{perID: make(map[string]*sync.Mutex)}
}

func (l *UserLocks) lockFor(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.perID[userID]
	if !ok {
		m = &sync.Mutex{}
		l.perID[userID] = m
	}
	return m
}

// With runs fn while holding the lock for userID.
func (l *UserLocks) With(userID string, fn func()) {
	m := l.lockFor(userID)
	m.Lock()
	defer m.Unlock()
	fn()
}
