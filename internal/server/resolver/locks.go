package resolver

import (
	"sync"

	"tierconf/internal/types"
)

// scopeLocks serializes mutations per (key, environment, platform) so
// two concurrent writes to the same scope cannot both observe the same
// prior value and leave two rows active.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{
		locks: make(map[string]*scopeLock),
	}
}

// Lock acquires the lock for one scope and returns its release func
func (l *scopeLocks) Lock(key string, scope types.Scope) func() {
	name := key + "\x00" + scope.String()

	l.mu.Lock()
	sl, ok := l.locks[name]
	if !ok {
		sl = &scopeLock{}
		l.locks[name] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}
