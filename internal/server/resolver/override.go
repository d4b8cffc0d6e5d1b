package resolver

import (
	"sync"
	"time"

	"tierconf/internal/types"

	"go.uber.org/zap"
)

// OverrideStore holds ephemeral runtime overrides. Overrides are
// scope-agnostic: an override for a key masks every persisted value of
// that key regardless of environment or platform.
type OverrideStore struct {
	mu        sync.RWMutex
	overrides map[string]*types.Override
	logger    *zap.Logger

	sweepInterval time.Duration
	onExpire      func(key string)
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewOverrideStore creates a new override store. onExpire runs after an
// override is evicted by the sweep, outside the store lock.
func NewOverrideStore(sweepInterval time.Duration, onExpire func(key string), logger *zap.Logger) *OverrideStore {
	s := &OverrideStore{
		overrides:     make(map[string]*types.Override),
		logger:        logger,
		sweepInterval: sweepInterval,
		onExpire:      onExpire,
		stop:          make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Set replaces any existing override for key
func (s *OverrideStore) Set(key string, value any, source string, ttl time.Duration) {
	o := &types.Override{
		Key:    key,
		Value:  value,
		Source: source,
		SetAt:  time.Now(),
	}
	if ttl > 0 {
		expires := o.SetAt.Add(ttl)
		o.ExpiresAt = &expires
	}

	s.mu.Lock()
	s.overrides[key] = o
	s.mu.Unlock()

	s.logger.Info("override set",
		zap.String("key", key),
		zap.String("source", source),
		zap.Duration("ttl", ttl))
}

// Get returns the active override for key, treating an expired override
// that the sweep has not yet collected as absent.
func (s *OverrideStore) Get(key string) (*types.Override, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overrides[key]
	if !ok || o.Expired(time.Now()) {
		return nil, false
	}
	return o, true
}

// Refresh updates the value of an existing override, keeping its
// source and expiry. The map entry is replaced rather than mutated:
// Get and List hand the stored pointer to callers who read it outside
// the lock. Returns whether an override was present.
func (s *OverrideStore) Refresh(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[key]
	if !ok {
		return false
	}
	fresh := *o
	fresh.Value = value
	s.overrides[key] = &fresh
	return true
}

// Remove removes an override and returns whether one existed
func (s *OverrideStore) Remove(key string) bool {
	s.mu.Lock()
	_, ok := s.overrides[key]
	delete(s.overrides, key)
	s.mu.Unlock()

	if ok {
		s.logger.Info("override removed", zap.String("key", key))
	}
	return ok
}

// List returns all overrides, including any not yet swept
func (s *OverrideStore) List() []*types.Override {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*types.Override, 0, len(s.overrides))
	for _, o := range s.overrides {
		list = append(list, o)
	}
	return list
}

// Stop stops the expiry sweep
func (s *OverrideStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// sweepLoop evicts expired overrides on a fixed interval
func (s *OverrideStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep removes every override whose expiry has passed
func (s *OverrideStore) sweep(now time.Time) {
	s.mu.Lock()
	var expired []string
	for key, o := range s.overrides {
		if o.Expired(now) {
			delete(s.overrides, key)
			expired = append(expired, key)
		}
	}
	s.mu.Unlock()

	for _, key := range expired {
		s.logger.Info("override expired", zap.String("key", key))
		if s.onExpire != nil {
			s.onExpire(key)
		}
	}
}
