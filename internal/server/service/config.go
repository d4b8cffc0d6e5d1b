package service

import (
	"context"
	"time"

	"tierconf/internal/server/resolver"
	"tierconf/internal/types"
)

// GetConfig resolves one key in the given scope
func (s *Service) GetConfig(ctx context.Context, key string, scope types.Scope, opts resolver.GetOptions) (any, bool) {
	return s.resolver.GetWith(ctx, key, scope, opts)
}

// GetConfigsByCategory resolves all keys of a category in the given
// scope
func (s *Service) GetConfigsByCategory(ctx context.Context, category string, scope types.Scope) map[string]any {
	return s.resolver.GetByCategory(ctx, category, scope)
}

// SetConfig persists a value, or stores a temporary override when
// opts.Temporary is set
func (s *Service) SetConfig(ctx context.Context, key string, value any, scope types.Scope, opts resolver.SetOptions) error {
	return s.resolver.Set(ctx, key, value, scope, opts)
}

// DeleteConfig deactivates the value for a key in the given scope
func (s *Service) DeleteConfig(ctx context.Context, key string, scope types.Scope, opts resolver.SetOptions) error {
	return s.resolver.Delete(ctx, key, scope, opts)
}

// ReloadConfigs drops all cached resolutions and re-resolves dependent
// component settings
func (s *Service) ReloadConfigs(ctx context.Context) {
	s.resolver.Reload(ctx)
}

// SetOverride stores an ephemeral override for a key
func (s *Service) SetOverride(key string, value any, source string, ttl time.Duration) {
	s.resolver.SetOverride(key, value, source, ttl)
}

// RemoveOverride removes an override, reporting whether one existed
func (s *Service) RemoveOverride(key string) bool {
	return s.resolver.RemoveOverride(key)
}

// Overrides lists the active overrides
func (s *Service) Overrides() []*types.Override {
	return s.resolver.Overrides()
}

// WatchChanges subscribes to configuration change events. The second
// return value cancels the subscription. Returns false when the change
// monitor is disabled.
func (s *Service) WatchChanges() (<-chan *types.ChangeEvent, func(), bool) {
	if s.monitor == nil {
		return nil, nil, false
	}
	ch, cancel := s.monitor.Subscribe()
	return ch, cancel, true
}
