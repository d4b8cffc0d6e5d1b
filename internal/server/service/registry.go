package service

import (
	"context"

	"tierconf/internal/types"
)

// CreateKey registers a configuration key
func (s *Service) CreateKey(ctx context.Context, key *types.ConfigKey) error {
	return s.store.CreateKey(ctx, key)
}

// GetKey loads a configuration key by name
func (s *Service) GetKey(ctx context.Context, name string) (*types.ConfigKey, error) {
	return s.store.GetKeyByName(ctx, name)
}

// ListKeys lists configuration keys, optionally limited to one
// category
func (s *Service) ListKeys(ctx context.Context, categoryID string) ([]*types.ConfigKey, error) {
	return s.store.ListKeys(ctx, categoryID)
}

// UpdateKey updates a key's description, category and default value
func (s *Service) UpdateKey(ctx context.Context, key *types.ConfigKey) error {
	return s.store.UpdateKey(ctx, key)
}

// DeleteKey removes an unused configuration key
func (s *Service) DeleteKey(ctx context.Context, name string) error {
	key, err := s.store.GetKeyByName(ctx, name)
	if err != nil {
		return err
	}
	if err := s.store.DeleteKey(ctx, key.ID); err != nil {
		return err
	}
	s.resolver.ClearCache(name)
	return nil
}

// CreateCategory registers a configuration category
func (s *Service) CreateCategory(ctx context.Context, cat *types.ConfigCategory) error {
	return s.store.CreateCategory(ctx, cat)
}

// ListCategories lists configuration categories
func (s *Service) ListCategories(ctx context.Context) ([]*types.ConfigCategory, error) {
	return s.store.ListCategories(ctx)
}

// QueryAudit queries the audit log
func (s *Service) QueryAudit(ctx context.Context, filter types.AuditFilter) (*types.AuditPage, error) {
	return s.audit.Query(ctx, filter)
}

// ConfigHistory returns the audit trail of one key
func (s *Service) ConfigHistory(ctx context.Context, key string, limit int, scope types.Scope) ([]*types.AuditEntry, error) {
	return s.audit.History(ctx, key, limit, scope)
}
