package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"tierconf/internal/server/storage"
	"tierconf/internal/types"

	"go.uber.org/zap"
)

// AuditRecorder persists one mutation record. Attached after the audit
// log has bootstrapped its own settings through this resolver.
type AuditRecorder interface {
	Record(ctx context.Context, entry *types.AuditEntry, meta map[string]any) error
}

// ChangeNotifier publishes a change notification for one mutation.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, key string, oldValue, newValue any, actor string, scope types.Scope)
}

// Resolver resolves configuration keys through the precedence chain:
// runtime override, cache, persisted value (scope cascade), process
// environment variable, caller default.
type Resolver struct {
	store     storage.Storage
	cache     Cache
	overrides *OverrideStore
	locks     *scopeLocks
	cfg       *Config
	logger    *zap.Logger

	mu          sync.RWMutex
	auditor     AuditRecorder
	notifier    ChangeNotifier
	reloadHooks []func(context.Context)
}

// GetOptions adjusts one resolution.
type GetOptions struct {
	// Default is returned when no tier yields a value.
	Default any
	// SkipStore skips the persistence tier.
	SkipStore bool
}

// SetOptions adjusts one mutation.
type SetOptions struct {
	// Temporary routes the write to the override store: no
	// persistence, no audit.
	Temporary bool
	// TTL bounds a temporary value's lifetime. Zero means no expiry.
	TTL time.Duration
	// Actor is who performed the change.
	Actor string
	// Source tags where the change came from (api, bootstrap, ...).
	Source string
	// Origin is the request origin recorded in audit metadata.
	Origin string
}

// New creates a resolver. The resolver starts bare: audit recording and
// change notification are attached once those components have resolved
// their own settings through it.
func New(cfg *Config, store storage.Storage, logger *zap.Logger) (*Resolver, error) {
	cache, err := NewCache(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolution cache: %w", err)
	}

	r := &Resolver{
		store:  store,
		cache:  cache,
		locks:  newScopeLocks(),
		cfg:    cfg,
		logger: logger,
	}
	r.overrides = NewOverrideStore(cfg.OverrideSweepInterval, r.restoreAfterOverride, logger)

	return r, nil
}

// AttachAudit attaches the audit recorder
func (r *Resolver) AttachAudit(a AuditRecorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditor = a
}

// AttachNotifier attaches the change notifier
func (r *Resolver) AttachNotifier(n ChangeNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// OnReload registers a hook run after Reload clears the cache
func (r *Resolver) OnReload(fn func(context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloadHooks = append(r.reloadHooks, fn)
}

// Get resolves a key in the given scope
func (r *Resolver) Get(ctx context.Context, key string, scope types.Scope) (any, bool) {
	return r.GetWith(ctx, key, scope, GetOptions{})
}

// GetWith resolves a key through the precedence chain, short-circuiting
// at the first tier that yields a value. Every outcome short of the
// caller default, including "nothing found", is cached.
func (r *Resolver) GetWith(ctx context.Context, key string, scope types.Scope, opts GetOptions) (any, bool) {
	// Overrides win regardless of scope.
	if o, ok := r.overrides.Get(key); ok {
		return o.Value, true
	}

	ck := cacheKey{
		Key:         key,
		Environment: scope.Environment,
		Platform:    scope.Platform,
		FromStore:   !opts.SkipStore,
	}
	if entry, ok := r.cache.Get(ck); ok {
		if entry.Found {
			return entry.Value, true
		}
		return r.fallback(opts)
	}

	var keyDefault *types.TypedValue
	if !opts.SkipStore {
		v, def, ok := r.loadFromStore(ctx, key, scope)
		keyDefault = def
		if ok {
			r.cache.Set(ck, cacheEntry{Value: v, Found: true})
			return v, true
		}
	}

	if raw, ok := os.LookupEnv(key); ok {
		r.cache.Set(ck, cacheEntry{Value: raw, Found: true})
		return raw, true
	}

	// The key's static default ranks below the environment tier.
	if keyDefault != nil {
		r.cache.Set(ck, cacheEntry{Value: keyDefault.Val, Found: true})
		return keyDefault.Val, true
	}

	r.cache.Set(ck, cacheEntry{Found: false})
	return r.fallback(opts)
}

// fallback applies the caller default tier
func (r *Resolver) fallback(opts GetOptions) (any, bool) {
	if opts.Default != nil {
		return opts.Default, true
	}
	return nil, false
}

// loadFromStore resolves a key against persistence via the scope
// cascade. Store failures are logged and treated as a miss so the
// chain continues to the next tier. The key's static default, if any,
// is returned separately: it ranks below the environment tier.
func (r *Resolver) loadFromStore(ctx context.Context, key string, scope types.Scope) (any, *types.TypedValue, bool) {
	k, err := r.store.GetKeyByName(ctx, key)
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, nil, false
	}
	if err != nil {
		r.logger.Error("failed to load config key",
			zap.String("key", key),
			zap.Error(err))
		return nil, nil, false
	}

	var keyDefault *types.TypedValue
	if k.DefaultValue != "" {
		def := types.DecodeValue(k.DefaultValue, k.ValueType)
		keyDefault = &def
	}

	v, err := r.store.FindActiveValueCascade(ctx, k.ID, scope)
	if errors.Is(err, types.ErrValueNotFound) {
		return nil, keyDefault, false
	}
	if err != nil {
		r.logger.Error("failed to resolve config value",
			zap.String("key", key),
			zap.String("scope", scope.String()),
			zap.Error(err))
		return nil, keyDefault, false
	}

	return types.DecodeValue(v.Value, k.ValueType).Val, keyDefault, true
}

// GetString resolves a key to a string
func (r *Resolver) GetString(ctx context.Context, key string, scope types.Scope, def string) string {
	v, ok := r.GetWith(ctx, key, scope, GetOptions{})
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetInt resolves a key to an int
func (r *Resolver) GetInt(ctx context.Context, key string, scope types.Scope, def int) int {
	v, ok := r.GetWith(ctx, key, scope, GetOptions{})
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// GetBool resolves a key to a bool
func (r *Resolver) GetBool(ctx context.Context, key string, scope types.Scope, def bool) bool {
	v, ok := r.GetWith(ctx, key, scope, GetOptions{})
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// GetByCategory resolves every key in a category. Store failures
// degrade to an empty mapping.
func (r *Resolver) GetByCategory(ctx context.Context, category string, scope types.Scope) map[string]any {
	result := make(map[string]any)

	cat, err := r.store.GetCategoryByName(ctx, category)
	if err != nil {
		r.logger.Error("failed to load category",
			zap.String("category", category),
			zap.Error(err))
		return result
	}

	keys, err := r.store.ListKeys(ctx, cat.ID)
	if err != nil {
		r.logger.Error("failed to list category keys",
			zap.String("category", category),
			zap.Error(err))
		return result
	}

	values, err := r.store.ListActiveValues(ctx, cat.ID)
	if err != nil {
		r.logger.Error("failed to list category values",
			zap.String("category", category),
			zap.Error(err))
		return result
	}

	byKey := make(map[string][]*types.ConfigValue)
	for _, v := range values {
		byKey[v.ConfigKeyID] = append(byKey[v.ConfigKeyID], v)
	}

	for _, k := range keys {
		if o, ok := r.overrides.Get(k.Key); ok {
			result[k.Key] = o.Value
			continue
		}
		if v := matchScoped(byKey[k.ID], scope); v != nil {
			result[k.Key] = types.DecodeValue(v.Value, k.ValueType).Val
			continue
		}
		if k.DefaultValue != "" {
			result[k.Key] = types.DecodeValue(k.DefaultValue, k.ValueType).Val
		}
	}

	return result
}

// matchScoped applies the scope cascade against already-loaded values
func matchScoped(values []*types.ConfigValue, scope types.Scope) *types.ConfigValue {
	for _, want := range scope.Cascade() {
		for _, v := range values {
			if v.Scope == want {
				return v
			}
		}
	}
	return nil
}

// Set writes a configuration value. Temporary sets are routed to the
// override store and never persisted or audited. Persistent sets are
// serialized per scope; storage failures are returned to the caller.
func (r *Resolver) Set(ctx context.Context, key string, value any, scope types.Scope, opts SetOptions) error {
	if opts.Temporary {
		r.overrides.Set(key, value, opts.Source, opts.TTL)
		r.cache.DeleteKey(key)
		return nil
	}

	encoded, valueType, err := types.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	unlock := r.locks.Lock(key, scope)
	defer unlock()

	k, err := r.ensureKey(ctx, key, valueType)
	if err != nil {
		return err
	}

	var oldValue *string
	prior, err := r.store.FindActiveValue(ctx, k.ID, scope)
	if err != nil && !errors.Is(err, types.ErrValueNotFound) {
		r.logger.Error("failed to load prior value",
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	if prior != nil {
		oldValue = &prior.Value
	}

	newValue := &types.ConfigValue{
		ConfigKeyID: k.ID,
		Value:       encoded,
		Scope:       scope,
		CreatedBy:   opts.Actor,
	}
	if err := r.store.SetValue(ctx, newValue); err != nil {
		r.logger.Error("failed to persist config value",
			zap.String("key", key),
			zap.String("scope", scope.String()),
			zap.Error(err))
		return err
	}

	if err := r.recordAudit(ctx, newValue.ID, oldValue, &encoded, scope, opts); err != nil {
		return err
	}

	r.notifyChange(ctx, key, prior, value, opts.Actor, scope)

	r.cache.DeleteKey(key)

	// Keep a live override consistent with an explicit set.
	r.overrides.Refresh(key, value)

	return nil
}

// Delete deactivates the active value in one scope. The deletion is
// audited with a null new value.
func (r *Resolver) Delete(ctx context.Context, key string, scope types.Scope, opts SetOptions) error {
	unlock := r.locks.Lock(key, scope)
	defer unlock()

	k, err := r.store.GetKeyByName(ctx, key)
	if err != nil {
		return err
	}

	prior, err := r.store.FindActiveValue(ctx, k.ID, scope)
	if err != nil {
		return err
	}

	if _, err := r.store.DeactivateValues(ctx, k.ID, scope, ""); err != nil {
		r.logger.Error("failed to deactivate config value",
			zap.String("key", key),
			zap.String("scope", scope.String()),
			zap.Error(err))
		return err
	}

	if err := r.recordAudit(ctx, prior.ID, &prior.Value, nil, scope, opts); err != nil {
		return err
	}

	r.notifyChange(ctx, key, prior, nil, opts.Actor, scope)
	r.cache.DeleteKey(key)

	return nil
}

// ensureKey loads a key, lazily creating it in the default category
func (r *Resolver) ensureKey(ctx context.Context, key string, valueType types.ValueType) (*types.ConfigKey, error) {
	k, err := r.store.GetKeyByName(ctx, key)
	if err == nil {
		return k, nil
	}
	if !errors.Is(err, types.ErrKeyNotFound) {
		return nil, err
	}

	cat, err := r.ensureDefaultCategory(ctx)
	if err != nil {
		return nil, err
	}

	k = &types.ConfigKey{
		Key:        key,
		CategoryID: cat.ID,
		ValueType:  valueType,
	}
	if err := r.store.CreateKey(ctx, k); err != nil {
		if errors.Is(err, types.ErrKeyExists) {
			return r.store.GetKeyByName(ctx, key)
		}
		return nil, err
	}

	r.logger.Info("config key auto-created",
		zap.String("key", key),
		zap.String("category", cat.Name))
	return k, nil
}

// ensureDefaultCategory loads or creates the default category
func (r *Resolver) ensureDefaultCategory(ctx context.Context) (*types.ConfigCategory, error) {
	cat, err := r.store.GetCategoryByName(ctx, r.cfg.DefaultCategory)
	if err == nil {
		return cat, nil
	}
	if !errors.Is(err, types.ErrCategoryNotFound) {
		return nil, err
	}

	cat = &types.ConfigCategory{
		Name:        r.cfg.DefaultCategory,
		Description: "Auto-created keys",
	}
	if err := r.store.CreateCategory(ctx, cat); err != nil {
		if errors.Is(err, types.ErrCategoryExists) {
			return r.store.GetCategoryByName(ctx, r.cfg.DefaultCategory)
		}
		return nil, err
	}
	return cat, nil
}

// recordAudit writes the audit row for one mutation
func (r *Resolver) recordAudit(ctx context.Context, valueID string, oldValue, newValue *string, scope types.Scope, opts SetOptions) error {
	r.mu.RLock()
	auditor := r.auditor
	r.mu.RUnlock()
	if auditor == nil {
		return nil
	}

	entry := &types.AuditEntry{
		ConfigValueID: valueID,
		OldValue:      oldValue,
		NewValue:      newValue,
		ChangedBy:     opts.Actor,
		Scope:         scope,
	}
	meta := map[string]any{
		"operation": "set",
		"source":    opts.Source,
	}
	if newValue == nil {
		meta["operation"] = "delete"
	}
	if opts.Origin != "" {
		meta["origin"] = opts.Origin
	}

	if err := auditor.Record(ctx, entry, meta); err != nil {
		r.logger.Error("failed to record audit entry",
			zap.String("config_value_id", valueID),
			zap.Error(err))
		return err
	}
	return nil
}

// notifyChange forwards a mutation to the change monitor
func (r *Resolver) notifyChange(ctx context.Context, key string, prior *types.ConfigValue, newValue any, actor string, scope types.Scope) {
	r.mu.RLock()
	notifier := r.notifier
	r.mu.RUnlock()
	if notifier == nil {
		return
	}

	var oldValue any
	if prior != nil {
		oldValue = prior.Value
	}
	notifier.NotifyChange(ctx, key, oldValue, newValue, actor, scope)
}

// SetOverride sets an ephemeral override
func (r *Resolver) SetOverride(key string, value any, source string, ttl time.Duration) {
	r.overrides.Set(key, value, source, ttl)
	r.cache.DeleteKey(key)
}

// RemoveOverride removes an override and restores the underlying value
// in the cache. Returns whether an override existed.
func (r *Resolver) RemoveOverride(key string) bool {
	removed := r.overrides.Remove(key)
	if removed {
		r.restoreAfterOverride(key)
	}
	return removed
}

// Overrides lists the current overrides
func (r *Resolver) Overrides() []*types.Override {
	return r.overrides.List()
}

// restoreAfterOverride re-derives a key's underlying value after an
// override disappears. The stale cache entries are dropped and the
// unscoped value, if any, is re-primed from persistence or environment.
func (r *Resolver) restoreAfterOverride(key string) {
	r.cache.DeleteKey(key)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ck := cacheKey{Key: key, FromStore: true}
	if v, _, ok := r.loadFromStore(ctx, key, types.Scope{}); ok {
		r.cache.Set(ck, cacheEntry{Value: v, Found: true})
		return
	}
	if raw, ok := os.LookupEnv(key); ok {
		r.cache.Set(ck, cacheEntry{Value: raw, Found: true})
	}
}

// ClearCache drops one key's cache entries, or the entire cache when
// key is empty
func (r *Resolver) ClearCache(key string) {
	if key == "" {
		r.cache.Clear()
		return
	}
	r.cache.DeleteKey(key)
}

// Reload clears the cache and re-runs registered reload hooks, used
// after bulk administrative changes
func (r *Resolver) Reload(ctx context.Context) {
	r.cache.Clear()

	r.mu.RLock()
	hooks := make([]func(context.Context), len(r.reloadHooks))
	copy(hooks, r.reloadHooks)
	r.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx)
	}

	r.logger.Info("configuration reloaded")
}

// Close stops the cache and override sweep
func (r *Resolver) Close() {
	r.overrides.Stop()
	r.cache.Stop()
}
