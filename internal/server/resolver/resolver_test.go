package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tierconf/internal/server/storage"
	"tierconf/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeStore is an in-memory Storage used to drive the resolver without
// a database. Unimplemented interface methods panic if reached.
type fakeStore struct {
	storage.Storage

	mu         sync.Mutex
	categories map[string]*types.ConfigCategory
	keys       map[string]*types.ConfigKey
	values     map[string][]*types.ConfigValue

	keyLookups int
	failAll    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		categories: make(map[string]*types.ConfigCategory),
		keys:       make(map[string]*types.ConfigKey),
		values:     make(map[string][]*types.ConfigValue),
	}
}

func (s *fakeStore) CreateCategory(_ context.Context, cat *types.ConfigCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[cat.Name]; ok {
		return types.ErrCategoryExists
	}
	if cat.ID == "" {
		cat.ID = uuid.New().String()
	}
	s.categories[cat.Name] = cat
	return nil
}

func (s *fakeStore) GetCategoryByName(_ context.Context, name string) (*types.ConfigCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errors.New("store unavailable")
	}
	cat, ok := s.categories[name]
	if !ok {
		return nil, types.ErrCategoryNotFound
	}
	return cat, nil
}

func (s *fakeStore) CreateKey(_ context.Context, key *types.ConfigKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.Key]; ok {
		return types.ErrKeyExists
	}
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	s.keys[key.Key] = key
	return nil
}

func (s *fakeStore) GetKeyByName(_ context.Context, name string) (*types.ConfigKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyLookups++
	if s.failAll {
		return nil, errors.New("store unavailable")
	}
	k, ok := s.keys[name]
	if !ok {
		return nil, types.ErrKeyNotFound
	}
	return k, nil
}

func (s *fakeStore) ListKeys(_ context.Context, categoryID string) ([]*types.ConfigKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []*types.ConfigKey
	for _, k := range s.keys {
		if categoryID == "" || k.CategoryID == categoryID {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeStore) FindActiveValue(_ context.Context, keyID string, scope types.Scope) (*types.ConfigValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findActiveLocked(keyID, scope)
}

func (s *fakeStore) findActiveLocked(keyID string, scope types.Scope) (*types.ConfigValue, error) {
	for _, v := range s.values[keyID] {
		if v.IsActive && v.Scope == scope {
			return v, nil
		}
	}
	return nil, types.ErrValueNotFound
}

func (s *fakeStore) FindActiveValueCascade(_ context.Context, keyID string, scope types.Scope) (*types.ConfigValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range scope.Cascade() {
		if v, err := s.findActiveLocked(keyID, sc); err == nil {
			return v, nil
		}
	}
	return nil, types.ErrValueNotFound
}

func (s *fakeStore) ListActiveValues(_ context.Context, categoryID string) ([]*types.ConfigValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*types.ConfigValue
	for _, k := range s.keys {
		if categoryID != "" && k.CategoryID != categoryID {
			continue
		}
		for _, v := range s.values[k.ID] {
			if v.IsActive {
				list = append(list, v)
			}
		}
	}
	return list, nil
}

func (s *fakeStore) SetValue(_ context.Context, value *types.ConfigValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value.ID == "" {
		value.ID = uuid.New().String()
	}
	value.IsActive = true
	value.CreatedAt = time.Now()
	for _, v := range s.values[value.ConfigKeyID] {
		if v.Scope == value.Scope {
			v.IsActive = false
		}
	}
	s.values[value.ConfigKeyID] = append(s.values[value.ConfigKeyID], value)
	return nil
}

func (s *fakeStore) DeactivateValues(_ context.Context, keyID string, scope types.Scope, exceptID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.values[keyID] {
		if v.IsActive && v.Scope == scope && v.ID != exceptID {
			v.IsActive = false
			n++
		}
	}
	return n, nil
}

// addValue seeds an active value for a key, creating the key if needed
func (s *fakeStore) addValue(t *testing.T, key, raw string, vt types.ValueType, scope types.Scope) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[key]
	if !ok {
		k = &types.ConfigKey{ID: uuid.New().String(), Key: key, ValueType: vt}
		s.keys[key] = k
	}
	for _, v := range s.values[k.ID] {
		if v.Scope == scope {
			v.IsActive = false
		}
	}
	s.values[k.ID] = append(s.values[k.ID], &types.ConfigValue{
		ID:          uuid.New().String(),
		ConfigKeyID: k.ID,
		Value:       raw,
		Scope:       scope,
		IsActive:    true,
		CreatedAt:   time.Now(),
	})
}

// lookups returns the number of key lookups the store has served
func (s *fakeStore) lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyLookups
}

// recorderStub captures audit records
type recorderStub struct {
	mu      sync.Mutex
	entries []*types.AuditEntry
	metas   []map[string]any
	fail    bool
}

func (r *recorderStub) Record(_ context.Context, entry *types.AuditEntry, meta map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("audit store down")
	}
	r.entries = append(r.entries, entry)
	r.metas = append(r.metas, meta)
	return nil
}

// notifierStub captures change notifications
type notifierStub struct {
	mu     sync.Mutex
	events []types.ChangeEvent
}

func (n *notifierStub) NotifyChange(_ context.Context, key string, oldValue, newValue any, actor string, scope types.Scope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, types.ChangeEvent{
		Key:       key,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: actor,
		Scope:     scope,
	})
}

func newTestResolver(t *testing.T, store *fakeStore, ttl time.Duration) *Resolver {
	t.Helper()
	cfg := &Config{CacheTTL: ttl}
	require.NoError(t, cfg.Validate())

	r, err := New(cfg, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestResolvePrecedence(t *testing.T) {
	ctx := context.Background()
	scope := types.Scope{Environment: "production", Platform: types.PlatformWeb}

	t.Run("persisted value wins over environment variable", func(t *testing.T) {
		store := newFakeStore()
		store.addValue(t, "feature.flag", "from-store", types.ValueTypeString, types.Scope{})
		r := newTestResolver(t, store, 0)

		t.Setenv("feature.flag", "from-env")

		v, ok := r.Get(ctx, "feature.flag", scope)
		require.True(t, ok)
		assert.Equal(t, "from-store", v)
	})

	t.Run("environment variable beats key default", func(t *testing.T) {
		store := newFakeStore()
		store.keys["retry.max"] = &types.ConfigKey{
			ID: uuid.New().String(), Key: "retry.max",
			DefaultValue: "3", ValueType: types.ValueTypeNumber,
		}
		r := newTestResolver(t, store, 0)

		t.Setenv("retry.max", "9")

		v, ok := r.Get(ctx, "retry.max", scope)
		require.True(t, ok)
		assert.Equal(t, "9", v)
	})

	t.Run("key default when nothing else matches", func(t *testing.T) {
		store := newFakeStore()
		store.keys["retry.max"] = &types.ConfigKey{
			ID: uuid.New().String(), Key: "retry.max",
			DefaultValue: "3", ValueType: types.ValueTypeNumber,
		}
		r := newTestResolver(t, store, 0)

		v, ok := r.Get(ctx, "retry.max", scope)
		require.True(t, ok)
		assert.Equal(t, float64(3), v)
	})

	t.Run("caller default as last resort", func(t *testing.T) {
		store := newFakeStore()
		r := newTestResolver(t, store, 0)

		v, ok := r.GetWith(ctx, "missing.key", scope, GetOptions{Default: "fallback"})
		require.True(t, ok)
		assert.Equal(t, "fallback", v)

		_, ok = r.Get(ctx, "missing.key", scope)
		assert.False(t, ok)
	})

	t.Run("override wins over everything", func(t *testing.T) {
		store := newFakeStore()
		store.addValue(t, "feature.flag", "from-store", types.ValueTypeString, types.Scope{})
		r := newTestResolver(t, store, 0)

		t.Setenv("feature.flag", "from-env")
		r.SetOverride("feature.flag", "from-override", "test", 0)

		v, ok := r.Get(ctx, "feature.flag", scope)
		require.True(t, ok)
		assert.Equal(t, "from-override", v)
	})
}

func TestResolveScopeCascade(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addValue(t, "page.size", "10", types.ValueTypeNumber, types.Scope{})
	store.addValue(t, "page.size", "20", types.ValueTypeNumber, types.Scope{Environment: "production"})
	store.addValue(t, "page.size", "30", types.ValueTypeNumber,
		types.Scope{Environment: "production", Platform: types.PlatformMobileIOS})
	r := newTestResolver(t, store, 0)

	testCases := []struct {
		name  string
		scope types.Scope
		want  float64
	}{
		{
			name:  "exact scope",
			scope: types.Scope{Environment: "production", Platform: types.PlatformMobileIOS},
			want:  30,
		},
		{
			name:  "environment fallback",
			scope: types.Scope{Environment: "production", Platform: types.PlatformWeb},
			want:  20,
		},
		{
			name:  "unscoped fallback",
			scope: types.Scope{Environment: "staging", Platform: types.PlatformWeb},
			want:  10,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := r.Get(ctx, "page.size", tc.scope)
			require.True(t, ok)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestResolveCaching(t *testing.T) {
	ctx := context.Background()
	scope := types.Scope{Environment: "production"}

	t.Run("hits are served from cache", func(t *testing.T) {
		store := newFakeStore()
		store.addValue(t, "feature.flag", "on", types.ValueTypeString, types.Scope{})
		r := newTestResolver(t, store, time.Minute)

		for i := 0; i < 5; i++ {
			v, ok := r.Get(ctx, "feature.flag", scope)
			require.True(t, ok)
			assert.Equal(t, "on", v)
		}
		assert.Equal(t, 1, store.lookups())
	})

	t.Run("misses are cached too", func(t *testing.T) {
		store := newFakeStore()
		r := newTestResolver(t, store, time.Minute)

		for i := 0; i < 5; i++ {
			_, ok := r.Get(ctx, "missing.key", scope)
			assert.False(t, ok)
		}
		assert.Equal(t, 1, store.lookups())
	})

	t.Run("entries expire after the ttl", func(t *testing.T) {
		store := newFakeStore()
		store.addValue(t, "feature.flag", "on", types.ValueTypeString, types.Scope{})
		r := newTestResolver(t, store, 20*time.Millisecond)

		_, ok := r.Get(ctx, "feature.flag", scope)
		require.True(t, ok)
		before := store.lookups()

		time.Sleep(60 * time.Millisecond)

		_, ok = r.Get(ctx, "feature.flag", scope)
		require.True(t, ok)
		assert.Greater(t, store.lookups(), before)
	})

	t.Run("scopes are cached independently", func(t *testing.T) {
		store := newFakeStore()
		store.addValue(t, "page.size", "10", types.ValueTypeNumber, types.Scope{})
		store.addValue(t, "page.size", "20", types.ValueTypeNumber, types.Scope{Environment: "production"})
		r := newTestResolver(t, store, time.Minute)

		v, _ := r.Get(ctx, "page.size", types.Scope{Environment: "production"})
		assert.Equal(t, float64(20), v)

		v, _ = r.Get(ctx, "page.size", types.Scope{Environment: "staging"})
		assert.Equal(t, float64(10), v)
	})
}

func TestSetPersistsAuditsAndNotifies(t *testing.T) {
	ctx := context.Background()
	scope := types.Scope{Environment: "production", Platform: types.PlatformWeb}

	store := newFakeStore()
	r := newTestResolver(t, store, time.Minute)

	recorder := &recorderStub{}
	notifier := &notifierStub{}
	r.AttachAudit(recorder)
	r.AttachNotifier(notifier)

	opts := SetOptions{Actor: "alice", Source: "api"}
	require.NoError(t, r.Set(ctx, "rate.limit", 100, scope, opts))

	// Key was auto-created in the default category.
	k, err := store.GetKeyByName(ctx, "rate.limit")
	require.NoError(t, err)
	assert.Equal(t, types.ValueTypeNumber, k.ValueType)

	v, ok := r.Get(ctx, "rate.limit", scope)
	require.True(t, ok)
	assert.Equal(t, float64(100), v)

	// First write audits with no old value.
	require.Len(t, recorder.entries, 1)
	assert.Nil(t, recorder.entries[0].OldValue)
	require.NotNil(t, recorder.entries[0].NewValue)
	assert.Equal(t, "100", *recorder.entries[0].NewValue)
	assert.Equal(t, "alice", recorder.entries[0].ChangedBy)
	assert.Equal(t, "set", recorder.metas[0]["operation"])

	// Second write audits the transition and replaces the active value.
	require.NoError(t, r.Set(ctx, "rate.limit", 250, scope, opts))

	v, ok = r.Get(ctx, "rate.limit", scope)
	require.True(t, ok)
	assert.Equal(t, float64(250), v)

	require.Len(t, recorder.entries, 2)
	require.NotNil(t, recorder.entries[1].OldValue)
	assert.Equal(t, "100", *recorder.entries[1].OldValue)

	// Exactly one value is active for the scope.
	active := 0
	for _, val := range store.values[k.ID] {
		if val.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	// Both mutations were published.
	require.Len(t, notifier.events, 2)
	assert.Equal(t, "rate.limit", notifier.events[0].Key)
	assert.Equal(t, 250, notifier.events[1].NewValue)
}

func TestTemporarySetIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(t, store, time.Minute)

	recorder := &recorderStub{}
	r.AttachAudit(recorder)

	opts := SetOptions{Temporary: true, TTL: time.Minute, Actor: "bob"}
	require.NoError(t, r.Set(ctx, "debug.enabled", true, types.Scope{}, opts))

	v, ok := r.Get(ctx, "debug.enabled", types.Scope{})
	require.True(t, ok)
	assert.Equal(t, true, v)

	// Nothing persisted, nothing audited.
	_, err := store.GetKeyByName(ctx, "debug.enabled")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
	assert.Empty(t, recorder.entries)

	require.Len(t, r.Overrides(), 1)
	assert.Equal(t, "debug.enabled", r.Overrides()[0].Key)
}

func TestDeleteDeactivatesAndAudits(t *testing.T) {
	ctx := context.Background()
	scope := types.Scope{Environment: "production"}

	store := newFakeStore()
	r := newTestResolver(t, store, time.Minute)
	recorder := &recorderStub{}
	r.AttachAudit(recorder)

	require.NoError(t, r.Set(ctx, "feature.flag", "on", scope, SetOptions{Actor: "alice"}))
	require.NoError(t, r.Delete(ctx, "feature.flag", scope, SetOptions{Actor: "alice"}))

	_, ok := r.Get(ctx, "feature.flag", scope)
	assert.False(t, ok)

	// The deletion is audited with a null new value.
	require.Len(t, recorder.entries, 2)
	deletion := recorder.entries[1]
	assert.Nil(t, deletion.NewValue)
	require.NotNil(t, deletion.OldValue)
	assert.Equal(t, "on", *deletion.OldValue)
	assert.Equal(t, "delete", recorder.metas[1]["operation"])
}

func TestDeleteMissingValue(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(t, store, time.Minute)

	err := r.Delete(ctx, "never.set", types.Scope{}, SetOptions{})
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestAuditFailureFailsTheWrite(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(t, store, time.Minute)
	r.AttachAudit(&recorderStub{fail: true})

	err := r.Set(ctx, "rate.limit", 1, types.Scope{}, SetOptions{Actor: "alice"})
	require.Error(t, err)
}

func TestOverrideRemovalRestoresUnderlyingValue(t *testing.T) {
	ctx := context.Background()
	scope := types.Scope{Environment: "production"}

	store := newFakeStore()
	store.addValue(t, "feature.flag", "persisted", types.ValueTypeString, types.Scope{})
	r := newTestResolver(t, store, time.Minute)

	v, _ := r.Get(ctx, "feature.flag", scope)
	assert.Equal(t, "persisted", v)

	r.SetOverride("feature.flag", "masked", "test", 0)
	v, _ = r.Get(ctx, "feature.flag", scope)
	assert.Equal(t, "masked", v)

	require.True(t, r.RemoveOverride("feature.flag"))
	v, ok := r.Get(ctx, "feature.flag", scope)
	require.True(t, ok)
	assert.Equal(t, "persisted", v)

	// Removing again reports absence.
	assert.False(t, r.RemoveOverride("feature.flag"))
}

func TestGetByCategory(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	cat := &types.ConfigCategory{Name: "limits"}
	require.NoError(t, store.CreateCategory(ctx, cat))
	store.keys["rate.limit"] = &types.ConfigKey{
		ID: uuid.New().String(), Key: "rate.limit",
		CategoryID: cat.ID, ValueType: types.ValueTypeNumber,
	}
	store.keys["page.size"] = &types.ConfigKey{
		ID: uuid.New().String(), Key: "page.size",
		CategoryID: cat.ID, ValueType: types.ValueTypeNumber, DefaultValue: "25",
	}
	store.values[store.keys["rate.limit"].ID] = []*types.ConfigValue{{
		ID:          uuid.New().String(),
		ConfigKeyID: store.keys["rate.limit"].ID,
		Value:       "100",
		IsActive:    true,
	}}

	r := newTestResolver(t, store, time.Minute)

	values := r.GetByCategory(ctx, "limits", types.Scope{})
	assert.Equal(t, float64(100), values["rate.limit"])
	assert.Equal(t, float64(25), values["page.size"])

	t.Run("store failure degrades to empty map", func(t *testing.T) {
		store.failAll = true
		defer func() { store.failAll = false }()

		values := r.GetByCategory(ctx, "limits", types.Scope{})
		assert.Empty(t, values)
	})

	t.Run("override shadows the category value", func(t *testing.T) {
		r.SetOverride("rate.limit", 5, "test", 0)
		defer r.RemoveOverride("rate.limit")

		values := r.GetByCategory(ctx, "limits", types.Scope{})
		assert.Equal(t, 5, values["rate.limit"])
	})
}

func TestReloadClearsCacheAndRunsHooks(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addValue(t, "feature.flag", "v1", types.ValueTypeString, types.Scope{})
	r := newTestResolver(t, store, time.Minute)

	v, _ := r.Get(ctx, "feature.flag", types.Scope{})
	assert.Equal(t, "v1", v)

	store.addValue(t, "feature.flag", "v2", types.ValueTypeString, types.Scope{})

	// Still cached.
	v, _ = r.Get(ctx, "feature.flag", types.Scope{})
	assert.Equal(t, "v1", v)

	hookRuns := 0
	r.OnReload(func(context.Context) { hookRuns++ })
	r.Reload(ctx)

	v, _ = r.Get(ctx, "feature.flag", types.Scope{})
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, hookRuns)
}

func TestConcurrentSetsKeepOneActiveValue(t *testing.T) {
	ctx := context.Background()
	scope := types.Scope{Environment: "production"}

	store := newFakeStore()
	r := newTestResolver(t, store, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := r.Set(ctx, "rate.limit", n, scope, SetOptions{Actor: fmt.Sprintf("writer-%d", n)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	k, err := store.GetKeyByName(ctx, "rate.limit")
	require.NoError(t, err)

	active := 0
	for _, v := range store.values[k.ID] {
		if v.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}
