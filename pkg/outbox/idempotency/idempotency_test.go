package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	value string
	ttl   time.Duration
}

type memoryStore struct {
	values   map[string]entry
	setNXErr error
	// vanish drops the key on the next Get, as if its TTL lapsed mid-claim.
	vanish bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]entry{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if m.vanish {
		m.vanish = false
		delete(m.values, key)
	}
	e, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return e.value, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.setNXErr != nil {
		return false, m.setNXErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = entry{value: value.(string), ttl: ttl}
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = entry{value: value.(string), ttl: ttl}
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "pp:idempotency:" + scope + ":" + id
}

func newManager(t *testing.T, store *memoryStore) *Manager {
	t.Helper()
	manager, err := NewManager(store, 24*time.Hour, time.Minute)
	require.NoError(t, err)
	return manager
}

func TestClaimCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	manager := newManager(t, store)
	eventID := uuid.New()
	key := "pp:idempotency:evt:payment-events:" + eventID.String()

	state, err := manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
	assert.Equal(t, entry{value: markerClaimed, ttl: time.Minute}, store.values[key])

	state, err = manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	assert.Equal(t, Busy, state)

	require.NoError(t, manager.Complete(ctx, "payment-events", eventID))
	assert.Equal(t, entry{value: markerDone, ttl: 24 * time.Hour}, store.values[key])

	state, err = manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	assert.Equal(t, Processed, state)
}

func TestReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t, newMemoryStore())
	eventID := uuid.New()

	_, err := manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, "payment-events", eventID))

	state, err := manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
}

func TestClaimRetriesWhenMarkerExpires(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	manager := newManager(t, store)
	eventID := uuid.New()

	_, err := manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	store.vanish = true

	state, err := manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
}

func TestConsumersDoNotShareMarkers(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t, newMemoryStore())
	eventID := uuid.New()

	_, err := manager.Claim(ctx, "payment-events", eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Complete(ctx, "payment-events", eventID))

	state, err := manager.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
}

func TestClaimSurfacesStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.setNXErr = errors.New("boom")
	manager := newManager(t, store)

	_, err := manager.Claim(context.Background(), "payment-events", uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestManagerRejectsMissingIdentity(t *testing.T) {
	manager := newManager(t, newMemoryStore())
	ctx := context.Background()

	_, err := manager.Claim(ctx, "", uuid.New())
	assert.Error(t, err)
	_, err = manager.Claim(ctx, "payment-events", uuid.Nil)
	assert.Error(t, err)
	assert.Error(t, manager.Complete(ctx, "", uuid.New()))
	assert.Error(t, manager.Release(ctx, "payment-events", uuid.Nil))
}

func TestNewManagerValidation(t *testing.T) {
	store := newMemoryStore()
	_, err := NewManager(nil, time.Hour, time.Minute)
	assert.Error(t, err)
	_, err = NewManager(store, 0, time.Minute)
	assert.Error(t, err)
	_, err = NewManager(store, time.Hour, 0)
	assert.Error(t, err)
	_, err = NewManager(store, time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestClaimStateString(t *testing.T) {
	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "processed", Processed.String())
	assert.Equal(t, "busy", Busy.String())
	assert.Equal(t, "ClaimState(9)", ClaimState(9).String())
}
