package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type leaseStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	delErr error
}

func newLeaseStore() *leaseStore {
	return &leaseStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *leaseStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *leaseStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.delErr != nil {
		return false, m.delErr
	}
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

const testLockKey = "pp:lock:cron:test"

func TestRedisLockIsExclusive(t *testing.T) {
	store := newLeaseStore()
	first, err := NewRedisLock(store, testLockKey, 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, testLockKey, 0)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, defaultLockTTL, store.ttls[testLockKey])

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, testLockKey)

	require.NoError(t, first.Release(ctx))
	assert.NotContains(t, store.values, testLockKey)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockDoesNotDeleteSuccessorLease(t *testing.T) {
	store := newLeaseStore()
	lock, err := NewRedisLock(store, testLockKey, time.Minute)
	require.NoError(t, err)
	_, err = lock.Acquire(context.Background())
	require.NoError(t, err)

	// lease expired and another worker took it
	store.values[testLockKey] = "someone-else"
	require.NoError(t, lock.Release(context.Background()))
	assert.Equal(t, "someone-else", store.values[testLockKey])
}

func TestRedisLockReleaseError(t *testing.T) {
	store := newLeaseStore()
	lock, err := NewRedisLock(store, testLockKey, time.Minute)
	require.NoError(t, err)
	_, err = lock.Acquire(context.Background())
	require.NoError(t, err)

	store.delErr = errors.New("connection reset")
	assert.Error(t, lock.Release(context.Background()))
	// the token is dropped either way; the TTL reclaims the lease
	assert.NoError(t, lock.Release(context.Background()))
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	assert.Error(t, err)
	_, err = NewRedisLock(newLeaseStore(), "", 0)
	assert.Error(t, err)
}
