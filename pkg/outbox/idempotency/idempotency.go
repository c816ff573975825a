// Package idempotency records which delivered outbox events a consumer has handled.
//
// A delivery first claims the event with a short lease, then either completes it
// (the marker is kept for the dedupe window) or releases it so a redelivery can
// retry. A consumer that crashes mid-handle loses its lease when the claim TTL
// lapses instead of blocking the event for the whole window.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pushpay-backend/pkg/redis"
)

const (
	markerClaimed = "claimed"
	markerDone    = "done"
)

// ClaimState is the outcome of Claim.
type ClaimState int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed ClaimState = iota
	// Processed means an earlier delivery already completed the event.
	Processed
	// Busy means another delivery holds an unexpired claim.
	Busy
)

func (s ClaimState) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Processed:
		return "processed"
	case Busy:
		return "busy"
	}
	return fmt.Sprintf("ClaimState(%d)", int(s))
}

// Manager keeps markers under `pp:idempotency:evt:<consumer>:<event_id>`.
type Manager struct {
	store    redis.ResponseStore
	doneTTL  time.Duration
	claimTTL time.Duration
}

func NewManager(store redis.ResponseStore, doneTTL, claimTTL time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if doneTTL <= 0 {
		return nil, errors.New("dedupe ttl must be positive")
	}
	if claimTTL <= 0 || claimTTL > doneTTL {
		return nil, fmt.Errorf("claim ttl must be in (0, %s]", doneTTL)
	}
	return &Manager{store: store, doneTTL: doneTTL, claimTTL: claimTTL}, nil
}

// Claim takes the lease for eventID. When the marker vanishes between the
// failed SETNX and the read, the claim is attempted once more.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (ClaimState, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return Busy, err
	}

	for range 2 {
		ok, err := m.store.SetNX(ctx, key, markerClaimed, m.claimTTL)
		if err != nil {
			return Busy, fmt.Errorf("claim %s: %w", eventID, err)
		}
		if ok {
			return Claimed, nil
		}

		marker, err := m.store.Get(ctx, key)
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return Busy, fmt.Errorf("read marker %s: %w", eventID, err)
		}
		switch marker {
		case markerDone:
			return Processed, nil
		case markerClaimed:
			return Busy, nil
		}
	}
	return Busy, nil
}

// Complete replaces the claim with a done marker that lives for the dedupe window.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key, markerDone, m.doneTTL); err != nil {
		return fmt.Errorf("complete %s: %w", eventID, err)
	}
	return nil
}

// Release drops the claim so the next delivery can retry.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
