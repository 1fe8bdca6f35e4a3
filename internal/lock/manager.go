// Package lock implements advisory, TTL-based shape locking on top of
// the document store. Locks are first-touch-wins and cooperative: they
// gate whether an update applies its payload, but deletes and reorders
// proceed regardless of lock state. That is a deliberate simplification
// of the coordination model, not an oversight.
package lock

import (
	"context"
	"fmt"
	"time"

	"easel/engine/internal/store"
)

// Manager owns every read and write of the lock fields embedded in a
// shape. All mutations go through the store's document transaction, so
// lock state and shape state stay in one consistency domain.
type Manager struct {
	store *store.RedisStore
	ttl   time.Duration
	now   func() time.Time
}

func New(st *store.RedisStore, ttl time.Duration) *Manager {
	return &Manager{store: st, ttl: ttl, now: time.Now}
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// TryLock acquires the shape lock for userID. It succeeds when the
// shape is unlocked, when the existing lock has outlived the TTL, or
// when userID already holds it (idempotent re-acquire). Any other held
// lock wins: the call is a no-op returning false.
func (m *Manager) TryLock(ctx context.Context, canvasID, shapeID, userID string) (bool, error) {
	acquired := false
	err := m.store.WithDocument(ctx, canvasID, func(doc *store.CanvasDocument) (bool, error) {
		shape, ok := doc.Shapes[shapeID]
		if !ok {
			return false, nil
		}
		now := m.now().UTC()
		if shape.IsLocked && shape.LockedBy != userID && !shape.LockExpired(now, m.ttl) {
			return false, nil
		}
		shape.IsLocked = true
		shape.LockedBy = userID
		shape.LockedAt = &now
		doc.Shapes[shapeID] = shape
		acquired = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("try lock %s/%s: %w", canvasID, shapeID, err)
	}
	return acquired, nil
}

// Unlock clears the lock only when userID owns it. Unlocking someone
// else's lock, an unlocked shape, or a missing shape is a silent no-op.
func (m *Manager) Unlock(ctx context.Context, canvasID, shapeID, userID string) error {
	err := m.store.WithDocument(ctx, canvasID, func(doc *store.CanvasDocument) (bool, error) {
		shape, ok := doc.Shapes[shapeID]
		if !ok || !shape.IsLocked || shape.LockedBy != userID {
			return false, nil
		}
		shape.ClearLock()
		doc.Shapes[shapeID] = shape
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("unlock %s/%s: %w", canvasID, shapeID, err)
	}
	return nil
}

// SweepStale clears every expired lock in the document with one batched
// write. The write is skipped entirely when nothing is stale. Returns
// how many locks were cleared. This is best-effort hygiene; a lock is
// not guaranteed to clear the instant it expires.
func (m *Manager) SweepStale(ctx context.Context, canvasID string) (int, error) {
	cleared := 0
	err := m.store.WithDocument(ctx, canvasID, func(doc *store.CanvasDocument) (bool, error) {
		cleared = 0
		now := m.now().UTC()
		for id, shape := range doc.Shapes {
			if shape.LockExpired(now, m.ttl) {
				shape.ClearLock()
				doc.Shapes[id] = shape
				cleared++
			}
		}
		return cleared > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep stale locks %s: %w", canvasID, err)
	}
	return cleared, nil
}
