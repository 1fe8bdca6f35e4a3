package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"easel/engine/internal/retry"
	"easel/engine/internal/store"
)

const ttl = 5 * time.Second

func setupTestManager(t *testing.T) (*Manager, *store.RedisStore, *fakeClock) {
	t.Helper()
	s := miniredis.RunT(t)
	st, err := store.Open("redis://"+s.Addr(), retry.Default())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := &fakeClock{t: time.Now().UTC()}
	m := New(st, ttl)
	m.now = clock.Now
	return m, st, clock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func createShape(t *testing.T, st *store.RedisStore) store.Shape {
	t.Helper()
	shape, err := st.CreateShape(context.Background(), "c1", store.ShapeDraft{Type: store.TypeRectangle}, store.User{UID: "creator"})
	if err != nil {
		t.Fatalf("create shape: %v", err)
	}
	return shape
}

func TestTryLockFirstTouchWins(t *testing.T) {
	m, st, _ := setupTestManager(t)
	ctx := context.Background()
	shape := createShape(t, st)

	ok, err := m.TryLock(ctx, "c1", shape.ID, "userA")
	if err != nil {
		t.Fatalf("tryLock A: %v", err)
	}
	if !ok {
		t.Fatal("first acquire must succeed")
	}

	ok, err = m.TryLock(ctx, "c1", shape.ID, "userB")
	if err != nil {
		t.Fatalf("tryLock B: %v", err)
	}
	if ok {
		t.Fatal("second acquire by another user must fail")
	}

	doc, _ := st.GetDocument(ctx, "c1")
	got := doc.Shapes[shape.ID]
	if !got.IsLocked || got.LockedBy != "userA" || got.LockedAt == nil {
		t.Errorf("lock must stay owned by userA: %+v", got)
	}
}

func TestTryLockIsIdempotentForOwner(t *testing.T) {
	m, st, _ := setupTestManager(t)
	ctx := context.Background()
	shape := createShape(t, st)

	if ok, _ := m.TryLock(ctx, "c1", shape.ID, "userA"); !ok {
		t.Fatal("first acquire must succeed")
	}
	ok, err := m.TryLock(ctx, "c1", shape.ID, "userA")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if !ok {
		t.Error("owner re-acquire must succeed")
	}
}

func TestTryLockOverridesExpiredLock(t *testing.T) {
	m, st, clock := setupTestManager(t)
	ctx := context.Background()
	shape := createShape(t, st)

	if ok, _ := m.TryLock(ctx, "c1", shape.ID, "userA"); !ok {
		t.Fatal("first acquire must succeed")
	}

	clock.Advance(ttl + time.Millisecond)

	ok, err := m.TryLock(ctx, "c1", shape.ID, "userB")
	if err != nil {
		t.Fatalf("tryLock after expiry: %v", err)
	}
	if !ok {
		t.Fatal("expired lock must be acquirable")
	}

	doc, _ := st.GetDocument(ctx, "c1")
	if got := doc.Shapes[shape.ID]; got.LockedBy != "userB" {
		t.Errorf("expected userB to own the lock, got %s", got.LockedBy)
	}
}

func TestTryLockMissingShape(t *testing.T) {
	m, _, _ := setupTestManager(t)
	ok, err := m.TryLock(context.Background(), "c1", "ghost", "userA")
	if err != nil {
		t.Fatalf("tryLock: %v", err)
	}
	if ok {
		t.Error("locking a missing shape must fail")
	}
}

func TestUnlockOnlyByOwner(t *testing.T) {
	m, st, _ := setupTestManager(t)
	ctx := context.Background()
	shape := createShape(t, st)

	if ok, _ := m.TryLock(ctx, "c1", shape.ID, "userA"); !ok {
		t.Fatal("acquire must succeed")
	}

	// A non-owner unlock is a silent no-op.
	if err := m.Unlock(ctx, "c1", shape.ID, "userB"); err != nil {
		t.Fatalf("non-owner unlock must not error: %v", err)
	}
	doc, _ := st.GetDocument(ctx, "c1")
	if got := doc.Shapes[shape.ID]; !got.IsLocked || got.LockedBy != "userA" {
		t.Error("non-owner unlock must leave the lock in place")
	}

	if err := m.Unlock(ctx, "c1", shape.ID, "userA"); err != nil {
		t.Fatalf("owner unlock: %v", err)
	}
	doc, _ = st.GetDocument(ctx, "c1")
	got := doc.Shapes[shape.ID]
	if got.IsLocked || got.LockedBy != "" || got.LockedAt != nil {
		t.Errorf("unlock must clear all lock fields: %+v", got)
	}
}

func TestSweepStaleClearsOnlyExpired(t *testing.T) {
	m, st, clock := setupTestManager(t)
	ctx := context.Background()

	stale := createShape(t, st)
	if ok, _ := m.TryLock(ctx, "c1", stale.ID, "userA"); !ok {
		t.Fatal("acquire stale must succeed")
	}

	clock.Advance(ttl + time.Second)

	fresh := createShape(t, st)
	if ok, _ := m.TryLock(ctx, "c1", fresh.ID, "userB"); !ok {
		t.Fatal("acquire fresh must succeed")
	}

	cleared, err := m.SweepStale(ctx, "c1")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared lock, got %d", cleared)
	}

	doc, _ := st.GetDocument(ctx, "c1")
	if doc.Shapes[stale.ID].IsLocked {
		t.Error("stale lock survived the sweep")
	}
	if !doc.Shapes[fresh.ID].IsLocked {
		t.Error("fresh lock must survive the sweep")
	}
}

func TestSweepStaleSkipsWriteWhenClean(t *testing.T) {
	m, st, _ := setupTestManager(t)
	ctx := context.Background()

	shape := createShape(t, st)
	if ok, _ := m.TryLock(ctx, "c1", shape.ID, "userA"); !ok {
		t.Fatal("acquire must succeed")
	}

	before, _ := st.GetDocument(ctx, "c1")

	cleared, err := m.SweepStale(ctx, "c1")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cleared != 0 {
		t.Fatalf("expected nothing cleared, got %d", cleared)
	}

	after, _ := st.GetDocument(ctx, "c1")
	if !after.LastUpdated.Equal(before.LastUpdated) {
		t.Error("a clean sweep must not write the document")
	}
}

func TestSweeperRunsInBackground(t *testing.T) {
	m, st, clock := setupTestManager(t)
	ctx := context.Background()

	shape := createShape(t, st)
	if ok, _ := m.TryLock(ctx, "c1", shape.ID, "userA"); !ok {
		t.Fatal("acquire must succeed")
	}
	clock.Advance(ttl + time.Second)

	sweeper := NewSweeper(m, 10*time.Millisecond)
	defer sweeper.Stop()

	deadline := time.After(2 * time.Second)
	for {
		doc, _ := st.GetDocument(ctx, "c1")
		if !doc.Shapes[shape.ID].IsLocked {
			return
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never cleared the stale lock")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
