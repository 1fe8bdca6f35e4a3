package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"easel/engine/internal/archive"
	"easel/engine/internal/command"
	"easel/engine/internal/store"
)

// fakeDocStore is an in-memory documentStore with func-field overrides
// for forcing specific outcomes.
type fakeDocStore struct {
	shapes        map[string]store.Shape
	nextID        int
	updateShapeFn func(context.Context, string, string, map[string]any, store.User) (store.UpdateOutcome, error)
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{shapes: map[string]store.Shape{}}
}

func (f *fakeDocStore) CreateShape(ctx context.Context, canvasID string, draft store.ShapeDraft, user store.User) (store.Shape, error) {
	shape := store.Shape{ID: draft.ID, Type: draft.Type, Attrs: draft.Attrs, CreatedBy: user.UID}
	if shape.ID == "" {
		f.nextID++
		shape.ID = fmt.Sprintf("shape-%d", f.nextID)
	}
	if draft.ZIndex != nil {
		shape.ZIndex = *draft.ZIndex
	} else {
		for _, s := range f.shapes {
			if s.ZIndex >= shape.ZIndex {
				shape.ZIndex = s.ZIndex + 1
			}
		}
	}
	f.shapes[shape.ID] = shape
	return shape, nil
}

func (f *fakeDocStore) UpdateShape(ctx context.Context, canvasID, shapeID string, patch map[string]any, user store.User) (store.UpdateOutcome, error) {
	if f.updateShapeFn != nil {
		return f.updateShapeFn(ctx, canvasID, shapeID, patch, user)
	}
	shape, ok := f.shapes[shapeID]
	if !ok {
		return store.UpdateNotFound, nil
	}
	for k, v := range patch {
		if v == nil {
			delete(shape.Attrs, k)
			continue
		}
		if shape.Attrs == nil {
			shape.Attrs = map[string]any{}
		}
		shape.Attrs[k] = v
	}
	f.shapes[shapeID] = shape
	return store.UpdateApplied, nil
}

func (f *fakeDocStore) DeleteShape(ctx context.Context, canvasID, shapeID string) error {
	delete(f.shapes, shapeID)
	return nil
}

func (f *fakeDocStore) ReorderShape(ctx context.Context, canvasID, shapeID string, move store.ReorderFunc, user store.User) (int, int, bool, error) {
	shape, ok := f.shapes[shapeID]
	if !ok {
		return 0, 0, false, nil
	}
	others := make([]store.Shape, 0, len(f.shapes)-1)
	for id, other := range f.shapes {
		if id != shapeID {
			others = append(others, other)
		}
	}
	before := shape.ZIndex
	newZ, ok := move(shape, others)
	if !ok || newZ == before {
		return before, before, false, nil
	}
	shape.ZIndex = newZ
	f.shapes[shapeID] = shape
	return before, newZ, true, nil
}

func (f *fakeDocStore) PutShapes(ctx context.Context, canvasID string, shapes []store.Shape) error {
	for _, s := range shapes {
		f.shapes[s.ID] = s
	}
	return nil
}

func (f *fakeDocStore) DeleteShapes(ctx context.Context, canvasID string, ids []string) error {
	for _, id := range ids {
		delete(f.shapes, id)
	}
	return nil
}

func (f *fakeDocStore) GetDocument(ctx context.Context, canvasID string) (store.CanvasDocument, error) {
	shapes := make(map[string]store.Shape, len(f.shapes))
	for id, s := range f.shapes {
		shapes[id] = s
	}
	return store.CanvasDocument{CanvasID: canvasID, Shapes: shapes}, nil
}

func (f *fakeDocStore) Subscribe(ctx context.Context, canvasID string) (<-chan store.Snapshot, func(), error) {
	ch := make(chan store.Snapshot)
	return ch, func() { close(ch) }, nil
}

type fakeLocks struct {
	tryLockFn func(context.Context, string, string, string) (bool, error)
	unlocked  []string
}

func (f *fakeLocks) TryLock(ctx context.Context, canvasID, shapeID, userID string) (bool, error) {
	if f.tryLockFn != nil {
		return f.tryLockFn(ctx, canvasID, shapeID, userID)
	}
	return true, nil
}

func (f *fakeLocks) Unlock(ctx context.Context, canvasID, shapeID, userID string) error {
	f.unlocked = append(f.unlocked, shapeID)
	return nil
}

type recordingJournal struct {
	events []archive.Event
}

func (j *recordingJournal) Record(ctx context.Context, e archive.Event) error {
	j.events = append(j.events, e)
	return nil
}

func (j *recordingJournal) Recent(ctx context.Context, canvasID string, limit int) ([]archive.Event, error) {
	return j.events, nil
}

var tester = store.User{UID: "u-test", DisplayName: "Tester"}

func TestServiceCreateShapeRecordsHistory(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})
	ctx := context.Background()

	created, err := svc.CreateShape(ctx, "c1", store.ShapeDraft{Type: store.TypeCircle}, tester)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected created shape")
	}

	entries := svc.HistoryEntries("c1", tester)
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].Description != "added circle" {
		t.Errorf("unexpected description: %q", entries[0].Description)
	}
}

func TestServiceUpdateNotFoundSkipsHistory(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})

	outcome, err := svc.UpdateShape(context.Background(), "c1", "ghost", map[string]any{"x": 1.0}, tester)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome != store.UpdateNotFound {
		t.Errorf("expected not_found, got %s", outcome)
	}
	if len(svc.HistoryEntries("c1", tester)) != 0 {
		t.Error("missing shape must not enter the timeline")
	}
}

func TestServiceUpdateSkippedLockedStaysOffTimeline(t *testing.T) {
	st := newFakeDocStore()
	created, _ := st.CreateShape(context.Background(), "c1", store.ShapeDraft{Type: store.TypeCircle}, tester)
	st.updateShapeFn = func(context.Context, string, string, map[string]any, store.User) (store.UpdateOutcome, error) {
		return store.UpdateSkippedLocked, nil
	}
	svc := New(st, &fakeLocks{})

	outcome, err := svc.UpdateShape(context.Background(), "c1", created.ID, map[string]any{"x": 1.0}, tester)
	if err != nil {
		t.Fatalf("a lock-denied update must not error: %v", err)
	}
	if outcome != store.UpdateSkippedLocked {
		t.Errorf("expected skipped_locked, got %s", outcome)
	}
	if len(svc.HistoryEntries("c1", tester)) != 0 {
		t.Error("skipped updates must not enter the timeline")
	}
}

func TestServiceDeleteMissingIsNoOp(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})

	if err := svc.DeleteShape(context.Background(), "c1", "ghost", tester); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if len(svc.HistoryEntries("c1", tester)) != 0 {
		t.Error("no-op delete must not enter the timeline")
	}
}

func TestServiceUndoRedoFlow(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})
	ctx := context.Background()

	created, err := svc.CreateShape(ctx, "c1", store.ShapeDraft{Type: store.TypeText}, tester)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Undo(ctx, "c1", tester); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if _, ok := st.shapes[created.ID]; ok {
		t.Error("undo must remove the shape")
	}

	if err := svc.Redo(ctx, "c1", tester); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if _, ok := st.shapes[created.ID]; !ok {
		t.Error("redo must restore the shape")
	}

	if err := svc.Undo(ctx, "c1", tester); err != nil {
		t.Fatalf("second undo: %v", err)
	}
	if err := svc.Undo(ctx, "c1", tester); !errors.Is(err, command.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestServiceTimelinesArePerEditor(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})
	ctx := context.Background()
	other := store.User{UID: "u-other", DisplayName: "Other"}

	if _, err := svc.CreateShape(ctx, "c1", store.ShapeDraft{Type: store.TypeCircle}, tester); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The other editor has nothing to undo: history is client-local.
	if err := svc.Undo(ctx, "c1", other); !errors.Is(err, command.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo for other editor, got %v", err)
	}
}

func TestServiceReorderUnknownOp(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})

	err := svc.ReorderShape(context.Background(), "c1", "any", "sideways", tester)
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "UNKNOWN_REORDER_OP" {
		t.Fatalf("expected UNKNOWN_REORDER_OP, got %v", err)
	}
}

func TestServiceReorderNoOpStaysOffTimeline(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})
	ctx := context.Background()

	a, _ := svc.CreateShape(ctx, "c1", store.ShapeDraft{Type: store.TypeCircle}, tester)
	b, _ := svc.CreateShape(ctx, "c1", store.ShapeDraft{Type: store.TypeCircle}, tester)

	// b is already topmost; bring_forward has nowhere to go.
	if err := svc.ReorderShape(ctx, "c1", b.ID, "bring_forward", tester); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(svc.HistoryEntries("c1", tester)) != 2 {
		t.Error("no-op reorder must not enter the timeline")
	}

	if err := svc.ReorderShape(ctx, "c1", a.ID, "bring_to_front", tester); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	entries := svc.HistoryEntries("c1", tester)
	if len(entries) != 3 {
		t.Fatalf("expected reorder on the timeline, got %d entries", len(entries))
	}
	if entries[2].Description != "brought circle to front" {
		t.Errorf("unexpected description: %q", entries[2].Description)
	}
}

func TestServiceRegisterBulk(t *testing.T) {
	st := newFakeDocStore()
	svc := New(st, &fakeLocks{})
	ctx := context.Background()

	if err := svc.RegisterBulk(ctx, "c1", nil, nil, "", tester); err == nil {
		t.Fatal("empty bulk must be rejected")
	}

	shapes := []store.Shape{{ID: "g1", Type: store.TypeStar}, {ID: "g2", Type: store.TypeStar}}
	_ = st.PutShapes(ctx, "c1", shapes)

	if err := svc.RegisterBulk(ctx, "c1", []string{"g1", "g2"}, shapes, "generated scene", tester); err != nil {
		t.Fatalf("register bulk: %v", err)
	}

	// The batch undoes as one unit.
	if err := svc.Undo(ctx, "c1", tester); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(st.shapes) != 0 {
		t.Errorf("expected all bulk shapes removed, got %d", len(st.shapes))
	}
}

func TestServiceJournalBestEffort(t *testing.T) {
	st := newFakeDocStore()
	j := &recordingJournal{}
	svc := NewWithJournal(st, &fakeLocks{}, j)

	if _, err := svc.CreateShape(context.Background(), "c1", store.ShapeDraft{Type: store.TypeLine}, tester); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(j.events) != 1 {
		t.Fatalf("expected 1 journal event, got %d", len(j.events))
	}
	if j.events[0].Actor != tester.UID || j.events[0].CanvasID != "c1" {
		t.Errorf("unexpected event: %+v", j.events[0])
	}
}

func TestServiceRecentActivityWithoutJournal(t *testing.T) {
	svc := New(newFakeDocStore(), &fakeLocks{})
	events, err := svc.RecentActivity(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("recent activity: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected empty activity, got %d", len(events))
	}
}

func TestServiceObserveRemote(t *testing.T) {
	svc := New(newFakeDocStore(), &fakeLocks{})
	remote := store.User{UID: "u-remote", DisplayName: "Remote"}

	svc.ObserveRemote("c1", tester, "moved rectangle", remote)

	entries := svc.HistoryEntries("c1", tester)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].IsLocal {
		t.Error("observed entry must not be local")
	}
	if entries[0].User.UID != remote.UID {
		t.Errorf("expected remote attribution, got %s", entries[0].User.UID)
	}
}
