package app

import (
	"context"
	"log"
	"sync"

	"easel/engine/internal/archive"
	"easel/engine/internal/command"
	"easel/engine/internal/store"
	"easel/engine/internal/zorder"
)

// documentStore is the store surface the service needs: the command
// mutation set plus reads and the subscription feed.
type documentStore interface {
	command.Store
	GetDocument(ctx context.Context, canvasID string) (store.CanvasDocument, error)
	Subscribe(ctx context.Context, canvasID string) (<-chan store.Snapshot, func(), error)
}

type lockManager interface {
	TryLock(ctx context.Context, canvasID, shapeID, userID string) (bool, error)
	Unlock(ctx context.Context, canvasID, shapeID, userID string) error
}

type journal interface {
	Record(ctx context.Context, e archive.Event) error
	Recent(ctx context.Context, canvasID string, limit int) ([]archive.Event, error)
}

// Service turns editor requests into commands against the shared
// document and keeps one undo/redo timeline per editor per canvas.
type Service struct {
	store   documentStore
	locks   lockManager
	journal journal // nil when no archive is configured

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

type sessionKey struct {
	canvasID string
	uid      string
}

// session is the client-local half of the engine: the timeline of one
// editor on one canvas.
type session struct {
	user    store.User
	history *command.History
}

func New(st documentStore, locks lockManager) *Service {
	return &Service{
		store:    st,
		locks:    locks,
		sessions: map[sessionKey]*session{},
	}
}

// NewWithJournal additionally archives committed mutations.
func NewWithJournal(st documentStore, locks lockManager, j journal) *Service {
	s := New(st, locks)
	s.journal = j
	return s
}

func (s *Service) session(canvasID string, user store.User) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{canvasID: canvasID, uid: user.UID}
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{user: user, history: command.NewHistory()}
		s.sessions[key] = sess
	}
	sess.user = user
	return sess
}

// record archives a committed mutation. Best-effort: a journal failure
// is logged and never fails the mutation through to the editor.
func (s *Service) record(ctx context.Context, canvasID, shapeID, action string, user store.User) {
	if s.journal == nil {
		return
	}
	err := s.journal.Record(ctx, archive.Event{
		CanvasID:  canvasID,
		ShapeID:   shapeID,
		Action:    action,
		Actor:     user.UID,
		ActorName: user.DisplayName,
	})
	if err != nil {
		log.Printf("journal: record %s on %s: %v", action, canvasID, err)
	}
}

// Document returns the current state of a canvas. Missing canvases read
// as empty documents.
func (s *Service) Document(ctx context.Context, canvasID string) (store.CanvasDocument, error) {
	return s.store.GetDocument(ctx, canvasID)
}

// Subscribe exposes the commit feed: the full shape list after every
// committed mutation.
func (s *Service) Subscribe(ctx context.Context, canvasID string) (<-chan store.Snapshot, func(), error) {
	return s.store.Subscribe(ctx, canvasID)
}

// CreateShape adds a shape and records the command on the editor's
// timeline.
func (s *Service) CreateShape(ctx context.Context, canvasID string, draft store.ShapeDraft, user store.User) (store.Shape, error) {
	sess := s.session(canvasID, user)
	cmd := command.NewCreate(s.store, canvasID, draft, user)
	if err := sess.history.Execute(ctx, cmd); err != nil {
		return store.Shape{}, err
	}
	created := cmd.Created()
	s.record(ctx, canvasID, created.ID, cmd.Description(), user)
	return created, nil
}

// UpdateShape applies a partial update. A shape held by another editor
// skips the payload silently; the outcome tells the caller which case
// occurred so it can choose to notify. Only applied updates enter the
// timeline.
func (s *Service) UpdateShape(ctx context.Context, canvasID, shapeID string, patch map[string]any, user store.User) (store.UpdateOutcome, error) {
	doc, err := s.store.GetDocument(ctx, canvasID)
	if err != nil {
		return store.UpdateNotFound, err
	}
	shape, ok := doc.Shapes[shapeID]
	if !ok {
		return store.UpdateNotFound, nil
	}

	sess := s.session(canvasID, user)
	cmd := command.NewUpdate(s.store, canvasID, shape, patch, user)
	if err := cmd.Execute(ctx); err != nil {
		return store.UpdateNotFound, err
	}
	if cmd.Outcome() == store.UpdateApplied {
		sess.history.Push(cmd)
		s.record(ctx, canvasID, shapeID, cmd.Description(), user)
	}
	return cmd.Outcome(), nil
}

// MoveShape is the position fast path used by drag interactions.
func (s *Service) MoveShape(ctx context.Context, canvasID, shapeID string, x, y float64, user store.User) (store.UpdateOutcome, error) {
	return s.UpdateShape(ctx, canvasID, shapeID, map[string]any{"x": x, "y": y}, user)
}

// DeleteShape removes a shape. Deleting something already gone is a
// no-op and leaves the timeline untouched.
func (s *Service) DeleteShape(ctx context.Context, canvasID, shapeID string, user store.User) error {
	doc, err := s.store.GetDocument(ctx, canvasID)
	if err != nil {
		return err
	}
	shape, ok := doc.Shapes[shapeID]
	if !ok {
		return nil
	}

	sess := s.session(canvasID, user)
	cmd := command.NewDelete(s.store, canvasID, shape, user)
	if err := sess.history.Execute(ctx, cmd); err != nil {
		return err
	}
	s.record(ctx, canvasID, shapeID, cmd.Description(), user)
	return nil
}

// ReorderShape applies a named z-order operation (bring_to_front,
// send_to_back, bring_forward, send_backward). No-op reorders stay off
// the timeline.
func (s *Service) ReorderShape(ctx context.Context, canvasID, shapeID, op string, user store.User) error {
	move, ok := zorder.ByName(op)
	if !ok {
		return domainError(400, "UNKNOWN_REORDER_OP", "unknown reorder operation: "+op, nil)
	}
	doc, err := s.store.GetDocument(ctx, canvasID)
	if err != nil {
		return err
	}
	shape, found := doc.Shapes[shapeID]
	if !found {
		return nil
	}

	sess := s.session(canvasID, user)
	cmd := command.NewReorder(s.store, canvasID, shapeID, move, command.ReorderDescription(shape.Type, op), user)
	if err := cmd.Execute(ctx); err != nil {
		return err
	}
	if cmd.Moved() {
		sess.history.Push(cmd)
		s.record(ctx, canvasID, shapeID, cmd.Description(), user)
	}
	return nil
}

// RegisterBulk wraps shapes a foreign producer already committed, so
// the batch becomes undoable as one unit. ids and snapshots come from
// the producer; without snapshots the batch can be undone but not
// redone.
func (s *Service) RegisterBulk(ctx context.Context, canvasID string, ids []string, snapshots []store.Shape, description string, user store.User) error {
	if len(ids) == 0 {
		return domainError(400, "EMPTY_BULK", "bulk registration without shape ids", nil)
	}
	if description == "" {
		description = "generated shapes"
	}
	sess := s.session(canvasID, user)
	cmd := command.NewBulk(s.store, canvasID, ids, snapshots, description, user)
	if err := sess.history.Execute(ctx, cmd); err != nil {
		return err
	}
	s.record(ctx, canvasID, "", description, user)
	return nil
}

// TryLock acquires the advisory shape lock for the editor.
func (s *Service) TryLock(ctx context.Context, canvasID, shapeID string, user store.User) (bool, error) {
	return s.locks.TryLock(ctx, canvasID, shapeID, user.UID)
}

// Unlock releases the editor's advisory lock; a non-owner call is a
// silent no-op.
func (s *Service) Unlock(ctx context.Context, canvasID, shapeID string, user store.User) error {
	return s.locks.Unlock(ctx, canvasID, shapeID, user.UID)
}

// Undo reverses the editor's most recent command.
func (s *Service) Undo(ctx context.Context, canvasID string, user store.User) error {
	sess := s.session(canvasID, user)
	if err := sess.history.Undo(ctx); err != nil {
		return err
	}
	s.record(ctx, canvasID, "", "undid last action", user)
	return nil
}

// Redo re-applies the editor's most recently undone command.
func (s *Service) Redo(ctx context.Context, canvasID string, user store.User) error {
	sess := s.session(canvasID, user)
	if err := sess.history.Redo(ctx); err != nil {
		return err
	}
	s.record(ctx, canvasID, "", "redid last action", user)
	return nil
}

// RevertTo restores local state to exactly the state right after the
// history entry at index executed.
func (s *Service) RevertTo(ctx context.Context, canvasID string, index int, user store.User) error {
	sess := s.session(canvasID, user)
	return sess.history.RevertTo(ctx, index)
}

// HistoryEntries returns the editor's display log, oldest first.
func (s *Service) HistoryEntries(canvasID string, user store.User) []command.Entry {
	return s.session(canvasID, user).history.Entries()
}

// ObserveRemote logs another editor's action on this editor's timeline
// for display. Remote entries are not revertible.
func (s *Service) ObserveRemote(canvasID string, localUser store.User, description string, remoteUser store.User) {
	s.session(canvasID, localUser).history.RecordRemote(description, remoteUser)
}

// ClearHistory resets the editor's timeline without touching the
// shared document.
func (s *Service) ClearHistory(canvasID string, user store.User) {
	s.session(canvasID, user).history.Clear()
}

// RecentActivity reads the cross-session journal. Without a configured
// archive it returns an empty list.
func (s *Service) RecentActivity(ctx context.Context, canvasID string, limit int) ([]archive.Event, error) {
	if s.journal == nil {
		return []archive.Event{}, nil
	}
	return s.journal.Recent(ctx, canvasID, limit)
}
