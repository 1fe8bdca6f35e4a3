// Package command encapsulates every canvas mutation as a reversible
// command and maintains the per-editor undo/redo timeline. Commands are
// client-local: the shared document only ever sees the store operations
// they issue.
package command

import (
	"context"
	"errors"
	"fmt"

	"easel/engine/internal/store"
)

// ErrRedoSnapshotMissing is returned when a bulk command is redone
// without a captured shape snapshot. Silently doing nothing would
// desynchronize the timeline, so this is a hard error.
var ErrRedoSnapshotMissing = errors.New("redo: no shape snapshot captured")

// Store is the slice of the document store commands mutate through.
type Store interface {
	CreateShape(ctx context.Context, canvasID string, draft store.ShapeDraft, user store.User) (store.Shape, error)
	UpdateShape(ctx context.Context, canvasID, shapeID string, patch map[string]any, user store.User) (store.UpdateOutcome, error)
	DeleteShape(ctx context.Context, canvasID, shapeID string) error
	ReorderShape(ctx context.Context, canvasID, shapeID string, move store.ReorderFunc, user store.User) (before, after int, moved bool, err error)
	PutShapes(ctx context.Context, canvasID string, shapes []store.Shape) error
	DeleteShapes(ctx context.Context, canvasID string, ids []string) error
}

// Command pairs a forward mutation with its exact inverse.
type Command interface {
	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	Description() string
	User() store.User
}

// ---- create ----

type CreateCommand struct {
	st       Store
	canvasID string
	draft    store.ShapeDraft
	user     store.User
	created  store.Shape
	done     bool
}

// NewCreate builds a command that adds a shape; its inverse deletes it.
func NewCreate(st Store, canvasID string, draft store.ShapeDraft, user store.User) *CreateCommand {
	return &CreateCommand{st: st, canvasID: canvasID, draft: draft, user: user}
}

func (c *CreateCommand) Execute(ctx context.Context) error {
	created, err := c.st.CreateShape(ctx, c.canvasID, c.draft, c.user)
	if err != nil {
		return fmt.Errorf("create shape: %w", err)
	}
	c.created = created
	c.done = true
	return nil
}

func (c *CreateCommand) Undo(ctx context.Context) error {
	if !c.done {
		return nil
	}
	if err := c.st.DeleteShape(ctx, c.canvasID, c.created.ID); err != nil {
		return fmt.Errorf("undo create: %w", err)
	}
	return nil
}

// Redo restores the exact captured shape, audit fields included, rather
// than re-running the create path and restamping it.
func (c *CreateCommand) Redo(ctx context.Context) error {
	if !c.done {
		return c.Execute(ctx)
	}
	if err := c.st.PutShapes(ctx, c.canvasID, []store.Shape{c.created}); err != nil {
		return fmt.Errorf("redo create: %w", err)
	}
	return nil
}

// Created returns the shape as committed, valid after Execute.
func (c *CreateCommand) Created() store.Shape { return c.created }

func (c *CreateCommand) Description() string {
	return "added " + shapeNoun(c.draft.Type)
}

func (c *CreateCommand) User() store.User { return c.user }

// ---- update ----

type UpdateCommand struct {
	st          Store
	canvasID    string
	shapeID     string
	patch       map[string]any
	before      map[string]any
	user        store.User
	description string
	outcome     store.UpdateOutcome
}

// NewUpdate builds a command from the shape's pre-mutation state and
// the patch about to be applied. The inverse patch is captured now:
// keys the shape did not have revert to removal.
func NewUpdate(st Store, canvasID string, shape store.Shape, patch map[string]any, user store.User) *UpdateCommand {
	return &UpdateCommand{
		st:          st,
		canvasID:    canvasID,
		shapeID:     shape.ID,
		patch:       patch,
		before:      inversePatch(shape, patch),
		user:        user,
		description: describePatch(shape, patch),
	}
}

// NewMove is the position special case of update.
func NewMove(st Store, canvasID string, shape store.Shape, x, y float64, user store.User) *UpdateCommand {
	cmd := NewUpdate(st, canvasID, shape, map[string]any{"x": x, "y": y}, user)
	cmd.description = "moved " + shapeNoun(shape.Type)
	return cmd
}

// inversePatch snapshots, for every key the patch touches, the value to
// restore on undo. nil marks keys that did not exist before.
func inversePatch(shape store.Shape, patch map[string]any) map[string]any {
	before := make(map[string]any, len(patch))
	for k := range patch {
		if k == "zIndex" {
			before[k] = shape.ZIndex
			continue
		}
		if v, ok := shape.Attrs[k]; ok {
			before[k] = v
		} else {
			before[k] = nil
		}
	}
	return before
}

func (c *UpdateCommand) Execute(ctx context.Context) error {
	outcome, err := c.st.UpdateShape(ctx, c.canvasID, c.shapeID, c.patch, c.user)
	if err != nil {
		return fmt.Errorf("update shape: %w", err)
	}
	c.outcome = outcome
	return nil
}

// Outcome reports what the forward mutation did, valid after Execute.
// Skipped and not-found updates should not enter the undo timeline.
func (c *UpdateCommand) Outcome() store.UpdateOutcome { return c.outcome }

func (c *UpdateCommand) Undo(ctx context.Context) error {
	if _, err := c.st.UpdateShape(ctx, c.canvasID, c.shapeID, c.before, c.user); err != nil {
		return fmt.Errorf("undo update: %w", err)
	}
	return nil
}

func (c *UpdateCommand) Redo(ctx context.Context) error {
	if _, err := c.st.UpdateShape(ctx, c.canvasID, c.shapeID, c.patch, c.user); err != nil {
		return fmt.Errorf("redo update: %w", err)
	}
	return nil
}

func (c *UpdateCommand) Description() string { return c.description }

func (c *UpdateCommand) User() store.User { return c.user }

// ---- delete ----

type DeleteCommand struct {
	st       Store
	canvasID string
	snapshot store.Shape
	user     store.User
}

// NewDelete captures the full shape so undo can recreate it exactly.
func NewDelete(st Store, canvasID string, shape store.Shape, user store.User) *DeleteCommand {
	return &DeleteCommand{st: st, canvasID: canvasID, snapshot: shape, user: user}
}

func (c *DeleteCommand) Execute(ctx context.Context) error {
	if err := c.st.DeleteShape(ctx, c.canvasID, c.snapshot.ID); err != nil {
		return fmt.Errorf("delete shape: %w", err)
	}
	return nil
}

func (c *DeleteCommand) Undo(ctx context.Context) error {
	if err := c.st.PutShapes(ctx, c.canvasID, []store.Shape{c.snapshot}); err != nil {
		return fmt.Errorf("undo delete: %w", err)
	}
	return nil
}

func (c *DeleteCommand) Redo(ctx context.Context) error {
	return c.Execute(ctx)
}

func (c *DeleteCommand) Description() string {
	return "deleted " + shapeNoun(c.snapshot.Type)
}

func (c *DeleteCommand) User() store.User { return c.user }

// ---- reorder ----

type ReorderCommand struct {
	st          Store
	canvasID    string
	shapeID     string
	move        store.ReorderFunc
	user        store.User
	description string
	before      int
	after       int
	moved       bool
}

// NewReorder builds a command around a zorder allocation. description
// names the operation ("brought to front" etc.) since the caller knows
// which reorder it asked for.
func NewReorder(st Store, canvasID, shapeID string, move store.ReorderFunc, description string, user store.User) *ReorderCommand {
	return &ReorderCommand{
		st:          st,
		canvasID:    canvasID,
		shapeID:     shapeID,
		move:        move,
		description: description,
		user:        user,
	}
}

func (c *ReorderCommand) Execute(ctx context.Context) error {
	before, after, moved, err := c.st.ReorderShape(ctx, c.canvasID, c.shapeID, c.move, c.user)
	if err != nil {
		return fmt.Errorf("reorder shape: %w", err)
	}
	c.before, c.after, c.moved = before, after, moved
	return nil
}

// Moved reports whether the shape actually changed layer, valid after
// Execute. A no-op reorder (already topmost) should stay off the
// timeline.
func (c *ReorderCommand) Moved() bool { return c.moved }

// Undo and Redo restore the recorded indices instead of re-running the
// allocation, which could land elsewhere once neighbors have moved.
func (c *ReorderCommand) Undo(ctx context.Context) error {
	if !c.moved {
		return nil
	}
	if _, err := c.st.UpdateShape(ctx, c.canvasID, c.shapeID, map[string]any{"zIndex": c.before}, c.user); err != nil {
		return fmt.Errorf("undo reorder: %w", err)
	}
	return nil
}

func (c *ReorderCommand) Redo(ctx context.Context) error {
	if !c.moved {
		return nil
	}
	if _, err := c.st.UpdateShape(ctx, c.canvasID, c.shapeID, map[string]any{"zIndex": c.after}, c.user); err != nil {
		return fmt.Errorf("redo reorder: %w", err)
	}
	return nil
}

func (c *ReorderCommand) Description() string { return c.description }

func (c *ReorderCommand) User() store.User { return c.user }

// ---- multi ----

type MultiCommand struct {
	description string
	user        store.User
	commands    []Command
}

// NewMulti groups commands into one undo unit. Execute runs them in
// order; Undo runs inverses in reverse order, since later sub-commands
// may depend on earlier ones having applied.
func NewMulti(description string, user store.User, commands ...Command) *MultiCommand {
	return &MultiCommand{description: description, user: user, commands: commands}
}

func (c *MultiCommand) Execute(ctx context.Context) error {
	for i, cmd := range c.commands {
		if err := cmd.Execute(ctx); err != nil {
			return fmt.Errorf("multi command step %d: %w", i, err)
		}
	}
	return nil
}

func (c *MultiCommand) Undo(ctx context.Context) error {
	for i := len(c.commands) - 1; i >= 0; i-- {
		if err := c.commands[i].Undo(ctx); err != nil {
			return fmt.Errorf("multi command undo step %d: %w", i, err)
		}
	}
	return nil
}

func (c *MultiCommand) Redo(ctx context.Context) error {
	for i, cmd := range c.commands {
		if err := cmd.Redo(ctx); err != nil {
			return fmt.Errorf("multi command redo step %d: %w", i, err)
		}
	}
	return nil
}

func (c *MultiCommand) Description() string { return c.description }

func (c *MultiCommand) User() store.User { return c.user }

// ---- bulk (foreign origin) ----

type BulkCommand struct {
	st          Store
	canvasID    string
	ids         []string
	snapshots   []store.Shape
	user        store.User
	description string
}

// NewBulk wraps shapes created outside the normal single-shape path,
// e.g. a generative producer that wrote them directly. Execute is a
// no-op because the shapes already exist; undo deletes them all in one
// batched write and redo recreates them from the snapshots.
func NewBulk(st Store, canvasID string, ids []string, snapshots []store.Shape, description string, user store.User) *BulkCommand {
	return &BulkCommand{
		st:          st,
		canvasID:    canvasID,
		ids:         ids,
		snapshots:   snapshots,
		user:        user,
		description: description,
	}
}

func (c *BulkCommand) Execute(ctx context.Context) error { return nil }

func (c *BulkCommand) Undo(ctx context.Context) error {
	if err := c.st.DeleteShapes(ctx, c.canvasID, c.ids); err != nil {
		return fmt.Errorf("undo bulk: %w", err)
	}
	return nil
}

func (c *BulkCommand) Redo(ctx context.Context) error {
	if len(c.snapshots) == 0 {
		return ErrRedoSnapshotMissing
	}
	if err := c.st.PutShapes(ctx, c.canvasID, c.snapshots); err != nil {
		return fmt.Errorf("redo bulk: %w", err)
	}
	return nil
}

func (c *BulkCommand) Description() string { return c.description }

func (c *BulkCommand) User() store.User { return c.user }
