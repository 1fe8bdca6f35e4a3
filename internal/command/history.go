package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"easel/engine/internal/store"
)

// maxLogEntries caps the display log; the oldest entries fall off.
const maxLogEntries = 1000

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrNotRevertible marks log entries that cannot anchor a revert:
	// remote entries, and entries whose command was discarded when a
	// newer command branched past them.
	ErrNotRevertible = errors.New("entry is not revertible")
)

type Status string

const (
	StatusDone   Status = "done"
	StatusUndone Status = "undone"
)

// Entry is the display-oriented record of one command, local or
// observed from a remote editor.
type Entry struct {
	Description string     `json:"description"`
	User        store.User `json:"user"`
	Timestamp   time.Time  `json:"timestamp"`
	Status      Status     `json:"status"`
	IsLocal     bool       `json:"isLocal"`

	cmd Command
}

// History is one editor's timeline: a LIFO undo stack, a redo stack,
// and a linear append-only log for display and point-in-time revert.
// There is no branching: pushing a new command clears the redo stack.
type History struct {
	mu   sync.Mutex
	undo []Command
	redo []Command
	log  []Entry
}

func NewHistory() *History {
	return &History{}
}

// Execute runs the command and records it on success. The failure of a
// command (e.g. retries exhausted) leaves the timeline untouched.
func (h *History) Execute(ctx context.Context, cmd Command) error {
	if err := cmd.Execute(ctx); err != nil {
		return err
	}
	h.Push(cmd)
	return nil
}

// Push records an already-executed command. The redo stack is cleared:
// commands undone before this point are no longer reachable.
func (h *History) Push(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = append(h.undo, cmd)
	h.redo = nil
	h.appendEntry(Entry{
		Description: cmd.Description(),
		User:        cmd.User(),
		Timestamp:   time.Now().UTC(),
		Status:      StatusDone,
		IsLocal:     true,
		cmd:         cmd,
	})
}

// RecordRemote logs an action observed from another editor. Remote
// entries are display-only: they carry no command and cannot be
// undone or reverted to locally.
func (h *History) RecordRemote(description string, user store.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendEntry(Entry{
		Description: description,
		User:        user,
		Timestamp:   time.Now().UTC(),
		Status:      StatusDone,
		IsLocal:     false,
	})
}

func (h *History) appendEntry(e Entry) {
	h.log = append(h.log, e)
	if len(h.log) > maxLogEntries {
		h.log = h.log[len(h.log)-maxLogEntries:]
	}
}

// Undo reverses the most recent local command and moves it to the redo
// stack. The stacks only move once the inverse has committed.
func (h *History) Undo(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.undoLocked(ctx)
}

func (h *History) undoLocked(ctx context.Context) error {
	if len(h.undo) == 0 {
		return ErrNothingToUndo
	}
	cmd := h.undo[len(h.undo)-1]
	if err := cmd.Undo(ctx); err != nil {
		return fmt.Errorf("undo %q: %w", cmd.Description(), err)
	}
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, cmd)
	h.markStatus(cmd, StatusDone, StatusUndone)
	return nil
}

// Redo re-applies the most recently undone command.
func (h *History) Redo(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.redoLocked(ctx)
}

func (h *History) redoLocked(ctx context.Context) error {
	if len(h.redo) == 0 {
		return ErrNothingToRedo
	}
	cmd := h.redo[len(h.redo)-1]
	if err := cmd.Redo(ctx); err != nil {
		return fmt.Errorf("redo %q: %w", cmd.Description(), err)
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, cmd)
	h.markStatus(cmd, StatusUndone, StatusDone)
	return nil
}

// markStatus flips the newest log entry for cmd that is in the from
// state. Scans from the end: the same command can appear once per
// done/undone cycle.
func (h *History) markStatus(cmd Command, from, to Status) {
	for i := len(h.log) - 1; i >= 0; i-- {
		if h.log[i].cmd == cmd && h.log[i].Status == from {
			h.log[i].Status = to
			return
		}
	}
}

// RevertTo replays undo or redo operations until local state is exactly
// the state immediately after the entry at index executed. Only local
// entries whose command is still on a stack are valid targets.
func (h *History) RevertTo(ctx context.Context, index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if index < 0 || index >= len(h.log) {
		return fmt.Errorf("revert: index %d out of range", index)
	}
	target := h.log[index]
	if !target.IsLocal || target.cmd == nil {
		return ErrNotRevertible
	}

	switch target.Status {
	case StatusDone:
		if !h.onUndoStack(target.cmd) {
			return ErrNotRevertible
		}
		// Unwind everything executed after the target.
		for len(h.undo) > 0 && h.undo[len(h.undo)-1] != target.cmd {
			if err := h.undoLocked(ctx); err != nil {
				return err
			}
		}
		if len(h.undo) == 0 {
			return ErrNotRevertible
		}
	case StatusUndone:
		if !h.onRedoStack(target.cmd) {
			return ErrNotRevertible
		}
		// Re-apply up to and including the target.
		for {
			cmd := h.redo[len(h.redo)-1]
			if err := h.redoLocked(ctx); err != nil {
				return err
			}
			if cmd == target.cmd {
				return nil
			}
		}
	}
	return nil
}

func (h *History) onUndoStack(cmd Command) bool {
	for _, c := range h.undo {
		if c == cmd {
			return true
		}
	}
	return false
}

func (h *History) onRedoStack(cmd Command) bool {
	for _, c := range h.redo {
		if c == cmd {
			return true
		}
	}
	return false
}

// Entries returns a copy of the display log, oldest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.log))
	copy(out, h.log)
	return out
}

// CanUndo and CanRedo let callers grey out controls.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// Clear drops the stacks and the log. Shared document state is
// untouched; only this editor's timeline resets.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = nil
	h.redo = nil
	h.log = nil
}
