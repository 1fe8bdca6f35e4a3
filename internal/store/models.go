package store

import (
	"sort"
	"time"
)

type ShapeType string

const (
	TypeRectangle ShapeType = "rectangle"
	TypeCircle    ShapeType = "circle"
	TypeLine      ShapeType = "line"
	TypeText      ShapeType = "text"
	TypeTriangle  ShapeType = "triangle"
	TypeStar      ShapeType = "star"
	TypeDiamond   ShapeType = "diamond"
)

// User identifies the editor a mutation or lock is attributed to.
// Authentication happens outside the engine; callers pass this through.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

// Shape is one element of a canvas document. Visual and geometric
// attributes live in Attrs so partial updates can add, change, or remove
// any of them without the store knowing the full attribute vocabulary.
type Shape struct {
	ID    string         `json:"id"`
	Type  ShapeType      `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`

	// ZIndex is sparse: not contiguous, not unique. Ties break by CreatedAt.
	ZIndex int `json:"zIndex"`

	IsLocked bool       `json:"isLocked"`
	LockedBy string     `json:"lockedBy,omitempty"`
	LockedAt *time.Time `json:"lockedAt,omitempty"`

	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	LastModifiedAt time.Time `json:"lastModifiedAt,omitempty"`
}

// ClearLock resets the lock fields to their mutually consistent
// unlocked state.
func (s *Shape) ClearLock() {
	s.IsLocked = false
	s.LockedBy = ""
	s.LockedAt = nil
}

// LockExpired reports whether the shape holds a lock older than ttl.
func (s *Shape) LockExpired(now time.Time, ttl time.Duration) bool {
	if !s.IsLocked || s.LockedAt == nil {
		return false
	}
	return now.Sub(*s.LockedAt) > ttl
}

// ShapeDraft is the caller-supplied input to CreateShape. ID and ZIndex
// are assigned by the store when absent.
type ShapeDraft struct {
	ID     string         `json:"id,omitempty"`
	Type   ShapeType      `json:"type"`
	Attrs  map[string]any `json:"attrs,omitempty"`
	ZIndex *int           `json:"zIndex,omitempty"`
}

// CanvasDocument is the single shared document of a collaborative
// session. The whole document is one consistency domain: every mutation
// rewrites it atomically.
type CanvasDocument struct {
	CanvasID    string           `json:"canvasId"`
	Shapes      map[string]Shape `json:"shapes"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// SortedShapes returns the shapes in paint order: ascending ZIndex,
// ties broken by CreatedAt then ID.
func (d *CanvasDocument) SortedShapes() []Shape {
	shapes := make([]Shape, 0, len(d.Shapes))
	for _, s := range d.Shapes {
		shapes = append(shapes, s)
	}
	sort.Slice(shapes, func(i, j int) bool {
		if shapes[i].ZIndex != shapes[j].ZIndex {
			return shapes[i].ZIndex < shapes[j].ZIndex
		}
		if !shapes[i].CreatedAt.Equal(shapes[j].CreatedAt) {
			return shapes[i].CreatedAt.Before(shapes[j].CreatedAt)
		}
		return shapes[i].ID < shapes[j].ID
	})
	return shapes
}

// UpdateOutcome tells the caller what an UpdateShape call actually did.
// A skipped or not-found update is control flow, not an error.
type UpdateOutcome string

const (
	UpdateApplied       UpdateOutcome = "applied"
	UpdateSkippedLocked UpdateOutcome = "skipped_locked"
	UpdateNotFound      UpdateOutcome = "not_found"
)
