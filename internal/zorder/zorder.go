// Package zorder assigns layer indices for relative reordering.
// Indices are sparse by design: moving a shape never renumbers its
// neighbors, so repeated reordering widens the integer range instead of
// paying an O(n) compaction on every move.
package zorder

import "easel/engine/internal/store"

// BringToFront moves the target above every other shape.
func BringToFront(target store.Shape, others []store.Shape) (int, bool) {
	max, ok := maxZ(others)
	if !ok {
		return target.ZIndex + 1, true
	}
	if target.ZIndex > max {
		// Already topmost; still raise it so the call visibly wins any tie.
		return target.ZIndex + 1, true
	}
	return max + 1, true
}

// SendToBack moves the target below every other shape.
func SendToBack(target store.Shape, others []store.Shape) (int, bool) {
	min, ok := minZ(others)
	if !ok {
		return target.ZIndex - 1, true
	}
	if target.ZIndex < min {
		return target.ZIndex - 1, true
	}
	return min - 1, true
}

// BringForward inserts the target just above its nearest neighbor on
// top of it. No-op when the target is already topmost.
func BringForward(target store.Shape, others []store.Shape) (int, bool) {
	neighbor := 0
	found := false
	for _, other := range others {
		if other.ZIndex <= target.ZIndex {
			continue
		}
		if !found || other.ZIndex < neighbor {
			neighbor = other.ZIndex
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return neighbor + 1, true
}

// SendBackward inserts the target just below its nearest neighbor
// underneath it. No-op when the target is already at the back.
func SendBackward(target store.Shape, others []store.Shape) (int, bool) {
	neighbor := 0
	found := false
	for _, other := range others {
		if other.ZIndex >= target.ZIndex {
			continue
		}
		if !found || other.ZIndex > neighbor {
			neighbor = other.ZIndex
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return neighbor - 1, true
}

// ByName resolves a reorder operation name to its allocator. Used by
// the transport layer.
func ByName(op string) (store.ReorderFunc, bool) {
	switch op {
	case "bring_to_front":
		return BringToFront, true
	case "send_to_back":
		return SendToBack, true
	case "bring_forward":
		return BringForward, true
	case "send_backward":
		return SendBackward, true
	}
	return nil, false
}

func maxZ(shapes []store.Shape) (int, bool) {
	if len(shapes) == 0 {
		return 0, false
	}
	max := shapes[0].ZIndex
	for _, s := range shapes[1:] {
		if s.ZIndex > max {
			max = s.ZIndex
		}
	}
	return max, true
}

func minZ(shapes []store.Shape) (int, bool) {
	if len(shapes) == 0 {
		return 0, false
	}
	min := shapes[0].ZIndex
	for _, s := range shapes[1:] {
		if s.ZIndex < min {
			min = s.ZIndex
		}
	}
	return min, true
}
