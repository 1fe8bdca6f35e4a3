package command

import "easel/engine/internal/store"

// zStepThreshold separates a one-step reorder from a front/back jump
// when all we can see is the index delta. Neighbor insertion moves an
// index by one or two; anything larger crossed the whole stack.
const zStepThreshold = 2

func shapeNoun(t store.ShapeType) string {
	if t == "" {
		return "shape"
	}
	return string(t)
}

// describePatch derives a human-readable description from the kind of
// change a patch makes.
func describePatch(shape store.Shape, patch map[string]any) string {
	noun := shapeNoun(shape.Type)

	if v, ok := patch["zIndex"]; ok {
		if z, ok := asPatchInt(v); ok {
			return DescribeZChange(noun, z-shape.ZIndex)
		}
	}
	switch {
	case hasAny(patch, "fill", "stroke", "color", "gradient", "gradientStart", "gradientEnd"):
		return "changed color of " + noun
	case hasAny(patch, "rotation"):
		return "rotated " + noun
	case hasAny(patch, "width", "height", "radius", "scale"):
		return "resized " + noun
	case hasAny(patch, "x", "y"):
		return "moved " + noun
	case hasAny(patch, "text"):
		return "edited text"
	case hasAny(patch, "fontSize", "fontFamily", "fontWeight", "fontStyle", "textAlign"):
		return "changed text formatting"
	}
	return "updated " + noun
}

// DescribeZChange disambiguates a raw zIndex delta into a one-step
// reorder versus a jump to the top or bottom of the stack.
func DescribeZChange(noun string, delta int) string {
	switch {
	case delta == 0:
		return "updated " + noun
	case delta > 0 && delta <= zStepThreshold:
		return "brought " + noun + " forward"
	case delta > zStepThreshold:
		return "brought " + noun + " to front"
	case delta < 0 && delta >= -zStepThreshold:
		return "sent " + noun + " backward"
	default:
		return "sent " + noun + " to back"
	}
}

// ReorderDescription names an explicit reorder operation. Falls back
// to a generic description for unknown ops.
func ReorderDescription(t store.ShapeType, op string) string {
	noun := shapeNoun(t)
	switch op {
	case "bring_to_front":
		return "brought " + noun + " to front"
	case "send_to_back":
		return "sent " + noun + " to back"
	case "bring_forward":
		return "brought " + noun + " forward"
	case "send_backward":
		return "sent " + noun + " backward"
	}
	return "reordered " + noun
}

func hasAny(patch map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := patch[k]; ok {
			return true
		}
	}
	return false
}

func asPatchInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
