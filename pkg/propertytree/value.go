package propertytree

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Keyframe is one key of an animation curve.
type Keyframe struct {
	Time       float64 `json:"time" yaml:"time"`
	Value      float64 `json:"value" yaml:"value"`
	InTangent  float64 `json:"inTangent" yaml:"inTangent"`
	OutTangent float64 `json:"outTangent" yaml:"outTangent"`
}

// GradientKey is one color key of a gradient.
type GradientKey struct {
	Time  float64    `json:"time" yaml:"time"`
	Color [4]float64 `json:"color" yaml:"color"`
}

// Value holds the raw value of a leaf node. Which member is meaningful is
// decided by the node's Kind:
//
//	Int       Integer, Enum, ArraySize
//	Bool      Boolean
//	Float     Float
//	Str       String, Character, ObjectReference
//	Vec       Color, Vector2-4, Rect, Quaternion, Bounds
//	Curve     AnimationCurve
//	Gradient  Gradient
type Value struct {
	Int      int64
	Bool     bool
	Float    float64
	Str      string
	Vec      []float64
	Curve    []Keyframe
	Gradient []GradientKey
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	out := v
	out.Vec = slices.Clone(v.Vec)
	out.Curve = slices.Clone(v.Curve)
	out.Gradient = slices.Clone(v.Gradient)
	return out
}

// Equal reports whether a and b are exactly equal when interpreted as kind.
// Composite values never compare equal.
func Equal(kind Kind, a, b Value) bool {
	switch kind {
	case KindInteger, KindEnum, KindArraySize:
		return a.Int == b.Int
	case KindBoolean:
		return a.Bool == b.Bool
	case KindFloat:
		return a.Float == b.Float
	case KindString, KindCharacter, KindObjectReference:
		return a.Str == b.Str
	case KindColor, KindVector2, KindVector3, KindVector4, KindRect, KindQuaternion, KindBounds:
		return slices.Equal(a.Vec, b.Vec)
	case KindAnimationCurve:
		return slices.Equal(a.Curve, b.Curve)
	case KindGradient:
		return slices.Equal(a.Gradient, b.Gradient)
	default:
		return false
	}
}

// Format renders v for display.
func Format(kind Kind, v Value) string {
	switch kind {
	case KindInteger, KindEnum, KindArraySize:
		return strconv.FormatInt(v.Int, 10)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindFloat:
		return formatFloat(v.Float)
	case KindString, KindCharacter:
		return v.Str
	case KindObjectReference:
		if v.Str == "" {
			return "None"
		}
		return v.Str
	case KindColor:
		return "RGBA" + formatVec(v.Vec)
	case KindRect:
		if len(v.Vec) == 4 {
			return fmt.Sprintf("(x:%s, y:%s, width:%s, height:%s)",
				formatFloat(v.Vec[0]), formatFloat(v.Vec[1]), formatFloat(v.Vec[2]), formatFloat(v.Vec[3]))
		}
		return formatVec(v.Vec)
	case KindBounds:
		if len(v.Vec) == 6 {
			return fmt.Sprintf("Center: %s, Extents: %s", formatVec(v.Vec[:3]), formatVec(v.Vec[3:]))
		}
		return formatVec(v.Vec)
	case KindVector2, KindVector3, KindVector4, KindQuaternion:
		return formatVec(v.Vec)
	case KindAnimationCurve:
		return fmt.Sprintf("AnimationCurve(%d keys)", len(v.Curve))
	case KindGradient:
		return fmt.Sprintf("Gradient(%d keys)", len(v.Gradient))
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatVec(vec []float64) string {
	parts := make([]string, len(vec))
	for i, f := range vec {
		parts[i] = formatFloat(f)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
