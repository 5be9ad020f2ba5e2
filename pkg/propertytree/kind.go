// Package propertytree models a resource's import settings as a typed,
// ordered tree of named fields. Trees are built from a settings document
// through a declarative Schema and walked by the diff engine with a
// preorder Cursor.
package propertytree

import (
	"fmt"
	"strings"
)

// Kind is the closed set of field kinds a node can carry.
type Kind int

const (
	KindInteger Kind = iota
	KindBoolean
	KindFloat
	KindString
	KindColor
	KindVector2
	KindVector3
	KindVector4
	KindRect
	KindBounds
	KindQuaternion
	KindEnum
	KindObjectReference
	KindAnimationCurve
	KindGradient
	KindCharacter
	KindArraySize
	KindComposite
)

var kindNames = [...]string{
	KindInteger:         "integer",
	KindBoolean:         "boolean",
	KindFloat:           "float",
	KindString:          "string",
	KindColor:           "color",
	KindVector2:         "vector2",
	KindVector3:         "vector3",
	KindVector4:         "vector4",
	KindRect:            "rect",
	KindBounds:          "bounds",
	KindQuaternion:      "quaternion",
	KindEnum:            "enum",
	KindObjectReference: "object_reference",
	KindAnimationCurve:  "animation_curve",
	KindGradient:        "gradient",
	KindCharacter:       "character",
	KindArraySize:       "array_size",
	KindComposite:       "composite",
}

// String returns the lower snake case name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown property kind %q", s)
}

// IsComposite reports whether nodes of this kind have children.
func (k Kind) IsComposite() bool {
	return k == KindComposite
}

// vectorLen returns the number of components stored in Value.Vec for
// vector-like kinds, or 0 for any other kind.
func (k Kind) vectorLen() int {
	switch k {
	case KindVector2:
		return 2
	case KindVector3:
		return 3
	case KindColor, KindVector4, KindRect, KindQuaternion:
		return 4
	case KindBounds:
		return 6
	default:
		return 0
	}
}
