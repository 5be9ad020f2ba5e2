package propertytree

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is one named field of a property tree.
type Node struct {
	// Name is the field name relative to its parent.
	Name string

	// Path is the dot-separated path from the tree root, e.g. "mipmaps.enableMipMap".
	Path string

	// Kind is the field kind.
	Kind Kind

	// Value is the raw value; unused for composite nodes.
	Value Value

	// Children are the ordered fields of a composite node.
	Children []*Node

	parent *Node
	index  int
}

// Parent returns the node's parent, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Child returns the direct child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// NextSibling returns the node that follows n in its parent, or nil.
func (n *Node) NextSibling() *Node {
	if n.parent == nil || n.index+1 >= len(n.parent.Children) {
		return nil
	}
	return n.parent.Children[n.index+1]
}

// Display renders the node's value for display; composites render empty.
func (n *Node) Display() string {
	if n == nil || n.Kind.IsComposite() {
		return ""
	}
	return Format(n.Kind, n.Value)
}

// Clone returns a detached deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	return n.clone(nil)
}

func (n *Node) clone(parent *Node) *Node {
	out := &Node{
		Name:   n.Name,
		Path:   n.Path,
		Kind:   n.Kind,
		Value:  n.Value.Clone(),
		parent: parent,
		index:  n.index,
	}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.clone(out)
		}
	}
	return out
}

// link wires parent pointers, indices and paths for n's subtree.
func (n *Node) link() {
	for i, c := range n.Children {
		c.parent = n
		c.index = i
		if n.Path == "" {
			c.Path = c.Name
		} else {
			c.Path = n.Path + "." + c.Name
		}
		c.link()
	}
}

// Tree is a property tree for one resource. The root is a synthetic
// composite whose children are the top-level fields.
type Tree struct {
	// Type is the importer type the tree was built for.
	Type string

	// Root holds the top-level fields.
	Root *Node
}

// New creates a tree of the given importer type from top-level fields.
func New(importerType string, fields ...*Node) *Tree {
	root := &Node{Kind: KindComposite, Children: fields}
	root.link()
	return &Tree{Type: importerType, Root: root}
}

// Fields returns the top-level fields.
func (t *Tree) Fields() []*Node {
	if t == nil || t.Root == nil {
		return nil
	}
	return t.Root.Children
}

// Lookup finds a node by its dot-separated path, or by a bare top-level
// name. It returns nil when no such node exists.
func (t *Tree) Lookup(path string) *Node {
	if t == nil || t.Root == nil || path == "" {
		return nil
	}
	n := t.Root
	for _, part := range strings.Split(path, ".") {
		n = n.Child(part)
		if n == nil {
			return nil
		}
	}
	return n
}

// Set replaces the value of the leaf at path.
func (t *Tree) Set(path string, v Value) error {
	n := t.Lookup(path)
	if n == nil {
		return fmt.Errorf("property %q not found", path)
	}
	if n.Kind.IsComposite() {
		return fmt.Errorf("property %q is composite and has no value", path)
	}
	if want := n.Kind.vectorLen(); want > 0 && len(v.Vec) != want {
		return fmt.Errorf("property %q expects %d components, got %d", path, want, len(v.Vec))
	}
	n.Value = v.Clone()
	return nil
}

// Replace overwrites the subtree at path with a copy of src. The kinds
// must agree; paths below the replaced node are recomputed.
func (t *Tree) Replace(path string, src *Node) error {
	n := t.Lookup(path)
	if n == nil {
		return fmt.Errorf("property %q not found", path)
	}
	if n.Kind != src.Kind {
		return fmt.Errorf("property %q is %s, cannot replace with %s", path, n.Kind, src.Kind)
	}
	cp := src.clone(n.parent)
	n.Value = cp.Value
	n.Children = cp.Children
	n.link()
	return nil
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	return &Tree{Type: t.Type, Root: t.Root.clone(nil)}
}

// Walk visits every node in preorder until fn returns false.
func (t *Tree) Walk(fn func(*Node) bool) {
	c := t.Cursor()
	for c.Next(true) {
		if !fn(c.Node()) {
			return
		}
	}
}

// Leaf constructors, mainly for building trees by hand.

// Int creates an Integer leaf.
func Int(name string, v int64) *Node {
	return &Node{Name: name, Kind: KindInteger, Value: Value{Int: v}}
}

// Enum creates an Enum leaf holding an index.
func Enum(name string, index int64) *Node {
	return &Node{Name: name, Kind: KindEnum, Value: Value{Int: index}}
}

// Bool creates a Boolean leaf.
func Bool(name string, v bool) *Node {
	return &Node{Name: name, Kind: KindBoolean, Value: Value{Bool: v}}
}

// Float creates a Float leaf.
func Float(name string, v float64) *Node {
	return &Node{Name: name, Kind: KindFloat, Value: Value{Float: v}}
}

// String creates a String leaf.
func String(name, v string) *Node {
	return &Node{Name: name, Kind: KindString, Value: Value{Str: v}}
}

// Char creates a Character leaf.
func Char(name string, r rune) *Node {
	return &Node{Name: name, Kind: KindCharacter, Value: Value{Str: string(r)}}
}

// Ref creates an ObjectReference leaf referring to guid.
func Ref(name, guid string) *Node {
	return &Node{Name: name, Kind: KindObjectReference, Value: Value{Str: guid}}
}

// Vector creates a vector-like leaf of the given kind.
func Vector(name string, kind Kind, components ...float64) *Node {
	return &Node{Name: name, Kind: kind, Value: Value{Vec: components}}
}

// Curve creates an AnimationCurve leaf.
func Curve(name string, keys ...Keyframe) *Node {
	return &Node{Name: name, Kind: KindAnimationCurve, Value: Value{Curve: keys}}
}

// Gradient creates a Gradient leaf.
func Gradient(name string, keys ...GradientKey) *Node {
	return &Node{Name: name, Kind: KindGradient, Value: Value{Gradient: keys}}
}

// Composite creates a composite node.
func Composite(name string, children ...*Node) *Node {
	return &Node{Name: name, Kind: KindComposite, Children: children}
}

// Array creates a composite array node: a "size" ArraySize leaf followed by
// one "data[i]" element per item. Element names are overwritten.
func Array(name string, elems ...*Node) *Node {
	children := make([]*Node, 0, len(elems)+1)
	children = append(children, &Node{Name: ArraySizeName, Kind: KindArraySize, Value: Value{Int: int64(len(elems))}})
	for i, e := range elems {
		e.Name = elementName(i)
		children = append(children, e)
	}
	return Composite(name, children...)
}

// ArraySizeName is the name of the size leaf of an array node.
const ArraySizeName = "size"

func elementName(i int) string {
	return "data[" + strconv.Itoa(i) + "]"
}
