package propertytree

// Cursor walks a tree in preorder. A fresh cursor sits on the tree root,
// before the first field; Next(true) enters a composite's children while
// Next(false) moves to the next sibling, climbing out of finished composites.
type Cursor struct {
	node *Node
}

// Cursor returns a cursor positioned on the root of t.
func (t *Tree) Cursor() *Cursor {
	if t == nil {
		return &Cursor{}
	}
	return &Cursor{node: t.Root}
}

// CursorAt returns a cursor positioned on n.
func CursorAt(n *Node) *Cursor {
	return &Cursor{node: n}
}

// Node returns the current node, or nil once the cursor is exhausted.
func (c *Cursor) Node() *Node {
	return c.node
}

// Valid reports whether the cursor still points at a node.
func (c *Cursor) Valid() bool {
	return c.node != nil
}

// Next advances the cursor. It reports false and invalidates the cursor
// when the walk is finished.
func (c *Cursor) Next(enterChildren bool) bool {
	n := c.node
	if n == nil {
		return false
	}
	if enterChildren && len(n.Children) > 0 {
		c.node = n.Children[0]
		return true
	}
	for n != nil {
		if sib := n.NextSibling(); sib != nil {
			c.node = sib
			return true
		}
		n = n.parent
	}
	c.node = nil
	return false
}

// Copy returns an independent cursor at the same position.
func (c *Cursor) Copy() *Cursor {
	return &Cursor{node: c.node}
}

// Equal reports whether both cursors point at the same node.
func (c *Cursor) Equal(other *Cursor) bool {
	if other == nil {
		return c.node == nil
	}
	return c.node == other.node
}
