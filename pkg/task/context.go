package task

import (
	"context"

	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
	"github.com/openfroyo/conform/pkg/sidechannel"
)

// Context is shared by every task processing one resource during one
// import. Tasks exchange values through Set and Get.
type Context struct {
	Resource    *engine.Resource
	Accessor    engine.ResourceAccessor
	SideChannel *sidechannel.Store
	Schemas     *propertytree.Registry

	values   map[string]any
	settings *propertytree.Tree
}

// NewContext creates a task context for res.
func NewContext(res *engine.Resource, accessor engine.ResourceAccessor, store *sidechannel.Store, schemas *propertytree.Registry) *Context {
	if schemas == nil {
		schemas = propertytree.DefaultRegistry()
	}
	return &Context{
		Resource:    res,
		Accessor:    accessor,
		SideChannel: store,
		Schemas:     schemas,
		values:      make(map[string]any),
	}
}

// Path returns the resource path.
func (c *Context) Path() string {
	return c.Resource.Path
}

// Set stores a value under key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Values exposes the shared values to callbacks.
func (c *Context) Values() map[string]any {
	return c.values
}

// Settings returns the resource's settings tree, loading it on first use.
func (c *Context) Settings(ctx context.Context) (*propertytree.Tree, error) {
	if c.settings != nil {
		return c.settings, nil
	}
	tree, err := c.Accessor.Settings(ctx, c.Path())
	if err != nil {
		return nil, err
	}
	c.settings = tree
	return tree, nil
}

// Commit writes tree back to the resource and caches it.
func (c *Context) Commit(ctx context.Context, tree *propertytree.Tree) error {
	if err := c.Accessor.CommitSettings(ctx, c.Path(), tree); err != nil {
		return err
	}
	c.settings = tree
	return nil
}

// Committer adapts Commit for the patch functions of package conform.
func (c *Context) Committer() conform.Committer {
	return conform.CommitFunc(c.Commit)
}
