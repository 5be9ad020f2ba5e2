// Package enginetest provides an in-memory engine.ResourceAccessor for
// tests, with hooks for injecting failures.
package enginetest

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
)

// Accessor is an in-memory resource host. It is not safe for concurrent use.
type Accessor struct {
	resources   map[string]*engine.Resource
	settings    map[string]*propertytree.Tree
	annotations map[string]string

	// CommitErr, when set, fails every CommitSettings call.
	CommitErr error

	// AnnotationErr, when set, fails every SetAnnotation call.
	AnnotationErr error

	// OnReimport is called for every performed reimport.
	OnReimport func(ctx context.Context, resourcePath string) error

	// Commits records the paths of successful settings commits.
	Commits []string

	// Reimports records performed reimports in order.
	Reimports []string

	// Batches counts completed batch brackets.
	Batches int

	inBatch bool
	pending []string
}

// NewAccessor creates an empty accessor.
func NewAccessor() *Accessor {
	return &Accessor{
		resources:   make(map[string]*engine.Resource),
		settings:    make(map[string]*propertytree.Tree),
		annotations: make(map[string]string),
	}
}

// Add registers a resource with its settings tree. The resource's
// importer type is taken from the tree.
func (a *Accessor) Add(path string, tree *propertytree.Tree) *engine.Resource {
	res := &engine.Resource{Path: path, ImporterType: tree.Type}
	a.resources[path] = res
	a.settings[path] = tree.Clone()
	return res
}

// SetAnnotationText sets an annotation without going through the failure hooks.
func (a *Accessor) SetAnnotationText(path, value string) {
	a.annotations[path] = value
}

// Tree returns the stored settings of path.
func (a *Accessor) Tree(path string) *propertytree.Tree {
	return a.settings[path]
}

func (a *Accessor) Find(_ context.Context, resourcePath string) (*engine.Resource, error) {
	res, ok := a.resources[resourcePath]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("resource %s not found", resourcePath), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	cp := *res
	return &cp, nil
}

func (a *Accessor) List(ctx context.Context) ([]*engine.Resource, error) {
	paths := make([]string, 0, len(a.resources))
	for p := range a.resources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]*engine.Resource, 0, len(paths))
	for _, p := range paths {
		res, _ := a.Find(ctx, p)
		out = append(out, res)
	}
	return out, nil
}

func (a *Accessor) Settings(_ context.Context, resourcePath string) (*propertytree.Tree, error) {
	tree, ok := a.settings[resourcePath]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("resource %s not found", resourcePath), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	return tree.Clone(), nil
}

func (a *Accessor) CommitSettings(_ context.Context, resourcePath string, tree *propertytree.Tree) error {
	if a.CommitErr != nil {
		return a.CommitErr
	}
	if _, ok := a.settings[resourcePath]; !ok {
		return fmt.Errorf("resource %s not found", resourcePath)
	}
	a.settings[resourcePath] = tree.Clone()
	a.Commits = append(a.Commits, resourcePath)
	return nil
}

func (a *Accessor) Annotation(_ context.Context, resourcePath string) (string, error) {
	return a.annotations[resourcePath], nil
}

func (a *Accessor) SetAnnotation(_ context.Context, resourcePath, value string) error {
	if a.AnnotationErr != nil {
		return a.AnnotationErr
	}
	a.annotations[resourcePath] = value
	return nil
}

func (a *Accessor) Reimport(ctx context.Context, resourcePath string) error {
	if a.inBatch {
		a.pending = append(a.pending, resourcePath)
		return nil
	}
	return a.reimport(ctx, resourcePath)
}

func (a *Accessor) StartBatch(context.Context) {
	a.inBatch = true
}

func (a *Accessor) StopBatch(ctx context.Context) error {
	a.inBatch = false
	pending := a.pending
	a.pending = nil
	a.Batches++

	var first error
	for _, p := range pending {
		if err := a.reimport(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *Accessor) reimport(ctx context.Context, resourcePath string) error {
	a.Reimports = append(a.Reimports, resourcePath)
	if a.OnReimport != nil {
		return a.OnReimport(ctx, resourcePath)
	}
	return nil
}

var _ engine.ResourceAccessor = (*Accessor)(nil)
