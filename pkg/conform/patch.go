package conform

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
)

var (
	// ErrArraySizeNotSettable is returned when a patch targets an array size.
	ErrArraySizeNotSettable = errors.New("array size cannot be set directly")

	// ErrNotApplicable is returned when a result has no settings value to copy.
	ErrNotApplicable = errors.New("result cannot be applied to settings")

	// ErrKindMismatch is returned when the template and target properties
	// at a path have different kinds.
	ErrKindMismatch = errors.New("template and target property kinds differ")
)

// Committer writes a patched tree back to its resource.
type Committer interface {
	Commit(ctx context.Context, tree *propertytree.Tree) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(ctx context.Context, tree *propertytree.Tree) error

// Commit implements Committer.
func (f CommitFunc) Commit(ctx context.Context, tree *propertytree.Tree) error {
	return f(ctx, tree)
}

// Apply copies the template value of r onto target and commits it. A leaf
// result copies its value; a composite result copies the whole subtree. On
// success the result subtree is marked conforming. On failure target and
// the result are left untouched and a WriteFailure error is returned.
func Apply(ctx context.Context, r Result, target *propertytree.Tree, c Committer) error {
	pr, err := settable(r)
	if err != nil {
		return err
	}

	patched := target.Clone()
	if err := writeNode(patched, pr); err != nil {
		return engine.NewWriteFailureError("failed to patch property", err).
			WithOperation("apply").
			WithDetail("property", pr.path)
	}
	if err := commit(ctx, c, target, patched, pr.path); err != nil {
		return err
	}

	rebind(pr, target)
	SetConformsRecursive([]Result{pr}, ResultKindProperty)
	return nil
}

// ApplyChildren sets every non-conforming leaf below r to its template
// value in a single commit. Array sizes are skipped; an array size result
// itself is refused with ErrArraySizeNotSettable.
func ApplyChildren(ctx context.Context, r Result, target *propertytree.Tree, c Committer) error {
	pr, err := settable(r)
	if err != nil {
		return err
	}
	if len(pr.children) == 0 {
		return Apply(ctx, pr, target, c)
	}

	var leaves []*PropertyResult
	collectLeaves(pr, &leaves)
	if len(leaves) == 0 {
		return nil
	}

	patched := target.Clone()
	for _, leaf := range leaves {
		if err := writeNode(patched, leaf); err != nil {
			return engine.NewWriteFailureError("failed to patch property", err).
				WithOperation("apply_children").
				WithDetail("property", leaf.path)
		}
	}
	if err := commit(ctx, c, target, patched, pr.path); err != nil {
		return err
	}

	rebind(pr, target)
	for _, leaf := range leaves {
		leaf.SetConforms(true)
	}
	return nil
}

// rebind points r's subtree at the committed target nodes so actual values
// display what was written.
func rebind(r *PropertyResult, tree *propertytree.Tree) {
	if r.path == "" {
		r.target = tree.Root
	} else {
		r.target = tree.Lookup(r.path)
	}
	for _, c := range r.children {
		if child, ok := c.(*PropertyResult); ok {
			rebind(child, tree)
		}
	}
}

// ApplyOfKind applies every non-conforming top-level result of the given
// kind, ignoring results of other kinds mixed into the same forest. It
// continues past failures and returns them joined.
func ApplyOfKind(ctx context.Context, results []Result, kind ResultKind, target *propertytree.Tree, c Committer) error {
	var errs []error
	for _, r := range results {
		if r.Kind() != kind || r.Conforms() {
			continue
		}
		if err := Apply(ctx, r, target, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func settable(r Result) (*PropertyResult, error) {
	pr, ok := r.(*PropertyResult)
	if !ok {
		return nil, ErrNotApplicable
	}
	if pr.template == nil {
		return nil, ErrNotApplicable
	}
	if pr.template.Kind == propertytree.KindArraySize {
		return nil, ErrArraySizeNotSettable
	}
	return pr, nil
}

func collectLeaves(r *PropertyResult, out *[]*PropertyResult) {
	for _, c := range r.children {
		child, ok := c.(*PropertyResult)
		if !ok {
			continue
		}
		if len(child.children) > 0 {
			collectLeaves(child, out)
			continue
		}
		if child.Settable() && !child.Conforms() && !child.template.Kind.IsComposite() {
			*out = append(*out, child)
		}
	}
}

func writeNode(tree *propertytree.Tree, r *PropertyResult) error {
	if r.path == "" {
		tree.Root = r.template.Clone()
		return nil
	}
	n := tree.Lookup(r.path)
	if n == nil {
		return fmt.Errorf("property %q not found", r.path)
	}
	if n.Kind != r.template.Kind {
		return fmt.Errorf("%w: %q is %s, template is %s", ErrKindMismatch, r.path, n.Kind, r.template.Kind)
	}
	if r.template.Kind.IsComposite() {
		return tree.Replace(r.path, r.template)
	}
	return tree.Set(r.path, r.template.Value)
}

func commit(ctx context.Context, c Committer, target, patched *propertytree.Tree, path string) error {
	if err := c.Commit(ctx, patched); err != nil {
		if engine.IsWriteFailure(err) {
			return err
		}
		return engine.NewWriteFailureError("failed to commit settings", err).
			WithCode(engine.ErrCodeCommitFailed).
			WithDetail("property", path)
	}
	*target = *patched
	return nil
}
