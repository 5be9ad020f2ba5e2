package conform

import (
	"math"

	"github.com/openfroyo/conform/pkg/propertytree"
)

// FloatEpsilon is the relative tolerance for Float fields. Two floats
// conform when |a-b| <= FloatEpsilon * max(1, |a|, |b|).
const FloatEpsilon = 1e-6

// FloatsConform reports whether a and b are equal within FloatEpsilon.
func FloatsConform(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= FloatEpsilon*scale
}

// Compare diffs a target tree against a template tree field by field. The
// returned root result is named after the template's importer type and has
// one child per top-level field. The annotation field is not compared.
func Compare(template, target *propertytree.Tree) *PropertyResult {
	root := &PropertyResult{
		name:     template.Type,
		conforms: true,
		template: template.Root,
		target:   target.Root,
	}
	if template.Type != target.Type {
		root.conforms = false
		root.mismatch = true
	}

	tf := withoutAnnotation(template.Fields())
	af := withoutAnnotation(target.Fields())

	for i := 0; i < len(tf) || i < len(af); i++ {
		var t, a *propertytree.Node
		if i < len(tf) {
			t = tf[i]
		}
		if i < len(af) {
			a = af[i]
		}
		root.children = append(root.children, compareNode(t, a))
	}
	return root
}

// CompareConstrained compares only the named fields. Each name is looked
// up independently in both trees; names the template lacks are skipped.
// Composite fields aggregate their descendants like Compare does.
func CompareConstrained(template, target *propertytree.Tree, names []string) []*PropertyResult {
	results := make([]*PropertyResult, 0, len(names))
	for _, name := range names {
		t := template.Lookup(name)
		if t == nil {
			continue
		}
		r := compareNode(t, target.Lookup(name))
		r.name = name
		results = append(results, r)
	}
	return results
}

func withoutAnnotation(fields []*propertytree.Node) []*propertytree.Node {
	out := make([]*propertytree.Node, 0, len(fields))
	for _, f := range fields {
		if f.Name != propertytree.AnnotationField {
			out = append(out, f)
		}
	}
	return out
}

func compareNode(t, a *propertytree.Node) *PropertyResult {
	r := &PropertyResult{template: t, target: a, conforms: true}
	switch {
	case t != nil:
		r.name, r.path = t.Name, t.Path
	case a != nil:
		r.name, r.path = a.Name, a.Path
	}

	switch {
	case t == nil || a == nil, t.Name != a.Name, t.Kind != a.Kind:
		r.conforms = false
		r.mismatch = true
	default:
		r.conforms = r.compareValues(t, a)
	}
	return r
}

func (r *PropertyResult) compareValues(t, a *propertytree.Node) bool {
	if t.Path == propertytree.RecycledIDsField {
		// File ids legitimately differ between resources.
		return true
	}

	switch t.Kind {
	case propertytree.KindComposite:
		return r.compareChildren(t, a)
	case propertytree.KindObjectReference:
		// Referenced objects legitimately differ between resources.
		return true
	case propertytree.KindFloat:
		return FloatsConform(t.Value.Float, a.Value.Float)
	default:
		return propertytree.Equal(t.Kind, t.Value, a.Value)
	}
}

// compareChildren walks both composites in lockstep. The walk stops at the
// composites' next siblings, so no child count is needed.
func (r *PropertyResult) compareChildren(t, a *propertytree.Node) bool {
	tc, ac := propertytree.CursorAt(t), propertytree.CursorAt(a)
	tStop, aStop := tc.Copy(), ac.Copy()
	tStop.Next(false)
	aStop.Next(false)

	okT, okA := tc.Next(true), ac.Next(true)
	for okT && okA && !tc.Equal(tStop) && !ac.Equal(aStop) {
		child := compareNode(tc.Node(), ac.Node())
		r.children = append(r.children, child)
		if child.mismatch && tc.Node().Kind != ac.Node().Kind {
			return false
		}
		okT, okA = tc.Next(false), ac.Next(false)
	}
	return true
}
