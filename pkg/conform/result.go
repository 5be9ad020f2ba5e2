// Package conform compares a resource's property tree against a template
// tree, aggregates the per-field outcome into a result tree and patches
// template values back onto the target.
package conform

import (
	"strconv"

	"github.com/openfroyo/conform/pkg/propertytree"
)

// ResultKind distinguishes the result subtypes mixed in one result forest.
type ResultKind string

const (
	// ResultKindProperty marks results produced by the property diff.
	ResultKindProperty ResultKind = "property"

	// ResultKindVersion marks results that compare a stamped processing
	// version against the expected one.
	ResultKindVersion ResultKind = "version"
)

// Result is one node of a conformance tree.
type Result interface {
	// Name is the display name of the node.
	Name() string

	// Conforms reports whether the node and every descendant conform.
	Conforms() bool

	// SetConforms overrides the node's own outcome. Ancestors are not
	// re-aggregated until they are asked again.
	SetConforms(conforms bool)

	// Children returns the child results in field order.
	Children() []Result

	// ExpectedValue is the display form of the template value.
	ExpectedValue() string

	// ActualValue is the display form of the target value.
	ActualValue() string

	// Kind returns the result subtype.
	Kind() ResultKind
}

// PropertyResult is a Result produced by comparing two property nodes.
type PropertyResult struct {
	name     string
	path     string
	conforms bool
	mismatch bool
	children []Result

	template *propertytree.Node
	target   *propertytree.Node
}

// Name implements Result.
func (r *PropertyResult) Name() string { return r.name }

// Path is the dot-separated path of the compared field.
func (r *PropertyResult) Path() string { return r.path }

// Conforms implements Result.
func (r *PropertyResult) Conforms() bool {
	for _, c := range r.children {
		if !c.Conforms() {
			return false
		}
	}
	return r.conforms
}

// SetConforms implements Result.
func (r *PropertyResult) SetConforms(conforms bool) { r.conforms = conforms }

// Children implements Result.
func (r *PropertyResult) Children() []Result { return r.children }

// ExpectedValue implements Result. Composite nodes have no display value.
func (r *PropertyResult) ExpectedValue() string { return r.template.Display() }

// ActualValue implements Result. Composite nodes have no display value.
func (r *PropertyResult) ActualValue() string { return r.target.Display() }

// Kind implements Result.
func (r *PropertyResult) Kind() ResultKind { return ResultKindProperty }

// Mismatch reports whether template and target disagreed on the field's
// name or kind, or one side lacked the field.
func (r *PropertyResult) Mismatch() bool { return r.mismatch }

// TemplateKind returns the kind of the template field.
func (r *PropertyResult) TemplateKind() propertytree.Kind {
	if r.template == nil {
		return propertytree.KindComposite
	}
	return r.template.Kind
}

// Template returns the template node the result was computed from.
func (r *PropertyResult) Template() *propertytree.Node { return r.template }

// Settable reports whether the result can be applied. Array sizes are
// never written directly and a field the template lacks has no value to copy.
func (r *PropertyResult) Settable() bool {
	return r.template != nil && r.template.Kind != propertytree.KindArraySize
}

// VersionResult compares the processing version stamped on a resource with
// the version a task currently expects.
type VersionResult struct {
	name     string
	expected int
	actual   int
	stamped  bool
	selected bool
	children []Result
}

// NewVersionResult creates a result for a task expecting version expected.
// stamped reports whether the resource carries a stamp; actual is its value.
func NewVersionResult(name string, expected, actual int, stamped bool) *VersionResult {
	return &VersionResult{
		name:     name,
		expected: expected,
		actual:   actual,
		stamped:  stamped,
		selected: true,
	}
}

// NewUnselectedVersionResult creates a result for a task with no callback.
// It never conforms.
func NewUnselectedVersionResult(name string) *VersionResult {
	return &VersionResult{name: name}
}

// Name implements Result.
func (r *VersionResult) Name() string { return r.name }

// Conforms implements Result.
func (r *VersionResult) Conforms() bool {
	for _, c := range r.children {
		if !c.Conforms() {
			return false
		}
	}
	return r.selected && r.stamped && r.actual == r.expected
}

// SetConforms implements Result. Marking a version result conforming
// records the expected version as stamped; clearing it is a no-op.
func (r *VersionResult) SetConforms(conforms bool) {
	if conforms && r.selected {
		r.actual = r.expected
		r.stamped = true
	}
}

// Children implements Result.
func (r *VersionResult) Children() []Result { return r.children }

// ExpectedValue implements Result.
func (r *VersionResult) ExpectedValue() string {
	if !r.selected {
		return "None Selected"
	}
	return strconv.Itoa(r.expected)
}

// ActualValue implements Result.
func (r *VersionResult) ActualValue() string {
	if !r.stamped {
		return "None"
	}
	return strconv.Itoa(r.actual)
}

// Kind implements Result.
func (r *VersionResult) Kind() ResultKind { return ResultKindVersion }

// Walk visits results depth-first until fn returns false.
func Walk(results []Result, fn func(Result) bool) bool {
	for _, r := range results {
		if !fn(r) {
			return false
		}
		if !Walk(r.Children(), fn) {
			return false
		}
	}
	return true
}

// AllConform reports whether every result conforms.
func AllConform(results []Result) bool {
	for _, r := range results {
		if !r.Conforms() {
			return false
		}
	}
	return true
}

// CountNonConforming counts the non-conforming leaves below results.
func CountNonConforming(results []Result) int {
	n := 0
	Walk(results, func(r Result) bool {
		if len(r.Children()) == 0 && !r.Conforms() {
			n++
		}
		return true
	})
	return n
}

// SetConformsRecursive marks every result of the given kind, and each of
// its descendants, as conforming.
func SetConformsRecursive(results []Result, kind ResultKind) {
	for _, r := range results {
		if r.Kind() != kind {
			continue
		}
		r.SetConforms(true)
		SetConformsRecursive(r.Children(), kind)
	}
}
