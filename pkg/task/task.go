// Package task defines the processing steps a profile runs against a
// resource. A task either drives the property diff engine against a
// template resource or invokes a registered callback and stamps the
// callback's version into the resource's side channel record.
package task

import (
	"context"
	"sort"

	"github.com/openfroyo/conform/pkg/conform"
)

// Stage is the pipeline stage a task runs in.
type Stage string

const (
	// StagePre runs before the host imports the resource.
	StagePre Stage = "pre"

	// StagePost runs after the host imported the resource.
	StagePost Stage = "post"
)

// ImportTask is a named, versioned processing step of a profile.
type ImportTask interface {
	// Name is the task's name, unique within its profile.
	Name() string

	// TypeName is the registered type the task was built from.
	TypeName() string

	// Version is the processing version the task currently produces.
	Version() int

	// Stage is the stage the task applies in.
	Stage() Stage

	// MaxInstancesPerProfile limits how many tasks of this type one
	// profile may hold. Zero or less is unlimited.
	MaxInstancesPerProfile() int

	// ResultKind is the kind of result Audit produces.
	ResultKind() conform.ResultKind

	// FixDescription describes what applying the task does.
	FixDescription() string

	// CanApply reports whether the task can process the context's resource.
	CanApply(ctx context.Context, tc *Context) bool

	// Apply runs the task against the resource and reports whether it
	// applied. A successful apply clears the resource's manual flag.
	Apply(ctx context.Context, tc *Context, profileID string) (bool, error)

	// StampVersion records the task's version in the side channel record.
	StampVersion(ctx context.Context, tc *Context, profileID string) error

	// UpToDate reports whether the resource already carries a stamp of the
	// task's current version.
	UpToDate(ctx context.Context, tc *Context, profileID string) (bool, error)

	// Audit compares the resource against the task without modifying it.
	Audit(ctx context.Context, tc *Context, profileID string) ([]conform.Result, error)

	// IsManuallyFlagged reports whether path is flagged for a one-shot run.
	IsManuallyFlagged(path string) bool

	// SetManuallyFlagged flags or unflags paths.
	SetManuallyFlagged(paths []string, flagged bool)

	// FlaggedPaths returns the flagged paths in order.
	FlaggedPaths() []string

	// Spec returns the serializable form of the task.
	Spec() Spec
}

// Spec is the serialized form of a task inside a profile file.
type Spec struct {
	// Type is the registered task type, e.g. "importer-properties".
	Type string `json:"type" yaml:"type" validate:"required"`

	// Name is the task name; it defaults to the type.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Template is the path of the template resource of a property task.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// Properties restricts a property task to the named fields. Empty
	// compares and copies every field.
	Properties []string `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Method is the callback reference of a method task, in the form
	// "TypeName, AssemblyName".
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Data is passed verbatim to the callback.
	Data string `json:"data,omitempty" yaml:"data,omitempty"`

	// Flagged lists resource paths manually flagged for this task.
	Flagged []string `json:"flagged,omitempty" yaml:"flagged,omitempty"`
}

// flags is the per-task set of manually flagged resource paths.
type flags struct {
	paths map[string]struct{}
}

func (f *flags) IsManuallyFlagged(path string) bool {
	_, ok := f.paths[path]
	return ok
}

func (f *flags) SetManuallyFlagged(paths []string, flagged bool) {
	if f.paths == nil {
		f.paths = make(map[string]struct{})
	}
	for _, p := range paths {
		if flagged {
			f.paths[p] = struct{}{}
		} else {
			delete(f.paths, p)
		}
	}
}

func (f *flags) FlaggedPaths() []string {
	out := make([]string, 0, len(f.paths))
	for p := range f.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *flags) clear(path string) {
	delete(f.paths, path)
}
