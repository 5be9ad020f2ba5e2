// Package callback discovers the external processing callbacks invoked by
// method tasks. Callbacks are registered from Go or loaded from Starlark
// scripts, and are referenced from profiles by a "TypeName, AssemblyName"
// string that is resolved lazily.
package callback

import (
	"context"
	"strings"

	"github.com/openfroyo/conform/pkg/engine"
)

// Kind tells which pipeline stage a callback is written for.
type Kind string

const (
	// KindPreprocessor callbacks run before a resource is imported.
	KindPreprocessor Kind = "preprocessor"

	// KindPostprocessor callbacks run after a resource is imported.
	KindPostprocessor Kind = "postprocessor"
)

// Invocation is the input handed to a callback.
type Invocation struct {
	// Resource is the resource being processed.
	Resource *engine.Resource

	// Data is the free-form argument configured on the task.
	Data string

	// Settings is the document projection of the resource's import
	// settings. Callbacks may modify it; the caller commits the changes.
	Settings map[string]any

	// Shared holds values shared between the tasks of one import.
	Shared map[string]any
}

// Callback is a registered processing callback.
type Callback interface {
	// TypeName is the fully qualified name of the callback.
	TypeName() string

	// AssemblyName names the unit the callback was loaded from.
	AssemblyName() string

	// DisplayName is a short human readable name.
	DisplayName() string

	// Kind is the stage the callback is written for.
	Kind() Kind

	// Version is bumped by the callback author whenever its output changes,
	// which invalidates previously stamped resources.
	Version() int

	// Process runs the callback and reports whether it applied.
	Process(ctx context.Context, inv *Invocation) (bool, error)
}

// Reference returns the stable string a profile stores for cb.
func Reference(cb Callback) string {
	return cb.TypeName() + ", " + cb.AssemblyName()
}

// ParseReference splits a stored reference into its type and assembly
// parts. A reference without a comma has an empty assembly, which matches
// any assembly.
func ParseReference(ref string) (typeName, assemblyName string) {
	i := strings.IndexByte(ref, ',')
	if i <= 0 {
		return strings.TrimSpace(ref), ""
	}
	return strings.TrimSpace(ref[:i]), strings.TrimSpace(ref[i+1:])
}

// Func adapts a Go function to the Callback interface.
type Func struct {
	Type     string
	Assembly string
	Name     string
	Stage    Kind
	Rev      int
	Fn       func(ctx context.Context, inv *Invocation) (bool, error)
}

func (f *Func) TypeName() string     { return f.Type }
func (f *Func) AssemblyName() string { return f.Assembly }
func (f *Func) Kind() Kind           { return f.Stage }
func (f *Func) Version() int         { return f.Rev }

func (f *Func) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return displayName(f.Type)
}

func (f *Func) Process(ctx context.Context, inv *Invocation) (bool, error) {
	if f.Fn == nil {
		return false, nil
	}
	return f.Fn(ctx, inv)
}

// displayName returns the last dotted element of a type name.
func displayName(typeName string) string {
	if i := strings.LastIndexByte(typeName, '.'); i >= 0 {
		return typeName[i+1:]
	}
	return typeName
}
