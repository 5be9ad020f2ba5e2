package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/conform/pkg/callback"
	"github.com/openfroyo/conform/pkg/engine"
)

// Factory builds a task from its serialized form.
type Factory func(spec Spec, deps Deps) (ImportTask, error)

// Deps are the collaborators task factories may need.
type Deps struct {
	Callbacks *callback.Registry
}

// Registry maps task type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	deps      Deps
}

// NewRegistry creates a registry holding the built-in task types.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{factories: make(map[string]Factory), deps: deps}
	r.Register(TypeImporterProperties, newPropertyTask)
	r.Register(TypePreprocessor, methodFactory(callback.KindPreprocessor))
	r.Register(TypePostprocessor, methodFactory(callback.KindPostprocessor))
	return r
}

// Register adds or replaces the factory of a task type.
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = f
}

// Types returns the registered type names in order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build creates a task from spec and restores its manual flags.
func (r *Registry) Build(spec Spec) (ImportTask, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unknown task type %q", spec.Type), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	t, err := f(spec, r.deps)
	if err != nil {
		return nil, err
	}
	if len(spec.Flagged) > 0 {
		t.SetManuallyFlagged(spec.Flagged, true)
	}
	return t, nil
}

func newPropertyTask(spec Spec, _ Deps) (ImportTask, error) {
	if spec.Template == "" {
		return nil, engine.NewPermanentError("importer-properties task requires a template", nil).
			WithCode(engine.ErrCodeValidation).
			WithDetail("task", spec.Name)
	}
	return NewPropertyTask(spec.Name, spec.Template, spec.Properties...), nil
}

func methodFactory(kind callback.Kind) Factory {
	return func(spec Spec, deps Deps) (ImportTask, error) {
		return NewMethodTask(spec.Name, kind, spec.Method, spec.Data, deps.Callbacks), nil
	}
}
