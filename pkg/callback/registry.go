package callback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// Registry holds the discoverable callbacks. Go callbacks are registered
// once; script callbacks are reloaded from the script directories on
// Refresh. It is safe for concurrent use so a directory watcher can
// refresh it.
type Registry struct {
	mu        sync.RWMutex
	builtins  []Callback
	scripts   []Callback
	dirs      []string
	evaluator *ScriptEvaluator
}

// NewRegistry creates a registry that loads scripts from dirs on Refresh.
func NewRegistry(evaluator *ScriptEvaluator, dirs ...string) *Registry {
	if evaluator == nil {
		evaluator = NewScriptEvaluator(0)
	}
	return &Registry{evaluator: evaluator, dirs: dirs}
}

// Register adds a Go callback. A callback with the same reference is
// rejected.
func (r *Registry) Register(cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := Reference(cb)
	for _, existing := range r.all() {
		if Reference(existing) == ref {
			return engine.NewPermanentError(fmt.Sprintf("callback %q already registered", ref), nil).
				WithCode(engine.ErrCodeAlreadyExists)
		}
	}
	r.builtins = append(r.builtins, cb)
	return nil
}

// Dirs returns the script directories.
func (r *Registry) Dirs() []string {
	return append([]string(nil), r.dirs...)
}

// Refresh reloads every script directory. Scripts that fail to load are
// reported in the returned error; the others stay available.
func (r *Registry) Refresh(ctx context.Context) error {
	logger := telemetry.FromContext(ctx).NewComponentLogger("callbacks")

	var loaded []Callback
	var errs []error
	for _, dir := range r.dirs {
		cbs, err := r.evaluator.LoadDir(ctx, dir)
		if err != nil {
			errs = append(errs, err)
		}
		loaded = append(loaded, cbs...)
	}

	r.mu.Lock()
	r.scripts = loaded
	r.mu.Unlock()

	logger.Debugf("loaded %d script callbacks from %d directories", len(loaded), len(r.dirs))
	return errors.Join(errs...)
}

// List returns the callbacks of the given kind ordered by reference. An
// empty kind lists every callback.
func (r *Registry) List(kind Kind) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Callback
	for _, cb := range r.all() {
		if kind == "" || cb.Kind() == kind {
			out = append(out, cb)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Reference(out[i]) < Reference(out[j])
	})
	return out
}

// Resolve finds the callback of the given kind a stored reference points
// at. A candidate matches when its assembly starts with the reference's
// assembly and its type name ends with the reference's type. Several
// matches resolve to the first in reference order and are logged; no match
// is an UnresolvableCallback error.
func (r *Registry) Resolve(ctx context.Context, kind Kind, ref string) (Callback, error) {
	typeName, assembly := ParseReference(ref)
	if typeName == "" {
		return nil, engine.NewUnresolvableCallbackError("empty callback reference", nil).
			WithCode(engine.ErrCodeValidation)
	}

	var matches []Callback
	for _, cb := range r.List(kind) {
		if matchesReference(cb, typeName, assembly) {
			matches = append(matches, cb)
		}
	}

	switch len(matches) {
	case 0:
		return nil, engine.NewUnresolvableCallbackError(fmt.Sprintf("no %s callback matches %q", kind, ref), nil).
			WithCode(engine.ErrCodeNotFound).
			WithDetail("reference", ref)
	case 1:
		return matches[0], nil
	default:
		telemetry.FromContext(ctx).
			WithField("reference", ref).
			WithField("candidates", len(matches)).
			Warnf("callback reference is ambiguous, using %s", Reference(matches[0]))
		return matches[0], nil
	}
}

func (r *Registry) all() []Callback {
	out := make([]Callback, 0, len(r.builtins)+len(r.scripts))
	out = append(out, r.builtins...)
	return append(out, r.scripts...)
}

func matchesReference(cb Callback, typeName, assembly string) bool {
	if assembly != "" && !strings.HasPrefix(cb.AssemblyName(), assembly) {
		return false
	}
	return strings.HasSuffix(cb.TypeName(), typeName)
}
