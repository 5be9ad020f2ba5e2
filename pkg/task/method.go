package task

import (
	"context"
	"reflect"

	"github.com/openfroyo/conform/pkg/callback"
	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/sidechannel"
	"github.com/openfroyo/conform/pkg/telemetry"
)

const (
	// TypePreprocessor is the type name of pre stage method tasks.
	TypePreprocessor = "preprocessor"

	// TypePostprocessor is the type name of post stage method tasks.
	TypePostprocessor = "postprocessor"
)

// MethodTask invokes a registered callback and stamps the callback's
// version into the resource's side channel record. The callback reference
// is resolved on every use so refreshed script callbacks are picked up.
type MethodTask struct {
	flags

	name      string
	kind      callback.Kind
	method    string
	data      string
	callbacks *callback.Registry
}

// NewMethodTask creates a method task of the given callback kind.
func NewMethodTask(name string, kind callback.Kind, method, data string, callbacks *callback.Registry) *MethodTask {
	if name == "" {
		name = string(kind)
	}
	return &MethodTask{
		name:      name,
		kind:      kind,
		method:    method,
		data:      data,
		callbacks: callbacks,
	}
}

func (t *MethodTask) Name() string                   { return t.name }
func (t *MethodTask) TypeName() string               { return string(t.kind) }
func (t *MethodTask) MaxInstancesPerProfile() int    { return 0 }
func (t *MethodTask) ResultKind() conform.ResultKind { return conform.ResultKindVersion }

// Method returns the stored callback reference.
func (t *MethodTask) Method() string { return t.method }

// Stage maps the callback kind to its stage.
func (t *MethodTask) Stage() Stage {
	if t.kind == callback.KindPostprocessor {
		return StagePost
	}
	return StagePre
}

// Version is the resolved callback's version, or 0 when it cannot be
// resolved.
func (t *MethodTask) Version() int {
	cb, err := t.resolve(context.Background())
	if err != nil {
		return 0
	}
	return cb.Version()
}

// FixDescription implements ImportTask.
func (t *MethodTask) FixDescription() string {
	cb, err := t.resolve(context.Background())
	if err != nil {
		return "None Selected"
	}
	return "Import using " + cb.TypeName()
}

// CanApply implements ImportTask. Method tasks accept every resource.
func (t *MethodTask) CanApply(context.Context, *Context) bool {
	return true
}

// Apply runs the callback. Settings the callback changed are rebuilt
// through the schema registry and committed.
func (t *MethodTask) Apply(ctx context.Context, tc *Context, _ string) (bool, error) {
	cb, err := t.resolve(ctx)
	if err != nil {
		return false, err
	}

	tree, err := tc.Settings(ctx)
	if err != nil {
		return false, err
	}
	before := tree.Document()

	inv := &callback.Invocation{
		Resource: tc.Resource,
		Data:     t.data,
		Settings: tree.Document(),
		Shared:   tc.Values(),
	}
	ok, err := cb.Process(ctx, inv)
	if err != nil {
		return false, engine.NewPermanentError("callback failed", err).
			WithCode(engine.ErrCodeCallbackFailed).
			WithResource(tc.Path()).
			WithDetail("callback", callback.Reference(cb))
	}
	for k, v := range inv.Shared {
		tc.Set(k, v)
	}

	if inv.Settings != nil && !reflect.DeepEqual(before, inv.Settings) {
		updated, err := tc.Schemas.Build(tree.Type, inv.Settings)
		if err != nil {
			return false, engine.NewSchemaMismatchError("callback produced invalid settings", err).
				WithResource(tc.Path()).
				WithDetail("callback", callback.Reference(cb))
		}
		if err := tc.Commit(ctx, updated); err != nil {
			return false, engine.NewWriteFailureError("failed to commit callback settings", err).
				WithCode(engine.ErrCodeCommitFailed).
				WithResource(tc.Path())
		}
	}

	if ok {
		t.clear(tc.Path())
	}
	return ok, nil
}

// StampVersion upserts this task's entry into the side channel record.
func (t *MethodTask) StampVersion(ctx context.Context, tc *Context, profileID string) error {
	cb, err := t.resolve(ctx)
	if err != nil {
		return err
	}
	return tc.SideChannel.Update(ctx, tc.Path(), sidechannel.Entry{
		ProfileID:    profileID,
		TaskName:     t.name,
		AssemblyName: cb.AssemblyName(),
		TypeName:     cb.TypeName(),
		Version:      cb.Version(),
	})
}

// UpToDate reports whether the stamped entry names the resolved callback
// at its current version.
func (t *MethodTask) UpToDate(ctx context.Context, tc *Context, profileID string) (bool, error) {
	cb, err := t.resolve(ctx)
	if err != nil {
		return false, err
	}
	e, ok, err := t.stamp(ctx, tc, profileID, cb)
	if err != nil || !ok {
		return false, err
	}
	return e.Version == cb.Version(), nil
}

// Audit returns a single version result.
func (t *MethodTask) Audit(ctx context.Context, tc *Context, profileID string) ([]conform.Result, error) {
	if t.method == "" {
		return []conform.Result{conform.NewUnselectedVersionResult("None Selected")}, nil
	}
	cb, err := t.resolve(ctx)
	if err != nil {
		telemetry.FromContext(ctx).WithTask(t.name, string(t.Stage())).WithError(err).Warn("callback cannot be resolved")
		return []conform.Result{conform.NewUnselectedVersionResult(t.method)}, nil
	}

	e, ok, err := t.stamp(ctx, tc, profileID, cb)
	if err != nil {
		return nil, err
	}
	return []conform.Result{conform.NewVersionResult(cb.TypeName(), cb.Version(), e.Version, ok)}, nil
}

// Spec implements ImportTask.
func (t *MethodTask) Spec() Spec {
	return Spec{
		Type:    string(t.kind),
		Name:    t.name,
		Method:  t.method,
		Data:    t.data,
		Flagged: t.FlaggedPaths(),
	}
}

// stamp finds this task's entry for cb in the side channel record.
func (t *MethodTask) stamp(ctx context.Context, tc *Context, profileID string, cb callback.Callback) (sidechannel.Entry, bool, error) {
	rec, err := tc.SideChannel.Load(ctx, tc.Path())
	if err != nil {
		return sidechannel.Entry{}, false, err
	}
	e, ok := rec.Find(profileID, t.name)
	if !ok || e.TypeName != cb.TypeName() || e.AssemblyName != cb.AssemblyName() {
		return sidechannel.Entry{}, false, nil
	}
	return e, true, nil
}

func (t *MethodTask) resolve(ctx context.Context) (callback.Callback, error) {
	if t.method == "" {
		return nil, engine.NewUnresolvableCallbackError("no callback selected", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if t.callbacks == nil {
		return nil, engine.NewUnresolvableCallbackError("no callback registry", nil)
	}
	cb, err := t.callbacks.Resolve(ctx, t.kind, t.method)
	if err != nil {
		return nil, err
	}
	return cb, nil
}
