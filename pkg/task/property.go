package task

import (
	"context"
	"fmt"

	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// TypeImporterProperties is the type name of PropertyTask.
const TypeImporterProperties = "importer-properties"

// PropertyTask conforms a resource's import settings to those of a
// template resource of the same importer type. With Properties set only the
// named fields are compared and copied; otherwise every field except the
// annotation is.
type PropertyTask struct {
	flags

	name       string
	template   string
	properties []string
}

// NewPropertyTask creates a property task against the template at
// templatePath.
func NewPropertyTask(name, templatePath string, properties ...string) *PropertyTask {
	if name == "" {
		name = TypeImporterProperties
	}
	return &PropertyTask{
		name:       name,
		template:   templatePath,
		properties: append([]string(nil), properties...),
	}
}

func (t *PropertyTask) Name() string                   { return t.name }
func (t *PropertyTask) TypeName() string               { return TypeImporterProperties }
func (t *PropertyTask) Version() int                   { return 0 }
func (t *PropertyTask) Stage() Stage                   { return StagePre }
func (t *PropertyTask) MaxInstancesPerProfile() int    { return 0 }
func (t *PropertyTask) ResultKind() conform.ResultKind { return conform.ResultKindProperty }
func (t *PropertyTask) FixDescription() string         { return "Conform to template properties" }

// TemplatePath returns the template resource path.
func (t *PropertyTask) TemplatePath() string { return t.template }

// Properties returns the constrained field names.
func (t *PropertyTask) Properties() []string {
	return append([]string(nil), t.properties...)
}

// CanApply requires a template of the same importer type that is not the
// resource itself.
func (t *PropertyTask) CanApply(ctx context.Context, tc *Context) bool {
	if t.template == "" || tc.Resource.Path == t.template {
		return false
	}
	tmpl, err := tc.Accessor.Find(ctx, t.template)
	if err != nil {
		telemetry.FromContext(ctx).WithTask(t.name, string(StagePre)).WithError(err).
			Warnf("template %s is unavailable", t.template)
		return false
	}
	return tmpl.ImporterType == tc.Resource.ImporterType
}

// Audit diffs the resource against the template. Full mode returns one
// result per top-level field.
func (t *PropertyTask) Audit(ctx context.Context, tc *Context, _ string) ([]conform.Result, error) {
	tmpl, target, err := t.trees(ctx, tc)
	if err != nil {
		return nil, err
	}

	if len(t.properties) == 0 {
		return conform.Compare(tmpl, target).Children(), nil
	}
	constrained := conform.CompareConstrained(tmpl, target, t.properties)
	out := make([]conform.Result, len(constrained))
	for i, r := range constrained {
		out[i] = r
	}
	return out, nil
}

// Apply copies the template's values onto the resource in one commit.
func (t *PropertyTask) Apply(ctx context.Context, tc *Context, _ string) (bool, error) {
	if !t.CanApply(ctx, tc) {
		return false, nil
	}
	tmpl, target, err := t.trees(ctx, tc)
	if err != nil {
		return false, err
	}

	var patched *propertytree.Tree
	if len(t.properties) == 0 {
		patched, err = copyAll(tmpl, target)
	} else {
		patched, err = copyConstrained(tmpl, target, t.properties)
	}
	if err != nil {
		return false, engine.NewWriteFailureError("failed to copy template properties", err).
			WithResource(tc.Path()).
			WithOperation("apply")
	}

	if err := tc.Commit(ctx, patched); err != nil {
		if engine.IsWriteFailure(err) {
			return false, err
		}
		return false, engine.NewWriteFailureError("failed to commit settings", err).
			WithCode(engine.ErrCodeCommitFailed).
			WithResource(tc.Path())
	}
	t.clear(tc.Path())
	return true, nil
}

// StampVersion is a no-op; property tasks are never skipped by version.
func (t *PropertyTask) StampVersion(context.Context, *Context, string) error {
	return nil
}

// UpToDate always reports false so the comparison runs on every import.
func (t *PropertyTask) UpToDate(context.Context, *Context, string) (bool, error) {
	return false, nil
}

// Spec implements ImportTask.
func (t *PropertyTask) Spec() Spec {
	return Spec{
		Type:       TypeImporterProperties,
		Name:       t.name,
		Template:   t.template,
		Properties: t.Properties(),
		Flagged:    t.FlaggedPaths(),
	}
}

func (t *PropertyTask) trees(ctx context.Context, tc *Context) (tmpl, target *propertytree.Tree, err error) {
	if t.template == "" {
		return nil, nil, engine.NewPermanentError("property task has no template", nil).
			WithCode(engine.ErrCodeValidation)
	}
	tmpl, err = tc.Accessor.Settings(ctx, t.template)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load template %s: %w", t.template, err)
	}
	target, err = tc.Settings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings of %s: %w", tc.Path(), err)
	}
	return tmpl, target, nil
}

// copyAll returns the template's settings carrying the target's annotation.
func copyAll(tmpl, target *propertytree.Tree) (*propertytree.Tree, error) {
	patched := tmpl.Clone()
	patched.Type = target.Type

	if ann := target.Lookup(propertytree.AnnotationField); ann != nil {
		if patched.Lookup(propertytree.AnnotationField) == nil {
			return nil, fmt.Errorf("template lacks the %s field", propertytree.AnnotationField)
		}
		if err := patched.Replace(propertytree.AnnotationField, ann); err != nil {
			return nil, err
		}
	}
	return patched, nil
}

// copyConstrained copies each named field the template has.
func copyConstrained(tmpl, target *propertytree.Tree, names []string) (*propertytree.Tree, error) {
	patched := target.Clone()
	for _, name := range names {
		src := tmpl.Lookup(name)
		if src == nil {
			continue
		}
		var err error
		if src.Kind.IsComposite() {
			err = patched.Replace(name, src)
		} else {
			err = patched.Set(name, src.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", name, err)
		}
	}
	return patched, nil
}
