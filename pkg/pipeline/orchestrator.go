// Package pipeline drives resources through the profile tasks. A host calls
// Preprocess before it imports a resource and Postprocess afterwards, or
// Import for both. Audit and Fix serve interactive tooling.
package pipeline

import (
	"context"
	"errors"

	"github.com/openfroyo/conform/pkg/callback"
	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/profile"
	"github.com/openfroyo/conform/pkg/propertytree"
	"github.com/openfroyo/conform/pkg/sidechannel"
	"github.com/openfroyo/conform/pkg/task"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// Options configures an Orchestrator.
type Options struct {
	// Strict returns the first recovered error to the caller. Otherwise
	// errors are logged and processing continues.
	Strict bool

	// Schemas rebuilds settings produced by callbacks. Nil uses the default
	// registry.
	Schemas *propertytree.Registry

	// Callbacks is refreshed together with the profiles. Optional.
	Callbacks *callback.Registry
}

// Orchestrator runs the import stages and audits. It is not safe for
// concurrent use.
type Orchestrator struct {
	accessor  engine.ResourceAccessor
	profiles  *profile.Registry
	store     *sidechannel.Store
	schemas   *propertytree.Registry
	callbacks *callback.Registry
	strict    bool

	// runs carries the task context and version checks of an import from
	// its Pre stage to its Post stage.
	runs map[string]*run

	// applied records, while a Fix batch runs, which tasks applied
	// successfully per resource.
	applied map[string]bool
}

type run struct {
	tc       *task.Context
	upToDate map[string]bool
}

func runKey(profileID, taskName string) string {
	return profileID + "\x00" + taskName
}

func appliedKey(resourcePath, profileID, taskName string) string {
	return resourcePath + "\x00" + runKey(profileID, taskName)
}

// New creates an orchestrator over accessor and the active profiles.
func New(accessor engine.ResourceAccessor, profiles *profile.Registry, opts Options) *Orchestrator {
	schemas := opts.Schemas
	if schemas == nil {
		schemas = propertytree.DefaultRegistry()
	}
	return &Orchestrator{
		accessor:  accessor,
		profiles:  profiles,
		store:     sidechannel.NewStore(accessor),
		schemas:   schemas,
		callbacks: opts.Callbacks,
		strict:    opts.Strict,
		runs:      make(map[string]*run),
	}
}

// SideChannel returns the orchestrator's side channel store.
func (o *Orchestrator) SideChannel() *sidechannel.Store {
	return o.store
}

// Profiles returns the profile registry.
func (o *Orchestrator) Profiles() *profile.Registry {
	return o.profiles
}

// Refresh reloads profiles and script callbacks and starts a new pipeline
// run with an empty side channel cache. Pre stage state of resources that
// never reached their Post stage is dropped.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.store.Reset()
	clear(o.runs)
	var errs []error
	if o.callbacks != nil {
		errs = append(errs, o.callbacks.Refresh(ctx))
	}
	errs = append(errs, o.profiles.Refresh(ctx))
	return errors.Join(errs...)
}

// Import runs both stages for one resource. It is the hook hosts call when
// they (re)import a resource.
func (o *Orchestrator) Import(ctx context.Context, resourcePath string) error {
	preErr := o.Preprocess(ctx, resourcePath)
	postErr := o.Postprocess(ctx, resourcePath)
	if preErr != nil {
		return preErr
	}
	return postErr
}

// Preprocess stamps the version of every resolved task and applies the
// resolved Pre stage tasks. A method task already stamped at its current
// version is skipped unless manually flagged.
func (o *Orchestrator) Preprocess(ctx context.Context, resourcePath string) error {
	ctx, stage := telemetry.StartStage(ctx, string(task.StagePre), resourcePath)

	res, err := o.accessor.Find(ctx, resourcePath)
	if err != nil {
		stage.End(err)
		return err
	}

	o.store.Forget(resourcePath)
	r := &run{
		tc:       task.NewContext(res, o.accessor, o.store, o.schemas),
		upToDate: make(map[string]bool),
	}
	o.runs[resourcePath] = r

	var f failures
	for _, p := range o.profiles.Profiles() {
		tasks := p.Resolve(ctx, res)
		for _, t := range tasks {
			o.stamp(ctx, &f, r, p, t)
		}
		for _, t := range tasks {
			if t.Stage() == task.StagePre {
				f.add(ctx, o.apply(ctx, r, p, t))
			}
		}
	}
	o.flush(ctx, &f, resourcePath)

	stage.End(f.first)
	return o.strictErr(f)
}

// Postprocess applies the resolved Post stage tasks. The task context of
// the preceding Preprocess call is reused.
func (o *Orchestrator) Postprocess(ctx context.Context, resourcePath string) error {
	ctx, stage := telemetry.StartStage(ctx, string(task.StagePost), resourcePath)

	r, ok := o.runs[resourcePath]
	delete(o.runs, resourcePath)
	if !ok {
		res, err := o.accessor.Find(ctx, resourcePath)
		if err != nil {
			stage.End(err)
			return err
		}
		r = &run{
			tc:       task.NewContext(res, o.accessor, o.store, o.schemas),
			upToDate: make(map[string]bool),
		}
	}

	var f failures
	for _, p := range o.profiles.Profiles() {
		for _, t := range p.Resolve(ctx, r.tc.Resource) {
			if t.Stage() != task.StagePost {
				continue
			}
			key := runKey(p.ID, t.Name())
			if _, checked := r.upToDate[key]; !checked {
				up, err := t.UpToDate(ctx, r.tc, p.ID)
				if err != nil {
					f.add(ctx, err)
					continue
				}
				r.upToDate[key] = up
			}
			f.add(ctx, o.apply(ctx, r, p, t))
		}
	}
	o.flush(ctx, &f, resourcePath)

	stage.End(f.first)
	return o.strictErr(f)
}

// stamp records whether t was already up to date, then stamps its version.
// The stamp is written before any apply so a failing task is not retried
// at the same version on every import.
func (o *Orchestrator) stamp(ctx context.Context, f *failures, r *run, p *profile.Profile, t task.ImportTask) {
	up, err := t.UpToDate(ctx, r.tc, p.ID)
	if err != nil {
		f.add(ctx, err)
		return
	}
	r.upToDate[runKey(p.ID, t.Name())] = up

	if err := t.StampVersion(ctx, r.tc, p.ID); err != nil {
		f.add(ctx, err)
		return
	}
	if t.ResultKind() == conform.ResultKindVersion {
		telemetry.MetricsFromContext(ctx).RecordTaskApplication(string(task.StagePre), t.TypeName(), "stamped")
	}
}

func (o *Orchestrator) apply(ctx context.Context, r *run, p *profile.Profile, t task.ImportTask) error {
	path := r.tc.Path()
	stage := string(t.Stage())
	logger := telemetry.FromContext(ctx).WithResource(path).WithProfile(p.ID).WithTask(t.Name(), stage)
	metrics := telemetry.MetricsFromContext(ctx)

	if r.upToDate[runKey(p.ID, t.Name())] && !t.IsManuallyFlagged(path) {
		logger.Debug("task is up to date")
		metrics.RecordTaskSkipped(t.TypeName(), "up_to_date")
		return nil
	}
	if !t.CanApply(ctx, r.tc) {
		logger.Debug("task cannot apply")
		metrics.RecordTaskSkipped(t.TypeName(), "cannot_apply")
		return nil
	}

	ctx, span := telemetry.TaskSpan(ctx, p.ID, t.Name(), t.TypeName())
	defer span.End()

	applied, err := t.Apply(ctx, r.tc, p.ID)
	if o.applied != nil {
		o.applied[appliedKey(path, p.ID, t.Name())] = applied && err == nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.RecordTaskApplication(stage, t.TypeName(), "failed")
		return err
	}
	telemetry.RecordSuccess(span)
	if applied {
		logger.Debug("task applied")
		metrics.RecordTaskApplication(stage, t.TypeName(), "applied")
	} else {
		metrics.RecordTaskApplication(stage, t.TypeName(), "declined")
	}
	return nil
}

func (o *Orchestrator) flush(ctx context.Context, f *failures, resourcePath string) {
	if _, err := o.store.Flush(ctx, resourcePath); err != nil {
		f.add(ctx, err)
	}
}

// Audit compares one resource against every task of every matching
// profile without modifying it.
func (o *Orchestrator) Audit(ctx context.Context, resourcePath string) (*conform.Report, error) {
	res, err := o.accessor.Find(ctx, resourcePath)
	if err != nil {
		return nil, err
	}

	var f failures
	report := o.audit(ctx, &f, res)
	if o.strict && f.first != nil {
		return report, f.first
	}
	return report, nil
}

// AuditAll audits every resource the accessor knows.
func (o *Orchestrator) AuditAll(ctx context.Context) ([]*conform.Report, error) {
	resources, err := o.accessor.List(ctx)
	if err != nil {
		return nil, err
	}

	var f failures
	reports := make([]*conform.Report, 0, len(resources))
	for _, res := range resources {
		reports = append(reports, o.audit(ctx, &f, res))
	}
	if o.strict && f.first != nil {
		return reports, f.first
	}
	return reports, nil
}

func (o *Orchestrator) audit(ctx context.Context, f *failures, res *engine.Resource) *conform.Report {
	ctx, stage := telemetry.StartStage(ctx, "audit", res.Path)
	metrics := telemetry.MetricsFromContext(ctx)
	var first error

	o.store.Forget(res.Path)
	tc := task.NewContext(res, o.accessor, o.store, o.schemas)
	report := &conform.Report{Path: res.Path, ImporterType: res.ImporterType}

	for _, p := range o.profiles.Profiles() {
		if !p.Matches(ctx, res) {
			continue
		}
		for _, t := range p.Tasks() {
			if !t.CanApply(ctx, tc) {
				continue
			}
			results, err := t.Audit(ctx, tc, p.ID)
			if err != nil {
				if first == nil {
					first = err
				}
				f.add(ctx, err)
				continue
			}
			report.Data = append(report.Data, conform.Data{
				ProfileID: p.ID,
				TaskName:  t.Name(),
				TaskType:  t.TypeName(),
				Kind:      t.ResultKind(),
				Results:   results,
			})
		}
	}

	metrics.RecordAudit(res.ImporterType, report.Conforms())
	for _, d := range report.Data {
		for _, r := range d.Results {
			if !r.Conforms() {
				metrics.RecordNonConforming(string(r.Kind()))
			}
		}
	}
	stage.End(first)
	return report
}

// Fix repairs the non-conforming resources among paths. Every diverging
// task, or only those named in taskNames, is flagged for the resource;
// the resources are then reimported inside one batch. Results of a task
// are marked conforming in the returned reports only when that task
// applied without error during the batch.
func (o *Orchestrator) Fix(ctx context.Context, paths []string, taskNames ...string) ([]*conform.Report, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("fix")
	metrics := telemetry.MetricsFromContext(ctx)

	type fixed struct {
		report *conform.Report
		index  int
	}
	var (
		f       failures
		reports []*conform.Report
		targets []fixed
		pending []string
	)

	for _, path := range paths {
		report, err := o.Audit(ctx, path)
		if err != nil {
			f.add(ctx, err)
			if report == nil {
				continue
			}
		}
		reports = append(reports, report)

		flagged := false
		for i, d := range report.Data {
			if d.Conforms() || !selected(d.TaskName, taskNames) {
				continue
			}
			p, ok := o.profiles.Get(d.ProfileID)
			if !ok {
				continue
			}
			t, ok := p.Task(d.TaskName)
			if !ok {
				continue
			}
			t.SetManuallyFlagged([]string{path}, true)
			targets = append(targets, fixed{report: report, index: i})
			flagged = true
		}
		if flagged {
			pending = append(pending, path)
		}
	}

	if len(pending) == 0 {
		return reports, o.strictErr(f)
	}

	logger.Infof("reimporting %d resources", len(pending))
	o.applied = make(map[string]bool)
	defer func() { o.applied = nil }()

	o.accessor.StartBatch(ctx)
	metrics.BatchOpened()
	for _, path := range pending {
		f.add(ctx, o.accessor.Reimport(ctx, path))
	}
	if err := o.accessor.StopBatch(ctx); err != nil {
		f.add(ctx, engine.NewWriteFailureError("batch reimport failed", err).WithOperation("fix"))
	}
	metrics.BatchClosed()

	for _, t := range targets {
		d := t.report.Data[t.index]
		if !o.applied[appliedKey(t.report.Path, d.ProfileID, d.TaskName)] {
			logger.WithResource(t.report.Path).WithTask(d.TaskName, "fix").Warn("task was not applied")
			continue
		}
		conform.SetConformsRecursive(d.Results, d.Kind)
	}
	return reports, o.strictErr(f)
}

// Flag sets or clears the manual flag of the selected tasks for paths in
// every profile that matches the resource, and persists the profiles.
// Flagged resources are reimported in one batch.
func (o *Orchestrator) Flag(ctx context.Context, paths []string, flagged bool, taskNames ...string) error {
	var f failures
	touched := make(map[*profile.Profile]bool)
	var reimport []string

	for _, path := range paths {
		res, err := o.accessor.Find(ctx, path)
		if err != nil {
			f.add(ctx, err)
			continue
		}
		hit := false
		for _, p := range o.profiles.Profiles() {
			if !p.Matches(ctx, res) {
				continue
			}
			for _, t := range p.Tasks() {
				if !selected(t.Name(), taskNames) {
					continue
				}
				t.SetManuallyFlagged([]string{path}, flagged)
				touched[p] = true
				hit = true
			}
		}
		if hit && flagged {
			reimport = append(reimport, path)
		}
	}

	if len(reimport) > 0 {
		metrics := telemetry.MetricsFromContext(ctx)
		o.accessor.StartBatch(ctx)
		metrics.BatchOpened()
		for _, path := range reimport {
			f.add(ctx, o.accessor.Reimport(ctx, path))
		}
		f.add(ctx, o.accessor.StopBatch(ctx))
		metrics.BatchClosed()
	}

	for p := range touched {
		f.add(ctx, o.profiles.Save(p))
	}
	return o.strictErr(f)
}

func (o *Orchestrator) strictErr(f failures) error {
	if o.strict {
		return f.first
	}
	return nil
}

func selected(name string, names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
