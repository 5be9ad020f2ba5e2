package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/conform/pkg/callback"
	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/engine/enginetest"
	"github.com/openfroyo/conform/pkg/profile"
	"github.com/openfroyo/conform/pkg/propertytree"
	"github.com/openfroyo/conform/pkg/task"
)

const (
	templatePath = "Assets/Textures/Templates/base.png"
	heroPath     = "Assets/Textures/hero.png"
	clickPath    = "Assets/Audio/click.wav"
)

func textureTree(size int64, readable bool) *propertytree.Tree {
	return propertytree.New("TextureImporter",
		propertytree.Int("maxTextureSize", size),
		propertytree.Bool("isReadable", readable),
	)
}

type fixture struct {
	acc      *enginetest.Accessor
	orch     *Orchestrator
	profile  *profile.Profile
	callback *callback.Func
	calls    int
}

// newFixture builds a host with a template and two textures and one
// profile on Assets/Textures holding a property task and a preprocessor.
func newFixture(t *testing.T, runOnImport, strict bool) *fixture {
	t.Helper()
	f := &fixture{acc: enginetest.NewAccessor()}
	f.acc.Add(templatePath, textureTree(512, false))
	f.acc.Add(heroPath, textureTree(2048, true))
	f.acc.Add(clickPath, propertytree.New("AudioImporter", propertytree.Bool("forceToMono", false)))

	f.callback = &callback.Func{
		Type:     "Textures.Tag",
		Assembly: "core",
		Stage:    callback.KindPreprocessor,
		Rev:      1,
		Fn: func(context.Context, *callback.Invocation) (bool, error) {
			f.calls++
			return true, nil
		},
	}
	callbacks := callback.NewRegistry(nil)
	if err := callbacks.Register(f.callback); err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.profile = profile.New("textures", "Textures", "Assets/Textures")
	f.profile.RunOnImport = runOnImport
	f.profile.RestrictToOwnDirectory = true
	for _, tk := range []task.ImportTask{
		task.NewPropertyTask("base", templatePath),
		task.NewMethodTask("tag", callback.KindPreprocessor, "Textures.Tag, core", "", callbacks),
	} {
		if err := f.profile.AddTask(tk); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	profiles := profile.NewRegistry(nil)
	profiles.Add(f.profile)
	f.orch = New(f.acc, profiles, Options{Strict: strict, Callbacks: callbacks})
	f.acc.OnReimport = f.orch.Import
	return f
}

func (f *fixture) size(path string) int64 {
	return f.acc.Tree(path).Lookup("maxTextureSize").Value.Int
}

func TestImportAppliesAndStamps(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	if err := f.orch.Import(ctx, heroPath); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := f.size(heroPath); got != 512 {
		t.Errorf("maxTextureSize = %d, want 512", got)
	}
	if f.calls != 1 {
		t.Errorf("callback ran %d times, want 1", f.calls)
	}
	ann, _ := f.acc.Annotation(ctx, heroPath)
	if !strings.Contains(ann, `"typeName":"Textures.Tag"`) {
		t.Errorf("annotation = %q", ann)
	}

	if err := f.orch.Import(ctx, heroPath); err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if f.calls != 1 {
		t.Errorf("up to date callback ran again: %d calls", f.calls)
	}

	f.callback.Rev = 2
	if err := f.orch.Import(ctx, heroPath); err != nil {
		t.Fatalf("Import after version bump: %v", err)
	}
	if f.calls != 2 {
		t.Errorf("callback should rerun after a version bump, ran %d times", f.calls)
	}
}

func TestImportOutsideProfile(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	if err := f.orch.Import(ctx, clickPath); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if f.calls != 0 || len(f.acc.Commits) != 0 {
		t.Errorf("calls=%d commits=%v; want no processing", f.calls, f.acc.Commits)
	}
	if ann, _ := f.acc.Annotation(ctx, clickPath); ann != "" {
		t.Errorf("annotation = %q, want untouched", ann)
	}
}

func TestImportMissingResource(t *testing.T) {
	f := newFixture(t, true, false)

	err := f.orch.Preprocess(context.Background(), "Assets/Textures/missing.png")
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodeNotFound {
		t.Errorf("Preprocess error = %v, want not found even outside strict mode", err)
	}
}

func TestStrictMode(t *testing.T) {
	for _, strict := range []bool{true, false} {
		f := newFixture(t, true, strict)
		f.acc.CommitErr = errors.New("disk full")

		err := f.orch.Import(context.Background(), heroPath)
		if strict && !engine.IsWriteFailure(err) {
			t.Errorf("strict Import error = %v, want write failure", err)
		}
		if !strict && err != nil {
			t.Errorf("lenient Import error = %v, want nil", err)
		}
		if f.calls != 1 {
			t.Errorf("strict=%v: later tasks should still run, callback ran %d times", strict, f.calls)
		}
	}
}

func TestPostprocessWithoutPreprocess(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	post := &callback.Func{Type: "Textures.Report", Stage: callback.KindPostprocessor, Rev: 1}
	callbacks := callback.NewRegistry(nil)
	if err := callbacks.Register(post); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ran := false
	post.Fn = func(context.Context, *callback.Invocation) (bool, error) {
		ran = true
		return true, nil
	}
	if err := f.profile.AddTask(task.NewMethodTask("report", callback.KindPostprocessor, "Textures.Report", "", callbacks)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := f.orch.Postprocess(ctx, heroPath); err != nil {
		t.Fatalf("Postprocess: %v", err)
	}
	if !ran {
		t.Error("postprocessor did not run")
	}
	if f.calls != 0 {
		t.Error("preprocessor must not run in the post stage")
	}
}

func TestAudit(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	report, err := f.orch.Audit(ctx, heroPath)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if report.Conforms() || len(report.Data) != 2 {
		t.Fatalf("report conforms=%v data=%d", report.Conforms(), len(report.Data))
	}
	if n := conform.CountNonConforming(report.ResultsOfKind(conform.ResultKindProperty)); n != 2 {
		t.Errorf("non-conforming properties = %d, want 2", n)
	}
	if len(f.acc.Commits) != 0 || f.calls != 0 {
		t.Error("Audit must not modify the resource")
	}

	reports, err := f.orch.AuditAll(ctx)
	if err != nil {
		t.Fatalf("AuditAll: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("AuditAll returned %d reports", len(reports))
	}
	for _, r := range reports {
		if r.Path == clickPath && (len(r.Data) != 0 || !r.Conforms()) {
			t.Errorf("unmatched resource report: %+v", r)
		}
	}
}

func TestFix(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	reports, err := f.orch.Fix(ctx, []string{heroPath, templatePath}, "base")
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if f.acc.Batches != 1 || len(f.acc.Reimports) != 1 || f.acc.Reimports[0] != heroPath {
		t.Errorf("batches=%d reimports=%v", f.acc.Batches, f.acc.Reimports)
	}
	if got := f.size(heroPath); got != 512 {
		t.Errorf("maxTextureSize = %d, want 512", got)
	}
	if f.calls != 0 {
		t.Error("unselected task must not run")
	}

	var hero *conform.Report
	for _, r := range reports {
		if r.Path == heroPath {
			hero = r
		}
	}
	if hero == nil {
		t.Fatal("no report for fixed resource")
	}
	for _, d := range hero.Data {
		if d.TaskName == "base" && !d.Conforms() {
			t.Error("fixed task should report conforming")
		}
		if d.TaskName == "tag" && d.Conforms() {
			t.Error("unselected task should still diverge")
		}
	}

	tk, _ := f.profile.Task("base")
	if tk.IsManuallyFlagged(heroPath) {
		t.Error("flag should clear after a successful fix")
	}

	again, err := f.orch.Audit(ctx, heroPath)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	for _, d := range again.Data {
		if d.TaskName == "base" && !d.Conforms() {
			t.Error("re-audit still diverges")
		}
	}
}

func TestFixNothingToDo(t *testing.T) {
	f := newFixture(t, false, true)

	if _, err := f.orch.Fix(context.Background(), []string{clickPath}); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if f.acc.Batches != 0 {
		t.Error("no batch expected when every resource conforms")
	}
}

func TestFlag(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	if err := f.orch.Flag(ctx, []string{heroPath}, true, "tag"); err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if f.calls != 1 || f.acc.Batches != 1 {
		t.Errorf("calls=%d batches=%d", f.calls, f.acc.Batches)
	}
	if got := f.size(heroPath); got != 2048 {
		t.Error("unflagged property task must not run")
	}
	tk, _ := f.profile.Task("tag")
	if tk.IsManuallyFlagged(heroPath) {
		t.Error("flag should clear once the task applied")
	}

	base, _ := f.profile.Task("base")
	base.SetManuallyFlagged([]string{heroPath}, true)
	if err := f.orch.Flag(ctx, []string{heroPath}, false); err != nil {
		t.Fatalf("unflag: %v", err)
	}
	if base.IsManuallyFlagged(heroPath) || f.acc.Batches != 1 {
		t.Error("unflagging should clear without reimporting")
	}
}

func TestRefreshKeepsInMemoryProfiles(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	if err := f.orch.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := f.orch.Profiles().Get("textures"); !ok {
		t.Error("in-memory profile lost on refresh")
	}
}

func TestFixCommitFailureKeepsDivergence(t *testing.T) {
	f := newFixture(t, false, false)
	f.acc.CommitErr = errors.New("disk full")
	ctx := context.Background()

	reports, err := f.orch.Fix(ctx, []string{heroPath}, "base")
	if err != nil {
		t.Fatalf("lenient Fix error = %v, want nil", err)
	}
	if got := f.size(heroPath); got != 2048 {
		t.Fatalf("maxTextureSize = %d, want the original 2048", got)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports", len(reports))
	}
	for _, d := range reports[0].Data {
		if d.TaskName == "base" && d.Conforms() {
			t.Error("a task whose commit failed must keep reporting the divergence")
		}
	}
	tk, _ := f.profile.Task("base")
	if !tk.IsManuallyFlagged(heroPath) {
		t.Error("flag should stay set when the fix did not apply")
	}
}

func TestFailingPreprocessorIsStamped(t *testing.T) {
	f := newFixture(t, true, false)
	ctx := context.Background()
	f.callback.Fn = func(context.Context, *callback.Invocation) (bool, error) {
		f.calls++
		return false, errors.New("script crashed")
	}

	for i := 0; i < 2; i++ {
		if err := f.orch.Import(ctx, heroPath); err != nil {
			t.Fatalf("Import %d: %v", i, err)
		}
	}
	if f.calls != 1 {
		t.Errorf("failing callback ran %d times, want 1", f.calls)
	}
	ann, _ := f.acc.Annotation(ctx, heroPath)
	if !strings.Contains(ann, `"typeName":"Textures.Tag"`) {
		t.Errorf("annotation = %q, want the version stamp", ann)
	}
}

func TestRefreshDropsPendingRuns(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	if err := f.orch.Preprocess(ctx, heroPath); err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if len(f.orch.runs) != 1 {
		t.Fatalf("runs = %d after Preprocess, want 1", len(f.orch.runs))
	}
	if err := f.orch.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(f.orch.runs) != 0 {
		t.Errorf("runs = %d after Refresh, want 0", len(f.orch.runs))
	}
}
