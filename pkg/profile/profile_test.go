package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/filter"
	"github.com/openfroyo/conform/pkg/task"
)

const templatePath = "Assets/Templates/ui.png"

// singleton is a property task type allowing one instance per profile.
type singleton struct {
	*task.PropertyTask
}

func (singleton) TypeName() string            { return "singleton" }
func (singleton) MaxInstancesPerProfile() int { return 1 }

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader(task.NewRegistry(task.Deps{}))
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	icon := &engine.Resource{Path: "Assets/Textures/UI/icon.png", ImporterType: "TextureImporter"}
	outside := &engine.Resource{Path: "Assets/Models/hero.png", ImporterType: "TextureImporter"}

	newProfile := func(runOnImport, restrict bool, filters ...filter.Filter) (*Profile, task.ImportTask) {
		p := New("p1", "textures", "Assets/Textures")
		p.RunOnImport = runOnImport
		p.RestrictToOwnDirectory = restrict
		p.Filters = filters
		tk := task.NewPropertyTask("", templatePath)
		if err := p.AddTask(tk); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
		return p, tk
	}
	pngOnly := filter.Filter{Target: filter.TargetExtension, Condition: filter.ConditionEquals, Pattern: ".PNG"}

	tests := []struct {
		name     string
		run      bool
		restrict bool
		flag     bool
		filters  []filter.Filter
		res      *engine.Resource
		want     int
	}{
		{name: "automatic mode", run: true, res: icon, want: 1},
		{name: "manual mode without flag", res: icon, want: 0},
		{name: "manual mode with flag", flag: true, res: icon, want: 1},
		{name: "filters match", run: true, filters: []filter.Filter{pngOnly}, res: icon, want: 1},
		{name: "restricted to own directory", run: true, restrict: true, res: outside, want: 0},
		{name: "unrestricted outside directory", run: true, res: outside, want: 1},
		{name: "flag does not bypass filters", flag: true, restrict: true, res: outside, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, tk := newProfile(tt.run, tt.restrict, tt.filters...)
			if tt.flag {
				tk.SetManuallyFlagged([]string{tt.res.Path}, true)
			}
			if got := len(p.Resolve(ctx, tt.res)); got != tt.want {
				t.Errorf("Resolve returned %d tasks, want %d", got, tt.want)
			}
		})
	}
}

func TestAddTask(t *testing.T) {
	p := New("p1", "textures", "Assets")

	if err := p.AddTask(task.NewPropertyTask("a", templatePath)); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	err := p.AddTask(task.NewPropertyTask("a", templatePath))
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodeAlreadyExists {
		t.Errorf("duplicate name error = %v", err)
	}

	if err := p.AddTask(singleton{task.NewPropertyTask("one", templatePath)}); err != nil {
		t.Fatalf("first singleton: %v", err)
	}
	err = p.AddTask(singleton{task.NewPropertyTask("two", templatePath)})
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodeLimitExceeded {
		t.Errorf("limit error = %v", err)
	}
	if len(p.Tasks()) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(p.Tasks()))
	}

	if !p.RemoveTask("one") || p.RemoveTask("one") {
		t.Error("RemoveTask should remove exactly once")
	}
	if err := p.AddTask(singleton{task.NewPropertyTask("two", templatePath)}); err != nil {
		t.Errorf("limit should free up after removal: %v", err)
	}
}

func TestSort(t *testing.T) {
	profiles := []*Profile{
		{ID: "late", SortIndex: 2, Dir: "Assets"},
		{ID: "nested", SortIndex: 1, Dir: "Assets/Textures/UI"},
		{ID: "outer", SortIndex: 1, Dir: "Assets/Textures"},
		{ID: "root", SortIndex: 0, Dir: "Assets/Very/Deep/Folder"},
	}
	Sort(profiles)

	var ids []string
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	if got := strings.Join(ids, ","); got != "root,outer,nested,late" {
		t.Errorf("order = %s", got)
	}
}

const texturesYAML = `
name: textures
filters:
  - target: extension
    condition: equals
    pattern: .png
run_on_import: true
tasks:
  - type: importer-properties
    template: Assets/Templates/ui.png
    properties: [maxTextureSize]
`

const audioCUE = `
name:       "audio"
directory:  "Assets/Sound"
sort_index: 2
filters: [{target: "importer_type", condition: "equals", pattern: "AudioImporter"}]
tasks: [{type: "postprocessor", name: "normalize", method: "Audio.Normalize, core"}]
`

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Assets/Textures/textures.yaml", texturesYAML)
	writeFile(t, root, "Assets/Audio/audio.cue", audioCUE)
	writeFile(t, root, "Assets/notes.txt", "ignored")

	profiles, err := newLoader(t).LoadDir(context.Background(), root)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	tex, audio := profiles[0], profiles[1]
	if tex.Name != "textures" || audio.Name != "audio" {
		t.Fatalf("unexpected order %s, %s", tex.Name, audio.Name)
	}

	if tex.Dir != "Assets/Textures" {
		t.Errorf("directory = %q, want it derived from the file location", tex.Dir)
	}
	if !tex.RunOnImport || !tex.RestrictToOwnDirectory {
		t.Errorf("run_on_import=%v restrict=%v", tex.RunOnImport, tex.RestrictToOwnDirectory)
	}
	if len(tex.ID) != 36 {
		t.Errorf("expected a generated UUID, got %q", tex.ID)
	}
	if pt, ok := tex.Tasks()[0].(*task.PropertyTask); !ok || pt.Properties()[0] != "maxTextureSize" {
		t.Errorf("property task not built: %+v", tex.Tasks())
	}

	if audio.Dir != "Assets/Sound" || audio.RunOnImport || audio.SortIndex != 2 {
		t.Errorf("audio profile = %+v", audio.Spec())
	}
	if tk, ok := audio.Task("normalize"); !ok || tk.Stage() != task.StagePost {
		t.Error("postprocessor task missing")
	}

	again, err := newLoader(t).LoadDir(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if again[0].ID != tex.ID {
		t.Error("generated IDs must be stable across loads")
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown condition", "a.yaml", "name: a\nfilters:\n  - {target: extension, condition: like, pattern: x}\n"},
		{"incompatible condition", "b.yaml", "name: b\nfilters:\n  - {target: labels, condition: regex, pattern: x}\n"},
		{"missing name", "c.yaml", "run_on_import: true\n"},
		{"unknown task type", "d.yaml", "name: d\ntasks:\n  - type: mesh-simplify\n"},
		{"template missing", "e.yaml", "name: e\ntasks:\n  - type: importer-properties\n"},
		{"unknown field", "f.cue", "name: \"f\"\ncolour: \"red\"\n"},
		{"negative sort index", "g.yaml", "name: g\nsort_index: -1\n"},
		{"duplicate task names", "h.yaml", "name: h\ntasks:\n  - {type: preprocessor, name: x}\n  - {type: postprocessor, name: x}\n"},
	}

	l := newLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), tt.file, tt.content)
			if _, err := l.LoadFile(context.Background(), p, tt.file); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, file := range []string{"Assets/Textures/textures.yaml", "Assets/Audio/audio.cue"} {
		t.Run(filepath.Ext(file), func(t *testing.T) {
			root := t.TempDir()
			content := texturesYAML
			if strings.HasSuffix(file, ".cue") {
				content = audioCUE
			}
			path := writeFile(t, root, file, content)

			l := newLoader(t)
			p, err := l.LoadFile(context.Background(), path, file)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			p.Tasks()[0].SetManuallyFlagged([]string{"Assets/x.png"}, true)
			if err := l.Save(p); err != nil {
				t.Fatalf("Save: %v", err)
			}

			reloaded, err := l.LoadFile(context.Background(), path, file)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if reloaded.ID != p.ID || reloaded.Name != p.Name || reloaded.Dir != p.Dir {
				t.Errorf("reloaded %+v, want %+v", reloaded.Spec(), p.Spec())
			}
			if !reloaded.Tasks()[0].IsManuallyFlagged("Assets/x.png") {
				t.Error("manual flags were not persisted")
			}
		})
	}
}

func TestParse(t *testing.T) {
	l := newLoader(t)
	p, err := l.Parse([]byte(audioCUE), "cue")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "audio" || !p.RestrictToOwnDirectory {
		t.Errorf("parsed %+v", p.Spec())
	}
	if _, err := l.Parse([]byte(audioCUE), "toml"); err == nil {
		t.Error("unknown syntax should fail")
	}
}

type denyGate struct{ name string }

func (g denyGate) Admit(_ context.Context, p *Profile) error {
	if p.Name == g.name {
		return errors.New("denied")
	}
	return nil
}

func TestRegistryRefresh(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "Assets/Textures/textures.yaml", texturesYAML)
	writeFile(t, root, "Assets/Audio/audio.cue", audioCUE)
	writeFile(t, root, "Assets/broken.yaml", "name: [")

	r := NewRegistry(newLoader(t), root, filepath.Join(root, "missing"))
	mem := New("mem", "memory", "")
	mem.SortIndex = 5
	r.Add(mem)

	if err := r.Refresh(ctx); err == nil {
		t.Error("the broken profile should be reported")
	}
	if got := len(r.Profiles()); got != 3 {
		t.Fatalf("expected 3 active profiles, got %d", got)
	}
	if _, ok := r.Get("textures"); !ok {
		t.Error("Get by name failed")
	}

	r.SetGate(denyGate{name: "audio"})
	_ = r.Refresh(ctx)
	if _, ok := r.Get("audio"); ok {
		t.Error("gated profile should not be active")
	}
	if ps := r.Profiles(); ps[len(ps)-1].ID != "mem" {
		t.Error("in-memory profile should survive refresh and sort last")
	}
}

func TestWatcher(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	w := NewWatcher(Supported, root).
		SetDebounce(20 * time.Millisecond).
		OnChange(func(context.Context) error {
			reloads.Add(1)
			return nil
		})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, root, "ignored.txt", "x")
	writeFile(t, root, "textures.yaml", texturesYAML)

	deadline := time.Now().Add(3 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if reloads.Load() == 0 {
		t.Fatal("watcher did not reload after a profile change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
