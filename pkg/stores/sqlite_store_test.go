package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
)

const heroPath = "Assets/Textures/hero.png"

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func textureTree(size int64) *propertytree.Tree {
	return propertytree.New("CustomImporter",
		propertytree.Int("maxTextureSize", size),
		propertytree.Bool("isReadable", true),
		propertytree.String(propertytree.AnnotationField, "seed note"),
	)
}

func putHero(t *testing.T, store *SQLiteStore) {
	t.Helper()
	res := &engine.Resource{
		Path:            heroPath,
		Size:            4096,
		AssetBundleName: "characters",
		Labels:          []string{"Hero", "HD"},
	}
	if err := store.PutResource(context.Background(), res, textureTree(2048)); err != nil {
		t.Fatalf("PutResource: %v", err)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("empty path should be rejected")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"resources", "audit_runs", "audit_results", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration should be a no-op: %v", err)
	}
}

func TestResourceCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	putHero(t, store)

	res, err := store.Find(ctx, heroPath)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.ImporterType != "CustomImporter" || res.Size != 4096 || res.AssetBundleName != "characters" {
		t.Errorf("resource = %+v", res)
	}
	if len(res.Labels) != 2 || res.Labels[0] != "Hero" {
		t.Errorf("labels = %v", res.Labels)
	}

	ann, err := store.Annotation(ctx, heroPath)
	if err != nil || ann != "seed note" {
		t.Errorf("Annotation = %q, %v", ann, err)
	}

	// A second put replaces settings but keeps the annotation.
	if err := store.SetAnnotation(ctx, heroPath, "edited"); err != nil {
		t.Fatalf("SetAnnotation: %v", err)
	}
	if err := store.PutResource(ctx, &engine.Resource{Path: heroPath}, textureTree(512)); err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	if ann, _ := store.Annotation(ctx, heroPath); ann != "edited" {
		t.Errorf("annotation after re-put = %q", ann)
	}

	store.PutResource(ctx, &engine.Resource{Path: "Assets/Audio/click.wav"},
		propertytree.New("AudioImporter", propertytree.Bool("forceToMono", true)))
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Path != "Assets/Audio/click.wav" {
		t.Errorf("List = %v", list)
	}

	if err := store.DeleteResource(ctx, heroPath); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	var ee *engine.EngineError
	if _, err := store.Find(ctx, heroPath); !errors.As(err, &ee) || ee.Code != engine.ErrCodeNotFound {
		t.Errorf("Find after delete = %v", err)
	}
	if err := store.DeleteResource(ctx, heroPath); err == nil {
		t.Error("deleting a missing resource should fail")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	putHero(t, store)

	tree, err := store.Settings(ctx, heroPath)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got := tree.Lookup("maxTextureSize").Value.Int; got != 2048 {
		t.Errorf("maxTextureSize = %d", got)
	}
	if got := tree.Lookup(propertytree.AnnotationField).Value.Str; got != "seed note" {
		t.Errorf("annotation field = %q", got)
	}

	if err := tree.Set("maxTextureSize", propertytree.Value{Int: 256}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tree.Set(propertytree.AnnotationField, propertytree.Value{Str: "stale"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.CommitSettings(ctx, heroPath, tree); err != nil {
		t.Fatalf("CommitSettings: %v", err)
	}

	again, err := store.Settings(ctx, heroPath)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got := again.Lookup("maxTextureSize").Value.Int; got != 256 {
		t.Errorf("committed maxTextureSize = %d", got)
	}
	if ann, _ := store.Annotation(ctx, heroPath); ann != "seed note" {
		t.Errorf("commit must not write the annotation, got %q", ann)
	}

	if err := store.CommitSettings(ctx, "Assets/missing.png", tree); err == nil {
		t.Error("commit to a missing resource should fail")
	}
}

func TestReimportBatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	putHero(t, store)

	var imported []string
	store.SetImportHook(func(_ context.Context, path string) error {
		imported = append(imported, path)
		return nil
	})

	if err := store.Reimport(ctx, heroPath); err != nil {
		t.Fatalf("Reimport: %v", err)
	}
	if len(imported) != 1 {
		t.Fatalf("immediate reimport ran %d times", len(imported))
	}

	store.StartBatch(ctx)
	for i := 0; i < 3; i++ {
		if err := store.Reimport(ctx, heroPath); err != nil {
			t.Fatalf("Reimport in batch: %v", err)
		}
	}
	if len(imported) != 1 {
		t.Error("reimports inside a batch must be deferred")
	}
	if err := store.StopBatch(ctx); err != nil {
		t.Fatalf("StopBatch: %v", err)
	}
	if len(imported) != 2 {
		t.Errorf("batched reimports ran %d times, want one per path", len(imported)-1)
	}

	if err := store.Reimport(ctx, "Assets/missing.png"); err == nil {
		t.Error("reimporting a missing resource should fail")
	}
}

func TestReimportHookFailure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	putHero(t, store)

	boom := errors.New("boom")
	store.SetImportHook(func(context.Context, string) error { return boom })

	store.StartBatch(ctx)
	_ = store.Reimport(ctx, heroPath)
	if err := store.StopBatch(ctx); !errors.Is(err, boom) {
		t.Errorf("StopBatch = %v, want hook error", err)
	}

	path := heroPath
	level := EventLevelError
	events, err := store.GetEvents(ctx, &path, &level, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Message != "boom" {
		t.Errorf("error events = %+v", events)
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	path := heroPath
	details := `{"task":"base"}`
	tests := []*Event{
		{Path: &path, Level: EventLevelInfo, Message: "first"},
		{Path: &path, Level: EventLevelWarning, Message: "second", Details: &details},
		{Level: EventLevelInfo, Message: "global", Timestamp: time.Now().Add(time.Minute)},
	}
	for _, e := range tests {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if e.ID == 0 {
			t.Error("event ID not set")
		}
	}

	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(all) != 3 || all[0].Message != "global" {
		t.Errorf("events = %d, first %q", len(all), all[0].Message)
	}

	scoped, err := store.GetEvents(ctx, &path, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("scoped events = %d", len(scoped))
	}
}

func TestSaveAudit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tmpl := propertytree.New("TextureImporter", propertytree.Int("maxTextureSize", 512))
	conforming := conform.Compare(tmpl, tmpl.Clone()).Children()
	diverging := conform.Compare(tmpl, propertytree.New("TextureImporter", propertytree.Int("maxTextureSize", 2048))).Children()

	reports := []*conform.Report{
		{Path: "Assets/a.png", ImporterType: "TextureImporter", Data: []conform.Data{
			{ProfileID: "p", TaskName: "base", TaskType: "importer-properties", Kind: conform.ResultKindProperty, Results: conforming},
		}},
		{Path: "Assets/b.png", ImporterType: "TextureImporter", Data: []conform.Data{
			{ProfileID: "p", TaskName: "base", TaskType: "importer-properties", Kind: conform.ResultKindProperty, Results: diverging},
		}},
	}

	started := time.Now().Add(-time.Second)
	run, err := store.SaveAudit(ctx, started, reports)
	if err != nil {
		t.Fatalf("SaveAudit: %v", err)
	}
	if run.Resources != 2 || run.NonConforming != 1 {
		t.Errorf("run = %+v", run)
	}

	got, err := store.GetAuditRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetAuditRun: %v", err)
	}
	if got.NonConforming != 1 {
		t.Errorf("stored run = %+v", got)
	}

	results, err := store.ListAuditResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListAuditResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if !results[0].Conforms || results[1].Conforms {
		t.Errorf("conforms flags = %v, %v", results[0].Conforms, results[1].Conforms)
	}
	if results[1].Expected != "512" || results[1].Actual != "2048" {
		t.Errorf("diverging result = %+v", results[1])
	}

	runs, err := store.ListAuditRuns(ctx, 10, 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListAuditRuns = %v, %v", runs, err)
	}
	if _, err := store.GetAuditRun(ctx, "missing"); err == nil {
		t.Error("missing audit run should fail")
	}
}
