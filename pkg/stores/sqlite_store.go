package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
	"github.com/openfroyo/conform/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	cfg     Config
	schemas *propertytree.Registry

	mu      sync.Mutex
	hook    ImportHook
	inBatch bool
	pending []string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Schemas rebuilds stored settings documents. Nil uses the default
	// registry.
	Schemas *propertytree.Registry
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	schemas := cfg.Schemas
	if schemas == nil {
		schemas = propertytree.DefaultRegistry()
	}

	return &SQLiteStore{cfg: cfg, schemas: schemas}, nil
}

// Init opens the database connection and enables WAL mode for file
// databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// SetImportHook installs the function run on reimport.
func (s *SQLiteStore) SetImportHook(hook ImportHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// PutResource inserts a resource or replaces its metadata and settings.
// The annotation of an existing resource is kept.
func (s *SQLiteStore) PutResource(ctx context.Context, res *engine.Resource, settings *propertytree.Tree) error {
	labels, err := json.Marshal(res.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	doc, annotation, err := encodeSettings(settings)
	if err != nil {
		return err
	}

	importerType := res.ImporterType
	if importerType == "" {
		importerType = settings.Type
	}

	query := `
		INSERT INTO resources (path, importer_type, size, asset_bundle, labels, settings, user_data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			importer_type = excluded.importer_type,
			size = excluded.size,
			asset_bundle = excluded.asset_bundle,
			labels = excluded.labels,
			settings = excluded.settings,
			revision = revision + 1,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = s.db.ExecContext(ctx, query,
		res.Path,
		importerType,
		res.Size,
		res.AssetBundleName,
		string(labels),
		doc,
		annotation,
	)
	if err != nil {
		return fmt.Errorf("failed to put resource: %w", err)
	}
	return nil
}

// DeleteResource removes a resource
func (s *SQLiteStore) DeleteResource(ctx context.Context, resourcePath string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE path = ?`, resourcePath)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return requireRow(result, resourcePath)
}

// Find implements engine.ResourceAccessor.
func (s *SQLiteStore) Find(ctx context.Context, resourcePath string) (*engine.Resource, error) {
	query := `
		SELECT path, importer_type, size, asset_bundle, labels
		FROM resources
		WHERE path = ?
	`
	res, err := scanResource(s.db.QueryRowContext(ctx, query, resourcePath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(resourcePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return res, nil
}

// List implements engine.ResourceAccessor.
func (s *SQLiteStore) List(ctx context.Context) ([]*engine.Resource, error) {
	query := `
		SELECT path, importer_type, size, asset_bundle, labels
		FROM resources
		ORDER BY path ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*engine.Resource{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// Settings implements engine.ResourceAccessor. The stored annotation is
// exposed as the tree's annotation field.
func (s *SQLiteStore) Settings(ctx context.Context, resourcePath string) (*propertytree.Tree, error) {
	var importerType, settings, annotation string
	err := s.db.QueryRowContext(ctx,
		`SELECT importer_type, settings, user_data FROM resources WHERE path = ?`, resourcePath,
	).Scan(&importerType, &settings, &annotation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(resourcePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(settings), &doc); err != nil {
		return nil, engine.NewSchemaMismatchError("stored settings are not a document", err).
			WithResource(resourcePath)
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	doc[propertytree.AnnotationField] = annotation

	tree, err := s.schemas.Build(importerType, doc)
	if err != nil {
		return nil, engine.NewSchemaMismatchError("stored settings do not match schema", err).
			WithResource(resourcePath)
	}
	return tree, nil
}

// CommitSettings implements engine.ResourceAccessor. The tree's annotation
// field is not written; annotations change only through SetAnnotation.
func (s *SQLiteStore) CommitSettings(ctx context.Context, resourcePath string, tree *propertytree.Tree) error {
	doc, _, err := encodeSettings(tree)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE resources
		SET settings = ?, revision = revision + 1, updated_at = CURRENT_TIMESTAMP
		WHERE path = ?
	`, doc, resourcePath)
	if err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	if err := requireRow(result, resourcePath); err != nil {
		return err
	}

	s.logEvent(ctx, resourcePath, EventLevelInfo, "settings committed")
	return nil
}

// Annotation implements engine.ResourceAccessor.
func (s *SQLiteStore) Annotation(ctx context.Context, resourcePath string) (string, error) {
	var annotation string
	err := s.db.QueryRowContext(ctx, `SELECT user_data FROM resources WHERE path = ?`, resourcePath).Scan(&annotation)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(resourcePath)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get annotation: %w", err)
	}
	return annotation, nil
}

// SetAnnotation implements engine.ResourceAccessor.
func (s *SQLiteStore) SetAnnotation(ctx context.Context, resourcePath, value string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources
		SET user_data = ?, updated_at = CURRENT_TIMESTAMP
		WHERE path = ?
	`, value, resourcePath)
	if err != nil {
		return fmt.Errorf("failed to set annotation: %w", err)
	}
	return requireRow(result, resourcePath)
}

// Reimport implements engine.ResourceAccessor. Inside a batch the path is
// queued once; otherwise the import hook runs immediately.
func (s *SQLiteStore) Reimport(ctx context.Context, resourcePath string) error {
	if _, err := s.Find(ctx, resourcePath); err != nil {
		return err
	}

	s.mu.Lock()
	if s.inBatch {
		for _, p := range s.pending {
			if p == resourcePath {
				s.mu.Unlock()
				return nil
			}
		}
		s.pending = append(s.pending, resourcePath)
		s.mu.Unlock()
		return nil
	}
	hook := s.hook
	s.mu.Unlock()

	return s.reimport(ctx, hook, resourcePath)
}

// StartBatch implements engine.ResourceAccessor.
func (s *SQLiteStore) StartBatch(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inBatch = true
}

// StopBatch implements engine.ResourceAccessor. Every queued reimport runs
// even when an earlier one fails; the failures are joined.
func (s *SQLiteStore) StopBatch(ctx context.Context) error {
	s.mu.Lock()
	s.inBatch = false
	pending := s.pending
	s.pending = nil
	hook := s.hook
	s.mu.Unlock()

	var errs []error
	for _, p := range pending {
		errs = append(errs, s.reimport(ctx, hook, p))
	}
	return errors.Join(errs...)
}

func (s *SQLiteStore) reimport(ctx context.Context, hook ImportHook, resourcePath string) error {
	s.logEvent(ctx, resourcePath, EventLevelInfo, "reimport")
	if hook == nil {
		return nil
	}
	if err := hook(ctx, resourcePath); err != nil {
		s.logEvent(ctx, resourcePath, EventLevelError, err.Error())
		return err
	}
	return nil
}

// SaveAudit persists the reports of one audit as a new run.
func (s *SQLiteStore) SaveAudit(ctx context.Context, startedAt time.Time, reports []*conform.Report) (*AuditRun, error) {
	run := &AuditRun{
		ID:          uuid.New().String(),
		StartedAt:   startedAt.UTC(),
		CompletedAt: time.Now().UTC(),
		Resources:   len(reports),
	}
	for _, r := range reports {
		if !r.Conforms() {
			run.NonConforming++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_runs (id, started_at, completed_at, resources, non_conforming)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.CompletedAt, run.Resources, run.NonConforming)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_results (
			run_id, path, profile_id, task_name, task_type, kind,
			depth, name, conforms, expected, actual
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare audit results: %w", err)
	}
	defer stmt.Close()

	for _, r := range reports {
		for _, d := range r.Data {
			for _, e := range conform.Flatten(d.Results, false) {
				_, err := stmt.ExecContext(ctx,
					run.ID, r.Path, d.ProfileID, d.TaskName, d.TaskType, string(e.Kind),
					e.Depth, e.Name, e.Conforms, e.Expected, e.Actual,
				)
				if err != nil {
					return nil, fmt.Errorf("failed to insert audit result: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit run: %w", err)
	}
	telemetry.FromContext(ctx).WithAuditRun(run.ID).
		Debugf("stored audit of %d resources, %d not conforming", run.Resources, run.NonConforming)
	return run, nil
}

// GetAuditRun retrieves an audit run by ID
func (s *SQLiteStore) GetAuditRun(ctx context.Context, id string) (*AuditRun, error) {
	query := `
		SELECT id, started_at, completed_at, resources, non_conforming
		FROM audit_runs
		WHERE id = ?
	`

	run := &AuditRun{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Resources,
		&run.NonConforming,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit run: %w", err)
	}

	return run, nil
}

// ListAuditRuns lists audit runs with pagination, newest first
func (s *SQLiteStore) ListAuditRuns(ctx context.Context, limit, offset int) ([]*AuditRun, error) {
	query := `
		SELECT id, started_at, completed_at, resources, non_conforming
		FROM audit_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit runs: %w", err)
	}
	defer rows.Close()

	runs := []*AuditRun{}
	for rows.Next() {
		run := &AuditRun{}
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.CompletedAt, &run.Resources, &run.NonConforming); err != nil {
			return nil, fmt.Errorf("failed to scan audit run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit runs: %w", err)
	}

	return runs, nil
}

// ListAuditResults lists the results of an audit run in insertion order
func (s *SQLiteStore) ListAuditResults(ctx context.Context, runID string) ([]*AuditResult, error) {
	query := `
		SELECT id, run_id, path, profile_id, task_name, task_type, kind,
			   depth, name, conforms, expected, actual
		FROM audit_results
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit results: %w", err)
	}
	defer rows.Close()

	results := []*AuditResult{}
	for rows.Next() {
		r := &AuditResult{}
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Path,
			&r.ProfileID,
			&r.TaskName,
			&r.TaskType,
			&r.Kind,
			&r.Depth,
			&r.Name,
			&r.Conforms,
			&r.Expected,
			&r.Actual,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit results: %w", err)
	}

	return results, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	// Timestamps are compared as text.
	event.Timestamp = event.Timestamp.UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (path, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.Path,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filtering, newest first
func (s *SQLiteStore) GetEvents(ctx context.Context, resourcePath *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, path, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR path = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, resourcePath, resourcePath, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.Path,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// logEvent records an event; failures only reach the log.
func (s *SQLiteStore) logEvent(ctx context.Context, resourcePath string, level EventLevel, msg string) {
	path := resourcePath
	if err := s.AppendEvent(ctx, &Event{Path: &path, Level: level, Message: msg}); err != nil {
		telemetry.FromContext(ctx).WithResource(resourcePath).WithError(err).Warn("failed to record event")
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*engine.Resource, error) {
	res := &engine.Resource{}
	var labels string
	if err := row.Scan(&res.Path, &res.ImporterType, &res.Size, &res.AssetBundleName, &labels); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(labels), &res.Labels); err != nil {
		return nil, fmt.Errorf("invalid labels of %s: %w", res.Path, err)
	}
	return res, nil
}

// encodeSettings splits a tree into its settings document, without the
// annotation field, and the annotation text.
func encodeSettings(tree *propertytree.Tree) (string, string, error) {
	doc := tree.Document()
	annotation, _ := doc[propertytree.AnnotationField].(string)
	delete(doc, propertytree.AnnotationField)

	data, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode settings: %w", err)
	}
	return string(data), annotation, nil
}

func requireRow(result sql.Result, resourcePath string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound(resourcePath)
	}
	return nil
}

func notFound(resourcePath string) error {
	return engine.NewPermanentError(fmt.Sprintf("resource %s not found", resourcePath), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(resourcePath)
}

var _ Store = (*SQLiteStore)(nil)
