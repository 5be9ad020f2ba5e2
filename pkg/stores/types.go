package stores

import (
	"context"
	"time"

	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// ImportHook runs the import pipeline for a resource. The store calls it
// for every performed reimport.
type ImportHook func(ctx context.Context, resourcePath string) error

// AuditRun summarizes one persisted audit
type AuditRun struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Resources     int       `json:"resources"`
	NonConforming int       `json:"non_conforming"`
}

// AuditResult is one flattened result row of an audit run
type AuditResult struct {
	ID        int64              `json:"id"`
	RunID     string             `json:"run_id"`
	Path      string             `json:"path"`
	ProfileID string             `json:"profile_id"`
	TaskName  string             `json:"task_name"`
	TaskType  string             `json:"task_type"`
	Kind      conform.ResultKind `json:"kind"`
	Depth     int                `json:"depth"`
	Name      string             `json:"name"`
	Conforms  bool               `json:"conforms"`
	Expected  string             `json:"expected,omitempty"`
	Actual    string             `json:"actual,omitempty"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	Path      *string    `json:"path,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store is the persistence layer used by the CLI: a resource host plus
// audit history.
type Store interface {
	engine.ResourceAccessor

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Resources
	PutResource(ctx context.Context, res *engine.Resource, settings *propertytree.Tree) error
	DeleteResource(ctx context.Context, resourcePath string) error
	SetImportHook(hook ImportHook)

	// Audit history
	SaveAudit(ctx context.Context, startedAt time.Time, reports []*conform.Report) (*AuditRun, error)
	GetAuditRun(ctx context.Context, id string) (*AuditRun, error)
	ListAuditRuns(ctx context.Context, limit, offset int) ([]*AuditRun, error)
	ListAuditResults(ctx context.Context, runID string) ([]*AuditResult, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, resourcePath *string, level *EventLevel, limit, offset int) ([]*Event, error)
}
