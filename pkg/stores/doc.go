// Package stores provides the SQLite resource host. SQLiteStore keeps
// resources with their import settings and annotations, implements
// engine.ResourceAccessor over them, and records audit runs and an
// append-only event log. The schema is applied with embedded migrations.
package stores
