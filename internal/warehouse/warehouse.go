// Package warehouse abstracts the SQL warehouse the planner deploys to. The
// planner treats it as a store of named definitions plus append-only history
// tables; everything dialect-specific stays behind the Client interface.
package warehouse

import (
	"context"
	"time"

	"schemaplan/internal/ddl"
)

// Metadata table names created on demand in each deployed dataset.
const (
	SchemaUpdatesTable  = "schema_updates"
	RescoreRunsTable    = "rescore_runs"
	RescoreChangesTable = "rescore_changes"
)

// ScoreChange is one entity whose aggregate score differs between the old
// and new definition of a rescored view.
type ScoreChange struct {
	Entity string
	Before float64
	After  float64
}

// Provenance describes one completed rescore for the audit tables: the
// aggregate before/after scores plus every per-entity change.
type Provenance struct {
	OpID       string
	RunAt      time.Time
	Name       string
	Reason     string
	View       string
	ArchivedAs string
	Before     float64
	After      float64
	Changes    []ScoreChange
}

// Client is the warehouse surface the planner and rescore executor depend
// on. All calls block on remote I/O and honor context cancellation.
type Client interface {
	// EnsureDataset creates the dataset if absent. Idempotent.
	EnsureDataset(ctx context.Context, dataset, description string) error

	// Tables returns the set of table names existing in a dataset.
	Tables(ctx context.Context, dataset string) (map[string]bool, error)
	// Views returns view name to current definition body.
	Views(ctx context.Context, dataset string) (map[string]string, error)
	// Routines returns routine name to definition. Returned bodies are not
	// reliable for diffing; callers may only trust the key set.
	Routines(ctx context.Context, dataset string) (map[string]string, error)

	CreateTable(ctx context.Context, dataset, name string, columns []ddl.ColumnDef, description string) error
	CreateOrReplaceView(ctx context.Context, dataset, name, query, description string) error
	// CreateOrReplaceRoutine executes a complete rendered routine
	// definition statement and attaches the description as a comment.
	// The name is informational, for errors.
	CreateOrReplaceRoutine(ctx context.Context, dataset, name, definition, description string) error

	DropTable(ctx context.Context, dataset, name string) error
	DropView(ctx context.Context, dataset, name string) error
	DropRoutine(ctx context.Context, dataset, name string) error

	// LastTreeHash returns the most recently recorded source tree hash for
	// a dataset, with ok=false when none has ever been recorded.
	LastTreeHash(ctx context.Context, dataset string) (string, bool, error)
	RecordTreeHash(ctx context.Context, dataset, hash string) error

	// AggregateScore sums the score column of a scored view.
	AggregateScore(ctx context.Context, dataset, view string) (float64, error)
	// ScoreChanges returns the entities whose scores differ between two
	// scored views, ordered by entity.
	ScoreChanges(ctx context.Context, dataset, beforeView, afterView string) ([]ScoreChange, error)
	// RecordRescore appends provenance rows for one completed rescore.
	RecordRescore(ctx context.Context, dataset string, p Provenance) error
	// RescoreRecorded reports whether provenance naming the given archive
	// already exists, so a re-run never records a rescore twice.
	RescoreRecorded(ctx context.Context, dataset, archivedAs string) (bool, error)
}
