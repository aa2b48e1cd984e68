// Package domain defines core types and errors for the schema deployment tool.
package domain

import "strings"

// ObjectKind classifies a schema object definition.
type ObjectKind string

// Schema object kind constants.
const (
	KindTable   ObjectKind = "table"
	KindView    ObjectKind = "view"
	KindRoutine ObjectKind = "routine"
)

// KindRank orders kinds for deterministic planning: tables sort ahead of
// views and routines because they never reference other objects.
func (k ObjectKind) KindRank() int {
	switch k {
	case KindTable:
		return 0
	case KindView:
		return 1
	case KindRoutine:
		return 2
	default:
		return 3
	}
}

// ObjectID uniquely identifies one schema object definition.
// It is immutable; a rename produces a new id and retires the old one.
type ObjectID struct {
	Dataset string
	Kind    ObjectKind
	Name    string
}

func (id ObjectID) String() string {
	return id.Dataset + "." + id.Name
}

// Less orders ids by (dataset, kind, name) so repeated runs against an
// unchanged source tree produce byte-identical plans.
func (id ObjectID) Less(other ObjectID) bool {
	if id.Dataset != other.Dataset {
		return id.Dataset < other.Dataset
	}
	if id.Kind != other.Kind {
		return id.Kind.KindRank() < other.Kind.KindRank()
	}
	return id.Name < other.Name
}

// Target identifies the deployment destination: a warehouse project plus an
// optional staging suffix appended to every dataset name.
type Target struct {
	Project     string
	StageSuffix string
}

// DatasetName maps a source dataset name to its name under this target.
func (t Target) DatasetName(dataset string) string {
	return dataset + t.StageSuffix
}

// FQN returns the fully-qualified identifier for an object under this target,
// e.g. "project.dataset_stage.name".
func (t Target) FQN(id ObjectID) string {
	return t.Project + "." + t.DatasetName(id.Dataset) + "." + id.Name
}

// SplitRef splits a reference string on its first dot. A one-segment
// reference returns ("", name).
func SplitRef(ref string) (dataset, name string) {
	if i := strings.Index(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}
