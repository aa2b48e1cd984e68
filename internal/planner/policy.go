package planner

import "schemaplan/internal/domain"

// Policy decides how a kind of object is deployed when it already exists
// remotely. A per-kind policy keeps "routines always redeploy" a stated rule
// instead of a special case inside the diff loop.
type Policy int

const (
	// CreateOnly creates the object when absent and never replaces it.
	// Tables hold data; replacing one would destroy it.
	CreateOnly Policy = iota
	// DiffAndReplace replaces the object when its canonical rendered text
	// differs from the remote text.
	DiffAndReplace
	// AlwaysReplace redeploys on every run. Used for routines, whose remote
	// bodies cannot be introspected reliably enough to trust a diff.
	AlwaysReplace
)

func (p Policy) String() string {
	switch p {
	case CreateOnly:
		return "create-only"
	case DiffAndReplace:
		return "diff-and-replace"
	case AlwaysReplace:
		return "always-replace"
	default:
		return "unknown"
	}
}

// PolicyFor returns the deployment policy for an object kind.
func PolicyFor(kind domain.ObjectKind) Policy {
	switch kind {
	case domain.KindTable:
		return CreateOnly
	case domain.KindRoutine:
		return AlwaysReplace
	default:
		return DiffAndReplace
	}
}
