package render

import (
	"strings"

	"schemaplan/internal/domain"
	"schemaplan/internal/schema"
)

// Resolver turns ref() calls inside templates into fully-qualified warehouse
// identifiers, recording a dependency edge for every resolved reference. It
// consults only the pre-built name index, so resolution is independent of
// rendering order.
type Resolver struct {
	index   *schema.Index
	graph   *schema.Graph
	target  domain.Target
	renames map[domain.ObjectID]string
}

// NewResolver creates a resolver for one deployment target.
func NewResolver(index *schema.Index, graph *schema.Graph, target domain.Target) *Resolver {
	return &Resolver{index: index, graph: graph, target: target}
}

// WithRenames returns a resolver that substitutes new names for the given
// objects while resolving. Used to re-render dependents during a rescore
// promotion, where references must follow the object to its new name.
func (r *Resolver) WithRenames(renames map[domain.ObjectID]string) *Resolver {
	return &Resolver{index: r.index, graph: r.graph, target: r.target, renames: renames}
}

// RefFunc returns the ref() callable for templates of the given object.
//
// A one-segment reference resolves against the referencing object's own
// dataset; "dataset.name" resolves against the named dataset. Both forms
// must name a known object. A reference already carrying a project
// ("project.dataset.name") is treated as external and passed through
// untouched, without an edge.
func (r *Resolver) RefFunc(from domain.ObjectID) domain.Callable {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, domain.ErrTemplate(from, errRefArity)
		}
		ref, ok := args[0].(string)
		if !ok {
			return nil, domain.ErrTemplate(from, errRefArity)
		}
		return r.Resolve(from, ref)
	}
}

var errRefArity = &refArityError{}

type refArityError struct{}

func (*refArityError) Error() string { return "ref() expects exactly one string argument" }

// Resolve resolves one reference string on behalf of from.
func (r *Resolver) Resolve(from domain.ObjectID, ref string) (string, error) {
	if strings.Count(ref, ".") >= 2 {
		// Already project-qualified: an external object outside this tree.
		return ref, nil
	}

	dataset, name := domain.SplitRef(ref)
	if dataset == "" {
		dataset = from.Dataset
	}
	id, ok := r.index.Lookup(dataset, name)
	if !ok {
		return "", domain.ErrUnresolvedReference(ref, from)
	}

	if id != from {
		r.graph.AddEdge(from, id)
	}

	if renamed, ok := r.renames[id]; ok {
		id.Name = renamed
	}
	return r.target.FQN(id), nil
}
