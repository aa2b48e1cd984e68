package schema

import (
	"sort"
	"sync"

	"schemaplan/internal/domain"
)

// refKey is the lookup key for reference resolution: object names are unique
// per dataset across kinds.
type refKey struct {
	dataset string
	name    string
}

// Index is the immutable name registry consulted by ref(). It is built in a
// single pass before any rendering begins and never mutated afterwards, so
// resolution cannot depend on rendering order.
type Index struct {
	byKey map[refKey]domain.ObjectID
}

// BuildIndex constructs the (dataset, name) → id registry. Two objects
// sharing a dataset and name is a configuration error regardless of kind,
// since references carry no kind information.
func BuildIndex(datasets []*Dataset) (*Index, error) {
	byKey := make(map[refKey]domain.ObjectID)
	for _, ds := range datasets {
		for _, obj := range ds.Objects {
			key := refKey{dataset: obj.ID.Dataset, name: obj.ID.Name}
			if existing, ok := byKey[key]; ok {
				return nil, domain.ErrConfigValidation(
					"duplicate object name %s: defined as both %s and %s",
					obj.ID, existing.Kind, obj.ID.Kind)
			}
			byKey[key] = obj.ID
		}
	}
	return &Index{byKey: byKey}, nil
}

// Lookup resolves a (dataset, name) pair to a known object id.
func (ix *Index) Lookup(dataset, name string) (domain.ObjectID, bool) {
	id, ok := ix.byKey[refKey{dataset: dataset, name: name}]
	return id, ok
}

// Edge is a directed reference: From's rendered body contains a
// fully-qualified reference to To.
type Edge struct {
	From domain.ObjectID
	To   domain.ObjectID
}

// Graph owns the complete set of object definitions and reference edges for
// one deployment target. Edge recording is safe for concurrent use so that
// independent objects may render in parallel.
type Graph struct {
	mu      sync.Mutex
	objects map[domain.ObjectID]*Object
	edges   map[Edge]struct{}
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		objects: make(map[domain.ObjectID]*Object),
		edges:   make(map[Edge]struct{}),
	}
}

// NewGraphFromTree creates a graph holding every object of the loaded tree.
func NewGraphFromTree(datasets []*Dataset) *Graph {
	g := NewGraph()
	for _, ds := range datasets {
		for _, obj := range ds.Objects {
			g.AddObject(obj)
		}
	}
	return g
}

// AddObject registers a definition.
func (g *Graph) AddObject(obj *Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[obj.ID] = obj
}

// Object returns the definition for an id.
func (g *Graph) Object(id domain.ObjectID) (*Object, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	obj, ok := g.objects[id]
	return obj, ok
}

// Objects returns every definition ordered by id.
func (g *Graph) Objects() []*Object {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Object, 0, len(g.objects))
	for _, obj := range g.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// AddEdge records a reference edge idempotently: repeated references between
// the same pair produce one edge.
func (g *Graph) AddEdge(from, to domain.ObjectID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[Edge{From: from, To: to}] = struct{}{}
}

// Edges returns the edge set in deterministic order.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From.Less(out[j].From)
		}
		return out[i].To.Less(out[j].To)
	})
	return out
}

// Dependents returns the ids whose bodies reference the given id, ordered.
func (g *Graph) Dependents(to domain.ObjectID) []domain.ObjectID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.ObjectID
	for e := range g.edges {
		if e.To == to {
			out = append(out, e.From)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// TopologicalOrder returns the ids ordered so that for every edge a→b, b
// appears before a: dependencies are created before their dependents. Ids
// with no ordering constraint between them are tie-broken by (dataset, kind,
// name) so repeated runs produce identical plans; the kind rank places
// tables ahead of views and routines. A cycle fails with
// CyclicDependencyError naming the cycle members.
func (g *Graph) TopologicalOrder() ([]domain.ObjectID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inDegree := make(map[domain.ObjectID]int, len(g.objects))
	dependents := make(map[domain.ObjectID][]domain.ObjectID)
	for id := range g.objects {
		inDegree[id] = 0
	}
	for e := range g.edges {
		// Self-references never become edges; guard anyway.
		if e.From == e.To {
			continue
		}
		dependents[e.To] = append(dependents[e.To], e.From)
		inDegree[e.From]++
	}

	var queue []domain.ObjectID
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]domain.ObjectID, 0, len(g.objects))
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool { return queue[i].Less(queue[j]) })
		var next []domain.ObjectID
		for _, id := range queue {
			order = append(order, id)
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if len(order) != len(g.objects) {
		return nil, &domain.CyclicDependencyError{Members: g.cycleMembers()}
	}
	return order, nil
}

// cycleMembers finds every node lying on a cycle, using Tarjan's strongly
// connected components. Called with g.mu held.
func (g *Graph) cycleMembers() []domain.ObjectID {
	adjacent := make(map[domain.ObjectID][]domain.ObjectID)
	for e := range g.edges {
		adjacent[e.From] = append(adjacent[e.From], e.To)
	}

	var (
		index    = make(map[domain.ObjectID]int)
		lowlink  = make(map[domain.ObjectID]int)
		onStack  = make(map[domain.ObjectID]bool)
		stack    []domain.ObjectID
		counter  int
		members  []domain.ObjectID
		strongly func(v domain.ObjectID)
	)

	strongly = func(v domain.ObjectID) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adjacent[v] {
			if _, seen := index[w]; !seen {
				strongly(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var component []domain.ObjectID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			if len(component) > 1 {
				members = append(members, component...)
			}
		}
	}

	for id := range g.objects {
		if _, seen := index[id]; !seen {
			strongly(id)
		}
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Less(members[j]) })
	return members
}
