package warehouse

import (
	"context"
	"fmt"
	"sync"

	"schemaplan/internal/ddl"
	"schemaplan/internal/domain"
)

// Memory is an in-memory Client. It backs unit tests and carries an
// operation log so tests can assert exactly which mutations a plan executed.
type Memory struct {
	mu           sync.Mutex
	datasets     map[string]string
	tables       map[string]map[string][]ddl.ColumnDef
	views        map[string]map[string]string
	routines     map[string]map[string]string
	treeHash     map[string]string
	rescores     []Provenance
	descriptions map[string]string

	// Scores maps "dataset.view" to the aggregate score AggregateScore
	// reports. Changes maps "dataset.before->after" to per-entity diffs.
	Scores  map[string]float64
	Changes map[string][]ScoreChange

	// FailOn maps an op log entry to an error injected when that exact
	// operation is attempted.
	FailOn map[string]error

	ops []string
}

// NewMemory creates an empty in-memory warehouse.
func NewMemory() *Memory {
	return &Memory{
		datasets:     make(map[string]string),
		tables:       make(map[string]map[string][]ddl.ColumnDef),
		views:        make(map[string]map[string]string),
		routines:     make(map[string]map[string]string),
		treeHash:     make(map[string]string),
		descriptions: make(map[string]string),
		Scores:       make(map[string]float64),
		Changes:      make(map[string][]ScoreChange),
		FailOn:       make(map[string]error),
	}
}

// Ops returns the mutation log in execution order.
func (m *Memory) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ops))
	copy(out, m.ops)
	return out
}

// ResetOps clears the mutation log without touching stored state.
func (m *Memory) ResetOps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
}

// Rescores returns every recorded provenance entry.
func (m *Memory) Rescores() []Provenance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Provenance, len(m.rescores))
	copy(out, m.rescores)
	return out
}

// Description returns the stored description of an object, for test assertions.
func (m *Memory) Description(dataset, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.descriptions[dataset+"."+name]
}

// ViewBody returns the stored body of a view, for test assertions.
func (m *Memory) ViewBody(dataset, name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.views[dataset][name]
	return body, ok
}

// SetView seeds a view definition, bypassing the op log.
func (m *Memory) SetView(dataset, name, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views[dataset] == nil {
		m.views[dataset] = make(map[string]string)
	}
	m.views[dataset][name] = body
}

// record logs a mutation and returns the injected error, if any.
// Called with m.mu held.
func (m *Memory) record(op string) error {
	m.ops = append(m.ops, op)
	if err := m.FailOn[op]; err != nil {
		return domain.ErrWarehouseOperation(op, "", err)
	}
	return nil
}

func (m *Memory) EnsureDataset(_ context.Context, dataset, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[dataset]; ok {
		return nil
	}
	m.datasets[dataset] = description
	return m.record("ensure_dataset " + dataset)
}

func (m *Memory) Tables(_ context.Context, dataset string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.tables[dataset]))
	for name := range m.tables[dataset] {
		out[name] = true
	}
	return out, nil
}

func (m *Memory) Views(_ context.Context, dataset string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.views[dataset]))
	for name, body := range m.views[dataset] {
		out[name] = body
	}
	return out, nil
}

func (m *Memory) Routines(_ context.Context, dataset string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.routines[dataset]))
	for name, def := range m.routines[dataset] {
		out[name] = def
	}
	return out, nil
}

func (m *Memory) CreateTable(_ context.Context, dataset, name string, columns []ddl.ColumnDef, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("create_table %s.%s", dataset, name)); err != nil {
		return err
	}
	if m.tables[dataset] == nil {
		m.tables[dataset] = make(map[string][]ddl.ColumnDef)
	}
	m.tables[dataset][name] = columns
	m.descriptions[dataset+"."+name] = description
	return nil
}

func (m *Memory) CreateOrReplaceView(_ context.Context, dataset, name, query, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("create_view %s.%s", dataset, name)); err != nil {
		return err
	}
	if m.views[dataset] == nil {
		m.views[dataset] = make(map[string]string)
	}
	m.views[dataset][name] = query
	m.descriptions[dataset+"."+name] = description
	return nil
}

func (m *Memory) CreateOrReplaceRoutine(_ context.Context, dataset, name, definition, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("create_routine %s.%s", dataset, name)); err != nil {
		return err
	}
	if m.routines[dataset] == nil {
		m.routines[dataset] = make(map[string]string)
	}
	m.routines[dataset][name] = definition
	m.descriptions[dataset+"."+name] = description
	return nil
}

func (m *Memory) DropTable(_ context.Context, dataset, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("drop_table %s.%s", dataset, name)); err != nil {
		return err
	}
	delete(m.tables[dataset], name)
	return nil
}

func (m *Memory) DropView(_ context.Context, dataset, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("drop_view %s.%s", dataset, name)); err != nil {
		return err
	}
	delete(m.views[dataset], name)
	return nil
}

func (m *Memory) DropRoutine(_ context.Context, dataset, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("drop_routine %s.%s", dataset, name)); err != nil {
		return err
	}
	delete(m.routines[dataset], name)
	return nil
}

func (m *Memory) LastTreeHash(_ context.Context, dataset string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.treeHash[dataset]
	return hash, ok, nil
}

func (m *Memory) RecordTreeHash(_ context.Context, dataset, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("record_tree_hash " + dataset); err != nil {
		return err
	}
	m.treeHash[dataset] = hash
	return nil
}

func (m *Memory) AggregateScore(_ context.Context, dataset, view string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Scores[dataset+"."+view], nil
}

func (m *Memory) ScoreChanges(_ context.Context, dataset, beforeView, afterView string) ([]ScoreChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Changes[fmt.Sprintf("%s.%s->%s", dataset, beforeView, afterView)], nil
}

func (m *Memory) RescoreRecorded(_ context.Context, _ string, archivedAs string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rescores {
		if p.ArchivedAs == archivedAs {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RecordRescore(_ context.Context, dataset string, p Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("record_rescore " + dataset); err != nil {
		return err
	}
	m.rescores = append(m.rescores, p)
	return nil
}
