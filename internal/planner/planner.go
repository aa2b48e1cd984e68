// Package planner computes and executes the ordered set of warehouse
// operations needed to make the remote schema match a rendered source tree.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"schemaplan/internal/ddl"
	"schemaplan/internal/domain"
	"schemaplan/internal/schema"
	"schemaplan/internal/warehouse"
)

// Action is one planned mutation kind.
type Action string

// Plan step actions.
const (
	ActionCreate  Action = "create"
	ActionReplace Action = "replace"
	ActionSkip    Action = "skip"
	ActionDrop    Action = "drop"
)

// Step is one planned operation against a single object.
type Step struct {
	ID     domain.ObjectID
	Action Action
	Reason string
	// Diff is a unified diff of remote against rendered text, populated for
	// replaced views so a dry run can show what changes.
	Diff string

	body        string
	columns     []ddl.ColumnDef
	description string
}

// Plan is the ordered operation sequence for one deployment run.
type Plan struct {
	Target   domain.Target
	UpToDate bool
	Steps    []Step
}

// Mutations returns the steps that would write to the warehouse.
func (p *Plan) Mutations() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Action != ActionSkip {
			out = append(out, s)
		}
	}
	return out
}

// Summary renders the plan for dry-run output.
func (p *Plan) Summary() string {
	if p.UpToDate {
		return "source tree unchanged since last deployment; nothing to do\n"
	}
	var b strings.Builder
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "%-8s %-8s %s", s.Action, s.ID.Kind, p.Target.FQN(s.ID))
		if s.Reason != "" {
			fmt.Fprintf(&b, " (%s)", s.Reason)
		}
		b.WriteByte('\n')
		if s.Diff != "" {
			b.WriteString(s.Diff)
		}
	}
	return b.String()
}

// Options tune one planning run.
type Options struct {
	// SourceHash is the tree hash of the source root. When set, a run whose
	// hash matches the last recorded one is skipped entirely.
	SourceHash string
	// Recreate disables the tree-hash skip and forces a full plan.
	Recreate bool
	// DeleteExtra plans drops for remote objects absent from the source tree.
	DeleteExtra bool
}

// Planner builds and executes deployment plans.
type Planner struct {
	client   warehouse.Client
	graph    *schema.Graph
	datasets []*schema.Dataset
	target   domain.Target
	opts     Options
	logger   *slog.Logger
}

// New creates a planner over a fully rendered graph.
func New(client warehouse.Client, graph *schema.Graph, datasets []*schema.Dataset, target domain.Target, opts Options, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, graph: graph, datasets: datasets, target: target, opts: opts, logger: logger}
}

// remoteState is the introspected content of one remote dataset.
type remoteState struct {
	tables   map[string]bool
	views    map[string]string
	routines map[string]string
}

// BuildPlan computes the ordered operation sequence. It performs remote
// reads only; a structural problem (cycle) aborts immediately, while
// per-object problems are collected and returned together.
func (p *Planner) BuildPlan(ctx context.Context) (*Plan, error) {
	plan := &Plan{Target: p.target}

	if p.opts.SourceHash != "" && !p.opts.Recreate {
		upToDate, err := p.allDatasetsCurrent(ctx)
		if err != nil {
			return nil, err
		}
		if upToDate {
			plan.UpToDate = true
			return plan, nil
		}
	}

	order, err := p.graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	remotes := make(map[string]*remoteState)
	report := &domain.Report{}
	for _, id := range order {
		remote, err := p.remote(ctx, id.Dataset, remotes)
		if err != nil {
			return nil, err
		}
		obj, ok := p.graph.Object(id)
		if !ok {
			return nil, fmt.Errorf("graph order names unknown object %s", id)
		}
		step, err := p.planObject(obj, remote)
		if err != nil {
			report.Add(err)
			continue
		}
		plan.Steps = append(plan.Steps, step)
	}

	if p.opts.DeleteExtra {
		drops, err := p.planDrops(ctx, remotes)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, drops...)
	}

	if err := report.Err(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Planner) allDatasetsCurrent(ctx context.Context) (bool, error) {
	for _, ds := range p.datasets {
		hash, ok, err := p.client.LastTreeHash(ctx, p.target.DatasetName(ds.Name))
		if err != nil {
			return false, err
		}
		if !ok || hash != p.opts.SourceHash {
			return false, nil
		}
	}
	return true, nil
}

func (p *Planner) remote(ctx context.Context, dataset string, cache map[string]*remoteState) (*remoteState, error) {
	if state, ok := cache[dataset]; ok {
		return state, nil
	}
	name := p.target.DatasetName(dataset)
	tables, err := p.client.Tables(ctx, name)
	if err != nil {
		return nil, err
	}
	views, err := p.client.Views(ctx, name)
	if err != nil {
		return nil, err
	}
	routines, err := p.client.Routines(ctx, name)
	if err != nil {
		return nil, err
	}
	state := &remoteState{tables: tables, views: views, routines: routines}
	cache[dataset] = state
	return state, nil
}

func (p *Planner) planObject(obj *schema.Object, remote *remoteState) (Step, error) {
	body, ok := obj.Rendered()
	if !ok {
		return Step{}, domain.ErrTemplate(obj.ID, errors.New("object was never rendered"))
	}
	step := Step{ID: obj.ID, body: body, description: obj.Metadata.Description}

	switch PolicyFor(obj.ID.Kind) {
	case CreateOnly:
		cols, err := tableColumns(obj.ID, body)
		if err != nil {
			return Step{}, err
		}
		step.columns = cols
		if remote.tables[obj.ID.Name] {
			step.Action = ActionSkip
			step.Reason = "table exists"
		} else {
			step.Action = ActionCreate
		}

	case AlwaysReplace:
		if err := validateRoutine(obj.ID, p.target.FQN(obj.ID), body); err != nil {
			return Step{}, err
		}
		if _, exists := remote.routines[obj.ID.Name]; exists {
			step.Action = ActionReplace
			step.Reason = "routines always redeploy"
		} else {
			step.Action = ActionCreate
		}

	default:
		current, exists := remote.views[obj.ID.Name]
		switch {
		case !exists:
			step.Action = ActionCreate
		case sameDefinition(current, body):
			step.Action = ActionSkip
			step.Reason = "definition unchanged"
		default:
			step.Action = ActionReplace
			step.Reason = "definition changed"
			step.Diff = unifiedDiff(obj.ID, current, body)
		}
	}
	return step, nil
}

// planDrops plans removal of remote objects with no source definition.
// Metadata and archive objects are never dropped.
func (p *Planner) planDrops(ctx context.Context, cache map[string]*remoteState) ([]Step, error) {
	var steps []Step
	for _, ds := range p.datasets {
		remote, err := p.remote(ctx, ds.Name, cache)
		if err != nil {
			return nil, err
		}
		defined := make(map[string]bool, len(ds.Objects))
		for _, obj := range ds.Objects {
			defined[obj.ID.Name] = true
		}
		drop := func(kind domain.ObjectKind, name string) {
			if defined[name] || managedName(name) {
				return
			}
			steps = append(steps, Step{
				ID:     domain.ObjectID{Dataset: ds.Name, Kind: kind, Name: name},
				Action: ActionDrop,
				Reason: "no source definition",
			})
		}
		for name := range remote.tables {
			drop(domain.KindTable, name)
		}
		for name := range remote.views {
			drop(domain.KindView, name)
		}
		for name := range remote.routines {
			drop(domain.KindRoutine, name)
		}
	}
	sortSteps(steps)
	return steps, nil
}

// managedName reports whether a remote name belongs to the tool itself:
// metadata tables and rescore archives survive delete-extra.
func managedName(name string) bool {
	switch name {
	case warehouse.SchemaUpdatesTable, warehouse.RescoreRunsTable, warehouse.RescoreChangesTable:
		return true
	}
	return strings.Contains(name, "_before_")
}

// Execute runs a plan against the warehouse in order. Per-object failures
// are collected so independent objects still deploy; the tree hash is only
// recorded after a fully clean run.
func (p *Planner) Execute(ctx context.Context, plan *Plan) error {
	if plan.UpToDate {
		p.logger.Info("schema up to date, skipping deployment")
		return nil
	}

	for _, ds := range p.datasets {
		if err := p.client.EnsureDataset(ctx, p.target.DatasetName(ds.Name), ds.Description); err != nil {
			return err
		}
	}

	report := &domain.Report{}
	for _, step := range plan.Steps {
		if step.Action == ActionSkip {
			continue
		}
		if err := p.executeStep(ctx, step); err != nil {
			p.logger.Error("step failed", "object", step.ID.String(), "action", string(step.Action), "error", err)
			report.Add(err)
			continue
		}
		p.logger.Info("applied", "object", step.ID.String(), "action", string(step.Action))
	}

	if err := report.Err(); err != nil {
		return err
	}
	if p.opts.SourceHash != "" {
		for _, ds := range p.datasets {
			if err := p.client.RecordTreeHash(ctx, p.target.DatasetName(ds.Name), p.opts.SourceHash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Planner) executeStep(ctx context.Context, step Step) error {
	dataset := p.target.DatasetName(step.ID.Dataset)
	switch {
	case step.Action == ActionDrop:
		switch step.ID.Kind {
		case domain.KindTable:
			return p.client.DropTable(ctx, dataset, step.ID.Name)
		case domain.KindView:
			return p.client.DropView(ctx, dataset, step.ID.Name)
		default:
			return p.client.DropRoutine(ctx, dataset, step.ID.Name)
		}
	case step.ID.Kind == domain.KindTable:
		return p.client.CreateTable(ctx, dataset, step.ID.Name, step.columns, step.description)
	case step.ID.Kind == domain.KindView:
		return p.client.CreateOrReplaceView(ctx, dataset, step.ID.Name, step.body, step.description)
	default:
		return p.client.CreateOrReplaceRoutine(ctx, dataset, step.ID.Name, step.body, step.description)
	}
}

func tableColumns(id domain.ObjectID, body string) ([]ddl.ColumnDef, error) {
	cols, err := schema.ParseTableColumns(body)
	if err != nil {
		return nil, domain.ErrTemplate(id, err)
	}
	out := make([]ddl.ColumnDef, len(cols))
	for i, c := range cols {
		out[i] = ddl.ColumnDef{
			Name:     c.Name,
			Type:     c.Type,
			Repeated: c.Mode == schema.ModeRepeated,
			Required: c.Mode == schema.ModeRequired,
		}
	}
	return out, nil
}

// validateRoutine checks the rendered text is a complete replace-safe macro
// definition naming the object's own fully-qualified name, since routines are
// executed verbatim. A template that quietly defines a differently-named
// macro must never deploy under this object's identity.
func validateRoutine(id domain.ObjectID, fqn, body string) error {
	text := strings.TrimSpace(body)
	upper := strings.ToUpper(text)
	var header string
	switch {
	case strings.HasPrefix(upper, "CREATE OR REPLACE MACRO "):
		header = "CREATE OR REPLACE MACRO "
	case strings.HasPrefix(upper, "CREATE OR REPLACE FUNCTION "):
		header = "CREATE OR REPLACE FUNCTION "
	default:
		return domain.ErrTemplate(id, errors.New("routine definition must begin with CREATE OR REPLACE MACRO"))
	}
	name := text[len(header):]
	if i := strings.IndexAny(name, "( \t\r\n"); i >= 0 {
		name = name[:i]
	}
	if !strings.EqualFold(name, fqn) {
		return domain.ErrTemplate(id, fmt.Errorf("routine definition names %s, expected %s", name, fqn))
	}
	return nil
}

func unifiedDiff(id domain.ObjectID, remote, rendered string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(Canonicalize(remote) + "\n"),
		B:        difflib.SplitLines(Canonicalize(rendered) + "\n"),
		FromFile: id.String() + " (remote)",
		ToFile:   id.String() + " (rendered)",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

func sortSteps(steps []Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID.Less(steps[j].ID) })
}
