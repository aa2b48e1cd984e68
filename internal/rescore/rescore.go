// Package rescore executes atomic rename-and-repoint operations: swapping a
// canonical scored view's logic for a provisional replacement while archiving
// the old definition, repointing every dependent and recording provenance.
package rescore

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"schemaplan/internal/domain"
	"schemaplan/internal/metrics"
	"schemaplan/internal/planner"
	"schemaplan/internal/render"
	"schemaplan/internal/schema"
	"schemaplan/internal/warehouse"
)

// State names one phase of a rescore. Each run derives its starting point
// from observed warehouse state, never from process memory, so a crashed run
// resumes by simply re-running the same command.
type State string

// Rescore states, in execution order.
const (
	StateProposed            State = "proposed"
	StateValidated           State = "validated"
	StateArchiving           State = "archiving"
	StatePromoting           State = "promoting"
	StateRewritingDependents State = "rewriting_dependents"
	StateRecordingProvenance State = "recording_provenance"
	StateComplete            State = "complete"
)

// archiveTimestampLayout builds archive names like scored_before_202608231130.
const archiveTimestampLayout = "200601021504"

// Executor runs rescore operations against one deployment target. Only one
// rescore may be in flight at a time; concurrent rescores over overlapping
// dependents are an operational hazard the tool does not detect.
type Executor struct {
	client         warehouse.Client
	graph          *schema.Graph
	index          *schema.Index
	renderer       *render.Renderer
	target         domain.Target
	defaultDataset string
	logger         *slog.Logger

	// Now and NewID are swappable for tests.
	Now   func() time.Time
	NewID func() string
}

// NewExecutor creates a rescore executor over a fully rendered graph.
func NewExecutor(client warehouse.Client, graph *schema.Graph, index *schema.Index, renderer *render.Renderer, target domain.Target, defaultDataset string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:         client,
		graph:          graph,
		index:          index,
		renderer:       renderer,
		target:         target,
		defaultDataset: defaultDataset,
		logger:         logger,
		Now:            time.Now,
		NewID:          uuid.NewString,
	}
}

type swap struct {
	canonical   *schema.Object
	replacement *schema.Object
}

// operation is one validated rescore: the objects being swapped plus the
// rename map driving dependent re-rendering.
type operation struct {
	entry    *metrics.RescoreEntry
	view     swap
	routines []swap
	// renames maps each replacement id to the canonical name it promotes
	// to, so re-rendering a source template that references a provisional
	// name produces the canonical one.
	renames map[domain.ObjectID]string
	dataset string
}

// Run executes one rescore to completion. A warehouse failure aborts at the
// current step; re-running the same command is the recovery path.
func (e *Executor) Run(ctx context.Context, entry *metrics.RescoreEntry) error {
	e.transition(entry.Name, StateProposed)
	op, err := e.validate(entry)
	if err != nil {
		return err
	}
	e.transition(entry.Name, StateValidated)

	dataset := e.target.DatasetName(op.dataset)
	canonical := op.view.canonical.ID.Name

	views, err := e.client.Views(ctx, dataset)
	if err != nil {
		return err
	}
	remoteBody, ok := views[canonical]
	if !ok {
		return domain.ErrConfigValidation("cannot rescore %s: view is not deployed", canonical)
	}

	promotedBody, err := e.renderer.RenderObject(op.view.replacement, op.renames)
	if err != nil {
		return err
	}
	promoted := planner.Canonicalize(remoteBody) == planner.Canonicalize(promotedBody)

	archiveName := latestArchive(views, canonical)
	if archiveName != "" && !promoted &&
		planner.Canonicalize(views[archiveName]) != planner.Canonicalize(remoteBody) {
		// The newest archive holds a different body than the one being
		// replaced, so it belongs to an earlier completed rescore of this
		// view. It is not this run's checkpoint: reusing it skips archiving
		// the current definition and keys provenance on the wrong archive.
		archiveName = ""
	}
	if archiveName == "" {
		if promoted {
			return domain.ErrConfigValidation(
				"cannot resume rescore of %s: view already promoted but no archive exists", canonical)
		}
		archiveName = canonical + "_before_" + e.Now().UTC().Format(archiveTimestampLayout)
	}

	e.transition(entry.Name, StateArchiving)
	if !promoted {
		if _, exists := views[archiveName]; !exists {
			desc := "pre-rescore archive of " + canonical + ": " + entry.Reason
			if err := e.client.CreateOrReplaceView(ctx, dataset, archiveName, remoteBody, desc); err != nil {
				return err
			}
		}
	}

	e.transition(entry.Name, StatePromoting)
	if !promoted {
		for _, sw := range op.routines {
			body, err := e.renderer.RenderObject(sw.replacement, op.renames)
			if err != nil {
				return err
			}
			if err := e.client.CreateOrReplaceRoutine(ctx, dataset, sw.canonical.ID.Name, body, sw.canonical.Metadata.Description); err != nil {
				return err
			}
		}
		desc := op.view.canonical.Metadata.Description
		if err := e.client.CreateOrReplaceView(ctx, dataset, canonical, promotedBody, desc); err != nil {
			return err
		}
	}

	e.transition(entry.Name, StateRewritingDependents)
	if err := e.rewriteDependents(ctx, op, views); err != nil {
		return err
	}

	e.transition(entry.Name, StateRecordingProvenance)
	recorded, err := e.client.RescoreRecorded(ctx, dataset, archiveName)
	if err != nil {
		return err
	}
	if !recorded {
		if err := e.recordProvenance(ctx, op, dataset, canonical, archiveName); err != nil {
			return err
		}
	}

	e.transition(entry.Name, StateComplete)
	return nil
}

// validate resolves the entry's names against the source tree. Every named
// object must exist with the right kind before any warehouse call is made.
func (e *Executor) validate(entry *metrics.RescoreEntry) (*operation, error) {
	canonical, err := e.lookup(entry.View, domain.KindView)
	if err != nil {
		return nil, err
	}
	replacement, err := e.lookup(entry.Replacement, domain.KindView)
	if err != nil {
		return nil, err
	}
	if canonical.ID.Dataset != replacement.ID.Dataset {
		return nil, domain.ErrConfigValidation(
			"rescore %s: view %s and replacement %s live in different datasets",
			entry.Name, canonical.ID, replacement.ID)
	}

	op := &operation{
		entry:   entry,
		view:    swap{canonical: canonical, replacement: replacement},
		renames: map[domain.ObjectID]string{replacement.ID: canonical.ID.Name},
		dataset: canonical.ID.Dataset,
	}
	for _, pair := range entry.Routines {
		rc, err := e.lookup(pair.Canonical, domain.KindRoutine)
		if err != nil {
			return nil, err
		}
		rr, err := e.lookup(pair.Replacement, domain.KindRoutine)
		if err != nil {
			return nil, err
		}
		op.routines = append(op.routines, swap{canonical: rc, replacement: rr})
		op.renames[rr.ID] = rc.ID.Name
	}
	return op, nil
}

func (e *Executor) lookup(ref string, kind domain.ObjectKind) (*schema.Object, error) {
	dataset, name := domain.SplitRef(ref)
	if dataset == "" {
		dataset = e.defaultDataset
	}
	id, ok := e.index.Lookup(dataset, name)
	if !ok {
		return nil, domain.ErrConfigValidation("rescore names unknown object %s.%s", dataset, name)
	}
	if id.Kind != kind {
		return nil, domain.ErrConfigValidation("rescore expects %s to be a %s, found %s", ref, kind, id.Kind)
	}
	obj, ok := e.graph.Object(id)
	if !ok {
		return nil, domain.ErrConfigValidation("rescore names unloaded object %s", id)
	}
	return obj, nil
}

// rewriteDependents re-renders every object referencing a swapped id from its
// source template with the rename map applied, and redeploys any whose
// deployed body differs. A parameterized re-render, not a find/replace on
// deployed text.
func (e *Executor) rewriteDependents(ctx context.Context, op *operation, views map[string]string) error {
	replaced := make(map[domain.ObjectID]bool, 2+2*len(op.routines))
	replaced[op.view.canonical.ID] = true
	replaced[op.view.replacement.ID] = true
	for _, sw := range op.routines {
		replaced[sw.canonical.ID] = true
		replaced[sw.replacement.ID] = true
	}

	seen := make(map[domain.ObjectID]bool)
	var deps []domain.ObjectID
	for id := range replaced {
		for _, dep := range e.graph.Dependents(id) {
			if replaced[dep] || seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Less(deps[j]) })

	dataset := e.target.DatasetName(op.dataset)
	for _, id := range deps {
		obj, ok := e.graph.Object(id)
		if !ok || id.Kind == domain.KindTable {
			continue
		}
		body, err := e.renderer.RenderObject(obj, op.renames)
		if err != nil {
			return err
		}
		depDataset := e.target.DatasetName(id.Dataset)
		switch id.Kind {
		case domain.KindRoutine:
			if err := e.client.CreateOrReplaceRoutine(ctx, depDataset, id.Name, body, obj.Metadata.Description); err != nil {
				return err
			}
		default:
			if depDataset == dataset {
				if current, ok := views[id.Name]; ok && planner.Canonicalize(current) == planner.Canonicalize(body) {
					continue
				}
			}
			if err := e.client.CreateOrReplaceView(ctx, depDataset, id.Name, body, obj.Metadata.Description); err != nil {
				return err
			}
		}
		e.logger.Info("rewrote dependent", "object", id.String())
	}
	return nil
}

func (e *Executor) recordProvenance(ctx context.Context, op *operation, dataset, canonical, archiveName string) error {
	before, err := e.client.AggregateScore(ctx, dataset, archiveName)
	if err != nil {
		return err
	}
	after, err := e.client.AggregateScore(ctx, dataset, canonical)
	if err != nil {
		return err
	}
	changes, err := e.client.ScoreChanges(ctx, dataset, archiveName, canonical)
	if err != nil {
		return err
	}
	return e.client.RecordRescore(ctx, dataset, warehouse.Provenance{
		OpID:       e.NewID(),
		RunAt:      e.Now().UTC(),
		Name:       op.entry.Name,
		Reason:     op.entry.Reason,
		View:       canonical,
		ArchivedAs: archiveName,
		Before:     before,
		After:      after,
		Changes:    changes,
	})
}

func (e *Executor) transition(name string, state State) {
	e.logger.Info("rescore state", "rescore", name, "state", string(state))
}

// latestArchive finds the newest existing archive view for a canonical name.
// Timestamped suffixes sort lexically, so the max name is the newest.
func latestArchive(views map[string]string, canonical string) string {
	prefix := canonical + "_before_"
	latest := ""
	for name := range views {
		if strings.HasPrefix(name, prefix) && name > latest {
			latest = name
		}
	}
	return latest
}
