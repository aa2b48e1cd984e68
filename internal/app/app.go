// Package app wires configuration, the schema loader, the renderer and the
// planner into the operations the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"schemaplan/internal/config"
	"schemaplan/internal/domain"
	"schemaplan/internal/metrics"
	"schemaplan/internal/planner"
	"schemaplan/internal/render"
	"schemaplan/internal/rescore"
	"schemaplan/internal/schema"
	"schemaplan/internal/treehash"
	"schemaplan/internal/warehouse"
)

// defaultStageSuffix isolates staged deployments when no suffix is configured.
const defaultStageSuffix = "_test"

// App carries the shared dependencies of every CLI operation.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Client warehouse.Client
}

// Build is a fully loaded and rendered source tree, ready for planning.
type Build struct {
	Datasets   []*schema.Dataset
	Graph      *schema.Graph
	Index      *schema.Index
	Renderer   *render.Renderer
	Metrics    *metrics.Definitions
	Ranks      []*metrics.RankColumn
	SourceHash string
}

// Target builds the deployment target for an optional staging deployment.
func (a *App) Target(stage bool) domain.Target {
	t := domain.Target{Project: a.Config.Project}
	if stage {
		t.StageSuffix = a.Config.StageSuffix
		if t.StageSuffix == "" {
			t.StageSuffix = defaultStageSuffix
		}
	}
	return t
}

// LoadAndRender loads the tree and metric configuration, lints templates,
// renders every object and computes the source hash. Per-object problems are
// collected and returned joined, not one at a time.
func (a *App) LoadAndRender(ctx context.Context, target domain.Target) (*Build, error) {
	datasets, err := schema.LoadTree(a.Config.SchemaPath, a.Logger)
	if err != nil {
		return nil, err
	}
	if lint := schema.LintTemplates(datasets, a.Config.Project); !lint.Empty() {
		return nil, lint.Err()
	}

	defs, ranks, err := a.loadMetricConfig()
	if err != nil {
		return nil, err
	}

	index, err := schema.BuildIndex(datasets)
	if err != nil {
		return nil, err
	}
	graph := schema.NewGraphFromTree(datasets)
	resolver := render.NewResolver(index, graph, target)
	renderer := render.NewRenderer(graph, resolver, templateEnv(target, defs, ranks), a.Logger)

	if err := renderer.RenderAll(ctx); err != nil {
		return nil, err
	}

	hash, err := treehash.HashTree(a.Config.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("hash schema tree: %w", err)
	}

	return &Build{
		Datasets:   datasets,
		Graph:      graph,
		Index:      index,
		Renderer:   renderer,
		Metrics:    defs,
		Ranks:      ranks,
		SourceHash: hash,
	}, nil
}

// loadMetricConfig loads metrics and ranks, tolerating their absence: a tree
// without a metrics directory renders with an empty metric context.
func (a *App) loadMetricConfig() (*metrics.Definitions, []*metrics.RankColumn, error) {
	defs, err := metrics.LoadDir(a.Config.SchemaPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
		defs = &metrics.Definitions{}
	}
	ranks, err := metrics.LoadRanksDir(a.Config.SchemaPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
		ranks = nil
	}
	return defs, ranks, nil
}

// templateEnv assembles the shared template context.
func templateEnv(target domain.Target, defs *metrics.Definitions, ranks []*metrics.RankColumn) render.Env {
	metricMap := make(map[string]any, len(defs.Metrics))
	for name, m := range defs.MetricsByName() {
		metricMap[name] = m
	}
	metricTypes := make([]any, len(defs.MetricTypes))
	for i, t := range defs.MetricTypes {
		metricTypes[i] = t
	}
	conditional := make([]any, 0, len(defs.Metrics))
	for _, m := range defs.ConditionalMetrics() {
		conditional = append(conditional, m)
	}
	rankList := make([]any, len(ranks))
	for i, r := range ranks {
		rankList[i] = r
	}
	return render.Env{
		"project":             target.Project,
		"metrics":             metricMap,
		"metric_types":        metricTypes,
		"conditional_metrics": conditional,
		"ranks":               rankList,
	}
}

// DeployOptions tune one deploy invocation.
type DeployOptions struct {
	Stage       bool
	NoWrite     bool
	Recreate    bool
	DeleteExtra bool
}

// Deploy plans and, unless in dry-run mode, executes a deployment.
func (a *App) Deploy(ctx context.Context, opts DeployOptions, out io.Writer) error {
	target := a.Target(opts.Stage)
	build, err := a.LoadAndRender(ctx, target)
	if err != nil {
		return err
	}

	p := planner.New(a.Client, build.Graph, build.Datasets, target, planner.Options{
		SourceHash:  build.SourceHash,
		Recreate:    opts.Recreate,
		DeleteExtra: opts.DeleteExtra,
	}, a.Logger)

	plan, err := p.BuildPlan(ctx)
	if err != nil {
		return err
	}
	if opts.NoWrite {
		_, err := io.WriteString(out, plan.Summary())
		return err
	}
	return p.Execute(ctx, plan)
}

// Validate loads, lints and renders the tree and checks the dependency
// ordering, without touching the warehouse.
func (a *App) Validate(ctx context.Context) error {
	build, err := a.LoadAndRender(ctx, a.Target(false))
	if err != nil {
		return err
	}
	if _, err := build.Graph.TopologicalOrder(); err != nil {
		return err
	}
	a.Logger.Info("schema tree is valid",
		"datasets", len(build.Datasets), "objects", len(build.Graph.Objects()))
	return nil
}

// Render writes every object's rendered body to out in topological order,
// for inspection without any warehouse access.
func (a *App) Render(ctx context.Context, stage bool, out io.Writer) error {
	target := a.Target(stage)
	build, err := a.LoadAndRender(ctx, target)
	if err != nil {
		return err
	}
	order, err := build.Graph.TopologicalOrder()
	if err != nil {
		return err
	}
	for _, id := range order {
		obj, ok := build.Graph.Object(id)
		if !ok {
			continue
		}
		body, _ := obj.Rendered()
		if _, err := fmt.Fprintf(out, "-- %s %s\n%s\n\n", id.Kind, target.FQN(id), body); err != nil {
			return err
		}
	}
	return nil
}

// Rescore runs one named rescore from the registry to completion.
func (a *App) Rescore(ctx context.Context, name string) error {
	entries, err := metrics.LoadRescoresDir(a.Config.SchemaPath)
	if err != nil {
		return err
	}
	entry, ok := entries[name]
	if !ok {
		return domain.ErrConfigValidation("unknown rescore %q", name)
	}

	target := a.Target(entry.Stage)
	build, err := a.LoadAndRender(ctx, target)
	if err != nil {
		return err
	}
	ex := rescore.NewExecutor(a.Client, build.Graph, build.Index, build.Renderer,
		target, a.Config.Dataset, a.Logger)
	return ex.Run(ctx, entry)
}
