package planner

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaplan/internal/domain"
	"schemaplan/internal/schema"
	"schemaplan/internal/warehouse"
)

const (
	tableBody   = "[id]\ntype=\"INTEGER\"\nmode=\"REQUIRED\"\n"
	viewBody    = "SELECT id FROM proj.main.t"
	routineBody = "CREATE OR REPLACE MACRO proj.main.r(x) AS x + 1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func rendered(dataset string, kind domain.ObjectKind, name, body string) *schema.Object {
	obj := &schema.Object{ID: domain.ObjectID{Dataset: dataset, Kind: kind, Name: name}}
	obj.SetRendered(body)
	return obj
}

func fixture(t *testing.T) ([]*schema.Dataset, *schema.Graph) {
	t.Helper()
	table := rendered("main", domain.KindTable, "t", tableBody)
	view := rendered("main", domain.KindView, "v", viewBody)
	routine := rendered("main", domain.KindRoutine, "r", routineBody)

	datasets := []*schema.Dataset{{Name: "main", Objects: []*schema.Object{table, view, routine}}}
	graph := schema.NewGraphFromTree(datasets)
	graph.AddEdge(view.ID, table.ID)
	graph.AddEdge(routine.ID, view.ID)
	return datasets, graph
}

func TestFirstRunCreatesEverythingInOrder(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	datasets, graph := fixture(t)
	target := domain.Target{Project: "proj"}

	p := New(client, graph, datasets, target, Options{SourceHash: "h1"}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)
	assert.False(t, plan.UpToDate)

	require.Len(t, plan.Steps, 3)
	for _, s := range plan.Steps {
		assert.Equal(t, ActionCreate, s.Action)
	}
	assert.Equal(t, domain.KindTable, plan.Steps[0].ID.Kind)
	assert.Equal(t, domain.KindView, plan.Steps[1].ID.Kind)
	assert.Equal(t, domain.KindRoutine, plan.Steps[2].ID.Kind)

	require.NoError(t, p.Execute(ctx, plan))
	assert.Equal(t, []string{
		"ensure_dataset main",
		"create_table main.t",
		"create_view main.v",
		"create_routine main.r",
		"record_tree_hash main",
	}, client.Ops())
}

func TestSecondRunWithUnchangedTreeDoesNothing(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	datasets, graph := fixture(t)
	target := domain.Target{Project: "proj"}
	opts := Options{SourceHash: "h1"}

	p := New(client, graph, datasets, target, opts, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Execute(ctx, plan))
	client.ResetOps()

	again, err := p.BuildPlan(ctx)
	require.NoError(t, err)
	assert.True(t, again.UpToDate)
	require.NoError(t, p.Execute(ctx, again))
	assert.Empty(t, client.Ops())
}

func TestRecreateRedeploysOnlyRoutines(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	datasets, graph := fixture(t)
	target := domain.Target{Project: "proj"}

	p := New(client, graph, datasets, target, Options{SourceHash: "h1"}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Execute(ctx, plan))
	client.ResetOps()

	forced := New(client, graph, datasets, target, Options{SourceHash: "h1", Recreate: true}, testLogger())
	plan, err = forced.BuildPlan(ctx)
	require.NoError(t, err)
	assert.False(t, plan.UpToDate)

	actions := make(map[string]Action)
	for _, s := range plan.Steps {
		actions[s.ID.String()] = s.Action
	}
	assert.Equal(t, ActionSkip, actions["main.t"])
	assert.Equal(t, ActionSkip, actions["main.v"])
	assert.Equal(t, ActionReplace, actions["main.r"])

	require.NoError(t, forced.Execute(ctx, plan))
	assert.Equal(t, []string{
		"create_routine main.r",
		"record_tree_hash main",
	}, client.Ops())
}

func TestViewReplaceOnChangeWithDiff(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	datasets, graph := fixture(t)
	client.SetView("main", "v", "SELECT id FROM proj.main.old_t")

	p := New(client, graph, datasets, domain.Target{Project: "proj"}, Options{}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)

	var viewStep *Step
	for i := range plan.Steps {
		if plan.Steps[i].ID.Name == "v" {
			viewStep = &plan.Steps[i]
		}
	}
	require.NotNil(t, viewStep)
	assert.Equal(t, ActionReplace, viewStep.Action)
	assert.Contains(t, viewStep.Diff, "-SELECT id FROM proj.main.old_t")
	assert.Contains(t, viewStep.Diff, "+SELECT id FROM proj.main.t")
}

func TestViewSkipOnWhitespaceOnlyChange(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	datasets, graph := fixture(t)
	client.SetView("main", "v", "SELECT id FROM proj.main.t  \n\n\n")

	p := New(client, graph, datasets, domain.Target{Project: "proj"}, Options{}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)

	for _, s := range plan.Steps {
		if s.ID.Name == "v" {
			assert.Equal(t, ActionSkip, s.Action)
			assert.Equal(t, "definition unchanged", s.Reason)
		}
	}
}

func TestDeleteExtra(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	datasets, graph := fixture(t)
	target := domain.Target{Project: "proj"}

	p := New(client, graph, datasets, target, Options{}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Execute(ctx, plan))

	// Stale view plus objects delete-extra must never touch.
	client.SetView("main", "abandoned", "SELECT 1")
	client.SetView("main", "scored_before_202501011200", "SELECT old")
	client.SetView("main", warehouse.SchemaUpdatesTable, "SELECT meta")
	client.ResetOps()

	del := New(client, graph, datasets, target, Options{DeleteExtra: true}, testLogger())
	plan, err = del.BuildPlan(ctx)
	require.NoError(t, err)

	var drops []Step
	for _, s := range plan.Steps {
		if s.Action == ActionDrop {
			drops = append(drops, s)
		}
	}
	require.Len(t, drops, 1)
	assert.Equal(t, "main.abandoned", drops[0].ID.String())

	require.NoError(t, del.Execute(ctx, plan))
	assert.Contains(t, client.Ops(), "drop_view main.abandoned")
	_, stillThere := client.ViewBody("main", "scored_before_202501011200")
	assert.True(t, stillThere)
}

func TestRoutineMustBeReplaceSafe(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	bad := rendered("main", domain.KindRoutine, "r", "CREATE MACRO r(x) AS x")
	datasets := []*schema.Dataset{{Name: "main", Objects: []*schema.Object{bad}}}
	graph := schema.NewGraphFromTree(datasets)

	p := New(client, graph, datasets, domain.Target{Project: "proj"}, Options{}, testLogger())
	_, err := p.BuildPlan(ctx)
	var report *domain.ReportError
	require.ErrorAs(t, err, &report)
	assert.Contains(t, err.Error(), "CREATE OR REPLACE")
}

func TestRoutineMustNameItsOwnFQN(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	stray := rendered("main", domain.KindRoutine, "r", "CREATE OR REPLACE MACRO proj.main.other(x) AS x")
	datasets := []*schema.Dataset{{Name: "main", Objects: []*schema.Object{stray}}}
	graph := schema.NewGraphFromTree(datasets)

	p := New(client, graph, datasets, domain.Target{Project: "proj"}, Options{}, testLogger())
	_, err := p.BuildPlan(ctx)
	var report *domain.ReportError
	require.ErrorAs(t, err, &report)
	assert.Contains(t, err.Error(), "expected proj.main.r")
}

func TestRoutineDescriptionIsCarried(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	routine := rendered("main", domain.KindRoutine, "r", routineBody)
	routine.Metadata.Description = "adds one"
	datasets := []*schema.Dataset{{Name: "main", Objects: []*schema.Object{routine}}}
	graph := schema.NewGraphFromTree(datasets)

	p := New(client, graph, datasets, domain.Target{Project: "proj"}, Options{}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Execute(ctx, plan))
	assert.Equal(t, "adds one", client.Description("main", "r"))
}

func TestBuildPlanCollectsPerObjectErrors(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	badTable := rendered("main", domain.KindTable, "broken", "[id\nnot toml")
	unrendered := &schema.Object{ID: domain.ObjectID{Dataset: "main", Kind: domain.KindView, Name: "ghost"}}
	good := rendered("main", domain.KindView, "ok", "SELECT 1")
	datasets := []*schema.Dataset{{Name: "main", Objects: []*schema.Object{badTable, unrendered, good}}}
	graph := schema.NewGraphFromTree(datasets)

	p := New(client, graph, datasets, domain.Target{Project: "proj"}, Options{}, testLogger())
	_, err := p.BuildPlan(ctx)
	var report *domain.ReportError
	require.ErrorAs(t, err, &report)
	assert.Equal(t, 2, report.Count)
}

func TestExecuteContinuesPastFailedStep(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	datasets, graph := fixture(t)
	client.FailOn["create_view main.v"] = assert.AnError

	p := New(client, graph, datasets, domain.Target{Project: "proj"}, Options{SourceHash: "h1"}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)

	err = p.Execute(ctx, plan)
	var report *domain.ReportError
	require.ErrorAs(t, err, &report)

	// Independent steps still ran, but the tree hash was not recorded.
	assert.Contains(t, client.Ops(), "create_table main.t")
	assert.Contains(t, client.Ops(), "create_routine main.r")
	assert.NotContains(t, client.Ops(), "record_tree_hash main")
}

func TestStagingTargetDeploysToSuffixedDatasets(t *testing.T) {
	ctx := context.Background()
	client := warehouse.NewMemory()
	target := domain.Target{Project: "proj", StageSuffix: "_test"}

	// Staged renders carry the suffixed dataset in every embedded FQN.
	table := rendered("main", domain.KindTable, "t", tableBody)
	view := rendered("main", domain.KindView, "v", "SELECT id FROM proj.main_test.t")
	routine := rendered("main", domain.KindRoutine, "r", "CREATE OR REPLACE MACRO proj.main_test.r(x) AS x + 1")
	datasets := []*schema.Dataset{{Name: "main", Objects: []*schema.Object{table, view, routine}}}
	graph := schema.NewGraphFromTree(datasets)
	graph.AddEdge(view.ID, table.ID)
	graph.AddEdge(routine.ID, view.ID)

	p := New(client, graph, datasets, target, Options{}, testLogger())
	plan, err := p.BuildPlan(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Execute(ctx, plan))

	assert.Contains(t, client.Ops(), "ensure_dataset main_test")
	assert.Contains(t, client.Ops(), "create_table main_test.t")
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, CreateOnly, PolicyFor(domain.KindTable))
	assert.Equal(t, DiffAndReplace, PolicyFor(domain.KindView))
	assert.Equal(t, AlwaysReplace, PolicyFor(domain.KindRoutine))
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "trailing_whitespace", input: "SELECT 1  \t", want: "SELECT 1"},
		{name: "crlf", input: "SELECT 1\r\nFROM t\r\n", want: "SELECT 1\nFROM t"},
		{name: "blank_run_collapsed", input: "a\n\n\n\nb", want: "a\n\nb"},
		{name: "leading_blank_dropped", input: "\n\na", want: "a"},
		{name: "comments_preserved", input: "-- note\nSELECT 1", want: "-- note\nSELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.input))
		})
	}
}

func TestPlanSummary(t *testing.T) {
	plan := &Plan{Target: domain.Target{Project: "proj"}, UpToDate: true}
	assert.Contains(t, plan.Summary(), "nothing to do")

	plan = &Plan{
		Target: domain.Target{Project: "proj"},
		Steps: []Step{
			{ID: domain.ObjectID{Dataset: "main", Kind: domain.KindView, Name: "v"}, Action: ActionReplace, Reason: "definition changed"},
		},
	}
	out := plan.Summary()
	assert.Contains(t, out, "replace")
	assert.Contains(t, out, "proj.main.v")
	assert.Contains(t, out, "definition changed")
}
