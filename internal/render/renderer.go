package render

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"schemaplan/internal/domain"
	"schemaplan/internal/schema"
)

// Renderer renders every object of a schema graph against a shared base
// environment, wiring a per-object ref() into each render. Objects are
// independent once the index is built, so the batch runs in parallel.
type Renderer struct {
	graph    *schema.Graph
	resolver *Resolver
	base     Env
	logger   *slog.Logger
}

// NewRenderer creates a renderer over the graph's objects. The base
// environment carries the shared template context (metrics, ranks and
// friends); it is never mutated during rendering.
func NewRenderer(graph *schema.Graph, resolver *Resolver, base Env, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{graph: graph, resolver: resolver, base: base, logger: logger}
}

// RenderAll renders every object and memoizes the result on the object.
// Template and reference failures are collected per object rather than
// aborting the batch; the returned error joins all of them.
func (r *Renderer) RenderAll(ctx context.Context) error {
	report := &domain.Report{}

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.GOMAXPROCS(0))
	for _, obj := range r.graph.Objects() {
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			body, err := r.RenderObject(obj, nil)
			if err != nil {
				report.Add(err)
				return nil
			}
			obj.SetRendered(body)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	if !report.Empty() {
		r.logger.Error("rendering failed", "errors", len(report.Errors()))
		return report.Err()
	}
	return nil
}

// RenderObject renders a single object's template. When renames is non-nil,
// references to the named objects resolve to their new names; the result is
// not memoized, since a renamed render is transient by nature.
func (r *Renderer) RenderObject(obj *schema.Object, renames map[domain.ObjectID]string) (string, error) {
	resolver := r.resolver
	if renames != nil {
		resolver = resolver.WithRenames(renames)
	}

	env := make(Env, len(r.base)+2)
	for k, v := range r.base {
		env[k] = v
	}
	env["ref"] = domain.Callable(resolver.RefFunc(obj.ID))
	env["dataset"] = obj.ID.Dataset

	body, err := Render(obj.RawTemplate, env)
	if err != nil {
		// Reference errors keep their own type for callers matching on them.
		if _, ok := err.(*domain.UnresolvedReferenceError); ok {
			return "", err
		}
		return "", domain.ErrTemplate(obj.ID, err)
	}
	return body, nil
}
