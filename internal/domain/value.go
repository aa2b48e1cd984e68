package domain

// Attributer exposes named attributes to the template renderer, so domain
// values (metrics, ranks) can be dotted into from template expressions.
type Attributer interface {
	TemplateAttr(name string) (any, bool)
}

// Callable is a function value invokable from a template expression.
type Callable func(args []any) (any, error)
