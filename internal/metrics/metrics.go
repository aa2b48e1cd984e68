// Package metrics expands declarative metric and rank configuration into the
// template context values consumed by schema templates.
package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"schemaplan/internal/domain"
)

// metricNameRe is the only shape accepted for metric and metric-type names:
// they become SQL column name fragments.
var metricNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// MetricKind selects how a metric decides whether a report contributes.
type MetricKind string

// Metric kinds.
const (
	// KindUnconditional counts every report.
	KindUnconditional MetricKind = "unconditional"
	// KindSiteReportsField gates on a boolean is_<name> column of the
	// scored reports view.
	KindSiteReportsField MetricKind = "site_reports_field"
)

// Metric is one validated metric definition.
type Metric struct {
	Name                  string
	Kind                  MetricKind
	Conditions            []string
	HostMinRanksCondition string
}

// Conditional reports whether the metric carries a membership condition.
func (m *Metric) Conditional() bool {
	return m.Kind != KindUnconditional
}

// FieldName is the boolean column carrying the metric's membership flag.
func (m *Metric) FieldName() string {
	return "is_" + m.Name
}

// Condition returns the SQL condition deciding whether a row of the given
// table alias contributes to this metric.
func (m *Metric) Condition(table string) string {
	if !m.Conditional() {
		return "TRUE"
	}
	return table + "." + m.FieldName()
}

// TemplateAttr implements domain.Attributer for template access.
func (m *Metric) TemplateAttr(name string) (any, bool) {
	switch name {
	case "name":
		return m.Name, true
	case "conditional":
		return m.Conditional(), true
	case "field":
		return m.FieldName(), true
	case "conditions":
		return asAnySlice(m.Conditions), true
	case "host_min_ranks_condition":
		return m.HostMinRanksCondition, true
	case "condition":
		return domain.Callable(func(args []any) (any, error) {
			table, err := oneString("condition", args)
			if err != nil {
				return nil, err
			}
			return m.Condition(table), nil
		}), true
	default:
		return nil, false
	}
}

// AggKind is the closed set of aggregation strategies a metric type can use.
type AggKind string

// Aggregation strategies.
const (
	AggCount AggKind = "count"
	AggSum   AggKind = "sum"
)

// Metric context names accepted in configuration.
var validContexts = map[string]bool{"history": true, "daily": true}

// MetricType is one aggregation-function descriptor: the named strategy plus
// the optional metric-type gate column.
type MetricType struct {
	Name     string
	Agg      AggKind
	Field    string   // optional metric_type_* gate column
	Contexts []string // subset of {history, daily}; empty means both
}

// FieldType is the warehouse column type produced by this aggregation.
func (t *MetricType) FieldType() string {
	if t.Agg == AggCount {
		return "INTEGER"
	}
	return "NUMERIC"
}

// AppliesTo reports whether this metric type participates in a context.
func (t *MetricType) AppliesTo(context string) bool {
	if len(t.Contexts) == 0 {
		return true
	}
	for _, c := range t.Contexts {
		if c == context {
			return true
		}
	}
	return false
}

// Condition assembles the SQL condition deciding whether a row contributes
// to this metric type for the given metric.
func (t *MetricType) Condition(table string, m *Metric, includeMetricCondition bool) string {
	var conds []string
	if t.Field != "" {
		conds = append(conds, table+"."+t.Field)
	}
	if m.Conditional() && includeMetricCondition {
		conds = append(conds, m.Condition(table))
	}
	if len(conds) == 0 {
		return "TRUE"
	}
	return strings.Join(conds, " AND ")
}

// AggFunction produces the SQL aggregation projection for this metric type
// over the given table alias.
func (t *MetricType) AggFunction(table string, m *Metric, includeMetricCondition bool) string {
	switch t.Agg {
	case AggCount:
		if !m.Conditional() && t.Field == "" {
			return fmt.Sprintf("COUNT(%s.number)", table)
		}
		return fmt.Sprintf("COUNTIF(%s)", t.Condition(table, m, includeMetricCondition))
	case AggSum:
		return fmt.Sprintf("SUM(IF(%s, %s.score, 0))", t.Condition(table, m, includeMetricCondition), table)
	default:
		return ""
	}
}

// TemplateAttr implements domain.Attributer for template access.
func (t *MetricType) TemplateAttr(name string) (any, bool) {
	switch name {
	case "name":
		return t.Name, true
	case "field_type":
		return t.FieldType(), true
	case "field":
		return t.Field, true
	case "agg":
		return domain.Callable(func(args []any) (any, error) {
			table, m, include, err := aggArgs("agg", args)
			if err != nil {
				return nil, err
			}
			return t.AggFunction(table, m, include), nil
		}), true
	case "condition":
		return domain.Callable(func(args []any) (any, error) {
			table, m, include, err := aggArgs("condition", args)
			if err != nil {
				return nil, err
			}
			return t.Condition(table, m, include), nil
		}), true
	default:
		return nil, false
	}
}

// Definitions holds the validated metric configuration for one run.
type Definitions struct {
	Metrics     []*Metric
	MetricTypes []*MetricType
}

// MetricsByName returns the metrics keyed by name for template context use.
func (d *Definitions) MetricsByName() map[string]*Metric {
	out := make(map[string]*Metric, len(d.Metrics))
	for _, m := range d.Metrics {
		out[m.Name] = m
	}
	return out
}

// ConditionalMetrics returns the metrics carrying membership conditions, in
// configuration order.
func (d *Definitions) ConditionalMetrics() []*Metric {
	var out []*Metric
	for _, m := range d.Metrics {
		if m.Conditional() {
			out = append(out, m)
		}
	}
	return out
}

func oneString(fn string, args []any) (string, error) {
	if len(args) != 1 {
		return "", domain.ErrConfigValidation("%s() expects exactly one argument", fn)
	}
	s, ok := args[0].(string)
	if !ok {
		return "", domain.ErrConfigValidation("%s() expects a string argument", fn)
	}
	return s, nil
}

func aggArgs(fn string, args []any) (string, *Metric, bool, error) {
	if len(args) != 2 && len(args) != 3 {
		return "", nil, false, domain.ErrConfigValidation("%s() expects a table alias and a metric", fn)
	}
	table, ok := args[0].(string)
	if !ok {
		return "", nil, false, domain.ErrConfigValidation("%s() expects a string table alias", fn)
	}
	m, ok := args[1].(*Metric)
	if !ok {
		return "", nil, false, domain.ErrConfigValidation("%s() expects a metric as second argument", fn)
	}
	include := true
	if len(args) == 3 {
		include, ok = args[2].(bool)
		if !ok {
			return "", nil, false, domain.ErrConfigValidation("%s() expects a boolean third argument", fn)
		}
	}
	return table, m, include, nil
}

func asAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
