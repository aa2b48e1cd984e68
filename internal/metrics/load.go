package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"schemaplan/internal/domain"
)

// File names looked up under the schema root's metrics directory.
const (
	MetricsFileName  = "metrics.toml"
	RanksFileName    = "ranks.toml"
	RescoresFileName = "rescores.toml"
)

type metricEntry struct {
	Name                  string   `toml:"name"`
	Type                  string   `toml:"type"`
	Conditions            []string `toml:"conditions"`
	HostMinRanksCondition string   `toml:"host_min_ranks_condition"`
}

type metricTypeEntry struct {
	Name     string   `toml:"name"`
	Agg      string   `toml:"agg"`
	Field    string   `toml:"field"`
	Contexts []string `toml:"contexts"`
}

type metricsFile struct {
	Metrics     []metricEntry     `toml:"metric"`
	MetricTypes []metricTypeEntry `toml:"metric_type"`
}

// Load parses and validates the metric configuration file. Validation errors
// abort before any rendering begins.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(string(data))
}

// LoadDir loads metrics.toml from the metrics directory under a schema root.
func LoadDir(root string) (*Definitions, error) {
	return Load(filepath.Join(root, "metrics", MetricsFileName))
}

// Parse validates metric configuration text.
func Parse(data string) (*Definitions, error) {
	var file metricsFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, domain.ErrConfigValidation("parse metrics config: %v", err)
	}

	defs := &Definitions{}
	seen := make(map[string]bool)
	for _, entry := range file.Metrics {
		if !metricNameRe.MatchString(entry.Name) {
			return nil, domain.ErrConfigValidation("invalid metric name %q: must match %s", entry.Name, metricNameRe)
		}
		if seen[entry.Name] {
			return nil, domain.ErrConfigValidation("duplicate metric %q", entry.Name)
		}
		seen[entry.Name] = true

		kind := MetricKind(entry.Type)
		switch kind {
		case KindUnconditional, KindSiteReportsField:
		default:
			return nil, domain.ErrConfigValidation("metric %q has unknown type %q", entry.Name, entry.Type)
		}

		defs.Metrics = append(defs.Metrics, &Metric{
			Name:                  entry.Name,
			Kind:                  kind,
			Conditions:            entry.Conditions,
			HostMinRanksCondition: entry.HostMinRanksCondition,
		})
	}

	seenTypes := make(map[string]bool)
	for _, entry := range file.MetricTypes {
		if !metricNameRe.MatchString(entry.Name) {
			return nil, domain.ErrConfigValidation("invalid metric type name %q: must match %s", entry.Name, metricNameRe)
		}
		if seenTypes[entry.Name] {
			return nil, domain.ErrConfigValidation("duplicate metric type %q", entry.Name)
		}
		seenTypes[entry.Name] = true

		agg := AggKind(entry.Agg)
		switch agg {
		case AggCount, AggSum:
		default:
			return nil, domain.ErrConfigValidation("metric type %q has unknown agg %q", entry.Name, entry.Agg)
		}
		for _, c := range entry.Contexts {
			if !validContexts[c] {
				return nil, domain.ErrConfigValidation("metric type %q has invalid context %q", entry.Name, c)
			}
		}

		defs.MetricTypes = append(defs.MetricTypes, &MetricType{
			Name:     entry.Name,
			Agg:      agg,
			Field:    entry.Field,
			Contexts: entry.Contexts,
		})
	}

	return defs, nil
}
