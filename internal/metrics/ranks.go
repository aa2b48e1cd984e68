package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"schemaplan/internal/ddl"
	"schemaplan/internal/domain"
)

// RankColumn is one validated site-rank column definition. A rank column
// either mirrors a source rank field or derives from CrUX country data
// restricted by an include or exclude list.
type RankColumn struct {
	Name          string
	Rank          string
	CruxCondition string // empty when no CrUX restriction applies
}

// TemplateAttr implements domain.Attributer for template access.
func (r *RankColumn) TemplateAttr(name string) (any, bool) {
	switch name {
	case "name":
		return r.Name, true
	case "rank":
		return r.Rank, true
	case "crux_condition":
		return r.CruxCondition, true
	default:
		return nil, false
	}
}

type rankEntry struct {
	Rank        string   `toml:"rank"`
	CruxInclude []string `toml:"crux_include"`
	CruxExclude []string `toml:"crux_exclude"`
}

// LoadRanks parses and validates ranks.toml.
func LoadRanks(path string) ([]*RankColumn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRanks(string(data))
}

// LoadRanksDir loads ranks.toml from the metrics directory under a schema root.
func LoadRanksDir(root string) ([]*RankColumn, error) {
	return LoadRanks(filepath.Join(root, "metrics", RanksFileName))
}

// ParseRanks validates rank configuration text. crux_include and
// crux_exclude are mutually exclusive: supplying both is a hard validation
// error, not a silent precedence rule.
func ParseRanks(data string) ([]*RankColumn, error) {
	var entries map[string]rankEntry
	if _, err := toml.Decode(data, &entries); err != nil {
		return nil, domain.ErrConfigValidation("parse ranks config: %v", err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	ranks := make([]*RankColumn, 0, len(names))
	for _, name := range names {
		entry := entries[name]
		if !metricNameRe.MatchString(name) {
			return nil, domain.ErrConfigValidation("invalid rank column name %q: must match %s", name, metricNameRe)
		}
		if len(entry.CruxInclude) > 0 && len(entry.CruxExclude) > 0 {
			return nil, domain.ErrConfigValidation("rank definition %s contains both crux_include and crux_exclude", name)
		}

		col := &RankColumn{Name: name, Rank: entry.Rank}
		countries := entry.CruxInclude
		exclude := false
		if len(entry.CruxExclude) > 0 {
			countries = entry.CruxExclude
			exclude = true
		}
		if len(countries) > 0 {
			for _, c := range countries {
				if !validCruxCountry(c) {
					return nil, domain.ErrConfigValidation("invalid CrUX country code %q in rank %s", c, name)
				}
			}
			col.CruxCondition = buildCondition("country_code", countries, exclude)
		}
		ranks = append(ranks, col)
	}
	return ranks, nil
}

// validCruxCountry accepts "global" or a two-letter lowercase ASCII code.
func validCruxCountry(code string) bool {
	if code == "global" {
		return true
	}
	if len(code) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if code[i] < 'a' || code[i] > 'z' {
			return false
		}
	}
	return true
}

// buildCondition produces a SQL membership condition over field for the
// given values, negated when exclude is set. Values are emitted as
// single-quoted SQL string literals; double quotes denote identifiers.
func buildCondition(field string, values []string, exclude bool) string {
	if len(values) == 0 {
		return ""
	}
	if len(values) == 1 {
		op := "="
		if exclude {
			op = "!="
		}
		return fmt.Sprintf("%s %s %s", field, op, ddl.QuoteLiteral(values[0]))
	}
	op := "IN"
	if exclude {
		op = "NOT IN"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = ddl.QuoteLiteral(v)
	}
	return fmt.Sprintf("%s %s (%s)", field, op, strings.Join(quoted, ", "))
}
