package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"schemaplan/internal/domain"
)

// RoutinePair names a routine whose definition a rescore replaces: the
// canonical name plus the provisional name carrying the new logic.
type RoutinePair struct {
	Canonical   string
	Replacement string
}

// RescoreEntry is one named rescore operation from the rescore registry.
type RescoreEntry struct {
	Name        string
	Reason      string
	View        string // canonical scored-reports view
	Replacement string // provisional view holding the new logic
	Routines    []RoutinePair
	Stage       bool
}

type rescoreFileEntry struct {
	Reason         string   `toml:"reason"`
	View           string   `toml:"view"`
	Replacement    string   `toml:"replacement"`
	RoutineUpdates []string `toml:"routine_updates"`
	Stage          bool     `toml:"stage"`
}

// LoadRescores parses and validates the rescore registry.
func LoadRescores(path string) (map[string]*RescoreEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRescores(string(data))
}

// LoadRescoresDir loads rescores.toml from the metrics directory under a
// schema root.
func LoadRescoresDir(root string) (map[string]*RescoreEntry, error) {
	return LoadRescores(filepath.Join(root, "metrics", RescoresFileName))
}

// ParseRescores validates rescore registry text.
func ParseRescores(data string) (map[string]*RescoreEntry, error) {
	var entries map[string]rescoreFileEntry
	if _, err := toml.Decode(data, &entries); err != nil {
		return nil, domain.ErrConfigValidation("parse rescores config: %v", err)
	}

	out := make(map[string]*RescoreEntry, len(entries))
	for name, entry := range entries {
		if !metricNameRe.MatchString(name) {
			return nil, domain.ErrConfigValidation("invalid rescore name %q: must match %s", name, metricNameRe)
		}
		if entry.Reason == "" {
			return nil, domain.ErrConfigValidation("rescore %q is missing a reason", name)
		}
		if entry.View == "" || entry.Replacement == "" {
			return nil, domain.ErrConfigValidation("rescore %q must name both view and replacement", name)
		}

		pairs := make([]RoutinePair, 0, len(entry.RoutineUpdates))
		for _, update := range entry.RoutineUpdates {
			pair, err := ParseRoutinePair(update)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, pair)
		}

		out[name] = &RescoreEntry{
			Name:        name,
			Reason:      entry.Reason,
			View:        entry.View,
			Replacement: entry.Replacement,
			Routines:    pairs,
			Stage:       entry.Stage,
		}
	}
	return out, nil
}

// ParseRoutinePair parses "canonical:replacement" routine update syntax.
func ParseRoutinePair(update string) (RoutinePair, error) {
	if strings.Count(update, ":") != 1 {
		return RoutinePair{}, domain.ErrConfigValidation(
			"routine update must be in the form canonical:replacement, got %q", update)
	}
	canonical, replacement, _ := strings.Cut(update, ":")
	if canonical == "" || replacement == "" {
		return RoutinePair{}, domain.ErrConfigValidation(
			"routine update must name both sides, got %q", update)
	}
	return RoutinePair{Canonical: canonical, Replacement: replacement}, nil
}
