// Package schema loads templated schema object definitions from a source
// tree and maintains the reference graph between them.
package schema

import (
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"schemaplan/internal/domain"
)

// Metadata is the parsed content of an object's meta.toml.
type Metadata struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Object is one schema object definition: its id, raw template body, and the
// rendered body once rendering has run. The rendered body is written once and
// memoized; renames during a rescore go through a re-render, never through
// mutation of this field.
type Object struct {
	ID       domain.ObjectID
	Path     string
	Metadata Metadata

	// Raw template text: SQL for views and routines, templated TOML column
	// definitions for tables.
	RawTemplate string

	mu       sync.Mutex
	rendered string
	hasBody  bool
}

// SetRendered stores the rendered body. The first write wins; a second write
// with different content indicates a rendering bug and is ignored.
func (o *Object) SetRendered(body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hasBody {
		return
	}
	o.rendered = body
	o.hasBody = true
}

// Rendered returns the memoized rendered body, if rendering has completed.
func (o *Object) Rendered() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rendered, o.hasBody
}

// Column is one field of a table definition.
type Column struct {
	Name string
	Type string
	Mode string // NULLABLE, REQUIRED or REPEATED
}

// Column modes accepted in table.toml.
const (
	ModeNullable = "NULLABLE"
	ModeRequired = "REQUIRED"
	ModeRepeated = "REPEATED"
)

type columnSpec struct {
	Type string `toml:"type"`
	Mode string `toml:"mode"`
}

// ParseTableColumns parses a rendered table body (TOML) into an ordered
// column list. Column order follows the order fields appear in the file.
func ParseTableColumns(body string) ([]Column, error) {
	var fields map[string]columnSpec
	meta, err := toml.Decode(body, &fields)
	if err != nil {
		return nil, err
	}

	// MetaData.Keys preserves file order; filter to top-level table headers.
	var order []string
	seen := make(map[string]bool, len(fields))
	for _, key := range meta.Keys() {
		name := key[0]
		if len(key) == 1 || seen[name] {
			continue
		}
		if _, ok := fields[name]; ok {
			seen[name] = true
			order = append(order, name)
		}
	}

	cols := make([]Column, 0, len(order))
	for _, name := range order {
		spec := fields[name]
		if spec.Type == "" {
			return nil, domain.ErrConfigValidation("column %s is missing a type", name)
		}
		mode := spec.Mode
		if mode == "" {
			mode = ModeNullable
		}
		switch mode {
		case ModeNullable, ModeRequired, ModeRepeated:
		default:
			return nil, domain.ErrConfigValidation("column %s has invalid mode %q", name, spec.Mode)
		}
		cols = append(cols, Column{Name: name, Type: spec.Type, Mode: mode})
	}
	return cols, nil
}

// Dataset groups the object definitions found under one dataset directory.
type Dataset struct {
	Name        string
	Description string
	Objects     []*Object
}

// SortObjects orders a dataset's objects by id for deterministic iteration.
func (d *Dataset) SortObjects() {
	sort.Slice(d.Objects, func(i, j int) bool {
		return d.Objects[i].ID.Less(d.Objects[j].ID)
	})
}
