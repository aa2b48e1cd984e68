package schema

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"schemaplan/internal/domain"
)

// Directory names reserved at the tree root for configuration rather than
// dataset definitions.
const metricsDirName = "metrics"

type kindLayout struct {
	dir  string
	kind domain.ObjectKind
	body string
}

var kindLayouts = []kindLayout{
	{dir: "tables", kind: domain.KindTable, body: "table.toml"},
	{dir: "views", kind: domain.KindView, body: "view.sql"},
	{dir: "routines", kind: domain.KindRoutine, body: "routine.sql"},
}

// LoadTree scans a schema source tree: one directory per dataset carrying a
// meta.toml, with tables/, views/ and routines/ subdirectories each holding
// one directory per object ({meta.toml, <body file>}).
func LoadTree(root string, logger *slog.Logger) ([]*Dataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read schema root %s: %w", root, err)
	}

	var datasets []*Dataset
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == metricsDirName {
			continue
		}
		dir := filepath.Join(root, entry.Name())

		var meta Metadata
		if _, err := toml.DecodeFile(filepath.Join(dir, "meta.toml"), &meta); err != nil {
			if os.IsNotExist(err) {
				logger.Warn("skipping directory without meta.toml", "path", dir)
				continue
			}
			return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, "meta.toml"), err)
		}
		if meta.Name == "" {
			return nil, domain.ErrConfigValidation("dataset meta.toml in %s is missing a name", dir)
		}

		ds := &Dataset{Name: meta.Name, Description: meta.Description}
		for _, layout := range kindLayouts {
			objects, err := loadKind(filepath.Join(dir, layout.dir), meta.Name, layout, logger)
			if err != nil {
				return nil, err
			}
			ds.Objects = append(ds.Objects, objects...)
		}
		ds.SortObjects()
		datasets = append(datasets, ds)
	}

	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	return datasets, nil
}

func loadKind(dir, dataset string, layout kindLayout, logger *slog.Logger) ([]*Object, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var objects []*Object
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		objectDir := filepath.Join(dir, entry.Name())

		var meta Metadata
		if _, err := toml.DecodeFile(filepath.Join(objectDir, "meta.toml"), &meta); err != nil {
			if os.IsNotExist(err) {
				logger.Warn("skipping object without meta.toml", "path", objectDir)
				continue
			}
			return nil, fmt.Errorf("parse %s: %w", filepath.Join(objectDir, "meta.toml"), err)
		}
		if meta.Name == "" {
			return nil, domain.ErrConfigValidation("object meta.toml in %s is missing a name", objectDir)
		}

		bodyPath := filepath.Join(objectDir, layout.body)
		body, err := os.ReadFile(bodyPath)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("skipping object without body file", "path", bodyPath)
				continue
			}
			return nil, fmt.Errorf("read %s: %w", bodyPath, err)
		}

		objects = append(objects, &Object{
			ID:          domain.ObjectID{Dataset: dataset, Kind: layout.kind, Name: meta.Name},
			Path:        bodyPath,
			Metadata:    meta,
			RawTemplate: string(body),
		})
	}
	return objects, nil
}

// LintTemplates checks that no template body embeds a project id or dataset
// name directly: every schema reference must go through ref() so that the
// dependency graph stays complete and staging remaps apply everywhere.
func LintTemplates(datasets []*Dataset, project string) *domain.Report {
	report := &domain.Report{}
	for _, ds := range datasets {
		for _, obj := range ds.Objects {
			if project != "" && containsToken(obj.RawTemplate, project) {
				report.Add(domain.ErrConfigValidation("template %s embeds project id %q directly", obj.Path, project))
			}
			if containsToken(obj.RawTemplate, ds.Name) {
				report.Add(domain.ErrConfigValidation("template %s embeds dataset name %q directly", obj.Path, ds.Name))
			}
		}
	}
	return report
}

func containsToken(body, token string) bool {
	for i := 0; i+len(token) <= len(body); i++ {
		if body[i:i+len(token)] != token {
			continue
		}
		before := byte(0)
		if i > 0 {
			before = body[i-1]
		}
		after := byte(0)
		if i+len(token) < len(body) {
			after = body[i+len(token)]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			return true
		}
	}
	return false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
