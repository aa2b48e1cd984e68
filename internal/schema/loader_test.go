package schema

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaplan/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeObject(t *testing.T, root, dataset, kindDir, name, bodyFile, body string) {
	t.Helper()
	dir := filepath.Join(root, dataset, kindDir, name)
	writeFile(t, filepath.Join(dir, "meta.toml"), "name = \""+name+"\"\ndescription = \"test object\"\n")
	writeFile(t, filepath.Join(dir, bodyFile), body)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main", "meta.toml"), "name = \"main\"\ndescription = \"primary dataset\"\n")
	writeObject(t, root, "main", "tables", "t", "table.toml", "[id]\ntype=\"INTEGER\"\n")
	writeObject(t, root, "main", "views", "v", "view.sql", "SELECT * FROM {{ ref('t') }}\n")
	writeObject(t, root, "main", "routines", "r", "routine.sql", "CREATE OR REPLACE MACRO {{ ref('r') }}() AS 1\n")
	// The metrics directory holds configuration, not a dataset.
	writeFile(t, filepath.Join(root, "metrics", "metrics.toml"), "")

	datasets, err := LoadTree(root, testLogger())
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	ds := datasets[0]
	assert.Equal(t, "main", ds.Name)
	assert.Equal(t, "primary dataset", ds.Description)
	require.Len(t, ds.Objects, 3)

	kinds := make(map[string]domain.ObjectKind)
	for _, obj := range ds.Objects {
		kinds[obj.ID.Name] = obj.ID.Kind
		assert.NotEmpty(t, obj.RawTemplate)
		assert.Equal(t, "test object", obj.Metadata.Description)
	}
	assert.Equal(t, domain.KindTable, kinds["t"])
	assert.Equal(t, domain.KindView, kinds["v"])
	assert.Equal(t, domain.KindRoutine, kinds["r"])
}

func TestLoadTreeSkipsDirsWithoutMeta(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stray"), 0o755))
	writeFile(t, filepath.Join(root, "main", "meta.toml"), "name = \"main\"\n")

	datasets, err := LoadTree(root, testLogger())
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "main", datasets[0].Name)
}

func TestLoadTreeRequiresDatasetName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main", "meta.toml"), "description = \"no name\"\n")

	_, err := LoadTree(root, testLogger())
	var cfgErr *domain.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLintTemplates(t *testing.T) {
	datasets := []*Dataset{{
		Name: "main",
		Objects: []*Object{
			{
				ID:          domain.ObjectID{Dataset: "main", Kind: domain.KindView, Name: "clean"},
				Path:        "main/views/clean/view.sql",
				RawTemplate: "SELECT * FROM {{ ref('t') }}",
			},
			{
				ID:          domain.ObjectID{Dataset: "main", Kind: domain.KindView, Name: "hardcoded"},
				Path:        "main/views/hardcoded/view.sql",
				RawTemplate: "SELECT * FROM proj.main.t",
			},
		},
	}}

	report := LintTemplates(datasets, "proj")
	errs := report.Errors()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "hardcoded/view.sql")

	// The same name inside a longer identifier is not a violation.
	datasets[0].Objects[1].RawTemplate = "SELECT mainline FROM {{ ref('t') }} -- projector"
	assert.True(t, LintTemplates(datasets, "proj").Empty())
}
