package treehash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBlob(t *testing.T) {
	// Known git blob hashes, verifiable with `git hash-object`.
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", HashBlob(nil))
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", HashBlob([]byte("hello\n")))
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHashTreeStable(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main/views/v/view.sql", "SELECT 1\n")
	write(t, root, "main/tables/t/table.toml", "[id]\ntype=\"INTEGER\"\n")

	first, err := HashTree(root)
	require.NoError(t, err)
	require.Len(t, first, 40)

	again, err := HashTree(root)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// A second tree with the same layout and content hashes identically.
	other := t.TempDir()
	write(t, other, "main/views/v/view.sql", "SELECT 1\n")
	write(t, other, "main/tables/t/table.toml", "[id]\ntype=\"INTEGER\"\n")
	sum, err := HashTree(other)
	require.NoError(t, err)
	assert.Equal(t, first, sum)
}

func TestHashTreeChangesOnContent(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main/views/v/view.sql", "SELECT 1\n")
	before, err := HashTree(root)
	require.NoError(t, err)

	write(t, root, "main/views/v/view.sql", "SELECT 2\n")
	after, err := HashTree(root)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestHashTreeChangesOnRename(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.sql", "SELECT 1\n")
	before, err := HashTree(root)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(root, "a.sql"), filepath.Join(root, "b.sql")))
	after, err := HashTree(root)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestHashTreeIgnoresDotfiles(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main/view.sql", "SELECT 1\n")
	before, err := HashTree(root)
	require.NoError(t, err)

	write(t, root, ".DS_Store", "junk")
	write(t, root, "main/.hidden", "junk")
	after, err := HashTree(root)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHashTreeEmptyDir(t *testing.T) {
	// The empty tree is another well-known git constant.
	sum, err := HashTree(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "4b825dc642cb6eb9a060e54bf8d69288fbee4904", sum)
}

func TestHashTreeMissingDir(t *testing.T) {
	_, err := HashTree(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
