// Package treehash computes a git-compatible content hash over a source
// directory. The hash of the schema tree is recorded after every successful
// deployment, so an unchanged tree can be skipped entirely on the next run.
package treehash

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	modeFile = "100644"
	modeDir  = "40000"
)

// HashBlob hashes file content the way git hashes a blob object.
func HashBlob(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// HashTree hashes a directory the way git hashes a tree object: the hash
// changes exactly when any contained file's path or content changes.
// Dotfiles are ignored, matching what a git checkout of the tree would track.
func HashTree(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	type treeEntry struct {
		mode string
		name string
		sum  string
	}
	var items []treeEntry
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(root, name)
		if entry.IsDir() {
			sum, err := HashTree(path)
			if err != nil {
				return "", err
			}
			items = append(items, treeEntry{mode: modeDir, name: name, sum: sum})
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		items = append(items, treeEntry{mode: modeFile, name: name, sum: HashBlob(content)})
	}

	// Git sorts tree entries by name with directories compared as "name/".
	sort.Slice(items, func(i, j int) bool {
		return sortKey(items[i].name, items[i].mode) < sortKey(items[j].name, items[j].mode)
	})

	var body strings.Builder
	for _, item := range items {
		raw, err := hex.DecodeString(item.sum)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&body, "%s %s\x00%s", item.mode, item.name, raw)
	}

	h := sha1.New()
	fmt.Fprintf(h, "tree %d\x00", body.Len())
	h.Write([]byte(body.String()))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortKey(name, mode string) string {
	if mode == modeDir {
		return name + "/"
	}
	return name
}
