// Package walker enumerates the directory tree under a root.
package walker

import (
	"iter"
	"os"
	"path/filepath"
)

// Func produces (directory, parent) pairs for every directory under a root.
type Func func(root string) iter.Seq2[string, string]

// Walk lazily yields every directory under root depth first, root included,
// paired with its parent directory. Nothing is yielded when root is not a
// directory. Symbolic links are not followed and directories that cannot be
// read are yielded without descending into them.
func Walk(root string) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		dir := filepath.Clean(root)
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			return
		}
		walkDir(dir, filepath.Dir(dir), yield)
	}
}

func walkDir(dir, parent string, yield func(string, string) bool) bool {
	if !yield(dir, parent) {
		return false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !walkDir(filepath.Join(dir, e.Name()), dir, yield) {
			return false
		}
	}
	return true
}
