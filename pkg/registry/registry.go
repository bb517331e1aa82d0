// Package registry keeps the callbacks registered for one event kind.
//
// A Registry is not safe for concurrent use; the dispatcher owns every
// registry and serializes access to them.
package registry

import (
	"path/filepath"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
)

// Callback is invoked with the absolute path an event was matched for.
type Callback func(path string) error

type Registry struct {
	kind      model.EventKind
	exact     map[string][]Callback
	recursive map[string][]Callback
}

func New(kind model.EventKind) *Registry {
	return &Registry{
		kind:      kind,
		exact:     make(map[string][]Callback),
		recursive: make(map[string][]Callback),
	}
}

func (r *Registry) Kind() model.EventKind { return r.kind }

// AddExact appends cb to the callbacks matched only against path.
func (r *Registry) AddExact(path string, cb Callback) string {
	r.exact[path] = append(r.exact[path], cb)
	return path
}

// AddRecursive appends cb to the callbacks matched against path and every
// path nested under it, including paths created later.
func (r *Registry) AddRecursive(path string, cb Callback) string {
	r.recursive[path] = append(r.recursive[path], cb)
	return path
}

func (r *Registry) RemoveExact(path string) {
	delete(r.exact, path)
}

func (r *Registry) RemoveRecursive(path string) {
	delete(r.recursive, path)
}

// Lookup returns the exact callbacks for path followed by the recursive
// callbacks of path and its ancestors, nearest first.
func (r *Registry) Lookup(path string) []Callback {
	var cbs []Callback
	cbs = append(cbs, r.exact[filepath.Clean(path)]...)
	ancestors(path, func(p string) bool {
		cbs = append(cbs, r.recursive[p]...)
		return true
	})
	return cbs
}

// LookupExact returns only the callbacks registered exactly on path.
func (r *Registry) LookupExact(path string) []Callback {
	return append([]Callback(nil), r.exact[path]...)
}

// Covers reports whether a recursive registration exists on path or one of
// its ancestors.
func (r *Registry) Covers(path string) bool {
	found := false
	ancestors(path, func(p string) bool {
		_, found = r.recursive[p]
		return !found
	})
	return found
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	n := 0
	for _, cbs := range r.exact {
		n += len(cbs)
	}
	for _, cbs := range r.recursive {
		n += len(cbs)
	}
	return n
}

// ancestors calls fn for path and then each lexical parent up to the root,
// stopping early when fn returns false.
func ancestors(path string, fn func(string) bool) {
	for p := filepath.Clean(path); ; {
		if !fn(p) {
			return
		}
		parent := filepath.Dir(p)
		if parent == p {
			return
		}
		p = parent
	}
}
