package filehandler

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Meta struct {
	Name       string
	Size       int64
	ModifyTime time.Time
}

func (f Meta) String() string {
	return fmt.Sprintf("file meta :: file-name: %s, size: %d, modified_at: %v", f.Name, f.Size, f.ModifyTime.String())
}

// Handler indexes metadata of the regular files under a root. Track and
// Forget are meant to be registered as callbacks so the index follows the
// filesystem.
type Handler struct {
	// meta
	// keyed by path relative to root.
	meta   map[string]Meta
	rwM    sync.RWMutex
	path   string
	logger *log.Logger
}

func NewHandler(path string, logger *log.Logger) (*Handler, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", path)
	}
	logger.Printf("NEW handler :: on path %s\n", abs)

	h := Handler{
		meta:   make(map[string]Meta),
		path:   abs,
		logger: logger,
	}

	h.rwM.Lock()
	defer h.rwM.Unlock()
	if err := h.readDir(abs); err != nil {
		return nil, err
	}

	return &h, nil
}

func (h *Handler) Root() string { return h.path }

func (h *Handler) rel(name string) (string, bool) {
	r, err := filepath.Rel(h.path, name)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return r, true
}

func (h *Handler) readDir(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return errors.Wrapf(err, "read dir %q", path)
	}

	for _, e := range entries {
		fName := filepath.Join(path, e.Name())
		if e.IsDir() {
			if err := h.readDir(fName); err != nil {
				return err
			}
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// removed while reading
			continue
		}
		h.store(fName, fi)
	}

	return nil
}

// store records fi for name; rwM must be held.
func (h *Handler) store(name string, fi os.FileInfo) {
	key, ok := h.rel(name)
	if !ok {
		return
	}
	meta := Meta{
		Name:       key,
		Size:       fi.Size(),
		ModifyTime: fi.ModTime(),
	}
	if _, contains := h.meta[key]; contains {
		h.logger.Printf("handler :: got modification on file meta --> %s\n", meta)
	} else {
		h.logger.Printf("handler :: got new file meta --> %s\n", meta)
	}
	h.meta[key] = meta
}

// GetMeta returns a copy of the metadata for name, absolute or relative to
// the root.
func (h *Handler) GetMeta(name string) *Meta {
	if filepath.IsAbs(name) {
		var ok bool
		if name, ok = h.rel(name); !ok {
			return nil
		}
	}

	h.rwM.RLock()
	defer h.rwM.RUnlock()
	if m, c := h.meta[filepath.Clean(name)]; c {
		metaCopy := m
		return &metaCopy
	}
	return nil
}

func (h *Handler) Len() int {
	h.rwM.RLock()
	defer h.rwM.RUnlock()
	return len(h.meta)
}

func (h *Handler) ListFiles() {
	h.rwM.RLock()
	defer h.rwM.RUnlock()

	keys := make([]string, 0, len(h.meta))
	for k := range h.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h.logger.Printf("handler :: list files ---- %d\n", len(h.meta))
	for _, k := range keys {
		h.logger.Println(h.meta[k])
	}
}

// Track refreshes the index for a created or modified path. Directories
// are indexed recursively.
func (h *Handler) Track(name string) error {
	fi, err := os.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			// gone before the callback ran, a delete follows
			return nil
		}
		return errors.Wrapf(err, "track %q", name)
	}

	h.rwM.Lock()
	defer h.rwM.Unlock()
	if fi.IsDir() {
		return h.readDir(name)
	}
	if fi.Mode().IsRegular() {
		h.store(name, fi)
	}
	return nil
}

// Forget drops a deleted path, and everything under it, from the index.
func (h *Handler) Forget(name string) error {
	key, ok := h.rel(name)
	if !ok {
		return nil
	}

	h.rwM.Lock()
	defer h.rwM.Unlock()
	for k, m := range h.meta {
		if k == key || key == "." || strings.HasPrefix(k, key+string(filepath.Separator)) {
			h.logger.Printf("handler :: remove file meta --> %s\n", m)
			delete(h.meta, k)
		}
	}
	return nil
}
