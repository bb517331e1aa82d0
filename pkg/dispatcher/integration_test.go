package dispatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/watcher"
)

func waitPath(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("no callback for %s", want)
		}
	}
}

func TestIntegration_FSNotify(t *testing.T) {
	root := t.TempDir()

	src, err := watcher.NewFSNotify()
	require.NoError(t, err, "create fsnotify source.")
	d, err := New(src, WithLogger(lg), WithWorkers(2))
	require.NoError(t, err, "create dispatcher.")
	defer d.Close()

	created := make(chan string, 64)
	_, err = d.RegisterCallback(model.Created, true, root, func(path string) error {
		created <- path
		return nil
	})
	require.NoError(t, err)

	deleted := make(chan string, 64)
	_, err = d.RegisterCallback(model.Deleted, false, root, func(path string) error {
		deleted <- path
		return nil
	})
	require.NoError(t, err)

	sub := filepath.Join(root, "sub")
	{ // CREATE directory, it becomes watched
		require.NoError(t, os.Mkdir(sub, 0o755))
		waitPath(t, created, sub)
	}

	file := filepath.Join(sub, "test.txt")
	{ // CREATE inside the new directory, subscribed before its callback ran
		require.NoError(t, os.WriteFile(file, []byte("test string !"), 0o644))
		waitPath(t, created, file)
	}

	top := filepath.Join(root, "top.txt")
	{ // REMOVE a file directly inside the registered directory
		require.NoError(t, os.WriteFile(top, nil, 0o644))
		require.NoError(t, os.Remove(top))
		waitPath(t, deleted, top)
	}

	require.NoError(t, d.Close())
}

// pokeUntil repeats poke until a callback for want arrives. A new directory
// is subscribed once its Created event was handled, changes made before that
// go unseen.
func pokeUntil(t *testing.T, ch <-chan string, want string, poke func()) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	poke()
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-tick.C:
			poke()
		case <-deadline:
			t.Fatalf("no callback for %s", want)
		}
	}
}

func TestIntegration_RecursiveNewSubtree(t *testing.T) {
	sources := map[string]func() (watcher.Source, error){
		"fsnotify": func() (watcher.Source, error) { return watcher.NewFSNotify() },
		"notify":   func() (watcher.Source, error) { return watcher.NewNotify(), nil },
	}

	for name, newSource := range sources {
		for _, kind := range []model.EventKind{model.Modified, model.Deleted} {
			t.Run(name+"/"+kind.String(), func(t *testing.T) {
				root, err := filepath.EvalSymlinks(t.TempDir())
				require.NoError(t, err)

				src, err := newSource()
				require.NoError(t, err, "create %s source.", name)
				d, err := New(src, WithLogger(lg), WithWorkers(2))
				require.NoError(t, err, "create dispatcher.")
				defer d.Close()

				seen := make(chan string, 64)
				_, err = d.RegisterCallback(kind, true, root, func(path string) error {
					select {
					case seen <- path:
					default:
					}
					return nil
				})
				require.NoError(t, err)

				sub := filepath.Join(root, "new")
				require.NoError(t, os.Mkdir(sub, 0o755))

				file := filepath.Join(sub, "f.txt")
				pokeUntil(t, seen, file, func() {
					require.NoError(t, os.WriteFile(file, []byte(time.Now().String()), 0o644))
					if kind == model.Deleted {
						require.NoError(t, os.Remove(file))
					}
				})

				require.NoError(t, d.Close())
			})
		}
	}
}
