package action

import (
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
)

var (
	lg *log.Logger
)

func TestMain(m *testing.M) {
	lg = log.New(os.Stdout, "test --> ", 1|4)
	os.Exit(m.Run())
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommand_Empty(t *testing.T) {
	cb, err := Command(nil, model.Created, lg)
	require.Error(t, err)
	require.Nil(t, cb)
}

func TestCommand_Placeholder(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	cb, err := Command([]string{"sh", "-c", `printf '%s %s %s' "$1" "$FSWATCH_EVENT" "$FSWATCH_PATH" > ` + out, "sh", "{}"}, model.Modified, lg)
	require.NoError(t, err, "build command callback.")

	require.NoError(t, cb("/watched/file.txt"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "/watched/file.txt modified /watched/file.txt", string(data))
}

func TestCommand_Failure(t *testing.T) {
	requireShell(t)

	cb, err := Command([]string{"sh", "-c", "echo broken; exit 3"}, model.Deleted, lg)
	require.NoError(t, err)

	err = cb("/gone")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "broken"), "output attached: %v", err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.ExitCode())
}
