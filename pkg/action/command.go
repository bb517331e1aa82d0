// Package action builds callbacks from configured rules.
package action

import (
	"bytes"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/registry"
)

// Placeholder in a command argument is replaced by the event path.
const Placeholder = "{}"

// Command returns a callback running argv for every dispatched path. The
// path and kind are also exported as FSWATCH_PATH and FSWATCH_EVENT. A
// non-zero exit fails the callback with the command output attached.
func Command(argv []string, kind model.EventKind, logger *log.Logger) (registry.Callback, error) {
	if len(argv) == 0 {
		return nil, errors.New("command: empty argv")
	}
	args := append([]string(nil), argv...)

	return func(path string) error {
		cmdArgs := make([]string, len(args))
		for i, a := range args {
			cmdArgs[i] = strings.ReplaceAll(a, Placeholder, path)
		}

		cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
		cmd.Env = append(os.Environ(),
			"FSWATCH_PATH="+path,
			"FSWATCH_EVENT="+kind.String(),
		)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		if err := cmd.Run(); err != nil {
			return errors.Wrapf(err, "command %v on %s %q: %s", cmdArgs, kind, path, strings.TrimSpace(out.String()))
		}
		logger.Printf("action :: %v on %s %q done\n", cmdArgs, kind, path)
		return nil
	}, nil
}
