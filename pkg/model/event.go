package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// EventKind is the kind of change a callback can be registered for.
type EventKind int

const (
	Created EventKind = iota + 1
	Modified
	Deleted
)

// Kinds lists every EventKind in dispatch order.
var Kinds = []EventKind{Created, Modified, Deleted}

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func (k EventKind) Valid() bool {
	return k >= Created && k <= Deleted
}

func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created", "create":
		return Created, nil
	case "modified", "modify", "write":
		return Modified, nil
	case "deleted", "delete", "remove":
		return Deleted, nil
	}
	return 0, errors.Errorf("unknown event kind %q", s)
}

// Op is the raw operation bit set reported by the OS primitive. Bit values
// match fsnotify.Op so the two convert directly.
type Op uint32

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
	Chmod
)

func (op Op) String() string {
	var b strings.Builder
	if op.Has(Create) {
		b.WriteString("|CREATE")
	}
	if op.Has(Remove) {
		b.WriteString("|REMOVE")
	}
	if op.Has(Write) {
		b.WriteString("|WRITE")
	}
	if op.Has(Rename) {
		b.WriteString("|RENAME")
	}
	if op.Has(Chmod) {
		b.WriteString("|CHMOD")
	}
	if b.Len() == 0 {
		return "[no events]"
	}
	return b.String()[1:]
}

func (op Op) Has(h Op) bool { return op&h == h }

// Kinds translates a raw operation into event kinds. Rename is reported on
// the old name only, the new name receives a Create. Chmod carries no kind.
func (op Op) Kinds() []EventKind {
	kinds := make([]EventKind, 0, 2)
	if op.Has(Create) {
		kinds = append(kinds, Created)
	}
	if op.Has(Write) {
		kinds = append(kinds, Modified)
	}
	if op.Has(Remove) || op.Has(Rename) {
		kinds = append(kinds, Deleted)
	}
	return kinds
}

// Event is a single change notification against an absolute path.
type Event struct {
	Path string
	Kind EventKind
}

func (e Event) String() string {
	return fmt.Sprintf("%-9s %q", e.Kind.String(), e.Path)
}
