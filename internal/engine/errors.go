package engine

import (
	"errors"
	"fmt"
)

// ErrInvariant marks an internal engine invariant violation, e.g. a mutating
// tool call sourcing an argument from an unconfirmed fact. It is fatal to the
// session and indicates an engine bug, never a user-facing condition.
var ErrInvariant = errors.New("engine: invariant violation")

// ErrSessionClosed is returned when a turn arrives for a session that has
// already reached a terminal step.
var ErrSessionClosed = errors.New("engine: session closed")

func errInvariantf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...)
}
