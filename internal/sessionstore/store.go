// Package sessionstore persists conversation session state between turns.
// The state is an opaque JSON document owned by the workflow engine; the store
// never inspects it.
package sessionstore

import (
	"context"
	"errors"

	"github.com/wavelinehealth/frontdesk/internal/engine"
)

// ErrNotFound is returned when no state exists for a session.
var ErrNotFound = errors.New("sessionstore: session not found")

// Store loads and saves per-session engine state.
type Store interface {
	Load(ctx context.Context, sessionID string) (*engine.State, error)
	Save(ctx context.Context, st *engine.State) error
	Delete(ctx context.Context, sessionID string) error
}
