// Package checkpoint persists dialogue state between turns. A turn loads the
// session's dialogue, computes the next one, and saves it back in a single
// Save call, so a crash between turns loses at most the turn in flight.
package checkpoint

import (
	"context"
	"errors"

	"github.com/sonilabs/soni/internal/state"
)

// ErrNotFound is returned by Load when the session has no saved dialogue.
var ErrNotFound = errors.New("session not found")

// Store is the persistence contract. Implementations must make Save atomic
// per session: a reader sees either the previous dialogue or the new one,
// never a partial write.
type Store interface {
	// Load returns the saved dialogue for a session, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*state.Dialogue, error)

	// Save replaces the saved dialogue for a session.
	Save(ctx context.Context, d *state.Dialogue) error

	// Delete removes a session's dialogue. Deleting an absent session is
	// not an error.
	Delete(ctx context.Context, sessionID string) error

	// Sessions lists the ids of all saved sessions.
	Sessions(ctx context.Context) ([]string, error)

	// Close releases the backing resources.
	Close() error
}
