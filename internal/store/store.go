// Package store defines the persistence port for matrix position state.
//
// The engine keeps positions in memory and writes the full set through after
// every mutation; a successful engine call therefore guarantees the new state
// has already been persisted. Implementations include PostgreSQL (source of
// truth), Redis (key-value record per user), a JSON file per user, and
// in-memory (for testing).
//
// Load favors availability over strict durability: malformed persisted data
// is discarded and reported as absence of prior state, never as a fatal
// error.
package store

import (
	"context"

	"github.com/fmx/matrix-engine/internal/model"
)

// Store is the persistence port. Save replaces the durable record of all of
// a user's positions (active and historical); Load reconstructs it at
// session start. Load returns (nil, nil) when no prior state exists or the
// stored record is corrupt.
type Store interface {
	Save(ctx context.Context, userID string, positions []model.Position) error
	Load(ctx context.Context, userID string) ([]model.Position, error)
}

// clonePositions deep-copies a position slice so stored state and caller
// state cannot alias each other.
func clonePositions(positions []model.Position) []model.Position {
	out := make([]model.Position, len(positions))
	for i, p := range positions {
		out[i] = p.Clone()
	}
	return out
}
