package matrix

import "errors"

var (
	// ErrNotFound is returned when an operation targets a position that is
	// not in the active subset. An already-cycled position is
	// indistinguishable from an unknown one: both are "not active".
	ErrNotFound = errors.New("matrix: position not found")

	// ErrDuplicateID is returned on an identifier collision at insert.
	// Should not occur with a proper id generator, but is defended against.
	ErrDuplicateID = errors.New("matrix: duplicate position id")
)
