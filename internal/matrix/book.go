package matrix

import (
	"fmt"

	"github.com/fmx/matrix-engine/internal/model"
)

// Book holds all positions for one user, partitioned into active and
// historical subsets and indexed by level. Cycling relocates a position from
// active to historical; positions are never deleted.
//
// Book is not safe for concurrent use — the engine serializes access through
// the owning session's lock. All read projections return deep copies so
// callers cannot corrupt internal state through a returned view.
type Book struct {
	byID       map[string]model.Position
	order      []string         // all position ids, insertion order
	byLevel    map[int][]string // position ids per level, insertion order
	historical map[string]bool
	cycleOrder []string // historical ids, cycle order
}

// NewBook builds a book from previously persisted positions. Positions
// arriving with Cycled set are placed directly in the historical subset.
func NewBook(positions []model.Position) *Book {
	b := &Book{
		byID:       make(map[string]model.Position),
		byLevel:    make(map[int][]string),
		historical: make(map[string]bool),
	}
	for _, p := range positions {
		if _, ok := b.byID[p.ID]; ok {
			continue
		}
		b.byID[p.ID] = p.Clone()
		b.order = append(b.order, p.ID)
		b.byLevel[p.Level] = append(b.byLevel[p.Level], p.ID)
		if p.Cycled {
			b.historical[p.ID] = true
			b.cycleOrder = append(b.cycleOrder, p.ID)
		}
	}
	return b
}

// Contains reports whether any position (active or historical) has this id.
func (b *Book) Contains(id string) bool {
	_, ok := b.byID[id]
	return ok
}

// Insert adds a new position to the active subset and the per-level index.
func (b *Book) Insert(p model.Position) error {
	if _, ok := b.byID[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	b.byID[p.ID] = p.Clone()
	b.order = append(b.order, p.ID)
	b.byLevel[p.Level] = append(b.byLevel[p.Level], p.ID)
	return nil
}

// Update replaces the stored position with the same id.
func (b *Book) Update(p model.Position) error {
	if _, ok := b.byID[p.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	b.byID[p.ID] = p.Clone()
	return nil
}

// MoveToHistorical relocates a position from the active subset to the
// historical subset. This is a classification change, not a destruction.
func (b *Book) MoveToHistorical(id string) error {
	if _, ok := b.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if b.historical[id] {
		return fmt.Errorf("%w: %s already historical", ErrNotFound, id)
	}
	b.historical[id] = true
	b.cycleOrder = append(b.cycleOrder, id)
	return nil
}

// GetActive returns a copy of an active position. A cycled or unknown id
// reports false.
func (b *Book) GetActive(id string) (model.Position, bool) {
	p, ok := b.byID[id]
	if !ok || b.historical[id] {
		return model.Position{}, false
	}
	return p.Clone(), true
}

// Active returns the not-yet-cycled positions in insertion order.
func (b *Book) Active() []model.Position {
	out := make([]model.Position, 0, len(b.order)-len(b.cycleOrder))
	for _, id := range b.order {
		if !b.historical[id] {
			out = append(out, b.byID[id].Clone())
		}
	}
	return out
}

// Historical returns the cycled positions in cycle order.
func (b *Book) Historical() []model.Position {
	out := make([]model.Position, 0, len(b.cycleOrder))
	for _, id := range b.cycleOrder {
		out = append(out, b.byID[id].Clone())
	}
	return out
}

// ByLevel returns every position at a level, active and historical, in
// insertion order.
func (b *Book) ByLevel(level int) []model.Position {
	ids := b.byLevel[level]
	out := make([]model.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.byID[id].Clone())
	}
	return out
}

// All returns every position in insertion order. This is the snapshot handed
// to the persistence port on write-through.
func (b *Book) All() []model.Position {
	out := make([]model.Position, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id].Clone())
	}
	return out
}

// Counts returns the active and historical subset sizes.
func (b *Book) Counts() (active, historical int) {
	historical = len(b.cycleOrder)
	return len(b.order) - historical, historical
}
