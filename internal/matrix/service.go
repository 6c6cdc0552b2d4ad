// Package matrix implements the forced 1x3 matrix engine: position creation,
// fill/cycle transitions, and the earnings accounting that goes with them.
//
// A participant buys a position at one of 15 doubling price levels; the
// position fills as members join and, on reaching three members, cycles:
// the position's value is paid back to the owner's balance and the position
// is archived to the historical subset.
//
// All monetary values use shopspring/decimal — never float64 for money.
package matrix

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fmx/matrix-engine/internal/account"
	"github.com/fmx/matrix-engine/internal/catalog"
	"github.com/fmx/matrix-engine/internal/metrics"
	"github.com/fmx/matrix-engine/internal/model"
	"github.com/fmx/matrix-engine/internal/store"
)

// Service is the matrix engine: the only component permitted to mutate the
// position book and the balance ledger together.
//
// Each user gets a session with its own lock, so the create/debit and
// fill/credit/move sequences are atomic units per user and users never
// contend with each other. Write-through is synchronous: a successful result
// means the new state has already been persisted.
type Service struct {
	ledger *account.Ledger
	store  store.Store
	hub    *Hub // optional, for position/cycle event broadcasts

	newID func() string
	now   func() time.Time

	mu       sync.Mutex // guards sessions
	sessions map[string]*session
}

// session holds one user's loaded position book. Its mutex serializes all
// engine mutations for that user.
type session struct {
	mu     sync.Mutex
	userID string
	book   *Book
}

// NewService creates the engine. Pass nil for hub if event broadcasting is
// not needed; newID and now may be nil for uuid and wall-clock defaults
// (tests supply deterministic functions).
func NewService(ledger *account.Ledger, st store.Store, hub *Hub, newID func() string, now func() time.Time) *Service {
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		ledger:   ledger,
		store:    st,
		hub:      hub,
		newID:    newID,
		now:      now,
		sessions: make(map[string]*session),
	}
}

// session returns the user's session, creating it if needed. The book is
// loaded lazily inside the session lock.
func (s *Service) session(userID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{userID: userID}
		s.sessions[userID] = sess
	}
	return sess
}

// loadBook reconstructs the session's book from the persistence port on
// first touch. Caller must hold sess.mu.
func (s *Service) loadBook(ctx context.Context, sess *session) (*Book, error) {
	if sess.book == nil {
		positions, err := s.store.Load(ctx, sess.userID)
		if err != nil {
			return nil, err
		}
		sess.book = NewBook(positions)
	}
	return sess.book, nil
}

// CreatePosition buys a new position at the given level. The level's amount
// is debited from the user's balance and the position starts empty.
//
// Fails with catalog.ErrInvalidLevel or account.ErrInsufficientBalance; both
// failure paths are side-effect free.
func (s *Service) CreatePosition(ctx context.Context, userID string, level int) (model.Position, error) {
	lvl, err := catalog.Lookup(level)
	if err != nil {
		return model.Position{}, err
	}

	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	book, err := s.loadBook(ctx, sess)
	if err != nil {
		return model.Position{}, err
	}

	id := s.newID()
	if book.Contains(id) {
		return model.Position{}, ErrDuplicateID
	}

	if _, err := s.ledger.Debit(userID, lvl.Amount, model.TxPurchase, id); err != nil {
		return model.Position{}, err
	}

	pos := model.Position{
		ID:        id,
		Level:     level,
		Amount:    lvl.Amount,
		Filled:    0,
		Members:   []string{},
		CreatedAt: s.now().UTC(),
	}

	// Persist before committing to the book; refund the debit if the
	// write-through fails so the caller observes no state change.
	if err := s.store.Save(ctx, userID, append(book.All(), pos)); err != nil {
		s.ledger.Credit(userID, lvl.Amount, model.TxRefund, id)
		return model.Position{}, err
	}

	if err := book.Insert(pos); err != nil {
		return model.Position{}, err
	}

	metrics.PositionsCreated.WithLabelValues(strconv.Itoa(level)).Inc()
	metrics.ActivePositions.Inc()

	s.broadcast(Event{
		Type:       EventPositionCreated,
		UserID:     userID,
		PositionID: pos.ID,
		Level:      level,
		Amount:     lvl.Amount.String(),
	})

	return pos.Clone(), nil
}

// AdvanceFill simulates one member joining the position: appends a synthetic
// member id and increments the fill count. On the third member the position
// cycles — it is marked cycled, moved to the historical subset, and its
// amount is credited back to the owner's balance. The returned flag reports
// whether this call caused the cycle.
//
// Fails with ErrNotFound when the id is not in the active subset (including
// already-cycled positions); failure is a strict no-op.
func (s *Service) AdvanceFill(ctx context.Context, userID, positionID string) (model.Position, bool, error) {
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	book, err := s.loadBook(ctx, sess)
	if err != nil {
		return model.Position{}, false, err
	}

	pos, ok := book.GetActive(positionID)
	if !ok {
		return model.Position{}, false, ErrNotFound
	}

	updated := pos.Clone()
	updated.Filled++
	updated.Members = append(updated.Members, "member-"+s.newID())

	cycled := updated.Filled == model.Capacity
	if cycled {
		updated.Cycled = true
		t := s.now().UTC()
		updated.CycledAt = &t
	}

	// Persist first: nothing has mutated yet, so a failed write-through
	// leaves book and balance untouched.
	if err := s.store.Save(ctx, userID, snapshotWith(book, updated)); err != nil {
		return model.Position{}, false, err
	}

	if err := book.Update(updated); err != nil {
		return model.Position{}, false, err
	}

	metrics.FillsTotal.WithLabelValues(strconv.Itoa(updated.Level)).Inc()

	if cycled {
		if err := book.MoveToHistorical(positionID); err != nil {
			return model.Position{}, false, err
		}
		s.ledger.Credit(userID, updated.Amount, model.TxPayout, positionID)

		metrics.CyclesTotal.WithLabelValues(strconv.Itoa(updated.Level)).Inc()
		metrics.PayoutVolume.Add(updated.Amount.InexactFloat64())
		metrics.ActivePositions.Dec()

		s.broadcast(Event{
			Type:       EventCycleCompleted,
			UserID:     userID,
			PositionID: updated.ID,
			Level:      updated.Level,
			Amount:     updated.Amount.String(),
			Filled:     updated.Filled,
		})
	} else {
		s.broadcast(Event{
			Type:       EventPositionFilled,
			UserID:     userID,
			PositionID: updated.ID,
			Level:      updated.Level,
			Amount:     updated.Amount.String(),
			Filled:     updated.Filled,
		})
	}

	return updated.Clone(), cycled, nil
}

// ListActive returns the user's not-yet-cycled positions, optionally
// restricted to one level (level 0 means all levels).
func (s *Service) ListActive(ctx context.Context, userID string, level int) ([]model.Position, error) {
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	book, err := s.loadBook(ctx, sess)
	if err != nil {
		return nil, err
	}
	return filterLevel(book.Active(), level), nil
}

// ListHistorical returns the user's cycled positions, optionally restricted
// to one level (level 0 means all levels).
func (s *Service) ListHistorical(ctx context.Context, userID string, level int) ([]model.Position, error) {
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	book, err := s.loadBook(ctx, sess)
	if err != nil {
		return nil, err
	}
	return filterLevel(book.Historical(), level), nil
}

// Earnings summarizes realized and unrealized earnings: total earnings are
// the sum of historical amounts, pending earnings pro-rate each active
// position by its fill fraction.
func (s *Service) Earnings(ctx context.Context, userID string) (model.EarningsSummary, error) {
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	book, err := s.loadBook(ctx, sess)
	if err != nil {
		return model.EarningsSummary{}, err
	}

	capacity := decimal.NewFromInt(model.Capacity)
	total := decimal.Zero
	for _, p := range book.Historical() {
		total = total.Add(p.Amount)
	}
	pending := decimal.Zero
	for _, p := range book.Active() {
		pending = pending.Add(p.Amount.Mul(decimal.NewFromInt(int64(p.Filled))).Div(capacity))
	}

	active, historical := book.Counts()
	return model.EarningsSummary{
		UserID:          userID,
		TotalEarnings:   total,
		PendingEarnings: pending,
		ActiveCount:     active,
		HistoricalCount: historical,
	}, nil
}

// broadcast publishes an event when a hub is attached.
func (s *Service) broadcast(e Event) {
	if s.hub != nil {
		s.hub.Broadcast(e)
	}
}

// snapshotWith returns the book's full position set with one position
// replaced by its updated copy.
func snapshotWith(book *Book, updated model.Position) []model.Position {
	all := book.All()
	for i, p := range all {
		if p.ID == updated.ID {
			all[i] = updated.Clone()
			break
		}
	}
	return all
}

func filterLevel(positions []model.Position, level int) []model.Position {
	if level == 0 {
		return positions
	}
	out := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		if p.Level == level {
			out = append(out, p)
		}
	}
	return out
}
