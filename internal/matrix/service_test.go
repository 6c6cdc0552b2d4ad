package matrix_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fmx/matrix-engine/internal/account"
	"github.com/fmx/matrix-engine/internal/catalog"
	"github.com/fmx/matrix-engine/internal/matrix"
	"github.com/fmx/matrix-engine/internal/model"
	"github.com/fmx/matrix-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testEnv wires an engine against an in-memory store with deterministic ids
// and a stepping clock.
type testEnv struct {
	engine *matrix.Service
	ledger *account.Ledger
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T, startingBalance float64) *testEnv {
	t.Helper()

	var idSeq int
	newID := func() string {
		idSeq++
		return fmt.Sprintf("id-%d", idSeq)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	now := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ms := store.NewMemoryStore()
	ledger := account.NewLedger(d(startingBalance), newID, now)
	engine := matrix.NewService(ledger, ms, nil, newID, now)

	return &testEnv{engine: engine, ledger: ledger, store: ms}
}

// --- Position creation ---

func TestCreatePosition_DebitsBalance(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	pos, err := env.engine.CreatePosition(ctx, "user1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pos.Level != 1 {
		t.Errorf("expected level 1, got %d", pos.Level)
	}
	if !pos.Amount.Equal(d(3)) {
		t.Errorf("expected amount 3, got %s", pos.Amount)
	}
	if pos.Filled != 0 || len(pos.Members) != 0 || pos.Cycled {
		t.Errorf("new position must start empty, got %+v", pos)
	}
	if !env.ledger.Balance("user1").Equal(d(7)) {
		t.Errorf("expected balance 7 after purchase, got %s", env.ledger.Balance("user1"))
	}

	active, err := env.engine.ListActive(ctx, "user1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].ID != pos.ID {
		t.Errorf("expected one active position %s, got %v", pos.ID, active)
	}
}

func TestCreatePosition_InvalidLevel(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	for _, level := range []int{0, -1, 16} {
		_, err := env.engine.CreatePosition(ctx, "user1", level)
		if !errors.Is(err, catalog.ErrInvalidLevel) {
			t.Errorf("level %d: expected ErrInvalidLevel, got %v", level, err)
		}
	}

	// Failure is side-effect free: no debit, no insertion, nothing persisted.
	if !env.ledger.Balance("user1").Equal(d(10)) {
		t.Errorf("balance changed on invalid level: %s", env.ledger.Balance("user1"))
	}
	active, _ := env.engine.ListActive(ctx, "user1", 0)
	if len(active) != 0 {
		t.Errorf("position created despite invalid level: %v", active)
	}
	if saved, _ := env.store.Load(ctx, "user1"); saved != nil {
		t.Errorf("state persisted despite invalid level: %v", saved)
	}
}

func TestCreatePosition_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	// Level 5 costs 48.
	_, err := env.engine.CreatePosition(ctx, "user1", 5)
	if !errors.Is(err, account.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if !env.ledger.Balance("user1").Equal(d(10)) {
		t.Errorf("balance changed on failed purchase: %s", env.ledger.Balance("user1"))
	}
	active, _ := env.engine.ListActive(ctx, "user1", 0)
	if len(active) != 0 {
		t.Errorf("position created despite insufficient balance: %v", active)
	}
}

func TestCreatePosition_WriteThrough(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	pos, err := env.engine.CreatePosition(ctx, "user1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A successful result guarantees the state is already persisted.
	saved, err := env.store.Load(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved) != 1 || saved[0].ID != pos.ID {
		t.Errorf("expected persisted position %s, got %v", pos.ID, saved)
	}
}

// --- Fill and cycle ---

func TestAdvanceFill_ProgressesToCycle(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	pos, err := env.engine.CreatePosition(ctx, "user1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !env.ledger.Balance("user1").Equal(d(7)) {
		t.Fatalf("expected balance 7, got %s", env.ledger.Balance("user1"))
	}

	// First two fills: position stays active, no payout.
	for i := 1; i <= 2; i++ {
		updated, cycled, err := env.engine.AdvanceFill(ctx, "user1", pos.ID)
		if err != nil {
			t.Fatalf("fill %d: unexpected error: %v", i, err)
		}
		if cycled {
			t.Fatalf("fill %d must not cycle", i)
		}
		if updated.Filled != i {
			t.Errorf("fill %d: expected filled=%d, got %d", i, i, updated.Filled)
		}
		if len(updated.Members) != i {
			t.Errorf("fill %d: expected %d members, got %d", i, i, len(updated.Members))
		}
		if !env.ledger.Balance("user1").Equal(d(7)) {
			t.Errorf("fill %d: balance changed before cycle: %s", i, env.ledger.Balance("user1"))
		}
	}

	// Third fill cycles: payout credited, position archived.
	updated, cycled, err := env.engine.AdvanceFill(ctx, "user1", pos.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cycled {
		t.Fatal("third fill must report cycled=true")
	}
	if updated.Filled != 3 || !updated.Cycled {
		t.Errorf("expected filled=3 cycled position, got %+v", updated)
	}
	if updated.CycledAt == nil {
		t.Fatal("cycled position must carry cycled_at")
	}
	if updated.CycledAt.Before(updated.CreatedAt) {
		t.Error("cycled_at must not precede created_at")
	}
	if !env.ledger.Balance("user1").Equal(d(10)) {
		t.Errorf("expected balance back to 10 after payout, got %s", env.ledger.Balance("user1"))
	}

	active, _ := env.engine.ListActive(ctx, "user1", 0)
	if len(active) != 0 {
		t.Errorf("cycled position still listed active: %v", active)
	}
	historical, _ := env.engine.ListHistorical(ctx, "user1", 0)
	if len(historical) != 1 || historical[0].ID != pos.ID {
		t.Errorf("expected cycled position in historical subset, got %v", historical)
	}
}

func TestAdvanceFill_MembersAppendInCallOrder(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	pos, _ := env.engine.CreatePosition(ctx, "user1", 1)

	var members []string
	for i := 0; i < 3; i++ {
		updated, _, err := env.engine.AdvanceFill(ctx, "user1", pos.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		members = updated.Members
	}

	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	// Deterministic generator: ids are handed out in call order.
	for i := 1; i < len(members); i++ {
		if members[i] == members[i-1] {
			t.Errorf("duplicate member id at %d: %s", i, members[i])
		}
	}
}

func TestAdvanceFill_UnknownPosition(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	_, _, err := env.engine.AdvanceFill(ctx, "user1", "missing")
	if !errors.Is(err, matrix.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvanceFill_CycledPositionIsNotFound(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	pos, _ := env.engine.CreatePosition(ctx, "user1", 1)
	for i := 0; i < 3; i++ {
		if _, _, err := env.engine.AdvanceFill(ctx, "user1", pos.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	balanceBefore := env.ledger.Balance("user1")

	// A cycled position is indistinguishable from "not active".
	_, _, err := env.engine.AdvanceFill(ctx, "user1", pos.ID)
	if !errors.Is(err, matrix.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on cycled position, got %v", err)
	}

	// Strict no-op: nothing changed.
	if !env.ledger.Balance("user1").Equal(balanceBefore) {
		t.Errorf("balance changed on failed fill: %s", env.ledger.Balance("user1"))
	}
	historical, _ := env.engine.ListHistorical(ctx, "user1", 0)
	if len(historical) != 1 || historical[0].Filled != 3 {
		t.Errorf("cycled position mutated by failed fill: %v", historical)
	}
}

func TestPosition_InvariantsHoldThroughLifecycle(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()

	pos, _ := env.engine.CreatePosition(ctx, "user1", 2)
	for i := 0; i < 3; i++ {
		active, _ := env.engine.ListActive(ctx, "user1", 0)
		historical, _ := env.engine.ListHistorical(ctx, "user1", 0)
		for _, p := range append(active, historical...) {
			assertInvariants(t, p)
		}
		if _, _, err := env.engine.AdvanceFill(ctx, "user1", pos.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	historical, _ := env.engine.ListHistorical(ctx, "user1", 0)
	for _, p := range historical {
		assertInvariants(t, p)
	}
}

// assertInvariants checks the structural invariants every reachable
// position must satisfy.
func assertInvariants(t *testing.T, p model.Position) {
	t.Helper()
	if p.Filled < 0 || p.Filled > model.Capacity {
		t.Errorf("position %s: filled %d out of range", p.ID, p.Filled)
	}
	if len(p.Members) != p.Filled {
		t.Errorf("position %s: %d members but filled=%d", p.ID, len(p.Members), p.Filled)
	}
	if p.Cycled != (p.Filled == model.Capacity) {
		t.Errorf("position %s: cycled=%v with filled=%d", p.ID, p.Cycled, p.Filled)
	}
	if (p.CycledAt != nil) != p.Cycled {
		t.Errorf("position %s: cycled_at presence does not match cycled flag", p.ID)
	}
	if !p.Amount.Equal(catalog.Amount(p.Level)) {
		t.Errorf("position %s: amount %s != catalog amount %s", p.ID, p.Amount, catalog.Amount(p.Level))
	}
}

// --- Earnings ---

func TestEarnings(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()

	// One cycled level-1 position (total 3) and one level-2 position with
	// a single fill (pending 6*1/3 = 2).
	p1, _ := env.engine.CreatePosition(ctx, "user1", 1)
	for i := 0; i < 3; i++ {
		if _, _, err := env.engine.AdvanceFill(ctx, "user1", p1.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	p2, _ := env.engine.CreatePosition(ctx, "user1", 2)
	if _, _, err := env.engine.AdvanceFill(ctx, "user1", p2.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary, err := env.engine.Earnings(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.TotalEarnings.Equal(d(3)) {
		t.Errorf("expected total earnings 3, got %s", summary.TotalEarnings)
	}
	if !summary.PendingEarnings.Equal(d(2)) {
		t.Errorf("expected pending earnings 2, got %s", summary.PendingEarnings)
	}
	if summary.ActiveCount != 1 || summary.HistoricalCount != 1 {
		t.Errorf("expected 1 active / 1 historical, got %d/%d",
			summary.ActiveCount, summary.HistoricalCount)
	}
}

func TestEarnings_EmptyUser(t *testing.T) {
	env := newTestEnv(t, 10)

	summary, err := env.engine.Earnings(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.TotalEarnings.IsZero() || !summary.PendingEarnings.IsZero() {
		t.Errorf("expected zero earnings for empty user, got %+v", summary)
	}
}

// --- Persistence behavior ---

// failingStore loads existing state but rejects every save, to exercise
// the rollback paths.
type failingStore struct {
	loaded []model.Position
}

func (failingStore) Save(context.Context, string, []model.Position) error {
	return errors.New("store unavailable")
}

func (f failingStore) Load(context.Context, string) ([]model.Position, error) {
	return f.loaded, nil
}

func TestCreatePosition_SaveFailureRollsBack(t *testing.T) {
	ledger := account.NewLedger(d(10), nil, nil)
	engine := matrix.NewService(ledger, failingStore{}, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.CreatePosition(ctx, "user1", 1)
	if err == nil {
		t.Fatal("expected error from failing store")
	}

	// The debit is refunded and nothing is inserted.
	if !ledger.Balance("user1").Equal(d(10)) {
		t.Errorf("expected balance restored to 10, got %s", ledger.Balance("user1"))
	}
	active, err := engine.ListActive(ctx, "user1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("position inserted despite save failure: %v", active)
	}
}

func TestAdvanceFill_SaveFailureIsNoOp(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	pos, _ := env.engine.CreatePosition(ctx, "user1", 1)
	env.engine.AdvanceFill(ctx, "user1", pos.ID)
	env.engine.AdvanceFill(ctx, "user1", pos.ID)

	// Hand the existing state to an engine whose store rejects writes. The
	// would-be cycling fill fails at the write-through and must leave book
	// and balance untouched.
	saved, _ := env.store.Load(ctx, "user1")
	broken := matrix.NewService(env.ledger, failingStore{loaded: saved}, nil, nil, nil)

	if _, _, err := broken.AdvanceFill(ctx, "user1", pos.ID); err == nil {
		t.Fatal("expected error from failing store")
	}

	active, err := broken.ListActive(ctx, "user1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].Filled != 2 {
		t.Errorf("book mutated despite save failure: %v", active)
	}
	historical, _ := broken.ListHistorical(ctx, "user1", 0)
	if len(historical) != 0 {
		t.Errorf("position cycled despite save failure: %v", historical)
	}
	if !env.ledger.Balance("user1").Equal(d(7)) {
		t.Errorf("payout credited despite save failure: %s", env.ledger.Balance("user1"))
	}
}

func TestEngine_ReloadsFromStore(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()

	p1, _ := env.engine.CreatePosition(ctx, "user1", 1)
	env.engine.AdvanceFill(ctx, "user1", p1.ID)
	p2, _ := env.engine.CreatePosition(ctx, "user1", 3)
	for i := 0; i < 3; i++ {
		env.engine.AdvanceFill(ctx, "user1", p2.ID)
	}

	// A new engine over the same store reconstructs the full state.
	restarted := matrix.NewService(account.NewLedger(decimal.Zero, nil, nil), env.store, nil, nil, nil)

	active, err := restarted.ListActive(ctx, "user1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].ID != p1.ID || active[0].Filled != 1 {
		t.Errorf("active subset not restored: %v", active)
	}
	historical, _ := restarted.ListHistorical(ctx, "user1", 0)
	if len(historical) != 1 || historical[0].ID != p2.ID || !historical[0].Cycled {
		t.Errorf("historical subset not restored: %v", historical)
	}
}

// --- Level filtering ---

func TestListPositions_LevelFilter(t *testing.T) {
	env := newTestEnv(t, 1000)
	ctx := context.Background()

	env.engine.CreatePosition(ctx, "user1", 1)
	env.engine.CreatePosition(ctx, "user1", 1)
	env.engine.CreatePosition(ctx, "user1", 4)

	level1, _ := env.engine.ListActive(ctx, "user1", 1)
	if len(level1) != 2 {
		t.Errorf("expected 2 level-1 positions, got %d", len(level1))
	}
	level4, _ := env.engine.ListActive(ctx, "user1", 4)
	if len(level4) != 1 {
		t.Errorf("expected 1 level-4 position, got %d", len(level4))
	}
	all, _ := env.engine.ListActive(ctx, "user1", 0)
	if len(all) != 3 {
		t.Errorf("expected 3 positions total, got %d", len(all))
	}
}

// --- Cross-user isolation ---

func TestUsers_FullyIndependent(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	p1, _ := env.engine.CreatePosition(ctx, "user1", 1)
	env.engine.CreatePosition(ctx, "user2", 1)

	// user2 cannot fill user1's position through their own session.
	if _, _, err := env.engine.AdvanceFill(ctx, "user2", p1.ID); !errors.Is(err, matrix.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across users, got %v", err)
	}

	active1, _ := env.engine.ListActive(ctx, "user1", 0)
	active2, _ := env.engine.ListActive(ctx, "user2", 0)
	if len(active1) != 1 || len(active2) != 1 {
		t.Errorf("expected one position each, got %d/%d", len(active1), len(active2))
	}
}
