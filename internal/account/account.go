// Package account implements the per-user balance ledger consumed by the
// matrix engine.
//
// Each user owns a single scalar balance. The engine debits it when a
// position is purchased and credits it when a position cycles; every change
// is recorded as an immutable transaction. A debit that would drive the
// balance below zero is rejected with ErrInsufficientBalance before any
// state changes.
//
// Ledgers are fully independent across users, so a single mutex suffices:
// no balance operation ever touches more than one user.
package account

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fmx/matrix-engine/internal/model"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the current
	// balance. The balance is left untouched.
	ErrInsufficientBalance = errors.New("account: insufficient balance")

	// ErrInvalidAmount is returned for zero or negative deposit amounts.
	ErrInvalidAmount = errors.New("account: amount must be positive")
)

// Ledger holds balances and transaction history for all users.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	history  map[string][]model.Transaction

	// startingBalance is granted to every user on first touch, recorded
	// as a deposit. Zero disables the grant.
	startingBalance decimal.Decimal

	newID func() string
	now   func() time.Time
}

// NewLedger creates a ledger. startingBalance seeds each new user's account.
// newID and now may be nil, in which case uuid and wall-clock defaults are
// used; tests pass deterministic functions.
func NewLedger(startingBalance decimal.Decimal, newID func() string, now func() time.Time) *Ledger {
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		balances:        make(map[string]decimal.Decimal),
		history:         make(map[string][]model.Transaction),
		startingBalance: startingBalance,
		newID:           newID,
		now:             now,
	}
}

// ensure initializes a user's account on first touch, applying the starting
// balance grant. Caller must hold l.mu.
func (l *Ledger) ensure(userID string) {
	if _, ok := l.balances[userID]; ok {
		return
	}
	l.balances[userID] = decimal.Zero
	if l.startingBalance.IsPositive() {
		l.apply(userID, model.TxDeposit, l.startingBalance, "")
	}
}

// apply records a signed balance change. Caller must hold l.mu and have
// validated the change.
func (l *Ledger) apply(userID, txType string, amount decimal.Decimal, ref string) model.Transaction {
	newBalance := l.balances[userID].Add(amount)
	l.balances[userID] = newBalance

	tx := model.Transaction{
		ID:        l.newID(),
		UserID:    userID,
		Type:      txType,
		Amount:    amount,
		Balance:   newBalance,
		Reference: ref,
		Timestamp: l.now().UTC(),
	}
	l.history[userID] = append(l.history[userID], tx)
	return tx
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(userID)
	return l.balances[userID]
}

// Deposit credits an external top-up to the user's balance.
func (l *Ledger) Deposit(userID string, amount decimal.Decimal) (model.Transaction, error) {
	if !amount.IsPositive() {
		return model.Transaction{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(userID)
	return l.apply(userID, model.TxDeposit, amount, ""), nil
}

// Debit withdraws amount from the user's balance, recording a transaction of
// the given type referencing a position. Fails with ErrInsufficientBalance,
// side-effect free, when the balance is too low.
func (l *Ledger) Debit(userID string, amount decimal.Decimal, txType, ref string) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(userID)

	if l.balances[userID].LessThan(amount) {
		return model.Transaction{}, ErrInsufficientBalance
	}
	return l.apply(userID, txType, amount.Neg(), ref), nil
}

// Credit adds amount to the user's balance, recording a transaction of the
// given type referencing a position.
func (l *Ledger) Credit(userID string, amount decimal.Decimal, txType, ref string) model.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(userID)
	return l.apply(userID, txType, amount, ref)
}

// Transactions returns the user's transaction history, oldest first.
// The returned slice is a copy.
func (l *Ledger) Transactions(userID string) []model.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(userID)
	return append([]model.Transaction(nil), l.history[userID]...)
}
