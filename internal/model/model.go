// Package model defines the core domain types shared across the matrix engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Capacity is the number of members a position must acquire to cycle.
// The scheme is a forced 1x3 matrix: every position has exactly three slots.
const Capacity = 3

// Position is a purchased slot at one matrix level. It fills as members
// join and cycles when Filled reaches Capacity, paying Amount back to the
// owner's balance. Cycled positions are immutable and live in the
// historical subset; they are never deleted.
type Position struct {
	ID        string          `json:"id"`
	Level     int             `json:"level"`
	Amount    decimal.Decimal `json:"amount"` // copied from the catalog at creation
	Filled    int             `json:"filled"` // 0..Capacity, always == len(Members)
	Members   []string        `json:"members"`
	Cycled    bool            `json:"cycled"`
	CreatedAt time.Time       `json:"created_at"`
	CycledAt  *time.Time      `json:"cycled_at,omitempty"` // set iff Cycled
}

// Clone returns a deep copy so callers cannot mutate stored state through
// a returned view.
func (p Position) Clone() Position {
	c := p
	c.Members = append([]string(nil), p.Members...)
	if p.CycledAt != nil {
		t := *p.CycledAt
		c.CycledAt = &t
	}
	return c
}

// Transaction types.
const (
	TxDeposit  = "deposit"
	TxPurchase = "purchase"
	TxPayout   = "payout"
	TxRefund   = "refund"
)

// Transaction is an immutable record of a balance change.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`    // "deposit", "purchase", "payout", "refund"
	Amount    decimal.Decimal `json:"amount"`  // signed: credits positive, debits negative
	Balance   decimal.Decimal `json:"balance"` // balance after applying Amount
	Reference string          `json:"reference,omitempty"` // position id, when applicable
	Timestamp time.Time       `json:"timestamp"`
}

// EarningsSummary aggregates realized and unrealized earnings for a user.
type EarningsSummary struct {
	UserID string `json:"user_id"`
	// TotalEarnings is Σ amount over the historical (cycled) subset.
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	// PendingEarnings is Σ amount*filled/3 over the active subset —
	// the pro-rated unrealized value of partially filled positions.
	PendingEarnings decimal.Decimal `json:"pending_earnings"`
	ActiveCount     int             `json:"active_count"`
	HistoricalCount int             `json:"historical_count"`
}
