// Package catalog defines the fixed table of 15 matrix levels.
//
// Prices follow a strict doubling law starting at 3:
//
//	amount(n) = 3 * 2^(n-1)
//
// so level 1 costs 3 and level 15 costs 49152. The table is immutable after
// process start; names and colors are cosmetic display attributes carried
// through to the UI.
//
// All monetary values use shopspring/decimal — never float64 for money.
package catalog

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinLevel and MaxLevel bound the catalog range.
const (
	MinLevel = 1
	MaxLevel = 15
)

// BaseAmount is the price of level 1. Every subsequent level doubles it.
var BaseAmount = decimal.NewFromInt(3)

// ErrInvalidLevel is returned when a level outside [MinLevel, MaxLevel]
// is requested.
var ErrInvalidLevel = errors.New("catalog: invalid level")

// Level is one immutable price tier of the matrix.
type Level struct {
	Level  int             `json:"level"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Color  string          `json:"color"` // cosmetic, irrelevant to accounting
}

// names and colors match the original product's tier branding, in level order.
var tiers = []struct {
	name  string
	color string
}{
	{"Starter", "#6366f1"},
	{"Bronze", "#a5b4fc"},
	{"Silver", "#94a3b8"},
	{"Gold", "#fbbf24"},
	{"Platinum", "#d1d5db"},
	{"Ruby", "#ef4444"},
	{"Emerald", "#10b981"},
	{"Sapphire", "#3b82f6"},
	{"Diamond", "#a5f3fc"},
	{"Double Diamond", "#38bdf8"},
	{"Triple Diamond", "#2563eb"},
	{"Royal Diamond", "#4338ca"},
	{"Black Diamond", "#1e293b"},
	{"Double Black Diamond", "#0f172a"},
	{"Crown Diamond", "#fcd34d"},
}

// levels is built once at init and never mutated afterwards.
var levels []Level

func init() {
	levels = make([]Level, len(tiers))
	for i, t := range tiers {
		levels[i] = Level{
			Level:  i + MinLevel,
			Name:   t.name,
			Amount: Amount(i + MinLevel),
			Color:  t.color,
		}
	}
}

// Amount computes the doubling law directly: 3 * 2^(n-1).
// Callers must pass a level within [MinLevel, MaxLevel]; use Lookup for
// validated access.
func Amount(level int) decimal.Decimal {
	return BaseAmount.Mul(decimal.NewFromInt(1 << (level - MinLevel)))
}

// Valid reports whether level exists in the catalog.
func Valid(level int) bool {
	return level >= MinLevel && level <= MaxLevel
}

// Lookup returns the catalog entry for a level, or ErrInvalidLevel if the
// level is out of range.
func Lookup(level int) (Level, error) {
	if !Valid(level) {
		return Level{}, fmt.Errorf("%w: %d (expected %d..%d)", ErrInvalidLevel, level, MinLevel, MaxLevel)
	}
	return levels[level-MinLevel], nil
}

// All returns the full 15-level table in level order. The returned slice is
// a copy; the catalog itself is never mutated.
func All() []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}
