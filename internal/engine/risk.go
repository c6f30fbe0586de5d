package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned when a stop-based size would divide by a
// zero entry-to-stop distance.
var ErrDivisionByZero = errors.New("division by zero")

// RiskManager sizes positions from a fixed fraction of the account put at
// risk between entry and stop, with an optional exposure clamp.
type RiskManager struct {
	maxPositionPct decimal.Decimal
}

// NewRiskManager creates a RiskManager.
//
//   - maxPositionPct: maximum fraction of the account allowed in a single
//     position (e.g. 0.10 for 10%). Zero disables the clamp.
func NewRiskManager(maxPositionPct decimal.Decimal) *RiskManager {
	return &RiskManager{maxPositionPct: maxPositionPct}
}

// PositionSize returns account×riskPct / |entry−stop|, truncated to 8
// places and clamped so that qty×entry stays within maxPositionPct of the
// account.
func (rm *RiskManager) PositionSize(account, riskPct, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	distance := entry.Sub(stop).Abs()
	if distance.IsZero() {
		return decimal.Zero, fmt.Errorf("position size: entry %s equals stop: %w", entry, ErrDivisionByZero)
	}
	riskAmount := account.Mul(riskPct).Round(8)
	qty := riskAmount.Div(distance).Truncate(8)

	if rm != nil && rm.maxPositionPct.IsPositive() && entry.IsPositive() {
		limit := account.Mul(rm.maxPositionPct).Div(entry).Truncate(8)
		if qty.GreaterThan(limit) {
			qty = limit
		}
	}
	return qty, nil
}
