// Package slippage converts order size, liquidity and spread into an
// execution price penalty.
package slippage

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
)

// Kind selects how market impact scales with participation.
type Kind string

const (
	KindFixed  Kind = "fixed"
	KindLinear Kind = "linear"
	KindSqrt   Kind = "sqrt"
)

// ParseKind validates a model name from configuration. Empty means sqrt.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindSqrt, nil
	case KindFixed, KindLinear, KindSqrt:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown slippage model %q", s)
	}
}

// Model is a slippage model. All percentages are fractions (0.001 = 10 bps).
type Model struct {
	Kind Kind
	// BaseBps is the participation-independent component.
	BaseBps float64
	// ImpactCoef scales participation (linear) or its square root (sqrt).
	ImpactCoef float64
	// FixedPct, when non-zero, replaces the whole model. Used for
	// deterministic stress scenarios.
	FixedPct float64
	// StressMultiplier scales the modelled percentage; values below 1 are
	// treated as 1.
	StressMultiplier float64
	// MaxPct caps the modelled percentage; zero means no cap.
	MaxPct float64
}

// DefaultModel returns the square-root impact model used when nothing is
// configured.
func DefaultModel() Model {
	return Model{Kind: KindSqrt, BaseBps: 2, ImpactCoef: 0.1, StressMultiplier: 1, MaxPct: 0.05}
}

// WithFixedBps returns a copy of m with a fixed override in basis points.
// Zero bps clears the override.
func (m Model) WithFixedBps(bps float64) Model {
	m.FixedPct = bps / 10000
	return m
}

// Params describes the order being filled.
type Params struct {
	OrderSize float64 // units
	AvgVolume float64 // units per bar
	Spread    float64 // bid/ask spread as a fraction of price
}

// Pct returns the slippage percentage for the order. It is non-decreasing in
// OrderSize/AvgVolume and in Spread.
func (m Model) Pct(p Params) float64 {
	if m.FixedPct != 0 {
		return m.FixedPct
	}

	participation := 1.0
	if p.AvgVolume > 0 {
		participation = math.Max(p.OrderSize, 0) / p.AvgVolume
	}

	impact := m.BaseBps / 10000
	switch m.Kind {
	case KindLinear:
		impact += m.ImpactCoef * participation
	case KindSqrt:
		impact += m.ImpactCoef * math.Sqrt(participation)
	}

	pct := (impact + math.Max(p.Spread, 0)/2) * math.Max(m.StressMultiplier, 1)
	if m.MaxPct > 0 && pct > m.MaxPct {
		pct = m.MaxPct
	}
	return pct
}

// Apply shifts price against the trader: BUY fills higher, SELL fills lower.
// The result is rounded to 8 decimal places.
func Apply(price decimal.Decimal, pct float64, side domain.Side) decimal.Decimal {
	shift := decimal.NewFromFloat(pct)
	if side == domain.SideSell {
		shift = shift.Neg()
	}
	return price.Mul(decimal.NewFromInt(1).Add(shift)).Round(8)
}
