// Package domain defines the core types shared across the backtesting engine:
// candles, positions, trades, signals and equity points.
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned when a candle series is empty, either because the
// candle source holds nothing for the requested range or because a
// simulation was started without candles.
var ErrNoData = errors.New("no data")

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// Market identifies the venue family a symbol trades on.
type Market string

const (
	MarketUS     Market = "us"
	MarketCN     Market = "cn"
	MarketCrypto Market = "crypto"
)

// Side is the direction of an executed order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Action is a strategy decision.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Candle is a single OHLCV bar. Candles are immutable and strictly
// time-ascending within a series.
type Candle struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

// Signal is the output of a strategy decision for the current bar.
type Signal struct {
	Action Action
	// Quantity is an explicit order size. Zero means the simulator picks the
	// size.
	Quantity decimal.Decimal
	// StopPrice is the protective stop the strategy intends to use, or zero.
	StopPrice float64
	Reason    string
}

// Hold returns a HOLD signal with the given reason.
func Hold(reason string) Signal { return Signal{Action: ActionHold, Reason: reason} }

// Buy returns a BUY signal with default sizing.
func Buy(reason string, stop float64) Signal {
	return Signal{Action: ActionBuy, StopPrice: stop, Reason: reason}
}

// Sell returns a SELL signal for the whole position.
func Sell(reason string) Signal { return Signal{Action: ActionSell, Reason: reason} }

// Order is a market order handed to a broker.
type Order struct {
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	RefPrice    decimal.Decimal // pre-slippage reference price
	SlippagePct float64
	Timestamp   time.Time
	Reason      string
}

// Position is an open long holding. At most one exists per symbol in a
// simulation run.
type Position struct {
	Symbol          string
	Qty             decimal.Decimal
	AvgPrice        decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	EntryCommission decimal.Decimal
	EntryTime       time.Time
}

// Trade is an executed fill. RealizedPnL is only set on a closing SELL.
type Trade struct {
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	Price       decimal.Decimal
	Timestamp   time.Time
	Commission  decimal.Decimal
	SlippagePct float64
	RealizedPnL *decimal.Decimal
	Reason      string
}

// IsClosing reports whether the trade closed a position.
func (t Trade) IsClosing() bool { return t.RealizedPnL != nil }

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// AccountInfo is a snapshot of a simulated account.
type AccountInfo struct {
	Cash   decimal.Decimal
	Equity decimal.Decimal
}
