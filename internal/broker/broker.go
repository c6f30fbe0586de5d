// Package broker defines the Broker interface used by the simulator to
// execute orders and track the account, and provides the in-memory
// SimulatorBroker.
package broker

import (
	"errors"

	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
)

var (
	// ErrPositionOpen is returned for a BUY while a position is already open.
	ErrPositionOpen = errors.New("position already open")
	// ErrNoPosition is returned for a SELL without an open position.
	ErrNoPosition = errors.New("no open position")
	// ErrInsufficientCash is returned when cash cannot cover any quantity.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInvalidOrder is returned for non-positive quantities or prices.
	ErrInvalidOrder = errors.New("invalid order")
)

// Broker abstracts order execution and account management.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder executes a market order and returns the resulting fill.
	SubmitOrder(order *domain.Order) (*domain.Trade, error)

	// Position returns a copy of the open position for symbol, or nil.
	Position(symbol string) *domain.Position

	// MarkToMarket revalues the open position for symbol at price.
	MarkToMarket(symbol string, price decimal.Decimal)

	// Account returns cash and marked equity.
	Account() domain.AccountInfo
}
