package broker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
	"wfengine/internal/slippage"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting. It fills
// market orders immediately at the slipped reference price and tracks cash
// and long positions in memory. It is not safe for concurrent use; each
// simulation run owns one.
type SimulatorBroker struct {
	cash           decimal.Decimal
	commissionRate decimal.Decimal
	positions      map[string]*domain.Position
	marks          map[string]decimal.Decimal
}

// NewSimulatorBroker creates a SimulatorBroker holding initialCash.
// commissionRate is a fraction of notional (0.001 = 10 bps).
func NewSimulatorBroker(initialCash, commissionRate decimal.Decimal) *SimulatorBroker {
	return &SimulatorBroker{
		cash:           initialCash,
		commissionRate: commissionRate,
		positions:      make(map[string]*domain.Position),
		marks:          make(map[string]decimal.Decimal),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder fills the order. BUY quantities are clamped so that notional
// plus commission never exceeds cash. SELL always closes the whole position.
func (b *SimulatorBroker) SubmitOrder(order *domain.Order) (*domain.Trade, error) {
	if !order.RefPrice.IsPositive() {
		return nil, fmt.Errorf("%s %s: non-positive price %s: %w", order.Side, order.Symbol, order.RefPrice, ErrInvalidOrder)
	}
	switch order.Side {
	case domain.SideBuy:
		return b.buy(order)
	case domain.SideSell:
		return b.sell(order)
	default:
		return nil, fmt.Errorf("unknown side %q: %w", order.Side, ErrInvalidOrder)
	}
}

func (b *SimulatorBroker) buy(order *domain.Order) (*domain.Trade, error) {
	if _, ok := b.positions[order.Symbol]; ok {
		return nil, fmt.Errorf("buy %s: %w", order.Symbol, ErrPositionOpen)
	}
	if !order.Qty.IsPositive() {
		return nil, fmt.Errorf("buy %s qty %s: %w", order.Symbol, order.Qty, ErrInvalidOrder)
	}

	price := slippage.Apply(order.RefPrice, order.SlippagePct, domain.SideBuy)
	unitCost := price.Mul(decimal.NewFromInt(1).Add(b.commissionRate))
	qty := order.Qty
	if qty.Mul(unitCost).GreaterThan(b.cash) {
		qty = b.cash.Div(unitCost).Truncate(8)
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("buy %s: %w", order.Symbol, ErrInsufficientCash)
	}

	notional := qty.Mul(price).Round(8)
	commission := notional.Mul(b.commissionRate).Round(8)
	b.cash = b.cash.Sub(notional).Sub(commission)

	b.positions[order.Symbol] = &domain.Position{
		Symbol:          order.Symbol,
		Qty:             qty,
		AvgPrice:        price,
		EntryCommission: commission,
		EntryTime:       order.Timestamp,
	}
	b.marks[order.Symbol] = order.RefPrice

	return &domain.Trade{
		Symbol:      order.Symbol,
		Side:        domain.SideBuy,
		Qty:         qty,
		Price:       price,
		Timestamp:   order.Timestamp,
		Commission:  commission,
		SlippagePct: order.SlippagePct,
		Reason:      order.Reason,
	}, nil
}

func (b *SimulatorBroker) sell(order *domain.Order) (*domain.Trade, error) {
	pos, ok := b.positions[order.Symbol]
	if !ok {
		return nil, fmt.Errorf("sell %s: %w", order.Symbol, ErrNoPosition)
	}

	price := slippage.Apply(order.RefPrice, order.SlippagePct, domain.SideSell)
	notional := pos.Qty.Mul(price).Round(8)
	commission := notional.Mul(b.commissionRate).Round(8)
	pnl := pos.Qty.Mul(price.Sub(pos.AvgPrice)).Round(8).
		Sub(pos.EntryCommission.Add(commission))

	b.cash = b.cash.Add(notional).Sub(commission)
	delete(b.positions, order.Symbol)
	delete(b.marks, order.Symbol)

	return &domain.Trade{
		Symbol:      order.Symbol,
		Side:        domain.SideSell,
		Qty:         pos.Qty,
		Price:       price,
		Timestamp:   order.Timestamp,
		Commission:  commission,
		SlippagePct: order.SlippagePct,
		RealizedPnL: &pnl,
		Reason:      order.Reason,
	}, nil
}

// Position returns a copy of the open position for symbol, or nil.
func (b *SimulatorBroker) Position(symbol string) *domain.Position {
	p, ok := b.positions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// MarkToMarket records price as the latest mark and updates unrealized PnL.
func (b *SimulatorBroker) MarkToMarket(symbol string, price decimal.Decimal) {
	p, ok := b.positions[symbol]
	if !ok {
		return
	}
	b.marks[symbol] = price
	p.UnrealizedPnL = p.Qty.Mul(price.Sub(p.AvgPrice)).Round(8)
}

// Account returns cash plus every open position valued at its latest mark.
func (b *SimulatorBroker) Account() domain.AccountInfo {
	equity := b.cash
	for sym, p := range b.positions {
		equity = equity.Add(p.Qty.Mul(b.marks[sym]).Round(8))
	}
	return domain.AccountInfo{Cash: b.cash, Equity: equity}
}
