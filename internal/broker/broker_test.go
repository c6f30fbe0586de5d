package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(d("1000"), decimal.Zero)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorBrokerRoundTrip(t *testing.T) {
	b := NewSimulatorBroker(d("10000"), d("0.001"))
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	buy, err := b.SubmitOrder(&domain.Order{Symbol: "AAPL", Side: domain.SideBuy, Qty: d("10"), RefPrice: d("100"), SlippagePct: 0.01, Timestamp: ts})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !buy.Price.Equal(d("101")) || !buy.Commission.Equal(d("1.01")) {
		t.Errorf("buy fill = %s @ %s comm %s, want 101 comm 1.01", buy.Qty, buy.Price, buy.Commission)
	}
	if buy.IsClosing() {
		t.Error("buy should not carry realized PnL")
	}

	b.MarkToMarket("AAPL", d("110"))
	pos := b.Position("AAPL")
	if pos == nil || !pos.UnrealizedPnL.Equal(d("90")) {
		t.Fatalf("position = %+v, want unrealized 90", pos)
	}
	if acct := b.Account(); !acct.Equity.Equal(d("10088.99")) {
		t.Errorf("equity = %s, want 10088.99", acct.Equity)
	}

	sell, err := b.SubmitOrder(&domain.Order{Symbol: "AAPL", Side: domain.SideSell, RefPrice: d("110"), SlippagePct: 0.01, Timestamp: ts.AddDate(0, 0, 5)})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !sell.Price.Equal(d("108.9")) {
		t.Errorf("sell price = %s, want 108.9", sell.Price)
	}
	if sell.RealizedPnL == nil || !sell.RealizedPnL.Equal(d("76.901")) {
		t.Errorf("realized = %v, want 76.901", sell.RealizedPnL)
	}
	if acct := b.Account(); !acct.Cash.Equal(d("10076.901")) || !acct.Equity.Equal(acct.Cash) {
		t.Errorf("account after close = %+v, want cash = equity = 10076.901", acct)
	}
	if b.Position("AAPL") != nil {
		t.Error("position should be closed")
	}
}

func TestSimulatorBrokerClampsToCash(t *testing.T) {
	b := NewSimulatorBroker(d("1000"), decimal.Zero)
	tr, err := b.SubmitOrder(&domain.Order{Symbol: "X", Side: domain.SideBuy, Qty: d("100"), RefPrice: d("100")})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !tr.Qty.Equal(d("10")) {
		t.Errorf("clamped qty = %s, want 10", tr.Qty)
	}
	if acct := b.Account(); !acct.Cash.IsZero() {
		t.Errorf("cash = %s, want 0", acct.Cash)
	}
}

func TestSimulatorBrokerErrors(t *testing.T) {
	b := NewSimulatorBroker(d("1000"), decimal.Zero)

	if _, err := b.SubmitOrder(&domain.Order{Symbol: "X", Side: domain.SideSell, RefPrice: d("10")}); !errors.Is(err, ErrNoPosition) {
		t.Errorf("sell flat error = %v, want ErrNoPosition", err)
	}
	if _, err := b.SubmitOrder(&domain.Order{Symbol: "X", Side: domain.SideBuy, Qty: d("1"), RefPrice: decimal.Zero}); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("zero price error = %v, want ErrInvalidOrder", err)
	}
	if _, err := b.SubmitOrder(&domain.Order{Symbol: "X", Side: domain.SideBuy, Qty: d("1"), RefPrice: d("10")}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := b.SubmitOrder(&domain.Order{Symbol: "X", Side: domain.SideBuy, Qty: d("1"), RefPrice: d("10")}); !errors.Is(err, ErrPositionOpen) {
		t.Errorf("second buy error = %v, want ErrPositionOpen", err)
	}

	broke := NewSimulatorBroker(decimal.Zero, decimal.Zero)
	if _, err := broke.SubmitOrder(&domain.Order{Symbol: "X", Side: domain.SideBuy, Qty: d("1"), RefPrice: d("10")}); !errors.Is(err, ErrInsufficientCash) {
		t.Errorf("no cash error = %v, want ErrInsufficientCash", err)
	}
}
