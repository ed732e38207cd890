package poolbet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/store"
)

func newTestPool(t *testing.T, marketID string, balance int64) (*VariablePool, *ledger.Ledger, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateMarket(ctx, &model.Market{ID: marketID, Status: model.MarketActive, Scope: model.GlobalScope, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := s.CreateUser(ctx, &model.User{ID: "u1", Email: "u1@x.com", Balance: balance}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	l := ledger.New(s)
	pool, err := NewVariablePool(marketID, model.GlobalScope, decimal.NewFromInt(100), l)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool, l, s
}

func TestBuyDebitsBalanceAndCreditsShares(t *testing.T) {
	pool, _, s := newTestPool(t, "m1", 10000)
	ctx := context.Background()

	cost, err := pool.Buy(ctx, "u1", model.Yes, 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if cost <= 0 {
		t.Fatalf("expected positive cost, got %d", cost)
	}

	u, _ := s.GetUser(ctx, "u1")
	if u.Balance != 10000-cost {
		t.Fatalf("expected balance %d, got %d", 10000-cost, u.Balance)
	}

	pos, err := s.GetPosition(ctx, "u1", "m1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.YesShares != 10 {
		t.Fatalf("expected 10 YES shares, got %d", pos.YesShares)
	}
}

func TestBuyingYesMovesPriceUp(t *testing.T) {
	pool, _, _ := newTestPool(t, "m1", 1000000)
	ctx := context.Background()

	before := pool.Price()
	if _, err := pool.Buy(ctx, "u1", model.Yes, 50); err != nil {
		t.Fatalf("buy: %v", err)
	}
	after := pool.Price()

	if !after.GreaterThan(before) {
		t.Fatalf("expected price to increase: before=%s after=%s", before, after)
	}
}

func TestBuyInsufficientFundsFails(t *testing.T) {
	pool, _, _ := newTestPool(t, "m1", 1)
	ctx := context.Background()

	if _, err := pool.Buy(ctx, "u1", model.Yes, 10); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestBuyThenSellRoundTripsApproximately(t *testing.T) {
	pool, _, s := newTestPool(t, "m1", 10000)
	ctx := context.Background()

	cost, err := pool.Buy(ctx, "u1", model.Yes, 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	proceeds, err := pool.Sell(ctx, "u1", model.Yes, 10)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	// A sell right after a buy with no intervening trades should return
	// close to what was paid (exact cost is path-independent for LMSR;
	// cent rounding on each leg can differ by at most a cent per trade).
	diff := cost - proceeds
	if diff < -2 || diff > 2 {
		t.Fatalf("expected buy/sell round-trip within 2 cents, cost=%d proceeds=%d", cost, proceeds)
	}

	pos, _ := s.GetPosition(ctx, "u1", "m1")
	if pos.YesShares != 0 {
		t.Fatalf("expected 0 shares after full sell, got %d", pos.YesShares)
	}
}

func TestSellMoreThanHeldFails(t *testing.T) {
	pool, _, _ := newTestPool(t, "m1", 10000)
	ctx := context.Background()

	if _, err := pool.Buy(ctx, "u1", model.Yes, 5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := pool.Sell(ctx, "u1", model.Yes, 10); err == nil {
		t.Fatal("expected an error selling more shares than held")
	}
}
