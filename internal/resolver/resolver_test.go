package resolver_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/orderbook"
	"github.com/duskmarket/engine/internal/resolver"
	"github.com/duskmarket/engine/internal/store"
)

func seed(t *testing.T) (store.Store, *ledger.Ledger) {
	t.Helper()
	st := store.NewMemoryStore()
	led := ledger.New(st)
	ctx := context.Background()

	if err := st.CreateMarket(ctx, &model.Market{ID: "m1", Title: "t", Status: model.MarketActive, Scope: model.GlobalScope}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	for _, id := range []string{"alice", "bob"} {
		if err := st.CreateUser(ctx, &model.User{ID: id, Email: id + "@example.com"}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
		if _, err := st.AdjustGlobalBalance(ctx, id, 1000); err != nil {
			t.Fatalf("fund %s: %v", id, err)
		}
	}
	return st, led
}

// Resolve pays FullPrice per winning share and marks the market
// resolved, leaving losers with nothing.
func TestResolvePaysOnlyWinningSide(t *testing.T) {
	st, led := seed(t)
	ctx := context.Background()

	if err := st.UpsertPosition(ctx, &model.Position{UserID: "alice", MarketID: "m1", YesShares: 4, AvgYesPrice: decimal.NewFromInt(60)}); err != nil {
		t.Fatalf("seed alice position: %v", err)
	}
	if err := st.UpsertPosition(ctx, &model.Position{UserID: "bob", MarketID: "m1", NoShares: 4, AvgNoPrice: decimal.NewFromInt(40)}); err != nil {
		t.Fatalf("seed bob position: %v", err)
	}

	book := orderbook.New("m1")
	touched, err := resolver.Resolve(ctx, st, led, book, "m1", model.OutcomeYes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertContains(t, touched, "alice", "bob")

	aliceBal, _ := st.GetScopeBalance(ctx, "alice", model.GlobalScope)
	if aliceBal != 1000+4*model.FullPrice {
		t.Errorf("alice (winner) balance = %d, want %d", aliceBal, 1000+4*model.FullPrice)
	}
	bobBal, _ := st.GetScopeBalance(ctx, "bob", model.GlobalScope)
	if bobBal != 1000 {
		t.Errorf("bob (loser) balance = %d, want unchanged 1000", bobBal)
	}

	m, _ := st.GetMarket(ctx, "m1")
	if m.Status != model.MarketResolved || m.Outcome != model.OutcomeYes {
		t.Errorf("expected market resolved YES, got status=%s outcome=%s", m.Status, m.Outcome)
	}

	alicePos, _ := st.GetPosition(ctx, "alice", "m1")
	if alicePos.YesShares != 0 {
		t.Errorf("expected alice's shares zeroed after payout, got %d", alicePos.YesShares)
	}
}

func assertContains(t *testing.T, got []string, want ...string) {
	t.Helper()
	set := make(map[string]bool, len(got))
	for _, id := range got {
		set[id] = true
	}
	for _, id := range want {
		if !set[id] {
			t.Errorf("expected touched users %v to contain %q", got, id)
		}
	}
}

// Resolving an already-resolved market is rejected rather than paying
// out twice.
func TestResolveRejectsAlreadyResolvedMarket(t *testing.T) {
	st, led := seed(t)
	ctx := context.Background()
	book := orderbook.New("m1")

	if _, err := resolver.Resolve(ctx, st, led, book, "m1", model.OutcomeYes); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := resolver.Resolve(ctx, st, led, book, "m1", model.OutcomeNo); err == nil {
		t.Fatal("expected second resolve to be rejected")
	}
}

// A resting open order is refunded exactly its remaining escrow when
// the market is deleted out from under it.
func TestDeleteRefundsRestingOrderEscrow(t *testing.T) {
	st, led := seed(t)
	ctx := context.Background()

	order := &model.Order{
		ID: "o1", MarketID: "m1", UserID: "alice", Side: model.Yes, Kind: model.Buy,
		PriceCents: 55, Quantity: 6, Status: model.OrderOpen,
	}
	if err := led.ReserveBalance(ctx, "alice", model.GlobalScope, order.PriceCents*order.Quantity); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := st.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	book := orderbook.New("m1")
	order.Seq = book.NextSeq()
	book.Add(order)

	touched, err := resolver.Delete(ctx, st, led, book, "m1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertContains(t, touched, "alice")

	bal, _ := st.GetScopeBalance(ctx, "alice", model.GlobalScope)
	if bal != 1000 {
		t.Errorf("expected full refund to 1000, got %d", bal)
	}
	m, _ := st.GetMarket(ctx, "m1")
	if m.Status != model.MarketDeleted {
		t.Errorf("expected market marked DELETED, got %s", m.Status)
	}
	updated, _ := st.GetOrder(ctx, "o1")
	if updated.Status != model.OrderCancelled {
		t.Errorf("expected resting order CANCELLED, got %s", updated.Status)
	}
}

// Deleting a market buys back every position at the holder's own
// average paid price rather than paying a winner's FullPrice.
func TestDeleteBuysBackPositionsAtAveragePrice(t *testing.T) {
	st, led := seed(t)
	ctx := context.Background()

	if err := st.UpsertPosition(ctx, &model.Position{
		UserID: "alice", MarketID: "m1", YesShares: 3, AvgYesPrice: decimal.NewFromInt(70),
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	book := orderbook.New("m1")
	touched, err := resolver.Delete(ctx, st, led, book, "m1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertContains(t, touched, "alice")

	bal, _ := st.GetScopeBalance(ctx, "alice", model.GlobalScope)
	if bal != 1000+3*70 {
		t.Errorf("expected buyback at average paid price, balance = %d, want %d", bal, 1000+3*70)
	}

	pos, _ := st.GetPosition(ctx, "alice", "m1")
	if pos.YesShares != 0 {
		t.Errorf("expected shares zeroed after buyback, got %d", pos.YesShares)
	}
}
