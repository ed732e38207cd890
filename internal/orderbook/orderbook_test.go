package orderbook

import (
	"testing"

	"github.com/duskmarket/engine/internal/model"
)

func newOrder(id string, kind model.Kind, price, qty int64, seq uint64) *model.Order {
	return &model.Order{
		ID:         id,
		MarketID:   "m1",
		Side:       model.Yes,
		Kind:       kind,
		PriceCents: price,
		Quantity:   qty,
		Status:     model.OrderOpen,
		Seq:        seq,
	}
}

func TestPeekBestPriceTimePriority(t *testing.T) {
	b := New("m1")

	o1 := newOrder("o1", model.Buy, 60, 10, b.NextSeq())
	o2 := newOrder("o2", model.Buy, 65, 10, b.NextSeq())
	o3 := newOrder("o3", model.Buy, 65, 10, b.NextSeq())
	b.Add(o1)
	b.Add(o2)
	b.Add(o3)

	best := b.PeekBest(model.Yes, model.Buy)
	if best.ID != "o2" {
		t.Fatalf("expected best bid to be highest price then earliest seq, got %s", best.ID)
	}
}

func TestAskOrderingIsAscending(t *testing.T) {
	b := New("m1")
	b.Add(newOrder("a1", model.Sell, 70, 5, b.NextSeq()))
	b.Add(newOrder("a2", model.Sell, 55, 5, b.NextSeq()))

	best := b.PeekBest(model.Yes, model.Sell)
	if best.ID != "a2" {
		t.Fatalf("expected lowest ask first, got %s", best.ID)
	}
}

func TestFillRemovesOnFullQuantity(t *testing.T) {
	b := New("m1")
	o := newOrder("o1", model.Buy, 50, 10, b.NextSeq())
	b.Add(o)

	filled := b.Fill(model.Yes, model.Buy, 4)
	if filled.Filled != 4 || filled.Status != model.OrderPartial {
		t.Fatalf("expected partial fill, got filled=%d status=%s", filled.Filled, filled.Status)
	}
	if b.PeekBest(model.Yes, model.Buy) == nil {
		t.Fatal("order should still be resting after partial fill")
	}

	b.Fill(model.Yes, model.Buy, 6)
	if b.PeekBest(model.Yes, model.Buy) != nil {
		t.Fatal("order should be gone from book after full fill")
	}
}

func TestCancelRemovesFromIndexAndQueue(t *testing.T) {
	b := New("m1")
	o := newOrder("o1", model.Buy, 50, 10, b.NextSeq())
	b.Add(o)
	b.Fill(model.Yes, model.Buy, 3)

	cancelled, remaining := b.Cancel("o1")
	if cancelled == nil || remaining != 7 {
		t.Fatalf("expected remaining=7, got %d", remaining)
	}
	if b.PeekBest(model.Yes, model.Buy) != nil {
		t.Fatal("cancelled order should not be peekable")
	}
	if _, stillThere := b.index["o1"]; stillThere {
		t.Fatal("cancelled order should be removed from index")
	}
}

func TestCancelUnknownOrderIsNoop(t *testing.T) {
	b := New("m1")
	o, remaining := b.Cancel("nope")
	if o != nil || remaining != 0 {
		t.Fatal("cancelling an unknown order should return (nil, 0)")
	}
}

func TestMidpointFallbacks(t *testing.T) {
	b := New("m1")
	if mid := b.Midpoint(model.Yes, 0); mid != 50 {
		t.Fatalf("expected default midpoint 50, got %d", mid)
	}
	if mid := b.Midpoint(model.Yes, 42); mid != 42 {
		t.Fatalf("expected last-trade fallback 42, got %d", mid)
	}

	b.Add(newOrder("bid", model.Buy, 40, 1, b.NextSeq()))
	if mid := b.Midpoint(model.Yes, 0); mid != 40 {
		t.Fatalf("expected bid-only midpoint 40, got %d", mid)
	}

	b.Add(newOrder("ask", model.Sell, 60, 1, b.NextSeq()))
	if mid := b.Midpoint(model.Yes, 0); mid != 50 {
		t.Fatalf("expected (40+60)/2=50 midpoint, got %d", mid)
	}
}

func TestSnapshotAggregatesByPriceLevel(t *testing.T) {
	b := New("m1")
	b.Add(newOrder("o1", model.Buy, 50, 5, b.NextSeq()))
	b.Add(newOrder("o2", model.Buy, 50, 3, b.NextSeq()))
	b.Add(newOrder("o3", model.Buy, 45, 2, b.NextSeq()))

	side := b.Snapshot(model.Yes, 10)
	if len(side.Bids) != 2 {
		t.Fatalf("expected 2 aggregated levels, got %d", len(side.Bids))
	}
	if side.Bids[0].PriceCents != 50 || side.Bids[0].Quantity != 8 {
		t.Fatalf("expected best level 50@8, got %d@%d", side.Bids[0].PriceCents, side.Bids[0].Quantity)
	}
}

func TestSnapshotRespectsDepth(t *testing.T) {
	b := New("m1")
	for i, price := range []int64{10, 20, 30, 40} {
		b.Add(newOrder("x", model.Sell, price, 1, b.NextSeq()))
		_ = i
	}
	side := b.Snapshot(model.Yes, 2)
	if len(side.Asks) != 2 {
		t.Fatalf("expected depth cap of 2, got %d", len(side.Asks))
	}
	if side.Asks[0].PriceCents != 10 || side.Asks[1].PriceCents != 20 {
		t.Fatal("expected lowest two asks in ascending order")
	}
}

func TestDepthSumsRemainingQuantity(t *testing.T) {
	b := New("m1")
	b.Add(newOrder("o1", model.Buy, 50, 5, b.NextSeq()))
	b.Add(newOrder("o2", model.Buy, 50, 3, b.NextSeq()))
	b.Fill(model.Yes, model.Buy, 1)

	if got := b.Depth(model.Yes, model.Buy); got != 7 {
		t.Fatalf("expected depth 7, got %d", got)
	}
}
