// Package orderbook implements the per-market, per-side price-time
// priority book described in the matching engine design: bids ordered
// descending by price then ascending by insertion time, asks ordered
// ascending by price then ascending by insertion time.
//
// Each side is backed by a container/heap: peekBest is O(1) and add is
// O(log N). An order-id index tells cancel which queue holds an order;
// cancel then scans that queue linearly for the order's heap slot
// (O(N)) before an O(log N) heap removal.
package orderbook

import (
	"container/heap"
	"sort"
	"sync/atomic"

	"github.com/duskmarket/engine/internal/model"
)

// Book holds the four resting queues for one market: a bid and ask
// heap for YES, and a bid and ask heap for NO. It is owned exclusively
// by that market's MatchingEngine worker — callers never need a lock
// around Book itself.
type Book struct {
	marketID string
	seq      uint64

	bids map[model.Side]*orderHeap
	asks map[model.Side]*orderHeap

	// index maps order id -> (side, kind, order), which identifies the
	// queue holding a resting order; it does not record the heap slot.
	index map[string]*entryRef
}

type entryRef struct {
	side  model.Side
	kind  model.Kind
	order *model.Order
}

// New creates an empty book for one market.
func New(marketID string) *Book {
	b := &Book{
		marketID: marketID,
		bids:     make(map[model.Side]*orderHeap, 2),
		asks:     make(map[model.Side]*orderHeap, 2),
		index:    make(map[string]*entryRef),
	}
	for _, s := range []model.Side{model.Yes, model.No} {
		b.bids[s] = newHeap(model.Buy)
		b.asks[s] = newHeap(model.Sell)
	}
	return b
}

// NextSeq assigns the next insertion sequence number, used to break
// ties at the same price. Exposed so the matching engine can stamp an
// order before it ever rests (a fill that never rests doesn't need one,
// but assigning it unconditionally keeps call sites simple).
func (b *Book) NextSeq() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}

func (b *Book) heapFor(o *model.Order) *orderHeap {
	if o.Kind == model.Buy {
		return b.bids[o.Side]
	}
	return b.asks[o.Side]
}

// Add inserts a resting order. O(log N).
func (b *Book) Add(o *model.Order) {
	h := b.heapFor(o)
	heap.Push(h, o)
	b.index[o.ID] = &entryRef{side: o.Side, kind: o.Kind, order: o}
}

// PeekBest returns the best resting order for (side, kind) without
// removing it, or nil if that queue is empty.
func (b *Book) PeekBest(side model.Side, kind model.Kind) *model.Order {
	h := b.queueFor(side, kind)
	if h.Len() == 0 {
		return nil
	}
	return h.orders[0]
}

func (b *Book) queueFor(side model.Side, kind model.Kind) *orderHeap {
	if kind == model.Buy {
		return b.bids[side]
	}
	return b.asks[side]
}

// Fill marks qty as filled against the resting order at the top of
// (side, kind); if the order is fully filled it is popped from the
// book and its index entry removed. Callers must have already checked
// qty <= order.Remaining(). Returns the mutated order.
func (b *Book) Fill(side model.Side, kind model.Kind, qty int64) *model.Order {
	h := b.queueFor(side, kind)
	if h.Len() == 0 {
		return nil
	}
	o := h.orders[0]
	o.Filled += qty
	if o.Filled >= o.Quantity {
		o.Status = model.OrderFilled
		heap.Pop(h)
		delete(b.index, o.ID)
	} else {
		o.Status = model.OrderPartial
	}
	return o
}

// Cancel removes an order from the book by id, returning it and its
// remaining (unfilled) quantity at the time of cancellation. Returns
// (nil, 0) if the order is not resting (already filled/cancelled, or
// unknown to this book).
func (b *Book) Cancel(orderID string) (*model.Order, int64) {
	ref, ok := b.index[orderID]
	if !ok {
		return nil, 0
	}
	h := b.queueFor(ref.side, ref.kind)
	idx := -1
	for i, o := range h.orders {
		if o.ID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, 0
	}
	remaining := ref.order.Remaining()
	heap.Remove(h, idx)
	delete(b.index, orderID)
	ref.order.Status = model.OrderCancelled
	return ref.order, remaining
}

// Depth returns the total resting (unfilled) quantity across every
// order in (side, kind).
func (b *Book) Depth(side model.Side, kind model.Kind) int64 {
	h := b.queueFor(side, kind)
	var total int64
	for _, o := range h.orders {
		total += o.Remaining()
	}
	return total
}

// Midpoint returns the midpoint price for side: (bestBid+bestAsk)/2 if
// both exist, else whichever of bestBid/bestAsk exists, else
// lastTradeCents, else 50 (no-history default).
func (b *Book) Midpoint(side model.Side, lastTradeCents int64) int64 {
	bid := b.PeekBest(side, model.Buy)
	ask := b.PeekBest(side, model.Sell)
	switch {
	case bid != nil && ask != nil:
		return (bid.PriceCents + ask.PriceCents) / 2
	case bid != nil:
		return bid.PriceCents
	case ask != nil:
		return ask.PriceCents
	case lastTradeCents > 0:
		return lastTradeCents
	default:
		return 50
	}
}

// Snapshot returns the aggregated top-`depth` price levels for a side's
// bids and asks.
func (b *Book) Snapshot(side model.Side, depth int) model.OrderbookSide {
	return model.OrderbookSide{
		Bids: aggregate(b.bids[side].orders, depth, true),
		Asks: aggregate(b.asks[side].orders, depth, false),
	}
}

// aggregate collapses resting orders into price levels, sorted best
// price first (descending for bids, ascending for asks), capped at
// depth levels. The heap's internal order is a valid heap but not a
// fully sorted slice, so levels are built from a price->qty map first.
func aggregate(orders []*model.Order, depth int, descending bool) []model.OrderbookLevel {
	totals := make(map[int64]int64)
	for _, o := range orders {
		totals[o.PriceCents] += o.Remaining()
	}
	prices := make([]int64, 0, len(totals))
	for p := range totals {
		prices = append(prices, p)
	}
	if descending {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}
	levels := make([]model.OrderbookLevel, 0, len(prices))
	for _, p := range prices {
		levels = append(levels, model.OrderbookLevel{PriceCents: p, Quantity: totals[p]})
	}
	return levels
}
