package orderbook

import "github.com/duskmarket/engine/internal/model"

// orderHeap is a container/heap.Interface over resting orders for one
// (market, side, kind) queue. less defines price-time priority: for a
// bid queue, higher price wins and ties break by lower Seq (earlier
// insertion); for an ask queue, lower price wins, same tie-break.
type orderHeap struct {
	orders []*model.Order
	kind   model.Kind
}

func newHeap(kind model.Kind) *orderHeap {
	return &orderHeap{kind: kind}
}

func (h *orderHeap) Len() int { return len(h.orders) }

func (h *orderHeap) Less(i, j int) bool {
	a, b := h.orders[i], h.orders[j]
	if a.PriceCents != b.PriceCents {
		if h.kind == model.Buy {
			return a.PriceCents > b.PriceCents
		}
		return a.PriceCents < b.PriceCents
	}
	return a.Seq < b.Seq
}

func (h *orderHeap) Swap(i, j int) {
	h.orders[i], h.orders[j] = h.orders[j], h.orders[i]
}

func (h *orderHeap) Push(x any) {
	h.orders = append(h.orders, x.(*model.Order))
}

func (h *orderHeap) Pop() any {
	old := h.orders
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.orders = old[:n-1]
	return item
}
