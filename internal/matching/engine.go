// Package matching implements the per-market matching engine: one
// actor goroutine per market draining a bounded command channel,
// matching same-side orders and minting cross-side share pairs,
// walking the book for market orders, and running resolution/deletion
// under the same serialization guarantee as trading commands.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/duskmarket/engine/internal/eventbus"
	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/metrics"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/orderbook"
	"github.com/duskmarket/engine/internal/store"
)

// CommandBufferSize bounds each market's inbox. A market whose actor
// falls behind this far applies backpressure to the Gateway rather
// than growing memory without bound.
const CommandBufferSize = 256

// Engine owns one actor per market and routes commands to it,
// creating and recovering actors lazily on first use.
type Engine struct {
	ledger *ledger.Ledger
	store  store.Store
	bus    *eventbus.Bus
	log    *slog.Logger

	mu     sync.Mutex
	actors map[string]*actor
}

// New creates an Engine. Actors are created lazily by Submit /
// EnsureMarket, not eagerly for every persisted market.
func New(l *ledger.Ledger, s store.Store, bus *eventbus.Bus, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{ledger: l, store: s, bus: bus, log: log, actors: make(map[string]*actor)}
}

// EnsureMarket starts (or returns the existing) actor for marketID,
// rebuilding its orderbook from persisted OPEN/PARTIAL orders. Called
// once per market at Gateway startup for every active market, and
// lazily by Submit for a market seen for the first time this process.
func (e *Engine) EnsureMarket(ctx context.Context, marketID string) (*actor, error) {
	e.mu.Lock()
	if a, ok := e.actors[marketID]; ok {
		e.mu.Unlock()
		return a, nil
	}
	e.mu.Unlock()

	book := orderbook.New(marketID)
	resting, err := e.store.ListOpenOrdersByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("recover market %s: %w", marketID, err)
	}
	for i := range resting {
		o := resting[i]
		o.Seq = book.NextSeq()
		book.Add(&o)
	}

	a := &actor{
		marketID:    marketID,
		book:        book,
		engine:      e,
		cmds:        make(chan *Command, CommandBufferSize),
		snapshotReq: make(chan chan model.OrderbookSnapshot),
		lastYes:     0,
		lastNo:      0,
	}

	e.mu.Lock()
	if existing, ok := e.actors[marketID]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.actors[marketID] = a
	e.mu.Unlock()

	go a.run()
	metrics.ActiveMarkets.Inc()
	e.log.Info("market actor started", "market_id", marketID, "recovered_orders", len(resting))
	return a, nil
}

// Submit enqueues cmd on its market's actor and waits for the result
// or ctx's deadline, whichever comes first. A deadline miss returns
// model.CodeTimeout without cancelling the command server-side — it
// keeps draining the actor's inbox regardless of whether the caller is
// still listening.
func (e *Engine) Submit(ctx context.Context, cmd *Command) (Result, error) {
	a, err := e.EnsureMarket(ctx, cmd.MarketID)
	if err != nil {
		return Result{}, err
	}
	cmd.Reply = newReply()

	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
		return Result{}, model.NewAPIError(model.CodeTimeout, "command queue is full")
	}

	select {
	case res := <-cmd.Reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, model.NewAPIError(model.CodeTimeout, "timed out waiting for match result")
	}
}

// HaltedMarkets returns the ids of markets whose actor stopped after a
// fatal error, per spec.md §7's "admin intervention required" note.
func (e *Engine) HaltedMarkets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var halted []string
	for id, a := range e.actors {
		a.mu.Lock()
		if a.haltErr != nil {
			halted = append(halted, id)
		}
		a.mu.Unlock()
	}
	return halted
}

// Bus returns the EventBus every actor publishes to, so the Gateway's
// WebSocket relay can subscribe directly without the engine proxying
// every subscribe/unsubscribe call.
func (e *Engine) Bus() *eventbus.Bus {
	return e.bus
}

// Snapshot returns the current top-depth orderbook levels for
// marketID, with ok=false if the market has never been touched this
// process (callers should EnsureMarket first if the market is known to
// the store but idle).
func (e *Engine) Snapshot(marketID string, depth int) (model.OrderbookSnapshot, bool) {
	e.mu.Lock()
	a, ok := e.actors[marketID]
	e.mu.Unlock()
	if !ok {
		return model.OrderbookSnapshot{}, false
	}

	reply := make(chan model.OrderbookSnapshot, 1)
	a.snapshotReq <- reply
	return <-reply, true
}
