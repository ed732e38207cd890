package matching

import (
	"context"
	"sync"
	"time"

	"github.com/duskmarket/engine/internal/eventbus"
	"github.com/duskmarket/engine/internal/metrics"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/orderbook"
)

// commandTimeout bounds how long a single command's ledger/store calls
// may take before their context expires. A call that fails on the
// expired context returns a non-API error, which dispatch treats like
// any other unanticipated error: the market is halted and the caller
// gets SERVICE_UNAVAILABLE. This keeps one wedged dependency from
// hanging an entire market forever.
const commandTimeout = 5 * time.Second

// actor is the single goroutine that owns one market's orderbook and
// serializes every mutation to it. Nothing outside this goroutine ever
// touches book directly.
type actor struct {
	marketID string
	book     *orderbook.Book
	engine   *Engine

	cmds        chan *Command
	snapshotReq chan chan model.OrderbookSnapshot

	lastYes int64
	lastNo  int64

	mu      sync.Mutex // guards haltErr only; read by Engine.HaltedMarkets from another goroutine
	haltErr error
}

func (a *actor) run() {
	for {
		select {
		case cmd, ok := <-a.cmds:
			if !ok {
				return
			}
			a.dispatch(cmd)
		case reply := <-a.snapshotReq:
			reply <- a.snapshot()
		}
	}
}

func (a *actor) isHalted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.haltErr != nil
}

func (a *actor) halt(err error) {
	a.mu.Lock()
	a.haltErr = err
	a.mu.Unlock()
	metrics.HaltedMarkets.Inc()
	a.engine.log.Error("market actor halted", "market_id", a.marketID, "error", err)
}

func (a *actor) dispatch(cmd *Command) {
	if a.isHalted() {
		cmd.Reply <- Result{Err: model.NewAPIError(model.CodeServiceUnavailable, "market is halted, admin intervention required")}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	start := time.Now()
	var res Result
	switch cmd.Kind {
	case CmdPlaceLimit:
		res = a.placeLimit(ctx, cmd)
	case CmdPlaceMarket:
		res = a.placeMarket(ctx, cmd)
	case CmdCancel:
		res = a.cancel(ctx, cmd)
	case CmdResolve:
		res = a.resolve(ctx, cmd)
	case CmdDelete:
		res = a.delete(ctx, cmd)
	default:
		res = Result{Err: model.NewAPIError(model.CodeInvalidOrder, "unknown command kind")}
	}
	metrics.CommandLatency.WithLabelValues(string(cmd.Kind)).Observe(time.Since(start).Seconds())

	if res.Err != nil {
		if _, ok := model.AsAPIError(res.Err); !ok {
			// An error the engine didn't anticipate at all (store outage,
			// programmer error) is fatal to this market only.
			a.halt(res.Err)
			res.Err = model.NewAPIError(model.CodeServiceUnavailable, "internal error")
		}
	} else {
		a.publish(cmd.Kind, res)
	}
	cmd.Reply <- res
}

// publish broadcasts the command's outcome: MARKET_DELETED on its own
// for a successful delete, otherwise the post-command orderbook
// snapshot followed by one TRADE_EXECUTED event per fill in the order
// the fills occurred; either way, a PORTFOLIO_UPDATE per touched user.
func (a *actor) publish(kind CommandKind, res Result) {
	if a.engine.bus == nil {
		return
	}
	if kind == CmdDelete {
		a.engine.bus.Publish(a.marketID, eventbus.Event{Type: eventbus.MarketDeleted, MarketID: a.marketID})
	} else {
		snap := a.snapshot()
		a.engine.bus.Publish(a.marketID, eventbus.Event{
			Type:      eventbus.OrderbookUpdate,
			MarketID:  a.marketID,
			Orderbook: &snap,
		})
	}
	for i := range res.Trades {
		t := res.Trades[i]
		a.engine.bus.Publish(a.marketID, eventbus.Event{
			Type:     eventbus.TradeExecuted,
			MarketID: a.marketID,
			Trade:    &t,
		})
	}
	for _, userID := range res.TouchedUsers {
		a.engine.bus.PublishToUser(userID, eventbus.Event{
			Type:     eventbus.PortfolioUpdate,
			MarketID: a.marketID,
			UserID:   userID,
		})
	}
}

func (a *actor) snapshot() model.OrderbookSnapshot {
	return model.OrderbookSnapshot{
		MarketID:    a.marketID,
		Yes:         a.book.Snapshot(model.Yes, 25),
		No:          a.book.Snapshot(model.No, 25),
		MidpointYes: a.book.Midpoint(model.Yes, a.lastYes),
		MidpointNo:  a.book.Midpoint(model.No, a.lastNo),
	}
}
