package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/metrics"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/resolver"
)

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (a *actor) loadActiveMarket(ctx context.Context) (*model.Market, error) {
	m, err := a.engine.store.GetMarket(ctx, a.marketID)
	if err != nil {
		return nil, fmt.Errorf("%w", model.ErrMarketNotFound)
	}
	if m.Status != model.MarketActive {
		return nil, model.ErrMarketClosed
	}
	return m, nil
}

func apiErr(err error) Result {
	if err == nil {
		return Result{}
	}
	if _, ok := model.AsAPIError(err); ok {
		return Result{Err: err}
	}
	return Result{Err: model.NewAPIError(model.CodeOf(err), err.Error())}
}

// placeLimit validates, escrows, matches, and rests a limit order.
func (a *actor) placeLimit(ctx context.Context, cmd *Command) Result {
	if cmd.PriceCents < model.MinPriceCents || cmd.PriceCents > model.MaxPriceCents {
		return apiErr(model.ErrInvalidPrice)
	}
	if cmd.Quantity <= 0 {
		return apiErr(model.ErrInvalidQuantity)
	}
	market, err := a.loadActiveMarket(ctx)
	if err != nil {
		return apiErr(err)
	}

	order := &model.Order{
		ID:         uuid.NewString(),
		MarketID:   a.marketID,
		UserID:     cmd.UserID,
		Side:       cmd.Side,
		Kind:       cmd.OrderKind,
		PriceCents: cmd.PriceCents,
		Quantity:   cmd.Quantity,
		Status:     model.OrderOpen,
		CreatedAt:  time.Now().UTC(),
		Seq:        a.book.NextSeq(),
	}

	if err := a.escrow(ctx, order, market.Scope); err != nil {
		return apiErr(err)
	}
	metrics.OrdersTotal.WithLabelValues(string(order.Kind), string(order.Side)).Inc()

	touched := make(touchedSet)
	touched.add(order.UserID)
	trades, _, err := a.walkIncoming(ctx, order, market.Scope, touched, false)
	if err != nil {
		return apiErr(err)
	}

	if order.Remaining() > 0 {
		order.Status = model.OrderPartial
		if order.Filled == 0 {
			order.Status = model.OrderOpen
		}
		a.book.Add(order)
	} else {
		order.Status = model.OrderFilled
	}

	if err := a.engine.store.CreateOrder(ctx, order); err != nil {
		return Result{Err: err}
	}

	return Result{Order: order, Trades: trades, TouchedUsers: touched.slice()}
}

// placeMarket walks the book immediately (IOC), matching or minting
// per unit by whichever is cheaper same as a resting limit order
// would; any quantity left unfilled when neither option crosses
// anymore, or a BUY's cost ceiling is reached, is simply not filled —
// it never rests.
func (a *actor) placeMarket(ctx context.Context, cmd *Command) Result {
	if cmd.Quantity <= 0 {
		return apiErr(model.ErrInvalidQuantity)
	}
	market, err := a.loadActiveMarket(ctx)
	if err != nil {
		return apiErr(err)
	}

	order := &model.Order{
		ID:         uuid.NewString(),
		MarketID:   a.marketID,
		UserID:     cmd.UserID,
		Side:       cmd.Side,
		Kind:       cmd.OrderKind,
		PriceCents: model.MaxPriceCents,
		Quantity:   cmd.Quantity,
		Status:     model.OrderOpen,
		CreatedAt:  time.Now().UTC(),
		Seq:        a.book.NextSeq(),
	}
	if order.Kind == model.Sell {
		order.PriceCents = model.MinPriceCents
	}
	metrics.OrdersTotal.WithLabelValues(string(order.Kind), string(order.Side)).Inc()

	var costCap int64
	if order.Kind == model.Buy {
		costCap = cmd.MaxCostCents
		if costCap <= 0 || costCap > model.MaxPriceCents*order.Quantity {
			costCap = model.MaxPriceCents * order.Quantity
		}
		if err := a.engine.ledger.ReserveBalance(ctx, order.UserID, market.Scope, costCap); err != nil {
			return apiErr(err)
		}
	} else {
		if err := a.engine.ledger.ReserveShares(ctx, order.UserID, a.marketID, order.Side, order.Quantity); err != nil {
			return apiErr(err)
		}
	}

	touched := make(touchedSet)
	touched.add(order.UserID)
	trades, cost, matchErr := a.walkIncoming(ctx, order, market.Scope, touched, true)
	if matchErr != nil {
		return Result{Err: matchErr}
	}

	unfilled := order.Remaining()
	if order.Kind == model.Buy {
		if err := a.engine.ledger.ReleaseBalance(ctx, order.UserID, market.Scope, costCap-cost); err != nil {
			return Result{Err: err}
		}
	} else if unfilled > 0 {
		if err := a.engine.ledger.ReleaseShares(ctx, order.UserID, a.marketID, order.Side, unfilled); err != nil {
			return Result{Err: err}
		}
	}

	if order.Filled > 0 {
		order.Status = model.OrderFilled
	} else {
		order.Status = model.OrderCancelled
	}
	if err := a.engine.store.CreateOrder(ctx, order); err != nil {
		return Result{Err: err}
	}
	return Result{Order: order, Trades: trades, TouchedUsers: touched.slice()}
}

func oppositeKind(k model.Kind) model.Kind {
	if k == model.Buy {
		return model.Sell
	}
	return model.Buy
}

// escrow reserves the funds or shares a resting limit order needs.
func (a *actor) escrow(ctx context.Context, order *model.Order, scope string) error {
	if order.Kind == model.Buy {
		return a.engine.ledger.ReserveBalance(ctx, order.UserID, scope, order.PriceCents*order.Quantity)
	}
	return a.engine.ledger.ReserveShares(ctx, order.UserID, a.marketID, order.Side, order.Quantity)
}

// walkIncoming fills order one unit-batch at a time, each step picking
// whichever is cheaper for the incoming side: matching the best
// same-side resting order, or — for a BUY order only, since minting
// takes two buyers, one per side — minting against the best resting
// BUY on the opposite side. Ties prefer matching. Stops when order is
// exhausted or neither option crosses. isMarket tells matchStep/
// mintStep whether order's own escrow is a per-unit limit price (a
// resting limit order) or a pooled cost cap settled separately once
// the walk finishes (an IOC market order) — it decides whether the
// incoming side's price-improvement/mint-surplus refund happens here
// or is left for the caller to settle against the cap.
// cost is the total the incoming order actually paid this walk,
// net of whatever refund it was due; callers that pool a cost cap
// (placeMarket) use it to settle the cap in one step afterward.
func (a *actor) walkIncoming(ctx context.Context, order *model.Order, scope string, touched touchedSet, isMarket bool) ([]model.Trade, int64, error) {
	var trades []model.Trade
	var cost int64
	restingKind := oppositeKind(order.Kind)

	for order.Remaining() > 0 {
		bestSame := a.book.PeekBest(order.Side, restingKind)
		sameCrosses := bestSame != nil && crosses(order, bestSame, restingKind)

		var bestOpp *model.Order
		var mintCrosses bool
		if order.Kind == model.Buy {
			bestOpp = a.book.PeekBest(order.Side.Opposite(), model.Buy)
			mintCrosses = bestOpp != nil && order.PriceCents+bestOpp.PriceCents >= model.FullPrice
		}

		if !sameCrosses && !mintCrosses {
			break
		}

		useMint := mintCrosses && (!sameCrosses || model.FullPrice-bestOpp.PriceCents < bestSame.PriceCents)

		var err error
		var stepCost int64
		if useMint {
			var minted []model.Trade
			minted, stepCost, err = a.mintStep(ctx, order, scope, bestOpp, touched, isMarket)
			trades = append(trades, minted...)
		} else {
			var t *model.Trade
			t, stepCost, err = a.matchStep(ctx, order, scope, restingKind, bestSame, touched, isMarket)
			if t != nil {
				trades = append(trades, *t)
			}
		}
		cost += stepCost
		if err != nil {
			return trades, cost, err
		}
	}
	return trades, cost, nil
}

// matchStep fills order against the single resting order best, at
// best's price. Returns the cost of this step to the incoming side
// (meaningful for a BUY; callers ignore it for a SELL).
func (a *actor) matchStep(ctx context.Context, order *model.Order, scope string, restingKind model.Kind, best *model.Order, touched touchedSet, isMarket bool) (*model.Trade, int64, error) {
	qty := min64(order.Remaining(), best.Remaining())
	price := best.PriceCents

	a.book.Fill(order.Side, restingKind, qty)
	order.Filled += qty
	if err := a.engine.store.UpdateOrder(ctx, best); err != nil {
		return nil, 0, err
	}

	var buyerID, sellerID string
	if restingKind == model.Sell {
		buyerID, sellerID = order.UserID, best.UserID
	} else {
		buyerID, sellerID = best.UserID, order.UserID
	}
	touched.add(buyerID, sellerID)

	if err := a.engine.ledger.ApplyMatch(ctx, ledger.MatchFill{
		MarketID: a.marketID, Side: order.Side, BuyerID: buyerID, SellerID: sellerID,
		Quantity: qty, PriceCents: price,
	}); err != nil {
		return nil, 0, err
	}

	// Price improvement: a BUY taker crossing a cheaper ask paid its own
	// escrowed limit price up front; refund the difference now so
	// remaining escrow always equals remaining*limitPrice. A market
	// order's escrow is a pooled cost cap, not a per-unit limit price —
	// its caller settles the cap against the returned cost once instead.
	if order.Kind == model.Buy && !isMarket && price < order.PriceCents {
		if err := a.engine.ledger.ReleaseBalance(ctx, order.UserID, scope, (order.PriceCents-price)*qty); err != nil {
			return nil, 0, err
		}
	}

	t := model.Trade{
		ID: uuid.NewString(), MarketID: a.marketID, PriceCents: price, Quantity: qty,
		Side: order.Side, Kind: model.TradeMatch, BuyerID: buyerID, SellerID: sellerID,
		Timestamp: time.Now().UTC(),
	}
	if err := a.engine.ledger.RecordTrade(ctx, &t); err != nil {
		return nil, 0, err
	}
	a.recordLastPrice(order.Side, price)
	metrics.TradesTotal.WithLabelValues(string(model.TradeMatch)).Inc()
	return &t, price * qty, nil
}

func crosses(incoming, resting *model.Order, restingKind model.Kind) bool {
	if restingKind == model.Sell {
		return resting.PriceCents <= incoming.PriceCents
	}
	return resting.PriceCents >= incoming.PriceCents
}

// mintStep fills order against the single resting opposite-side BUY
// opp, minting a new YES+NO pair and splitting any surplus over
// model.FullPrice 50/50 between the two buyers (order takes the odd
// cent of an uneven split). opp is always a resting limit order, so
// its refund is applied immediately regardless of isMarket; order's
// own refund is deferred to the caller when isMarket is set. Returns
// order's net cost for this step either way.
func (a *actor) mintStep(ctx context.Context, order *model.Order, scope string, opp *model.Order, touched touchedSet, isMarket bool) ([]model.Trade, int64, error) {
	oppSide := order.Side.Opposite()
	qty := min64(order.Remaining(), opp.Remaining())

	a.book.Fill(oppSide, model.Buy, qty)
	order.Filled += qty
	if err := a.engine.store.UpdateOrder(ctx, opp); err != nil {
		return nil, 0, err
	}
	touched.add(order.UserID, opp.UserID)

	var yesBuyer, noBuyer *model.Order
	if order.Side == model.Yes {
		yesBuyer, noBuyer = order, opp
	} else {
		yesBuyer, noBuyer = opp, order
	}

	if err := a.engine.ledger.MintPair(ctx, a.marketID, yesBuyer.UserID, noBuyer.UserID, qty,
		yesBuyer.PriceCents, noBuyer.PriceCents); err != nil {
		return nil, 0, err
	}

	surplus := (order.PriceCents + opp.PriceCents - model.FullPrice) * qty
	half := surplus / 2
	remainder := surplus % 2
	orderRefund := half + remainder
	if !isMarket {
		if err := a.engine.ledger.ReleaseBalance(ctx, order.UserID, scope, orderRefund); err != nil {
			return nil, 0, err
		}
	}
	if err := a.engine.ledger.ReleaseBalance(ctx, opp.UserID, scope, half); err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	yesTrade := model.Trade{ID: uuid.NewString(), MarketID: a.marketID, PriceCents: yesBuyer.PriceCents,
		Quantity: qty, Side: model.Yes, Kind: model.TradeMint, BuyerID: yesBuyer.UserID, Timestamp: now}
	noTrade := model.Trade{ID: uuid.NewString(), MarketID: a.marketID, PriceCents: noBuyer.PriceCents,
		Quantity: qty, Side: model.No, Kind: model.TradeMint, BuyerID: noBuyer.UserID, Timestamp: now}
	if err := a.engine.ledger.RecordTrade(ctx, &yesTrade); err != nil {
		return nil, 0, err
	}
	if err := a.engine.ledger.RecordTrade(ctx, &noTrade); err != nil {
		return nil, 0, err
	}
	a.recordLastPrice(model.Yes, yesBuyer.PriceCents)
	a.recordLastPrice(model.No, noBuyer.PriceCents)
	metrics.MintedPairsTotal.WithLabelValues(a.marketID).Inc()
	metrics.TradesTotal.WithLabelValues(string(model.TradeMint)).Add(2)
	return []model.Trade{yesTrade, noTrade}, order.PriceCents*qty - orderRefund, nil
}

func (a *actor) recordLastPrice(side model.Side, price int64) {
	if side == model.Yes {
		a.lastYes = price
	} else {
		a.lastNo = price
	}
}

// cancel removes a resting order and refunds its exact remaining
// escrow — the property the original implementation got wrong.
func (a *actor) cancel(ctx context.Context, cmd *Command) Result {
	order, err := a.engine.store.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return apiErr(model.ErrOrderNotFound)
	}
	if order.UserID != cmd.UserID {
		return apiErr(model.ErrNotOwner)
	}
	if order.IsTerminal() {
		return apiErr(fmt.Errorf("%w: order already %s", model.ErrOrderNotFound, order.Status))
	}

	resting, remaining := a.book.Cancel(order.ID)
	if resting == nil {
		return apiErr(fmt.Errorf("%w: order not resting", model.ErrOrderNotFound))
	}

	market, err := a.engine.store.GetMarket(ctx, a.marketID)
	if err != nil {
		return Result{Err: err}
	}

	if order.Kind == model.Buy {
		if err := a.engine.ledger.ReleaseBalance(ctx, order.UserID, market.Scope, remaining*order.PriceCents); err != nil {
			return Result{Err: err}
		}
	} else {
		if err := a.engine.ledger.ReleaseShares(ctx, order.UserID, a.marketID, order.Side, remaining); err != nil {
			return Result{Err: err}
		}
	}

	order.Status = model.OrderCancelled
	if err := a.engine.store.UpdateOrder(ctx, order); err != nil {
		return Result{Err: err}
	}
	return Result{Order: order, TouchedUsers: []string{order.UserID}}
}

// resolve pays out winners and permanently closes the market to
// trading; only an admin may invoke it, checked by the Gateway before
// the command ever reaches this actor.
func (a *actor) resolve(ctx context.Context, cmd *Command) Result {
	touched, err := resolver.Resolve(ctx, a.engine.store, a.engine.ledger, a.book, a.marketID, cmd.Outcome)
	if err != nil {
		return apiErr(err)
	}
	metrics.ActiveMarkets.Dec()
	return Result{TouchedUsers: touched}
}

// delete refunds every open order and buys back every position at its
// holder's own average paid price, then marks the market deleted.
func (a *actor) delete(ctx context.Context, cmd *Command) Result {
	touched, err := resolver.Delete(ctx, a.engine.store, a.engine.ledger, a.book, a.marketID)
	if err != nil {
		return apiErr(err)
	}
	metrics.ActiveMarkets.Dec()
	return Result{TouchedUsers: touched}
}
