// Package resolver implements the payout and refund logic for
// resolving or deleting a market. It is invoked by a market's
// MatchingEngine actor, so it runs under the same per-market
// serialization guarantee as ordinary trading commands — no trade can
// race a resolution.
package resolver

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/orderbook"
	"github.com/duskmarket/engine/internal/store"
)

// Resolve pays model.FullPrice cents per winning share to every holder
// of a position in marketID, cancels every order still resting in
// book (refunding escrow exactly as a user-initiated cancel would),
// and marks the market resolved with the given outcome. It returns
// the ids of every user whose balance or position changed, so the
// caller can fan out a PORTFOLIO_UPDATE per user.
func Resolve(ctx context.Context, s store.Store, l *ledger.Ledger, book *orderbook.Book, marketID string, outcome model.Outcome) ([]string, error) {
	market, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.IsResolved() {
		return nil, model.ErrAlreadyResolved
	}
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		return nil, fmt.Errorf("resolver: outcome must be YES or NO, got %q", outcome)
	}

	touched := make(map[string]struct{})
	cancelled, err := cancelAllResting(ctx, s, l, book, marketID, market.Scope)
	if err != nil {
		return nil, err
	}
	addAll(touched, cancelled)

	holders, err := s.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	for i := range holders {
		p := holders[i]
		shares := p.YesShares
		if outcome == model.OutcomeNo {
			shares = p.NoShares
		}
		if shares > 0 {
			if err := l.PayWinner(ctx, p.UserID, marketID, market.Scope, shares); err != nil {
				return nil, err
			}
		}
		p.YesShares, p.NoShares, p.ReservedYes, p.ReservedNo = 0, 0, 0, 0
		if err := s.UpsertPosition(ctx, &p); err != nil {
			return nil, err
		}
		touched[p.UserID] = struct{}{}
	}

	market.Status = model.MarketResolved
	market.Outcome = outcome
	if err := s.UpdateMarket(ctx, market); err != nil {
		return nil, err
	}
	return touchedSlice(touched), nil
}

// Delete refunds every open order's escrow and buys back every
// position at the holder's own average paid price — unlike Resolve,
// Delete has no winner, so the buyback restores the cents each holder
// actually put in rather than paying out model.FullPrice — then marks
// the market deleted. It returns the ids of every user whose balance
// or position changed.
func Delete(ctx context.Context, s store.Store, l *ledger.Ledger, book *orderbook.Book, marketID string) ([]string, error) {
	market, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.IsResolved() {
		return nil, model.ErrAlreadyResolved
	}

	touched := make(map[string]struct{})
	cancelled, err := cancelAllResting(ctx, s, l, book, marketID, market.Scope)
	if err != nil {
		return nil, err
	}
	addAll(touched, cancelled)

	holders, err := s.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	for i := range holders {
		p := holders[i]
		yesRefund := p.AvgYesPrice.Mul(decimal.NewFromInt(p.YesShares))
		noRefund := p.AvgNoPrice.Mul(decimal.NewFromInt(p.NoShares))
		cents := yesRefund.Add(noRefund).Round(0).IntPart()
		if cents > 0 {
			if err := l.ReleaseBalance(ctx, p.UserID, market.Scope, cents); err != nil {
				return nil, err
			}
		}
		p.YesShares, p.NoShares, p.ReservedYes, p.ReservedNo = 0, 0, 0, 0
		if err := s.UpsertPosition(ctx, &p); err != nil {
			return nil, err
		}
		touched[p.UserID] = struct{}{}
	}

	market.Status = model.MarketDeleted
	if err := s.UpdateMarket(ctx, market); err != nil {
		return nil, err
	}
	return touchedSlice(touched), nil
}

// cancelAllResting drains every side of book, refunding each order's
// remaining escrow exactly as the matching actor's cancel does, and
// returns the owning user id of every order it cancelled.
func cancelAllResting(ctx context.Context, s store.Store, l *ledger.Ledger, book *orderbook.Book, marketID, scope string) ([]string, error) {
	orders, err := s.ListOpenOrdersByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	owners := make([]string, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		_, remaining := book.Cancel(o.ID)

		if o.Kind == model.Buy {
			if err := l.ReleaseBalance(ctx, o.UserID, scope, remaining*o.PriceCents); err != nil {
				return nil, err
			}
		} else {
			if err := l.ReleaseShares(ctx, o.UserID, marketID, o.Side, remaining); err != nil {
				return nil, err
			}
		}

		o.Status = model.OrderCancelled
		if err := s.UpdateOrder(ctx, o); err != nil {
			return nil, err
		}
		owners = append(owners, o.UserID)
	}
	return owners, nil
}

func addAll(touched map[string]struct{}, ids []string) {
	for _, id := range ids {
		touched[id] = struct{}{}
	}
}

func touchedSlice(touched map[string]struct{}) []string {
	out := make([]string, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	return out
}
