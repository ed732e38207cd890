// Package ledger owns the authoritative mutations of user balances and
// positions: reserving and releasing escrowed funds, transferring
// shares on a match, minting new share pairs, and recording trades.
//
// Every mutation that touches more than one user (a match, a mint)
// acquires per-user locks in ascending user-id order before doing any
// reads or writes, so two market actors touching the same pair of
// users from opposite directions can never deadlock.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/metrics"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/store"
)

// Ledger serializes balance and position mutations against a Store.
// One Ledger is shared by every market's MatchingEngine actor.
type Ledger struct {
	store store.Store

	mu    sync.Mutex // guards locks map only
	locks map[string]*sync.Mutex
}

// New creates a Ledger backed by s.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) lockFor(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// withUsers acquires locks for every distinct id in userIDs, always in
// ascending order, runs fn, then releases them in reverse order.
func (l *Ledger) withUsers(userIDs []string, fn func() error) error {
	seen := make(map[string]bool, len(userIDs))
	unique := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	sort.Strings(unique)

	held := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		m := l.lockFor(id)
		m.Lock()
		held = append(held, m)
	}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()
	return fn()
}

func balanceOf(ctx context.Context, s store.Store, userID, scope string) (int64, error) {
	if model.GlobalScope == scope {
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return 0, err
		}
		return u.Balance, nil
	}
	return s.GetScopeBalance(ctx, userID, scope)
}

func adjustBalance(ctx context.Context, s store.Store, userID, scope string, delta int64) (int64, error) {
	if model.GlobalScope == scope {
		return s.AdjustGlobalBalance(ctx, userID, delta)
	}
	return s.AdjustScopeBalance(ctx, userID, scope, delta)
}

// ReserveBalance escrows cents from userID's scope balance, failing
// with model.ErrInsufficientFunds if the balance can't cover it.
func (l *Ledger) ReserveBalance(ctx context.Context, userID, scope string, cents int64) error {
	return l.withUsers([]string{userID}, func() error {
		bal, err := balanceOf(ctx, l.store, userID, scope)
		if err != nil {
			return err
		}
		if bal < cents {
			return model.ErrInsufficientFunds
		}
		_, err = adjustBalance(ctx, l.store, userID, scope, -cents)
		return err
	})
}

// ReleaseBalance credits cents back to userID's scope balance — used
// on order cancellation and on a price-improvement refund at match
// time. It never fails on the balance check: releasing escrow is
// always safe.
func (l *Ledger) ReleaseBalance(ctx context.Context, userID, scope string, cents int64) error {
	if cents == 0 {
		return nil
	}
	return l.withUsers([]string{userID}, func() error {
		_, err := adjustBalance(ctx, l.store, userID, scope, cents)
		return err
	})
}

func (l *Ledger) loadOrNewPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	p, err := l.store.GetPosition(ctx, userID, marketID)
	if err == nil {
		return p, nil
	}
	return &model.Position{
		UserID:      userID,
		MarketID:    marketID,
		AvgYesPrice: decimal.Zero,
		AvgNoPrice:  decimal.Zero,
	}, nil
}

// ReserveShares pledges qty of side's shares to a resting SELL order,
// failing with model.ErrInsufficientShares if the user doesn't hold
// enough unreserved shares.
func (l *Ledger) ReserveShares(ctx context.Context, userID, marketID string, side model.Side, qty int64) error {
	return l.withUsers([]string{userID}, func() error {
		p, err := l.loadOrNewPosition(ctx, userID, marketID)
		if err != nil {
			return err
		}
		if p.Available(side) < qty {
			return model.ErrInsufficientShares
		}
		if side == model.Yes {
			p.ReservedYes += qty
		} else {
			p.ReservedNo += qty
		}
		return l.store.UpsertPosition(ctx, p)
	})
}

// ReleaseShares un-pledges qty of side's shares — used on cancellation
// of a resting SELL order.
func (l *Ledger) ReleaseShares(ctx context.Context, userID, marketID string, side model.Side, qty int64) error {
	if qty == 0 {
		return nil
	}
	return l.withUsers([]string{userID}, func() error {
		p, err := l.loadOrNewPosition(ctx, userID, marketID)
		if err != nil {
			return err
		}
		if side == model.Yes {
			p.ReservedYes -= qty
		} else {
			p.ReservedNo -= qty
		}
		return l.store.UpsertPosition(ctx, p)
	})
}

func weightedAvg(oldAvg decimal.Decimal, oldQty int64, priceCents int64, qty int64) decimal.Decimal {
	total := oldQty + qty
	if total == 0 {
		return decimal.Zero
	}
	oldTotal := oldAvg.Mul(decimal.NewFromInt(oldQty))
	newTotal := oldTotal.Add(decimal.NewFromInt(priceCents).Mul(decimal.NewFromInt(qty)))
	return newTotal.Div(decimal.NewFromInt(total))
}

// MatchFill is one leg of a same-side match: the seller had qty of
// side already reserved against a resting order; the buyer acquires
// qty of side at priceCents. Cents were already escrowed from the
// buyer at order placement (and any price-improvement rebate already
// released by the caller), so MatchFill only moves shares and credits
// the seller.
type MatchFill struct {
	MarketID   string
	Side       model.Side
	BuyerID    string
	SellerID   string
	Quantity   int64
	PriceCents int64
}

// ApplyMatch transfers qty shares of side from seller to buyer and
// credits the seller priceCents*qty, updating both positions and the
// seller's balance. Locks are acquired for both users in ascending
// order regardless of which is buyer or seller.
func (l *Ledger) ApplyMatch(ctx context.Context, f MatchFill) error {
	return l.withUsers([]string{f.BuyerID, f.SellerID}, func() error {
		seller, err := l.loadOrNewPosition(ctx, f.SellerID, f.MarketID)
		if err != nil {
			return err
		}
		buyer, err := l.loadOrNewPosition(ctx, f.BuyerID, f.MarketID)
		if err != nil {
			return err
		}

		if f.Side == model.Yes {
			if seller.ReservedYes < f.Quantity || seller.YesShares < f.Quantity {
				return fmt.Errorf("ledger: seller %s has insufficient reserved YES shares", f.SellerID)
			}
			seller.ReservedYes -= f.Quantity
			seller.YesShares -= f.Quantity
			buyer.AvgYesPrice = weightedAvg(buyer.AvgYesPrice, buyer.YesShares, f.PriceCents, f.Quantity)
			buyer.YesShares += f.Quantity
		} else {
			if seller.ReservedNo < f.Quantity || seller.NoShares < f.Quantity {
				return fmt.Errorf("ledger: seller %s has insufficient reserved NO shares", f.SellerID)
			}
			seller.ReservedNo -= f.Quantity
			seller.NoShares -= f.Quantity
			buyer.AvgNoPrice = weightedAvg(buyer.AvgNoPrice, buyer.NoShares, f.PriceCents, f.Quantity)
			buyer.NoShares += f.Quantity
		}

		if err := l.store.UpsertPosition(ctx, seller); err != nil {
			return err
		}
		if err := l.store.UpsertPosition(ctx, buyer); err != nil {
			return err
		}

		proceeds := f.PriceCents * f.Quantity
		scope, err := l.marketScope(ctx, f.MarketID)
		if err != nil {
			return err
		}
		_, err = adjustBalance(ctx, l.store, f.SellerID, scope, proceeds)
		return err
	})
}

// MintPair creates qty of both YES and NO shares for two distinct
// buyers whose combined limit prices cover model.FullPrice, crediting
// each buyer's position at their own paid price. Cents were already
// escrowed at placement; MintPair does not touch balances, so any
// surplus above FullPrice*qty is split and refunded by the caller
// separately.
func (l *Ledger) MintPair(ctx context.Context, marketID, yesBuyerID, noBuyerID string, qty, yesPriceCents, noPriceCents int64) error {
	return l.withUsers([]string{yesBuyerID, noBuyerID}, func() error {
		yesPos, err := l.loadOrNewPosition(ctx, yesBuyerID, marketID)
		if err != nil {
			return err
		}
		noPos, err := l.loadOrNewPosition(ctx, noBuyerID, marketID)
		if err != nil {
			return err
		}

		yesPos.AvgYesPrice = weightedAvg(yesPos.AvgYesPrice, yesPos.YesShares, yesPriceCents, qty)
		yesPos.YesShares += qty
		noPos.AvgNoPrice = weightedAvg(noPos.AvgNoPrice, noPos.NoShares, noPriceCents, qty)
		noPos.NoShares += qty

		if err := l.store.UpsertPosition(ctx, yesPos); err != nil {
			return err
		}
		return l.store.UpsertPosition(ctx, noPos)
	})
}

func (l *Ledger) marketScope(ctx context.Context, marketID string) (string, error) {
	m, err := l.store.GetMarket(ctx, marketID)
	if err != nil {
		return "", err
	}
	return m.Scope, nil
}

// RecordTrade appends an immutable trade row and adds to the market's
// cumulative volume.
func (l *Ledger) RecordTrade(ctx context.Context, t *model.Trade) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	if err := l.store.InsertTrade(ctx, t); err != nil {
		return err
	}
	m, err := l.store.GetMarket(ctx, t.MarketID)
	if err != nil {
		return err
	}
	m.Volume = m.Volume.Add(decimal.NewFromInt(t.PriceCents * t.Quantity))
	if err := l.store.UpdateMarket(ctx, m); err != nil {
		return err
	}
	metrics.MarketVolume.WithLabelValues(t.MarketID, string(t.Side)).Add(float64(t.Quantity))
	return nil
}

// MintPoolShares debits costCents from userID's scope balance and
// credits qty newly-created shares of side to their position at an
// average price of costCents/qty — used by an AMM pool bet buy, where
// there is no counterparty to transfer shares from.
func (l *Ledger) MintPoolShares(ctx context.Context, userID, marketID, scope string, side model.Side, qty, costCents int64) error {
	if qty <= 0 {
		return nil
	}
	return l.withUsers([]string{userID}, func() error {
		bal, err := balanceOf(ctx, l.store, userID, scope)
		if err != nil {
			return err
		}
		if bal < costCents {
			return model.ErrInsufficientFunds
		}
		p, err := l.loadOrNewPosition(ctx, userID, marketID)
		if err != nil {
			return err
		}
		pricePerShare := costCents / qty
		if side == model.Yes {
			p.AvgYesPrice = weightedAvg(p.AvgYesPrice, p.YesShares, pricePerShare, qty)
			p.YesShares += qty
		} else {
			p.AvgNoPrice = weightedAvg(p.AvgNoPrice, p.NoShares, pricePerShare, qty)
			p.NoShares += qty
		}
		if err := l.store.UpsertPosition(ctx, p); err != nil {
			return err
		}
		_, err = adjustBalance(ctx, l.store, userID, scope, -costCents)
		return err
	})
}

// BurnPoolShares removes qty unreserved shares of side from userID's
// position and credits proceedsCents to their balance — the sell side
// of an AMM pool bet. Average price is left unchanged: burning shares
// doesn't need a weighted-average update, only the count decreases.
func (l *Ledger) BurnPoolShares(ctx context.Context, userID, marketID, scope string, side model.Side, qty, proceedsCents int64) error {
	if qty <= 0 {
		return nil
	}
	return l.withUsers([]string{userID}, func() error {
		p, err := l.loadOrNewPosition(ctx, userID, marketID)
		if err != nil {
			return err
		}
		if p.Available(side) < qty {
			return model.ErrInsufficientShares
		}
		if side == model.Yes {
			p.YesShares -= qty
		} else {
			p.NoShares -= qty
		}
		if err := l.store.UpsertPosition(ctx, p); err != nil {
			return err
		}
		_, err = adjustBalance(ctx, l.store, userID, scope, proceedsCents)
		return err
	})
}

// PayWinner credits a resolved market's winning shareholder one token
// (model.FullPrice cents) per winning share, invoked by the Resolver
// during ResolveMarket. It credits the balance only; the position is
// left as it is, and the Resolver zeroes it afterwards.
func (l *Ledger) PayWinner(ctx context.Context, userID, marketID, scope string, shares int64) error {
	if shares <= 0 {
		return nil
	}
	return l.withUsers([]string{userID}, func() error {
		_, err := adjustBalance(ctx, l.store, userID, scope, shares*model.FullPrice)
		return err
	})
}
