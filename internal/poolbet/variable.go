// Package poolbet implements pool-based betting as a sibling to the
// orderbook-driven MatchingEngine: a VariablePool is an LMSR automated
// market maker, a FixedPool is a parimutuel pool. Neither touches
// Orderbook or MatchingEngine — both exercise Ledger a second way,
// exactly as an order placement does, just without a resting book.
package poolbet

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/poolbet/lmsr"
)

// centsPerShare converts an LMSR cost (denominated in shares, where
// one share pays 1.0 at resolution) into the engine's integer cent
// grid, where one share pays model.FullPrice cents.
var centsPerShare = decimal.NewFromInt(model.FullPrice)

// VariablePool is a single market's LMSR market maker. Quantities are
// tracked in share units (qYes, qNo); every buy/sell is converted to
// and from integer cents at the Ledger boundary.
type VariablePool struct {
	MarketID string
	Scope    string

	mm *lmsr.MarketMaker

	mu         sync.Mutex
	qYes, qNo  decimal.Decimal
	ledger     *ledger.Ledger
}

// NewVariablePool creates a pool with liquidity parameter b.
func NewVariablePool(marketID, scope string, b decimal.Decimal, l *ledger.Ledger) (*VariablePool, error) {
	mm, err := lmsr.NewMarketMaker(b)
	if err != nil {
		return nil, err
	}
	return &VariablePool{MarketID: marketID, Scope: scope, mm: mm, ledger: l}, nil
}

// Price returns the current YES price for the market, in [0, 1].
func (p *VariablePool) Price() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mm.Price(p.qYes, p.qNo)
}

// Buy purchases qty shares of side for userID, debiting the LMSR cost
// from their balance and crediting qty shares to their position.
// Returns the cost paid, in cents.
func (p *VariablePool) Buy(ctx context.Context, userID string, side model.Side, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, errors.New("poolbet: quantity must be positive")
	}
	delta := decimal.NewFromInt(qty)

	p.mu.Lock()
	var costShares decimal.Decimal
	var newYes, newNo decimal.Decimal
	if side == model.Yes {
		if err := p.mm.ValidateTrade(p.qYes, p.qNo, delta); err != nil {
			p.mu.Unlock()
			return 0, err
		}
		costShares = p.mm.TradeCost(p.qYes, p.qNo, delta)
		newYes, newNo = p.qYes.Add(delta), p.qNo
	} else {
		if err := p.mm.ValidateTradeNo(p.qYes, p.qNo, delta); err != nil {
			p.mu.Unlock()
			return 0, err
		}
		costShares = p.mm.TradeCostNo(p.qYes, p.qNo, delta)
		newYes, newNo = p.qYes, p.qNo.Add(delta)
	}
	p.mu.Unlock()

	costCents := costShares.Mul(centsPerShare).Round(0).IntPart()
	if costCents <= 0 {
		costCents = 1 // LMSR cost can round to zero for a single share against deep liquidity.
	}

	if err := p.ledger.MintPoolShares(ctx, userID, p.MarketID, p.Scope, side, qty, costCents); err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.qYes, p.qNo = newYes, newNo
	p.mu.Unlock()

	return costCents, nil
}

// Sell redeems qty shares of side held by userID back into the pool,
// crediting the LMSR payout to their balance. Returns the proceeds,
// in cents.
func (p *VariablePool) Sell(ctx context.Context, userID string, side model.Side, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, errors.New("poolbet: quantity must be positive")
	}
	delta := decimal.NewFromInt(-qty)

	p.mu.Lock()
	var proceedsShares decimal.Decimal
	var newYes, newNo decimal.Decimal
	if side == model.Yes {
		if err := p.mm.ValidateTrade(p.qYes, p.qNo, delta); err != nil {
			p.mu.Unlock()
			return 0, err
		}
		proceedsShares = p.mm.TradeCost(p.qYes, p.qNo, delta)
		newYes, newNo = p.qYes.Add(delta), p.qNo
	} else {
		if err := p.mm.ValidateTradeNo(p.qYes, p.qNo, delta); err != nil {
			p.mu.Unlock()
			return 0, err
		}
		proceedsShares = p.mm.TradeCostNo(p.qYes, p.qNo, delta)
		newYes, newNo = p.qYes, p.qNo.Add(delta)
	}
	p.mu.Unlock()

	// proceedsShares is negative (a sell reduces quantity); the payout
	// to the seller is its magnitude.
	proceedsCents := proceedsShares.Neg().Mul(centsPerShare).Round(0).IntPart()
	if proceedsCents < 0 {
		proceedsCents = 0
	}

	if err := p.ledger.BurnPoolShares(ctx, userID, p.MarketID, p.Scope, side, qty, proceedsCents); err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.qYes, p.qNo = newYes, newNo
	p.mu.Unlock()

	return proceedsCents, nil
}
