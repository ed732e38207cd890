package poolbet

import (
	"context"
	"errors"
	"sync"

	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/model"
)

var ErrPoolAlreadySettled = errors.New("poolbet: pool already settled")

// stake is one user's contribution to one side of a FixedPool.
type stake struct {
	userID string
	cents  int64
}

// FixedPool is a parimutuel pool: stakes accumulate in a YES pot and a
// NO pot; at settlement the losing pot is distributed pro-rata to the
// winning pot's stakers. Unlike VariablePool there is no continuous
// price — participants only learn their payout ratio at settlement.
type FixedPool struct {
	MarketID string
	Scope    string

	ledger *ledger.Ledger

	mu       sync.Mutex
	yes      []stake
	no       []stake
	settled  bool
}

// NewFixedPool creates an empty parimutuel pool for marketID.
func NewFixedPool(marketID, scope string, l *ledger.Ledger) *FixedPool {
	return &FixedPool{MarketID: marketID, Scope: scope, ledger: l}
}

// Pots returns the current YES and NO pot totals, in cents.
func (p *FixedPool) Pots() (yesCents, noCents int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.yes {
		yesCents += s.cents
	}
	for _, s := range p.no {
		noCents += s.cents
	}
	return yesCents, noCents
}

// Stake debits cents from userID's balance and adds it to side's pot.
func (p *FixedPool) Stake(ctx context.Context, userID string, side model.Side, cents int64) error {
	if cents <= 0 {
		return errors.New("poolbet: stake must be positive")
	}

	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return ErrPoolAlreadySettled
	}
	p.mu.Unlock()

	if err := p.ledger.ReserveBalance(ctx, userID, p.Scope, cents); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if side == model.Yes {
		p.yes = append(p.yes, stake{userID: userID, cents: cents})
	} else {
		p.no = append(p.no, stake{userID: userID, cents: cents})
	}
	return nil
}

// Settle distributes the losing pot pro-rata to the winning pot's
// stakers (each winner keeps their own stake plus a share of the
// loser's pot proportional to their fraction of the winning pot), then
// marks the pool settled. Calling Settle twice is an error.
func (p *FixedPool) Settle(ctx context.Context, outcome model.Outcome) error {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return ErrPoolAlreadySettled
	}
	winners, losers := p.yes, p.no
	if outcome == model.OutcomeNo {
		winners, losers = p.no, p.yes
	}
	p.settled = true
	p.mu.Unlock()

	var winningTotal int64
	for _, s := range winners {
		winningTotal += s.cents
	}
	var losingTotal int64
	for _, s := range losers {
		losingTotal += s.cents
	}

	if winningTotal == 0 {
		// No winners staked anything: refund the losing side, there's
		// no one to distribute their stakes to.
		for _, s := range losers {
			if err := p.ledger.ReleaseBalance(ctx, s.userID, p.Scope, s.cents); err != nil {
				return err
			}
		}
		return nil
	}

	distributed := int64(0)
	for i, s := range winners {
		payout := s.cents
		if losingTotal > 0 {
			share := s.cents * losingTotal / winningTotal
			if i == len(winners)-1 {
				share = losingTotal - distributed
			}
			distributed += share
			payout += share
		}
		if err := p.ledger.ReleaseBalance(ctx, s.userID, p.Scope, payout); err != nil {
			return err
		}
	}
	return nil
}
