package poolbet

import (
	"context"
	"testing"

	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/store"
)

func newTestFixedPool(t *testing.T, marketID string, users map[string]int64) (*FixedPool, *ledger.Ledger, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	for id, bal := range users {
		if err := s.CreateUser(ctx, &model.User{ID: id, Email: id + "@x.com", Balance: bal}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	l := ledger.New(s)
	return NewFixedPool(marketID, model.GlobalScope, l), l, s
}

func TestStakeDebitsBalance(t *testing.T) {
	pool, _, s := newTestFixedPool(t, "m1", map[string]int64{"u1": 1000})
	ctx := context.Background()

	if err := pool.Stake(ctx, "u1", model.Yes, 300); err != nil {
		t.Fatalf("stake: %v", err)
	}

	u, _ := s.GetUser(ctx, "u1")
	if u.Balance != 700 {
		t.Fatalf("expected balance 700, got %d", u.Balance)
	}

	yes, no := pool.Pots()
	if yes != 300 || no != 0 {
		t.Fatalf("expected yes pot 300, no pot 0, got yes=%d no=%d", yes, no)
	}
}

func TestSettleDistributesLosingPotProRata(t *testing.T) {
	pool, _, s := newTestFixedPool(t, "m1", map[string]int64{
		"winner1": 1000, "winner2": 1000, "loser1": 1000,
	})
	ctx := context.Background()

	if err := pool.Stake(ctx, "winner1", model.Yes, 300); err != nil {
		t.Fatalf("stake winner1: %v", err)
	}
	if err := pool.Stake(ctx, "winner2", model.Yes, 100); err != nil {
		t.Fatalf("stake winner2: %v", err)
	}
	if err := pool.Stake(ctx, "loser1", model.No, 400); err != nil {
		t.Fatalf("stake loser1: %v", err)
	}

	if err := pool.Settle(ctx, model.OutcomeYes); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// winner1 staked 300/400 of the winning pot -> gets 300 back + 75% of 400 = 300
	w1, _ := s.GetUser(ctx, "winner1")
	if w1.Balance != 1000-300+300+300 {
		t.Fatalf("expected winner1 balance %d, got %d", 1000-300+300+300, w1.Balance)
	}
	// winner2 staked 100/400 -> gets 100 back + 25% of 400 = 100
	w2, _ := s.GetUser(ctx, "winner2")
	if w2.Balance != 1000-100+100+100 {
		t.Fatalf("expected winner2 balance %d, got %d", 1000-100+100+100, w2.Balance)
	}
	// loser1 gets nothing back
	l1, _ := s.GetUser(ctx, "loser1")
	if l1.Balance != 1000-400 {
		t.Fatalf("expected loser1 balance %d, got %d", 1000-400, l1.Balance)
	}
}

func TestSettleWithNoWinnersRefundsLosers(t *testing.T) {
	pool, _, s := newTestFixedPool(t, "m1", map[string]int64{"only": 1000})
	ctx := context.Background()

	if err := pool.Stake(ctx, "only", model.No, 500); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := pool.Settle(ctx, model.OutcomeYes); err != nil {
		t.Fatalf("settle: %v", err)
	}

	u, _ := s.GetUser(ctx, "only")
	if u.Balance != 1000 {
		t.Fatalf("expected stake refunded in full, got %d", u.Balance)
	}
}

func TestSettleTwiceFails(t *testing.T) {
	pool, _, _ := newTestFixedPool(t, "m1", map[string]int64{"u1": 1000})
	ctx := context.Background()

	if err := pool.Stake(ctx, "u1", model.Yes, 100); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := pool.Settle(ctx, model.OutcomeYes); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := pool.Settle(ctx, model.OutcomeYes); err != ErrPoolAlreadySettled {
		t.Fatalf("expected ErrPoolAlreadySettled, got %v", err)
	}
}

func TestStakeAfterSettleFails(t *testing.T) {
	pool, _, _ := newTestFixedPool(t, "m1", map[string]int64{"u1": 1000, "u2": 1000})
	ctx := context.Background()

	if err := pool.Stake(ctx, "u1", model.Yes, 100); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := pool.Settle(ctx, model.OutcomeYes); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := pool.Stake(ctx, "u2", model.No, 100); err != ErrPoolAlreadySettled {
		t.Fatalf("expected ErrPoolAlreadySettled, got %v", err)
	}
}
