package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duskmarket/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary first, then refresh
// (CreateMarket, UpsertPosition) or invalidate (UpdateMarket) the
// cached entry; reads check Redis first then fall back to the primary. Only
// markets and positions are cached — they're read on every orderbook
// snapshot and portfolio request but change only once per trade.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Markets (cached) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if data, err := s.rdb.Get(ctx, marketKey(id)).Bytes(); err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context, scope string) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, scope)
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

// --- Positions (cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	key := positionKeyRedis(userID, marketID)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}
	p, err := s.primary.GetPosition(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	s.cachePosition(ctx, p)
	return p, nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.cachePosition(ctx, p)
	return nil
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	// Bypasses cache: a user's full portfolio list is read far less
	// often than a single-market position lookup during matching.
	return s.primary.ListPositionsByUser(ctx, userID)
}

func (s *CachedStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.ListPositionsByMarket(ctx, marketID)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.primary.GetUserByEmail(ctx, email)
}

func (s *CachedStore) AdjustGlobalBalance(ctx context.Context, userID string, deltaCents int64) (int64, error) {
	return s.primary.AdjustGlobalBalance(ctx, userID, deltaCents)
}

func (s *CachedStore) GetScopeBalance(ctx context.Context, userID, scope string) (int64, error) {
	return s.primary.GetScopeBalance(ctx, userID, scope)
}

func (s *CachedStore) AdjustScopeBalance(ctx context.Context, userID, scope string, deltaCents int64) (int64, error) {
	return s.primary.AdjustScopeBalance(ctx, userID, scope, deltaCents)
}

func (s *CachedStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	return s.primary.CreateOrganization(ctx, org)
}

func (s *CachedStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	return s.primary.GetOrganization(ctx, id)
}

func (s *CachedStore) GetOrganizationByInviteCode(ctx context.Context, code string) (*model.Organization, error) {
	return s.primary.GetOrganizationByInviteCode(ctx, code)
}

func (s *CachedStore) AddMember(ctx context.Context, m *model.OrganizationMember) error {
	return s.primary.AddMember(ctx, m)
}

func (s *CachedStore) GetMembership(ctx context.Context, orgID, userID string) (*model.OrganizationMember, error) {
	return s.primary.GetMembership(ctx, orgID, userID)
}

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.CreateOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.UpdateOrder(ctx, o)
}

func (s *CachedStore) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.primary.ListOpenOrdersByMarket(ctx, marketID)
}

func (s *CachedStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.ListOrdersByUser(ctx, userID)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByMarket(ctx, marketID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func (s *CachedStore) cachePosition(ctx context.Context, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKeyRedis(p.UserID, p.MarketID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func positionKeyRedis(userID, marketID string) string {
	return fmt.Sprintf("position:%s:%s", userID, marketID)
}
