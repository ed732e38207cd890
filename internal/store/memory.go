package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/duskmarket/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and for single-node development when no DATABASE_URL is configured.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[string]*model.User
	usersByMail map[string]string // email -> user id
	scopeBal    map[string]int64  // userID+"|"+scope -> balance

	orgs       map[string]*model.Organization
	orgsByCode map[string]string // invite code -> org id
	members    map[string]*model.OrganizationMember // orgID+"|"+userID

	markets map[string]*model.Market
	orders  map[string]*model.Order
	posits  map[string]*model.Position // userID+"|"+marketID
	trades  map[string][]model.Trade   // marketID -> trades, append-only
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		usersByMail: make(map[string]string),
		scopeBal:    make(map[string]int64),
		orgs:        make(map[string]*model.Organization),
		orgsByCode:  make(map[string]string),
		members:     make(map[string]*model.OrganizationMember),
		markets:     make(map[string]*model.Market),
		orders:      make(map[string]*model.Order),
		posits:      make(map[string]*model.Position),
		trades:      make(map[string][]model.Trade),
	}
}

func scopeKey(userID, scope string) string { return userID + "|" + scope }
func memberKey(orgID, userID string) string { return orgID + "|" + userID }
func positionKey(userID, marketID string) string { return userID + "|" + marketID }

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByMail[u.Email]; exists {
		return fmt.Errorf("%w: email %s already registered", ErrConflict, u.Email)
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usersByMail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByMail[email]
	if !ok {
		return nil, fmt.Errorf("%w: email %s", ErrNotFound, email)
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) AdjustGlobalBalance(_ context.Context, userID string, deltaCents int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.Balance += deltaCents
	return u.Balance, nil
}

// --- Balance scopes ---

func (s *MemoryStore) GetScopeBalance(_ context.Context, userID, scope string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if scope == model.GlobalScope {
		if u, ok := s.users[userID]; ok {
			return u.Balance, nil
		}
	}
	return s.scopeBal[scopeKey(userID, scope)], nil
}

func (s *MemoryStore) AdjustScopeBalance(_ context.Context, userID, scope string, deltaCents int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey(userID, scope)
	s.scopeBal[key] += deltaCents
	return s.scopeBal[key], nil
}

// --- Organizations ---

func (s *MemoryStore) CreateOrganization(_ context.Context, org *model.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orgsByCode[org.InviteCode]; exists {
		return fmt.Errorf("%w: invite code %s already in use", ErrConflict, org.InviteCode)
	}
	cp := *org
	s.orgs[org.ID] = &cp
	s.orgsByCode[org.InviteCode] = org.ID
	return nil
}

func (s *MemoryStore) GetOrganization(_ context.Context, id string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: organization %s", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetOrganizationByInviteCode(_ context.Context, code string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.orgsByCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: invite code %s", ErrNotFound, code)
	}
	cp := *s.orgs[id]
	return &cp, nil
}

func (s *MemoryStore) AddMember(_ context.Context, m *model.OrganizationMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.members[memberKey(m.OrgID, m.UserID)] = &cp
	return nil
}

func (s *MemoryStore) GetMembership(_ context.Context, orgID, userID string) (*model.OrganizationMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberKey(orgID, userID)]
	if !ok {
		return nil, fmt.Errorf("%w: membership %s/%s", ErrNotFound, orgID, userID)
	}
	cp := *m
	return &cp, nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, scope string) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if scope != "" && m.Scope != scope {
			continue
		}
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("%w: market %s", ErrNotFound, m.ID)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, o.ID)
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListOpenOrdersByMarket(_ context.Context, marketID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.MarketID != marketID {
			continue
		}
		if o.Status == model.OrderOpen || o.Status == model.OrderPartial {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, *o)
		}
	}
	return result, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posits[positionKey(userID, marketID)]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, marketID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.posits[positionKey(p.UserID, p.MarketID)] = &cp
	return nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.posits {
		if p.UserID == userID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.posits {
		if p.MarketID == marketID {
			result = append(result, *p)
		}
	}
	return result, nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[t.MarketID] = append(s.trades[t.MarketID], *t)
	return nil
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.trades[marketID]
	if limit <= 0 || limit >= len(all) {
		out := make([]model.Trade, len(all))
		copy(out, all)
		return out, nil
	}
	start := len(all) - limit
	out := make([]model.Trade, limit)
	copy(out, all[start:])
	return out, nil
}
