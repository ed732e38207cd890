// Package store defines the persistence interface for the market
// engine. PostgreSQL is the source of truth; Redis provides an
// optional read-through cache layer; an in-memory implementation backs
// tests and single-node development.
package store

import (
	"context"
	"errors"

	"github.com/duskmarket/engine/internal/model"
)

// ErrNotFound is returned by any lookup that finds no matching row.
// Callers translate it to model.ErrMarketNotFound / ErrOrderNotFound /
// etc. at the boundary where the specific entity is known.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a uniqueness constraint would be
// violated (duplicate email, duplicate invite code).
var ErrConflict = errors.New("store: conflict")

// Store is the persistence interface the Ledger, MatchingEngine
// recovery path, and Gateway read endpoints consume. Every method
// takes a context so a Postgres implementation can honor cancellation
// and deadlines; the in-memory implementation ignores it.
type Store interface {
	// --- Users ---
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	AdjustGlobalBalance(ctx context.Context, userID string, deltaCents int64) (int64, error)

	// --- Balance scopes ---
	GetScopeBalance(ctx context.Context, userID, scope string) (int64, error)
	AdjustScopeBalance(ctx context.Context, userID, scope string, deltaCents int64) (int64, error)

	// --- Organizations ---
	CreateOrganization(ctx context.Context, org *model.Organization) error
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	GetOrganizationByInviteCode(ctx context.Context, code string) (*model.Organization, error)
	AddMember(ctx context.Context, m *model.OrganizationMember) error
	GetMembership(ctx context.Context, orgID, userID string) (*model.OrganizationMember, error)

	// --- Markets ---
	CreateMarket(ctx context.Context, m *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	ListMarkets(ctx context.Context, scope string) ([]model.Market, error)
	UpdateMarket(ctx context.Context, m *model.Market) error

	// --- Orders ---
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// --- Positions ---
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)
	UpsertPosition(ctx context.Context, p *model.Position) error
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)
	ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// --- Trades ---
	InsertTrade(ctx context.Context, t *model.Trade) error
	ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error)
}
