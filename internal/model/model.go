// Package model defines the core domain types shared across the market
// engine. Prices, quantities, and balances are integer token-cents
// (1 token = 100 cents) — never float64 — so the engine's arithmetic
// can never drift. Weighted aggregates (average fill price, volume)
// use shopspring/decimal, since they are not themselves points on the
// 1..99 cent price grid.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is which outcome a share or order refers to.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Opposite returns the other side of a binary market.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// Kind distinguishes a buy order from a sell order.
type Kind string

const (
	Buy  Kind = "BUY"
	Sell Kind = "SELL"
)

// OrderStatus is the lifecycle state of a resting or historical order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketResolved MarketStatus = "resolved"
	MarketDeleted  MarketStatus = "deleted"
)

// Outcome is the admin-declared resolution of a market. OutcomeNone is
// the unresolved (⊥) value.
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeYes  Outcome = "YES"
	OutcomeNo   Outcome = "NO"
)

// TradeKind distinguishes a same-side match from a cross-side mint.
type TradeKind string

const (
	TradeMatch TradeKind = "MATCH"
	TradeMint  TradeKind = "MINT"
)

// GlobalScope is the sentinel BalanceScope for a user's global balance,
// as opposed to a balance scoped to one organization.
const GlobalScope = "GLOBAL"

// MinPriceCents and MaxPriceCents bound a valid limit price; FullPrice
// is the token's full value in cents (the mint-pair target sum).
const (
	MinPriceCents int64 = 1
	MaxPriceCents int64 = 99
	FullPrice     int64 = 100
)

// User is a registered trader. Balance is their GLOBAL scope balance;
// organization-scoped balances live in BalanceScope rows.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Balance      int64     `json:"balance" db:"balance"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// BalanceScope is a user's balance within one organization, independent
// of their GlobalScope balance. Markets declare which scope they live
// in; positions are always scoped to the market itself.
type BalanceScope struct {
	UserID  string `json:"user_id" db:"user_id"`
	Scope   string `json:"scope" db:"scope"` // GlobalScope or an organization id
	Balance int64  `json:"balance" db:"balance"`
}

// Organization groups users under a shared invite code and lets admins
// create organization-scoped markets.
type Organization struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	InviteCode string    `json:"invite_code" db:"invite_code"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// OrganizationMember records one user's membership in one organization.
type OrganizationMember struct {
	OrgID   string `json:"org_id" db:"org_id"`
	UserID  string `json:"user_id" db:"user_id"`
	IsAdmin bool   `json:"is_admin" db:"is_admin"`
}

// Market is a binary-outcome prediction market.
type Market struct {
	ID             string          `json:"id" db:"id"`
	Title          string          `json:"title" db:"title"`
	Description    string          `json:"description" db:"description"`
	Status         MarketStatus    `json:"status" db:"status"`
	Outcome        Outcome         `json:"outcome" db:"outcome"`
	Volume         decimal.Decimal `json:"volume" db:"volume"` // cumulative traded value, in cents
	Scope          string          `json:"scope" db:"scope"`   // GlobalScope or an organization id
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ResolutionDate time.Time       `json:"resolution_date" db:"resolution_date"`
}

// IsResolved reports whether the market has a terminal outcome.
func (m *Market) IsResolved() bool {
	return m.Status == MarketResolved
}

// Order is a resting or historical limit/market order.
type Order struct {
	ID         string      `json:"id" db:"id"`
	MarketID   string      `json:"market_id" db:"market_id"`
	UserID     string      `json:"user_id" db:"user_id"`
	Side       Side        `json:"side" db:"side"`
	Kind       Kind        `json:"kind" db:"kind"`
	PriceCents int64       `json:"price_cents" db:"price_cents"`
	Quantity   int64       `json:"quantity" db:"quantity"`
	Filled     int64       `json:"filled" db:"filled"`
	Status     OrderStatus `json:"status" db:"status"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	// Seq is a monotonically increasing insertion sequence used to
	// break ties at the same price. Assigned by the Orderbook, not by
	// persistence; never zero for an order that has rested.
	Seq uint64 `json:"-" db:"-"`
}

// Remaining is the unfilled quantity on this order.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// IsTerminal reports whether the order can no longer be matched.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderFilled || o.Status == OrderCancelled
}

// Position is a trader's aggregate share holdings in one market.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	YesShares   int64           `json:"yes_shares" db:"yes_shares"`
	NoShares    int64           `json:"no_shares" db:"no_shares"`
	AvgYesPrice decimal.Decimal `json:"avg_yes_price" db:"avg_yes_price"`
	AvgNoPrice  decimal.Decimal `json:"avg_no_price" db:"avg_no_price"`
	// ReservedYes/ReservedNo are shares pledged to open SELL orders —
	// held, not destroyed, until the order fills or is cancelled.
	ReservedYes int64 `json:"reserved_yes" db:"reserved_yes"`
	ReservedNo  int64 `json:"reserved_no" db:"reserved_no"`
}

// Available returns the unreserved share count for side.
func (p *Position) Available(side Side) int64 {
	if side == Yes {
		return p.YesShares - p.ReservedYes
	}
	return p.NoShares - p.ReservedNo
}

// Trade is an immutable record of a matched or minted execution.
// SellerID is empty for a MINT (there was no seller; shares were
// created, not transferred).
type Trade struct {
	ID         string    `json:"id" db:"id"`
	MarketID   string    `json:"market_id" db:"market_id"`
	PriceCents int64     `json:"price_cents" db:"price_cents"`
	Quantity   int64     `json:"quantity" db:"quantity"`
	Side       Side      `json:"side" db:"side"`
	Kind       TradeKind `json:"kind" db:"kind"`
	BuyerID    string    `json:"buyer_id" db:"buyer_id"`
	SellerID   string    `json:"seller_id,omitempty" db:"seller_id"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// Portfolio aggregates a user's balance, positions, and open orders.
type Portfolio struct {
	UserID     string     `json:"user_id"`
	Balance    int64      `json:"balance"`
	Positions  []Position `json:"positions"`
	OpenOrders []Order    `json:"open_orders"`
}

// OrderbookLevel is one aggregated price level in a book snapshot.
type OrderbookLevel struct {
	PriceCents int64 `json:"price_cents"`
	Quantity   int64 `json:"quantity"`
}

// OrderbookSide is the aggregated bid/ask ladder for one side of one market.
type OrderbookSide struct {
	Bids []OrderbookLevel `json:"bids"`
	Asks []OrderbookLevel `json:"asks"`
}

// OrderbookSnapshot is the top-N aggregated levels for both outcomes,
// plus their midpoints, as pushed over the EventBus and returned by
// the REST orderbook endpoint.
type OrderbookSnapshot struct {
	MarketID    string        `json:"market_id"`
	Yes         OrderbookSide `json:"yes"`
	No          OrderbookSide `json:"no"`
	MidpointYes int64         `json:"midpoint_yes_cents"`
	MidpointNo  int64         `json:"midpoint_no_cents"`
}
