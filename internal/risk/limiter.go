// Package risk implements an optional pre-trade exposure check the
// Gateway may consult before enqueuing a command. It never mutates
// engine state; a rejection is a precondition error like any other
// validation failure, not a fatal one.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerMarketLimitExceeded is returned when a trade would push a
	// user's net exposure in a single market beyond MaxPerMarket.
	ErrPerMarketLimitExceeded = errors.New("risk: per-market exposure limit exceeded")

	// ErrScopeLimitExceeded is returned when a trade would push a
	// user's aggregate absolute exposure across every market sharing a
	// BalanceScope beyond MaxPerScope.
	ErrScopeLimitExceeded = errors.New("risk: scope exposure limit exceeded")
)

// ExposureLimiter enforces per-market and per-scope aggregate
// exposure caps. Markets are grouped by BalanceScope rather than by
// geography: every market belonging to the same organization (or the
// GLOBAL scope) counts toward one shared ceiling.
type ExposureLimiter struct {
	// MaxPerMarket bounds the absolute net exposure a user may hold in
	// any single market.
	MaxPerMarket decimal.Decimal

	// MaxPerScope bounds the sum of absolute net exposure across every
	// market sharing a BalanceScope.
	MaxPerScope decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-market and
// per-scope limits.
func NewExposureLimiter(maxPerMarket, maxPerScope decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{MaxPerMarket: maxPerMarket, MaxPerScope: maxPerScope}
}

// MarketExposure is one market's contribution to a scope's aggregate:
// a user's current signed net exposure in one market (YES exposure
// positive, NO exposure negative, in cents).
type MarketExposure struct {
	MarketID string
	Scope    string
	Net      decimal.Decimal
}

// CheckLimit validates whether a trade in targetMarket respects both
// the per-market and per-scope exposure limits. existing holds the
// user's current exposure in every market that shares targetScope
// (targetMarket's own current exposure included, if any); exposureDelta
// is the signed change the candidate trade would apply.
func (l *ExposureLimiter) CheckLimit(
	targetMarket, targetScope string,
	exposureDelta decimal.Decimal,
	existing []MarketExposure,
) error {
	var currentInMarket decimal.Decimal
	for _, e := range existing {
		if e.MarketID == targetMarket {
			currentInMarket = e.Net
			break
		}
	}

	newPosition := currentInMarket.Add(exposureDelta)
	if newPosition.Abs().GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	totalScope := newPosition.Abs()
	for _, e := range existing {
		if e.MarketID == targetMarket || e.Scope != targetScope {
			continue
		}
		totalScope = totalScope.Add(e.Net.Abs())
	}

	if totalScope.GreaterThan(l.MaxPerScope) {
		return ErrScopeLimitExceeded
	}
	return nil
}
