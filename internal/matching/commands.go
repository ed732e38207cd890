package matching

import (
	"github.com/duskmarket/engine/internal/model"
)

// CommandKind is the external command surface the engine accepts, one
// actor goroutine at a time per market.
type CommandKind string

const (
	CmdPlaceLimit  CommandKind = "PLACE_LIMIT"
	CmdPlaceMarket CommandKind = "PLACE_MARKET"
	CmdCancel      CommandKind = "CANCEL"
	CmdResolve     CommandKind = "RESOLVE_MARKET"
	CmdDelete      CommandKind = "DELETE_MARKET"
)

// Command is a single unit of work handled serially by one market's
// actor goroutine. Reply is buffered by 1 so the actor never blocks on
// a caller that gave up waiting.
type Command struct {
	Kind     CommandKind
	MarketID string
	UserID   string // acting principal; for Resolve/Delete this must be an admin

	// PlaceLimit / PlaceMarket
	Side         model.Side
	OrderKind    model.Kind
	PriceCents   int64 // limit price; ignored for PlaceMarket
	Quantity     int64
	MaxCostCents int64 // PlaceMarket BUY only: escrow ceiling

	// Cancel
	OrderID string

	// ResolveMarket
	Outcome model.Outcome

	Reply chan Result
}

// Result is what a Command produces: the order as it stood after the
// command settled (nil for Resolve/Delete), any trades it produced,
// the ids of every user whose balance or position changed (so the
// actor can fan out PORTFOLIO_UPDATE), and a *model.APIError carrying
// the failure's code and message (not a wrapped sentinel error).
type Result struct {
	Order        *model.Order
	Trades       []model.Trade
	TouchedUsers []string
	Err          error
}

func newReply() chan Result {
	return make(chan Result, 1)
}

// touchedSet deduplicates the user ids a command affects as it runs,
// in whatever order matchStep/mintStep touch them.
type touchedSet map[string]struct{}

func (s touchedSet) add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

func (s touchedSet) slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
