// Package eventbus is a single in-process publish/subscribe registry
// keyed by market id. It is the only channel through which the
// MatchingEngine's per-market actors tell the outside world that
// something happened; the Gateway is the only thing that subscribes,
// relaying events onward to WebSocket clients.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/duskmarket/engine/internal/model"
)

// Kind distinguishes the event shapes the bus carries.
type Kind string

const (
	OrderbookUpdate Kind = "ORDERBOOK_UPDATE"
	TradeExecuted   Kind = "TRADE_EXECUTED"
	PortfolioUpdate Kind = "PORTFOLIO_UPDATE"
	MarketDeleted   Kind = "MARKET_DELETED"
)

// Event is the envelope delivered to subscribers. Only the fields
// relevant to Type are populated; the rest are zero values.
type Event struct {
	Type      Kind                     `json:"type"`
	MarketID  string                   `json:"market_id"`
	Orderbook *model.OrderbookSnapshot `json:"orderbook,omitempty"`
	Trade     *model.Trade             `json:"trade,omitempty"`
	UserID    string                   `json:"user_id,omitempty"`
	Balance   int64                    `json:"balance,omitempty"`
	Positions []model.Position         `json:"positions,omitempty"`
}

const subscriberQueueSize = 64

// subscriber is one registered callback. Delivery runs on its own
// worker goroutine reading off a bounded queue, so a slow consumer
// never blocks the actor that published the event.
type subscriber struct {
	id    uint64
	queue chan Event
	done  chan struct{}
}

// Bus is a typed pub/sub registry keyed by market id and, separately,
// by user id for PORTFOLIO_UPDATE events. The zero value is not
// usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	byMarket map[string]map[uint64]*subscriber
	byUser   map[string]map[uint64]*subscriber
	nextID   uint64
	log      *slog.Logger
}

// New creates an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		byMarket: make(map[string]map[uint64]*subscriber),
		byUser:   make(map[string]map[uint64]*subscriber),
		log:      log,
	}
}

// Handle identifies a registered subscriber so it can be removed.
type Handle struct {
	id  uint64
	key string
	byUser bool
}

// Subscribe registers deliver to run, in order, for every event
// published against marketID via Publish, until Unsubscribe is
// called. deliver runs on the subscriber's own goroutine, never on
// the publisher's.
func (b *Bus) Subscribe(marketID string, deliver func(Event)) Handle {
	return b.register(&b.byMarket, marketID, deliver, false)
}

// SubscribeUser registers deliver for PORTFOLIO_UPDATE events targeted
// at userID via PublishToUser.
func (b *Bus) SubscribeUser(userID string, deliver func(Event)) Handle {
	return b.register(&b.byUser, userID, deliver, true)
}

func (b *Bus) register(table *map[string]map[uint64]*subscriber, key string, deliver func(Event), byUser bool) Handle {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{
		id:    id,
		queue: make(chan Event, subscriberQueueSize),
		done:  make(chan struct{}),
	}
	if (*table)[key] == nil {
		(*table)[key] = make(map[uint64]*subscriber)
	}
	(*table)[key][id] = sub
	b.mu.Unlock()

	go sub.run(deliver)
	return Handle{id: id, key: key, byUser: byUser}
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	table := &b.byMarket
	if h.byUser {
		table = &b.byUser
	}
	subs, ok := (*table)[h.key]
	if !ok {
		return
	}
	if sub, ok := subs[h.id]; ok {
		close(sub.done)
		delete(subs, h.id)
	}
	if len(subs) == 0 {
		delete(*table, h.key)
	}
}

// Publish delivers ev to every subscriber registered on marketID.
// Delivery is best-effort: for a subscriber whose queue is full the
// event is dropped (the subscriber stays registered) rather than
// allowed to stall the publisher, which runs on the matching actor's
// own goroutine.
func (b *Bus) Publish(marketID string, ev Event) {
	b.fanOut(b.byMarket, marketID, ev)
}

// PublishToUser delivers a PORTFOLIO_UPDATE event to userID's subscribers.
func (b *Bus) PublishToUser(userID string, ev Event) {
	b.fanOut(b.byUser, userID, ev)
}

func (b *Bus) fanOut(table map[string]map[uint64]*subscriber, key string, ev Event) {
	b.mu.RLock()
	subs := table[key]
	targets := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- ev:
		case <-sub.done:
		default:
			b.log.Warn("eventbus: dropping event for slow subscriber", "market_id", ev.MarketID, "type", ev.Type)
		}
	}
}

// run is the subscriber's delivery worker. Events for one subscriber
// are delivered strictly in publish order; across subscribers there is
// no ordering guarantee.
func (sub *subscriber) run(deliver func(Event)) {
	for {
		select {
		case ev := <-sub.queue:
			deliver(ev)
		case <-sub.done:
			return
		}
	}
}
