package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/duskmarket/engine/internal/model"
)

func TestPublishDeliversOnlyToMatchingMarket(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{}, 1)

	bus.Subscribe("market-1", func(ev Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish("market-2", Event{Type: OrderbookUpdate, MarketID: "market-2"})
	bus.Publish("market-1", Event{Type: OrderbookUpdate, MarketID: "market-1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(received))
	}
	if received[0].MarketID != "market-1" {
		t.Fatalf("expected market-1, got %s", received[0].MarketID)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)

	count := 0
	var mu sync.Mutex
	h := bus.Subscribe("m", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish("m", Event{Type: OrderbookUpdate, MarketID: "m"})
	time.Sleep(20 * time.Millisecond)

	bus.Unsubscribe(h)
	bus.Publish("m", Event{Type: OrderbookUpdate, MarketID: "m"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected 1 delivery before unsubscribe, got %d", count)
	}
}

func TestPublishToUserIsIsolatedFromMarketSubscribers(t *testing.T) {
	bus := New(nil)

	marketHits := make(chan Event, 1)
	userHits := make(chan Event, 1)

	bus.Subscribe("m", func(ev Event) { marketHits <- ev })
	bus.SubscribeUser("u1", func(ev Event) { userHits <- ev })

	bus.PublishToUser("u1", Event{Type: PortfolioUpdate, UserID: "u1", Balance: 500})

	select {
	case ev := <-userHits:
		if ev.Type != PortfolioUpdate || ev.Balance != 500 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for user delivery")
	}

	select {
	case ev := <-marketHits:
		t.Fatalf("market subscriber should not receive user event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := New(nil)

	block := make(chan struct{})
	bus.Subscribe("m", func(Event) {
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize+10; i++ {
			bus.Publish("m", Event{Type: OrderbookUpdate, MarketID: "m"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a saturated subscriber queue")
	}
	close(block)
}

func TestTradeExecutedCarriesTradePayload(t *testing.T) {
	bus := New(nil)

	got := make(chan Event, 1)
	bus.Subscribe("m", func(ev Event) { got <- ev })

	trade := &model.Trade{ID: "t1", MarketID: "m", PriceCents: 42, Quantity: 3}
	bus.Publish("m", Event{Type: TradeExecuted, MarketID: "m", Trade: trade})

	select {
	case ev := <-got:
		if ev.Trade == nil || ev.Trade.ID != "t1" {
			t.Fatalf("expected trade t1, got %+v", ev.Trade)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trade event")
	}
}
