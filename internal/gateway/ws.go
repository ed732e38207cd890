package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duskmarket/engine/internal/eventbus"
	"github.com/duskmarket/engine/internal/matching"
	"github.com/duskmarket/engine/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// wsSubscribeRequest is a client-sent control message relayed to the
// EventBus. market_id selects which market's ORDERBOOK_UPDATE /
// TRADE_EXECUTED / MARKET_DELETED stream the connection joins or leaves.
type wsSubscribeRequest struct {
	Action   string `json:"action"` // "subscribe_market" | "unsubscribe_market"
	MarketID string `json:"market_id"`
}

// wsHub hands each WebSocket connection the engine's EventBus, on
// which subscribe/unsubscribe requests are registered. It keeps no
// list of connections and owns no trading state itself.
type wsHub struct {
	engine *matching.Engine
}

func newWSHub(engine *matching.Engine, _ *slog.Logger) *wsHub {
	return &wsHub{engine: engine}
}

// wsConn is one upgraded connection's subscription bookkeeping and
// outbound send queue. A dedicated writer goroutine drains send so a
// slow client never blocks the EventBus subscriber goroutines that
// feed it.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs map[string]eventbus.Handle
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws upgrade failed", "err", err)
		return
	}

	wc := &wsConn{conn: conn, send: make(chan []byte, 64), subs: make(map[string]eventbus.Handle)}
	metrics.WebSocketClients.Inc()

	var userHandle eventbus.Handle
	var userSubscribed bool
	if raw := r.URL.Query().Get("token"); raw != "" {
		if principal, err := parseToken(s.jwtSecret, raw); err == nil {
			userHandle = s.hub.bus().SubscribeUser(principal.UserID, wc.deliver)
			userSubscribed = true
		}
	}

	go wc.writePump()
	s.readLoop(wc)

	wc.mu.Lock()
	for _, h := range wc.subs {
		s.hub.bus().Unsubscribe(h)
	}
	wc.mu.Unlock()
	if userSubscribed {
		s.hub.bus().Unsubscribe(userHandle)
	}
	close(wc.send)
	conn.Close()
	metrics.WebSocketClients.Dec()
}

// bus exposes the engine's EventBus to the hub; MatchingEngine wires
// every actor to the same Bus instance passed at construction, so the
// hub subscribes directly rather than proxying through the engine.
func (h *wsHub) bus() *eventbus.Bus {
	return h.engine.Bus()
}

func (s *Server) readLoop(wc *wsConn) {
	wc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	wc.conn.SetPongHandler(func(string) error {
		wc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		var req wsSubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		switch req.Action {
		case "subscribe_market":
			s.subscribeMarket(wc, req.MarketID)
		case "unsubscribe_market":
			s.unsubscribeMarket(wc, req.MarketID)
		}
	}
}

func (s *Server) subscribeMarket(wc *wsConn, marketID string) {
	if marketID == "" {
		return
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if _, ok := wc.subs[marketID]; ok {
		return
	}
	wc.subs[marketID] = s.hub.bus().Subscribe(marketID, wc.deliver)
}

func (s *Server) unsubscribeMarket(wc *wsConn, marketID string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	h, ok := wc.subs[marketID]
	if !ok {
		return
	}
	s.hub.bus().Unsubscribe(h)
	delete(wc.subs, marketID)
}

// deliver runs on the EventBus subscriber's own goroutine; it only
// ever enqueues onto send, never writes to the socket directly, so one
// writePump serializes every frame for this connection.
func (wc *wsConn) deliver(ev eventbus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case wc.send <- data:
	default:
	}
}

func (wc *wsConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-wc.send:
			if !ok {
				return
			}
			if err := wc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := wc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
