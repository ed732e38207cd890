// Package gateway is the HTTP+WebSocket surface for the market engine.
// It is the only component that consults authentication tokens or
// admin flags: it validates request payloads, resolves the acting
// principal, enqueues commands on the target market's actor via
// MatchingEngine.Submit, and translates the Result into JSON. Nothing
// downstream of the Gateway ever sees a raw token.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/matching"
	"github.com/duskmarket/engine/internal/metrics"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/risk"
	"github.com/duskmarket/engine/internal/scope"
	"github.com/duskmarket/engine/internal/store"
)

// commandDeadline bounds how long the Gateway waits for a command to
// be accepted onto its market's actor and to complete, per spec.md
// §5's cancellation semantics.
const commandDeadline = 4 * time.Second

// Server wires the HTTP surface to the MatchingEngine, Store, and an
// optional pre-trade exposure limiter.
type Server struct {
	engine    *matching.Engine
	store     store.Store
	limiter   *risk.ExposureLimiter
	jwtSecret []byte
	log       *slog.Logger

	hub *wsHub
}

// New builds a Server. limiter may be nil to skip the pre-trade
// exposure check entirely.
func New(engine *matching.Engine, st store.Store, limiter *risk.ExposureLimiter, jwtSecret []byte, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		store:     st,
		limiter:   limiter,
		jwtSecret: jwtSecret,
		log:       log,
		hub:       newWSHub(engine, log),
	}
}

// Router builds the full chi.Router for this Server.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "duskmarket"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)

		r.Get("/markets", s.listMarkets)
		r.Get("/markets/{marketID}", s.getMarket)
		r.Get("/markets/{marketID}/orderbook", s.getOrderbook)
		r.Get("/ws", s.handleWS)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/markets", s.createMarket)
			r.Post("/markets/{marketID}/resolve", s.resolveMarket)
			r.Delete("/markets/{marketID}", s.deleteMarket)

			r.Post("/markets/{marketID}/orders", s.placeLimitOrder)
			r.Post("/markets/{marketID}/orders/market", s.placeMarketOrder)
			r.Delete("/orders/{orderID}", s.cancelOrder)
			r.Get("/orders", s.myOrders)
			r.Get("/portfolio", s.getPortfolio)
		})
	})

	return r
}

// --- auth ---

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "email and password are required"))
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to hash password"))
		return
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Balance:      0,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeAPIError(w, model.NewAPIError(model.CodeConflict, "email already registered"))
			return
		}
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to create user"))
		return
	}

	token, err := issueToken(s.jwtSecret, u.ID, u.IsAdmin)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to issue token"))
		return
	}
	u.PasswordHash = ""
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: *u})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "invalid request body"))
		return
	}

	u, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !checkPassword(u.PasswordHash, req.Password) {
		writeAPIError(w, model.NewAPIError(model.CodeNotAuthorized, "invalid email or password"))
		return
	}

	token, err := issueToken(s.jwtSecret, u.ID, u.IsAdmin)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to issue token"))
		return
	}
	u.PasswordHash = ""
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: *u})
}

// --- markets ---

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("scope")
	if q == "" {
		q = model.GlobalScope
	}
	markets, err := s.store.ListMarkets(r.Context(), q)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to list markets"))
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := markets[:0]
		for _, m := range markets {
			if string(m.Status) == status {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	m, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeNotFound, "market not found"))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) getOrderbook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	if _, err := s.store.GetMarket(r.Context(), id); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeNotFound, "market not found"))
		return
	}
	if _, err := s.engine.EnsureMarket(r.Context(), id); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to load orderbook"))
		return
	}
	snap, ok := s.engine.Snapshot(id, 25)
	if !ok {
		writeAPIError(w, model.NewAPIError(model.CodeNotFound, "market not found"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type createMarketRequest struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Scope          string    `json:"scope"`
	ResolutionDate time.Time `json:"resolve_at"`
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "invalid request body"))
		return
	}
	if req.Title == "" {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "title is required"))
		return
	}
	marketScope := req.Scope
	if marketScope == "" {
		marketScope = model.GlobalScope
	}
	if err := s.authorizeScopeAdmin(r.Context(), principal, marketScope); err != nil {
		writeAPIError(w, err)
		return
	}

	m := &model.Market{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Description:    req.Description,
		Status:         model.MarketActive,
		Outcome:        model.OutcomeNone,
		Volume:         decimal.Zero,
		Scope:          marketScope,
		CreatedAt:      time.Now().UTC(),
		ResolutionDate: req.ResolutionDate,
	}
	if err := s.store.CreateMarket(r.Context(), m); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to create market"))
		return
	}
	metrics.ActiveMarkets.Inc()
	writeJSON(w, http.StatusCreated, m)
}

// authorizeScopeAdmin checks that principal may administer marketScope:
// a global admin may act in any scope; an organization scope also
// accepts a member holding admin rights within that organization.
func (s *Server) authorizeScopeAdmin(ctx context.Context, principal ActingPrincipal, marketScope string) error {
	if principal.IsAdmin {
		return nil
	}
	if scope.IsGlobal(marketScope) {
		return model.NewAPIError(model.CodeNotAuthorized, "admin privileges required")
	}
	member, err := s.store.GetMembership(ctx, marketScope, principal.UserID)
	if err != nil {
		return model.NewAPIError(model.CodeNotAuthorized, "admin privileges required")
	}
	if err := scope.RequireAdmin(&scope.Membership{OrgID: member.OrgID, UserID: member.UserID, IsAdmin: member.IsAdmin}); err != nil {
		return model.NewAPIError(model.CodeNotAuthorized, "admin privileges required")
	}
	return nil
}

type resolveMarketRequest struct {
	Outcome model.Outcome `json:"outcome"`
}

func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	principal, _ := principalFrom(r.Context())

	m, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeNotFound, "market not found"))
		return
	}
	if err := s.authorizeScopeAdmin(r.Context(), principal, m.Scope); err != nil {
		writeAPIError(w, err)
		return
	}

	var req resolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Outcome != model.OutcomeYes && req.Outcome != model.OutcomeNo) {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "outcome must be YES or NO"))
		return
	}

	s.submit(w, r, &matching.Command{Kind: matching.CmdResolve, MarketID: id, UserID: principal.UserID, Outcome: req.Outcome})
}

func (s *Server) deleteMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	principal, _ := principalFrom(r.Context())

	m, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeNotFound, "market not found"))
		return
	}
	if err := s.authorizeScopeAdmin(r.Context(), principal, m.Scope); err != nil {
		writeAPIError(w, err)
		return
	}

	s.submit(w, r, &matching.Command{Kind: matching.CmdDelete, MarketID: id, UserID: principal.UserID})
}

// --- orders ---

type placeLimitOrderRequest struct {
	Side       model.Side `json:"side"`
	Kind       model.Kind `json:"kind"`
	PriceCents int64      `json:"price_cents"`
	Quantity   int64      `json:"quantity"`
}

func (s *Server) placeLimitOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	principal, _ := principalFrom(r.Context())

	var req placeLimitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "invalid request body"))
		return
	}
	if req.Side != model.Yes && req.Side != model.No {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "side must be YES or NO"))
		return
	}
	if req.Kind != model.Buy && req.Kind != model.Sell {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "kind must be BUY or SELL"))
		return
	}
	if req.PriceCents < model.MinPriceCents || req.PriceCents > model.MaxPriceCents {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "price_cents must be between 1 and 99"))
		return
	}
	if req.Quantity <= 0 {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "quantity must be positive"))
		return
	}

	if err := s.checkExposure(r.Context(), principal.UserID, marketID, req.Side, req.Kind, req.Quantity, req.PriceCents); err != nil {
		writeAPIError(w, err)
		return
	}

	s.submit(w, r, &matching.Command{
		Kind: matching.CmdPlaceLimit, MarketID: marketID, UserID: principal.UserID,
		Side: req.Side, OrderKind: req.Kind, PriceCents: req.PriceCents, Quantity: req.Quantity,
	})
}

type placeMarketOrderRequest struct {
	Side         model.Side `json:"side"`
	Kind         model.Kind `json:"kind"`
	Quantity     int64      `json:"quantity"`
	MaxCostCents int64      `json:"token_budget"`
}

func (s *Server) placeMarketOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	principal, _ := principalFrom(r.Context())

	var req placeMarketOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "invalid request body"))
		return
	}
	if req.Side != model.Yes && req.Side != model.No {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "side must be YES or NO"))
		return
	}
	if req.Kind != model.Buy && req.Kind != model.Sell {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "kind must be BUY or SELL"))
		return
	}
	if req.Quantity <= 0 {
		writeAPIError(w, model.NewAPIError(model.CodeInvalidOrder, "quantity must be positive"))
		return
	}

	s.submit(w, r, &matching.Command{
		Kind: matching.CmdPlaceMarket, MarketID: marketID, UserID: principal.UserID,
		Side: req.Side, OrderKind: req.Kind, Quantity: req.Quantity, MaxCostCents: req.MaxCostCents,
	})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	principal, _ := principalFrom(r.Context())

	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeNotFound, "order not found"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandDeadline)
	defer cancel()
	if _, err := s.engine.Submit(ctx, &matching.Command{Kind: matching.CmdCancel, MarketID: order.MarketID, UserID: principal.UserID, OrderID: orderID}); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) myOrders(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())
	orders, err := s.store.ListOrdersByUser(r.Context(), principal.UserID)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to list orders"))
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) getPortfolio(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())
	ctx := r.Context()

	u, err := s.store.GetUser(ctx, principal.UserID)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeNotFound, "user not found"))
		return
	}
	positions, err := s.store.ListPositionsByUser(ctx, principal.UserID)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to load positions"))
		return
	}
	orders, err := s.store.ListOrdersByUser(ctx, principal.UserID)
	if err != nil {
		writeAPIError(w, model.NewAPIError(model.CodeServiceUnavailable, "failed to load orders"))
		return
	}
	open := orders[:0]
	for _, o := range orders {
		if o.Status == model.OrderOpen || o.Status == model.OrderPartial {
			open = append(open, o)
		}
	}
	if positions == nil {
		positions = []model.Position{}
	}
	if open == nil {
		open = []model.Order{}
	}
	writeJSON(w, http.StatusOK, model.Portfolio{UserID: u.ID, Balance: u.Balance, Positions: positions, OpenOrders: open})
}

// checkExposure runs the optional pre-trade exposure limiter, if one
// is configured. exposureDelta is positive for a YES-direction trade
// and negative for a NO-direction trade, following risk.MarketExposure's
// signed-net-exposure convention.
func (s *Server) checkExposure(ctx context.Context, userID, marketID string, side model.Side, kind model.Kind, qty, priceCents int64) error {
	if s.limiter == nil {
		return nil
	}
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return model.NewAPIError(model.CodeNotFound, "market not found")
	}

	delta := decimal.NewFromInt(qty * priceCents)
	if (side == model.No) != (kind == model.Sell) {
		delta = delta.Neg()
	}

	userPositions, err := s.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		return model.NewAPIError(model.CodeServiceUnavailable, "failed to evaluate exposure")
	}

	var existing []risk.MarketExposure
	for _, p := range userPositions {
		pm, err := s.store.GetMarket(ctx, p.MarketID)
		if err != nil || pm.Scope != market.Scope {
			continue
		}
		net := decimal.NewFromInt(p.YesShares - p.NoShares)
		existing = append(existing, risk.MarketExposure{MarketID: p.MarketID, Scope: pm.Scope, Net: net})
	}

	if err := s.limiter.CheckLimit(marketID, market.Scope, delta, existing); err != nil {
		metrics.RiskRejectionsTotal.Inc()
		return model.NewAPIError(model.CodeConflict, err.Error())
	}
	return nil
}

// submit enqueues cmd on the MatchingEngine and writes its Result (or
// error) as the HTTP response.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd *matching.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), commandDeadline)
	defer cancel()

	res, err := s.engine.Submit(ctx, cmd)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if res.Order != nil {
		trades := res.Trades
		if trades == nil {
			trades = []model.Trade{}
		}
		writeJSON(w, http.StatusOK, orderResponse{Order: res.Order, Trades: trades})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// orderResponse is the JSON body for a successful order command — the
// order as it stood once the command settled, plus any trades it
// produced. matching.Result also carries Err, which has no business
// being serialized to a client that already got a 2xx.
type orderResponse struct {
	Order  *model.Order  `json:"order"`
	Trades []model.Trade `json:"trades"`
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error struct {
		Code    model.ErrorCode `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, err error) {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		apiErr = model.NewAPIError(model.CodeServiceUnavailable, err.Error())
	}

	var env errorEnvelope
	env.Error.Code = apiErr.Code
	env.Error.Message = apiErr.Message
	writeJSON(w, httpStatusFor(apiErr.Code), env)
}

func httpStatusFor(code model.ErrorCode) int {
	switch code {
	case model.CodeInvalidOrder:
		return http.StatusBadRequest
	case model.CodeInsufficientBalance, model.CodeInsufficientShares, model.CodeMarketClosed, model.CodeConflict:
		return http.StatusConflict
	case model.CodeNotAuthorized:
		return http.StatusForbidden
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
