package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. Cent amounts are BIGINT columns; the weighted-aggregate
// decimal.Decimal fields (avg price, volume) round-trip through
// NUMERIC::TEXT to avoid float precision loss.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func wrapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, balance, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Balance, u.IsAdmin, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email %s already registered", ErrConflict, u.Email)
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, balance, is_admin, created_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Balance, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, "user %s", id)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, balance, is_admin, created_at
		 FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Balance, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, "email %s", email)
	}
	return &u, nil
}

func (s *PostgresStore) AdjustGlobalBalance(ctx context.Context, userID string, deltaCents int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
		userID, deltaCents).Scan(&balance)
	if err != nil {
		return 0, wrapNotFound(err, "user %s", userID)
	}
	return balance, nil
}

// --- Balance scopes ---

func (s *PostgresStore) GetScopeBalance(ctx context.Context, userID, scope string) (int64, error) {
	var balance int64
	if scope == model.GlobalScope {
		err := s.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return balance, err
	}
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM balance_scopes WHERE user_id = $1 AND scope = $2`,
		userID, scope).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *PostgresStore) AdjustScopeBalance(ctx context.Context, userID, scope string, deltaCents int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO balance_scopes (user_id, scope, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, scope) DO UPDATE SET balance = balance_scopes.balance + $3
		 RETURNING balance`,
		userID, scope, deltaCents).Scan(&balance)
	return balance, err
}

// --- Organizations ---

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, invite_code, created_at) VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.InviteCode, org.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: invite code %s already in use", ErrConflict, org.InviteCode)
	}
	return err
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var o model.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, invite_code, created_at FROM organizations WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.InviteCode, &o.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, "organization %s", id)
	}
	return &o, nil
}

func (s *PostgresStore) GetOrganizationByInviteCode(ctx context.Context, code string) (*model.Organization, error) {
	var o model.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, invite_code, created_at FROM organizations WHERE invite_code = $1`, code).
		Scan(&o.ID, &o.Name, &o.InviteCode, &o.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, "invite code %s", code)
	}
	return &o, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, m *model.OrganizationMember) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO organization_members (org_id, user_id, is_admin) VALUES ($1, $2, $3)
		 ON CONFLICT (org_id, user_id) DO UPDATE SET is_admin = $3`,
		m.OrgID, m.UserID, m.IsAdmin,
	)
	return err
}

func (s *PostgresStore) GetMembership(ctx context.Context, orgID, userID string) (*model.OrganizationMember, error) {
	var m model.OrganizationMember
	err := s.pool.QueryRow(ctx,
		`SELECT org_id, user_id, is_admin FROM organization_members WHERE org_id = $1 AND user_id = $2`,
		orgID, userID).Scan(&m.OrgID, &m.UserID, &m.IsAdmin)
	if err != nil {
		return nil, wrapNotFound(err, "membership %s/%s", orgID, userID)
	}
	return &m, nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, description, status, outcome, volume, scope, created_at, resolution_date)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9)`,
		m.ID, m.Title, m.Description, m.Status, m.Outcome, m.Volume.String(), m.Scope, m.CreatedAt, m.ResolutionDate,
	)
	return err
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var volume string
	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Status, &m.Outcome,
		&volume, &m.Scope, &m.CreatedAt, &m.ResolutionDate); err != nil {
		return nil, err
	}
	m.Volume, _ = decimal.NewFromString(volume)
	return &m, nil
}

const marketColumns = `id, title, description, status, outcome, volume::TEXT, scope, created_at, resolution_date`

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err, "market %s", id)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, scope string) ([]model.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets`
	var rows pgx.Rows
	var err error
	if scope != "" {
		rows, err = s.pool.Query(ctx, query+` WHERE scope = $1 ORDER BY created_at DESC`, scope)
	} else {
		rows, err = s.pool.Query(ctx, query+` ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET title = $2, description = $3, status = $4, outcome = $5, volume = $6::NUMERIC
		 WHERE id = $1`,
		m.ID, m.Title, m.Description, m.Status, m.Outcome, m.Volume.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: market %s", ErrNotFound, m.ID)
	}
	return nil
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, market_id, user_id, side, kind, price_cents, quantity, filled, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.MarketID, o.UserID, o.Side, o.Kind, o.PriceCents, o.Quantity, o.Filled, o.Status, o.CreatedAt,
	)
	return err
}

const orderColumns = `id, market_id, user_id, side, kind, price_cents, quantity, filled, status, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	if err := row.Scan(&o.ID, &o.MarketID, &o.UserID, &o.Side, &o.Kind,
		&o.PriceCents, &o.Quantity, &o.Filled, &o.Status, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err, "order %s", id)
	}
	return o, nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET filled = $2, status = $3 WHERE id = $1`,
		o.ID, o.Filled, o.Status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, o.ID)
	}
	return nil
}

func (s *PostgresStore) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE market_id = $1 AND status IN ('OPEN','PARTIAL')
		 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// --- Positions ---

const positionColumns = `user_id, market_id, yes_shares, no_shares, avg_yes_price::TEXT, avg_no_price::TEXT, reserved_yes, reserved_no`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var avgYes, avgNo string
	if err := row.Scan(&p.UserID, &p.MarketID, &p.YesShares, &p.NoShares,
		&avgYes, &avgNo, &p.ReservedYes, &p.ReservedNo); err != nil {
		return nil, err
	}
	p.AvgYesPrice, _ = decimal.NewFromString(avgYes)
	p.AvgNoPrice, _ = decimal.NewFromString(avgNo)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 AND market_id = $2`, userID, marketID))
	if err != nil {
		return nil, wrapNotFound(err, "position %s/%s", userID, marketID)
	}
	return p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, yes_shares, no_shares, avg_yes_price, avg_no_price, reserved_yes, reserved_no)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (user_id, market_id) DO UPDATE SET
		   yes_shares = $3, no_shares = $4, avg_yes_price = $5::NUMERIC, avg_no_price = $6::NUMERIC,
		   reserved_yes = $7, reserved_no = $8`,
		p.UserID, p.MarketID, p.YesShares, p.NoShares,
		p.AvgYesPrice.String(), p.AvgNoPrice.String(), p.ReservedYes, p.ReservedNo,
	)
	return err
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionColumns+` FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionColumns+` FROM positions WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, price_cents, quantity, side, kind, buyer_id, seller_id, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		t.ID, t.MarketID, t.PriceCents, t.Quantity, t.Side, t.Kind, t.BuyerID, t.SellerID, t.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	query := `SELECT id, market_id, price_cents, quantity, side, kind, buyer_id, COALESCE(seller_id, ''), timestamp
	          FROM trades WHERE market_id = $1 ORDER BY timestamp DESC`
	args := []any{marketID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.PriceCents, &t.Quantity, &t.Side, &t.Kind,
			&t.BuyerID, &t.SellerID, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
