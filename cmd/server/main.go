package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/duskmarket/engine/internal/eventbus"
	"github.com/duskmarket/engine/internal/gateway"
	"github.com/duskmarket/engine/internal/ledger"
	"github.com/duskmarket/engine/internal/matching"
	"github.com/duskmarket/engine/internal/model"
	"github.com/duskmarket/engine/internal/poolbet"
	"github.com/duskmarket/engine/internal/poolbet/lmsr"
	"github.com/duskmarket/engine/internal/risk"
	"github.com/duskmarket/engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logger.Warn("JWT_SECRET not set, using an insecure development default")
		jwtSecret = []byte("duskmarket-dev-secret-do-not-use-in-production")
	}

	// --- store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			logger.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		logger.Info("connected to PostgreSQL")

		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				logger.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			logger.Info("Redis read-through cache enabled")
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- engine ---
	led := ledger.New(st)
	bus := eventbus.New(logger)
	engine := matching.New(led, st, bus, logger)

	recoverActiveMarkets(context.Background(), engine, st, logger)

	// --- optional pre-trade exposure limiter ---
	limiter := buildExposureLimiter(logger)

	// --- pool bets: sibling AMM/parimutuel surface, opt-in and never
	// wired into the engine's command surface. ---
	if enabled, _ := strconv.ParseBool(os.Getenv("ENABLE_POOL_BETS")); enabled {
		startPoolBets(context.Background(), st, led, logger)
	}

	srv := gateway.New(engine, st, limiter, jwtSecret, logger)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("duskmarket listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down duskmarket...")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	fmt.Println("duskmarket stopped")
}

// recoverActiveMarkets touches every active market once at startup so
// its actor rebuilds the orderbook from persisted OPEN/PARTIAL orders
// before the first request arrives, rather than paying that cost on
// whichever request happens to be first. An empty scope filter means
// every market regardless of scope, global or per-organization.
func recoverActiveMarkets(ctx context.Context, engine *matching.Engine, st store.Store, log *slog.Logger) {
	markets, err := st.ListMarkets(ctx, "")
	if err != nil {
		log.Warn("failed to list markets for recovery", "err", err)
		return
	}
	for _, m := range markets {
		if m.Status != model.MarketActive {
			continue
		}
		if _, err := engine.EnsureMarket(ctx, m.ID); err != nil {
			log.Error("failed to recover market", "market_id", m.ID, "err", err)
		}
	}
}

// buildExposureLimiter reads MAX_EXPOSURE_PER_MARKET_CENTS and
// MAX_EXPOSURE_PER_SCOPE_CENTS; either left unset disables the
// pre-trade exposure check entirely, since it is optional per
// SPEC_FULL.md §4.7.
func buildExposureLimiter(log *slog.Logger) *risk.ExposureLimiter {
	perMarket := os.Getenv("MAX_EXPOSURE_PER_MARKET_CENTS")
	perScope := os.Getenv("MAX_EXPOSURE_PER_SCOPE_CENTS")
	if perMarket == "" || perScope == "" {
		log.Info("exposure limiter disabled (MAX_EXPOSURE_PER_MARKET_CENTS / MAX_EXPOSURE_PER_SCOPE_CENTS not set)")
		return nil
	}
	maxMarket, err1 := decimal.NewFromString(perMarket)
	maxScope, err2 := decimal.NewFromString(perScope)
	if err1 != nil || err2 != nil {
		log.Warn("invalid exposure limiter config, disabling", "err1", err1, "err2", err2)
		return nil
	}
	return risk.NewExposureLimiter(maxMarket, maxScope)
}

// startPoolBets builds one VariablePool per active market as a
// demonstration surface for the AMM/parimutuel sibling package — it
// is deliberately not reachable through the Gateway's HTTP routes.
func startPoolBets(ctx context.Context, st store.Store, led *ledger.Ledger, log *slog.Logger) {
	markets, err := st.ListMarkets(ctx, "")
	if err != nil {
		log.Warn("pool bets: failed to list markets", "err", err)
		return
	}
	for _, m := range markets {
		if m.Status != model.MarketActive {
			continue
		}
		b, err := lmsr.DeriveLiquidity(decimal.NewFromInt(1000), decimal.NewFromInt(20))
		if err != nil {
			log.Warn("pool bets: failed to derive liquidity", "market_id", m.ID, "err", err)
			continue
		}
		if _, err := poolbet.NewVariablePool(m.ID, m.Scope, b, led); err != nil {
			log.Warn("pool bets: failed to start pool", "market_id", m.ID, "err", err)
			continue
		}
		log.Info("pool bets: variable pool started", "market_id", m.ID, "b", b.String())
	}
}
