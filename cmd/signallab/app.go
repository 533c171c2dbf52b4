package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"solana-signal-lab/internal/ai"
	"solana-signal-lab/internal/config"
	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/marketdata"
	"solana-signal-lab/internal/scoring"
	"solana-signal-lab/internal/solana"
	"solana-signal-lab/internal/storage"
	chstore "solana-signal-lab/internal/storage/clickhouse"
	"solana-signal-lab/internal/storage/memory"
	"solana-signal-lab/internal/storage/migrations"
	pgstore "solana-signal-lab/internal/storage/postgres"
)

// app holds the shared dependencies of every command.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	kv  *control.Store

	snapshots storage.SnapshotStore // nil without ClickHouse
	scores    storage.ScoreStore
	signals   storage.SignalStore

	closers []func()
}

// newApp connects the key-value store and the persistent stores.
// With migrate set, schema files are applied first.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, migrate bool) (*app, error) {
	a := &app{cfg: cfg, log: log}

	a.kv = control.New(control.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		Logger:   log,
	})
	a.closers = append(a.closers, func() { _ = a.kv.Close() })
	if err := a.kv.Ping(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	if err := a.openStores(ctx, migrate); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context, migrate bool) error {
	if a.cfg.UseMemory {
		a.log.Warn().Msg("using in-memory stores; data is lost on exit")
		a.snapshots = memory.NewSnapshotStore()
		a.scores = memory.NewScoreStore()
		a.signals = memory.NewSignalStore()
		return nil
	}

	pool, err := pgstore.NewPool(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if migrate {
		if err := migrations.Postgres(ctx, pool, a.log); err != nil {
			return err
		}
	}
	a.scores = pgstore.NewScoreStore(pool)
	a.signals = pgstore.NewSignalStore(pool)

	if a.cfg.ClickHouse.DSN == "" {
		a.log.Warn().Msg("CLICKHOUSE_DSN not set; snapshot history disabled")
		return nil
	}
	var conn *chstore.Conn
	if migrate {
		conn, err = migrations.ClickHouse(ctx, a.cfg.ClickHouse.DSN, a.log)
	} else {
		conn, err = chstore.NewConn(ctx, a.cfg.ClickHouse.DSN)
	}
	if err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })
	a.snapshots = chstore.NewSnapshotStore(conn)
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// engine wires enrichment, metadata, AI judgment and scoring.
func (a *app) engine() (*scoring.Engine, error) {
	cfg := a.cfg
	cache := control.NewCache(a.kv)

	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint, solana.WithTimeout(10*time.Second))

	dex := marketdata.NewDexScreener(marketdata.DexScreenerOptions{
		BaseURL:           cfg.MarketData.DexScreenerURL,
		Timeout:           cfg.MarketData.Timeout,
		RequestsPerMinute: cfg.MarketData.RequestsPerMinute,
		Window:            control.NewSlidingWindow(a.kv),
		Logger:            a.log,
	})
	sources := []marketdata.Source{dex}
	if cfg.MarketData.PumpCurveFallback {
		sources = append(sources, marketdata.NewPumpCurve(solana.NewCurveReader(rpc), dex))
	}
	market := marketdata.NewCachedSource(marketdata.NewChain(a.log, sources...), cache, cfg.MarketData.CacheTTL)

	var completer ai.Completer
	if cfg.AI.APIKey != "" {
		completer = ai.New(ai.Options{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
			Logger:  a.log,
		})
	} else {
		a.log.Warn().Msg("AI_API_KEY not set; scores are heuristic-only")
	}

	risk := scoring.RiskThresholds{
		HighBelow:      cfg.Risk.HighBelow,
		MediumBelow:    cfg.Risk.MediumBelow,
		LiquidityBelow: cfg.Risk.LiquidityBelow,
	}
	judge := scoring.NewJudge(completer, control.NewTokenBucket(a.kv), cache, scoring.JudgeOptions{
		BucketCapacity:     cfg.AI.BucketCapacity,
		BucketRefillPerSec: cfg.AI.BucketRefillPerSec,
		CacheTTL:           cfg.AI.CacheTTL,
		FallbackConfidence: cfg.AI.FallbackConfidence,
		Risk:               risk,
		Logger:             a.log,
	})

	w := cfg.Weights
	return scoring.NewEngine(market, solana.NewMetadataReader(rpc), judge, scoring.Options{
		Weights: scoring.Weights{
			Volume:      w.Volume,
			Liquidity:   w.Liquidity,
			PriceAction: w.PriceAction,
			Social:      w.Social,
			Risk:        w.Risk,
			Momentum:    w.Momentum,
		},
		Risk:          risk,
		AIWeight:      cfg.AI.Weight,
		MetadataCache: cache,
		Logger:        a.log,
	})
}
