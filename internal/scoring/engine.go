package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/marketdata"
	"solana-signal-lab/internal/observability"
)

// MetadataFetcher resolves on-chain token metadata.
type MetadataFetcher interface {
	Fetch(ctx context.Context, mint string) (*domain.TokenMetadata, error)
}

// Options configures Engine.
type Options struct {
	Weights  Weights
	Risk     RiskThresholds
	AIWeight float64
	// MetadataCache memoizes metadata lookups. Optional.
	MetadataCache    *control.Cache
	MetadataCacheTTL time.Duration
	Logger           zerolog.Logger
}

// Outcome is one scoring pass: the result plus the snapshots it was built from.
type Outcome struct {
	Result    domain.ScoreResult
	Snapshots []domain.EntitySnapshot
}

// Engine scores one entity end to end.
type Engine struct {
	market marketdata.Source
	meta   MetadataFetcher
	judge  *Judge
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine. meta may be nil; a nil judge always falls back.
func NewEngine(market marketdata.Source, meta MetadataFetcher, judge *Judge, opts Options) (*Engine, error) {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if opts.Risk == (RiskThresholds{}) {
		opts.Risk = DefaultRiskThresholds()
	}
	if judge == nil {
		judge = NewJudge(nil, nil, nil, JudgeOptions{Risk: opts.Risk, Logger: opts.Logger})
	}
	if opts.AIWeight < 0 || opts.AIWeight > 1 {
		return nil, fmt.Errorf("ai weight %v outside [0,1]", opts.AIWeight)
	}
	if opts.MetadataCacheTTL <= 0 {
		opts.MetadataCacheTTL = time.Hour
	}
	return &Engine{
		market: market,
		meta:   meta,
		judge:  judge,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "scoring").Logger(),
		now:    time.Now,
	}, nil
}

// Score enriches, judges and composes. It returns domain.ErrNoMarketData when
// no source has data for mint. AI failures never surface here.
func (e *Engine) Score(ctx context.Context, mint string, hint Entity) (*Outcome, error) {
	snaps, err := e.market.Fetch(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("enrich %s: %w", mint, err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("enrich %s: %w", mint, domain.ErrNoMarketData)
	}

	entity := e.resolveEntity(ctx, mint, hint, snaps)
	h := ComputeHeuristics(snaps, e.opts.Weights)
	j := e.judge.RequestAIJudgment(ctx, entity, snaps, h)
	res := Compose(entity, snaps, h, j, e.opts.AIWeight, e.opts.Risk, e.now().UnixMilli())

	observability.ObserveFinalScore(res.Final)
	e.log.Debug().
		Str("mint", mint).
		Float64("heuristic", res.HeuristicTotal).
		Float64("final", res.Final).
		Str("risk", string(res.Risk)).
		Bool("fallback", j.Fallback).
		Msg("scored")
	return &Outcome{Result: res, Snapshots: snaps}, nil
}

// resolveEntity fills name and symbol from the hint, then the snapshots,
// then on-chain metadata.
func (e *Engine) resolveEntity(ctx context.Context, mint string, hint Entity, snaps []domain.EntitySnapshot) Entity {
	ent := Entity{Mint: mint, Name: hint.Name, Symbol: hint.Symbol}
	for _, s := range snaps {
		if ent.Name == "" {
			ent.Name = s.BaseName
		}
		if ent.Symbol == "" {
			ent.Symbol = s.BaseSymbol
		}
	}
	if (ent.Name != "" && ent.Symbol != "") || e.meta == nil {
		return ent
	}

	meta, err := e.fetchMetadata(ctx, mint)
	if err != nil {
		e.log.Debug().Err(err).Str("mint", mint).Msg("metadata lookup failed")
		return ent
	}
	if ent.Name == "" && meta.Name != nil {
		ent.Name = *meta.Name
	}
	if ent.Symbol == "" && meta.Symbol != nil {
		ent.Symbol = *meta.Symbol
	}
	return ent
}

var errNoMetadata = errors.New("no metadata")

func (e *Engine) fetchMetadata(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	fetch := func(ctx context.Context) (domain.TokenMetadata, error) {
		meta, err := e.meta.Fetch(ctx, mint)
		if err != nil {
			return domain.TokenMetadata{}, err
		}
		if meta == nil {
			return domain.TokenMetadata{}, errNoMetadata
		}
		return *meta, nil
	}
	if e.opts.MetadataCache == nil {
		return fetch(ctx)
	}
	return control.Cached(ctx, e.opts.MetadataCache, "meta:"+mint, e.opts.MetadataCacheTTL, fetch)
}
