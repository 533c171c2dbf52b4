// Package batch turns the raw event stream into scoring work.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
	"solana-signal-lab/internal/scoring"
	"solana-signal-lab/internal/solana"
	"solana-signal-lab/internal/storage"
	"solana-signal-lab/internal/stream"
)

// Entity outcomes, also used as metric labels.
const (
	OutcomeScored     = "scored"
	OutcomeNoData     = "no_data"
	OutcomeContended  = "contended"
	OutcomeError      = "error"
	OutcomeStoreError = "store_error"
)

// Scorer scores one entity.
type Scorer interface {
	Score(ctx context.Context, mint string, hint scoring.Entity) (*scoring.Outcome, error)
}

// Options configures a Batcher.
type Options struct {
	BatchSize       int           // default: 20
	ProcessingDelay time.Duration // default: 5s
	Concurrency     int           // default: 4
	LockTTL         time.Duration // default: 60s
	ShutdownTimeout time.Duration // bound on the final drain (default: 30s)

	Snapshots storage.SnapshotStore // optional
	Scores    storage.ScoreStore    // optional
	// Requests is the shared manual re-score queue. Optional.
	Requests *control.Queue

	Logger zerolog.Logger
}

// Result summarizes one flush.
type Result struct {
	Events   int
	Entities int
	Outcomes map[string]int
}

// Batcher accumulates raw events and scores each distinct entity once per batch.
// Run owns the pending queue; nothing else touches it.
type Batcher struct {
	scorer Scorer
	locker *control.Locker
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Batcher.
func New(scorer Scorer, locker *control.Locker, opts Options) *Batcher {
	if opts.BatchSize < 1 {
		opts.BatchSize = 20
	}
	if opts.ProcessingDelay <= 0 {
		opts.ProcessingDelay = 5 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 60 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Batcher{
		scorer: scorer,
		locker: locker,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "batcher").Logger(),
		now:    time.Now,
	}
}

// Run consumes events until ctx is done or events is closed, then flushes
// whatever is still queued and returns once in-flight scoring has finished.
func (b *Batcher) Run(ctx context.Context, events <-chan stream.Event) error {
	var (
		pending []domain.RawEvent
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	var requestC <-chan time.Time
	if b.opts.Requests != nil {
		ticker := time.NewTicker(b.opts.ProcessingDelay)
		defer ticker.Stop()
		requestC = ticker.C
	}

	armTimer := func() {
		if timer == nil {
			timer = time.NewTimer(b.opts.ProcessingDelay)
			timerC = timer.C
		}
	}

	// flush scores at most one batch; a remainder waits for the next timer.
	flush := func(ctx context.Context) {
		stopTimer()
		if len(pending) == 0 {
			return
		}
		n := min(len(pending), b.opts.BatchSize)
		batch := pending[:n:n]
		pending = pending[n:]
		observability.SetBatchQueueDepth(len(pending))
		b.Process(ctx, batch)
		if len(pending) > 0 {
			armTimer()
		}
	}

	drain := func() {
		stopTimer()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.ShutdownTimeout)
		defer cancel()
		for len(pending) > 0 {
			flush(dctx)
			stopTimer()
		}
		b.log.Info().Msg("batcher drained")
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return nil

		case ev, ok := <-events:
			if !ok {
				drain()
				return nil
			}
			if ev.Type != stream.EventRaw || ev.Raw == nil {
				continue
			}
			pending = append(pending, *ev.Raw)
			observability.SetBatchQueueDepth(len(pending))
			// An armed timer is left running.
			armTimer()

		case <-timerC:
			timer, timerC = nil, nil
			flush(ctx)

		case <-requestC:
			b.drainRequests(ctx)
		}
	}
}

// target is one distinct entity within a batch.
type target struct {
	mint string
	hint scoring.Entity
}

// Process scores each distinct, valid entity in events once.
func (b *Batcher) Process(ctx context.Context, events []domain.RawEvent) Result {
	targets := group(events)
	res := b.processTargets(ctx, targets)
	res.Events = len(events)
	observability.RecordBatchFlush(len(events))
	b.log.Debug().
		Int("events", res.Events).
		Int("entities", res.Entities).
		Interface("outcomes", res.Outcomes).
		Msg("batch processed")
	return res
}

// group keeps the first-arrival order of distinct mints, dropping unknown
// kinds and invalid mints. Name and symbol come from the first event carrying them.
func group(events []domain.RawEvent) []target {
	index := make(map[string]int, len(events))
	var out []target
	for _, ev := range events {
		if !ev.Kind.Scorable() || !solana.IsValidPubkey(ev.Mint) {
			continue
		}
		i, seen := index[ev.Mint]
		if !seen {
			i = len(out)
			index[ev.Mint] = i
			out = append(out, target{mint: ev.Mint, hint: scoring.Entity{Mint: ev.Mint}})
		}
		if out[i].hint.Name == "" && ev.Name != nil {
			out[i].hint.Name = *ev.Name
		}
		if out[i].hint.Symbol == "" && ev.Symbol != nil {
			out[i].hint.Symbol = *ev.Symbol
		}
	}
	return out
}

func (b *Batcher) processTargets(ctx context.Context, targets []target) Result {
	res := Result{Entities: len(targets), Outcomes: make(map[string]int)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	for _, t := range targets {
		g.Go(func() error {
			outcome := b.processOne(ctx, t)
			observability.RecordEntityOutcome(outcome)
			mu.Lock()
			res.Outcomes[outcome]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (b *Batcher) processOne(ctx context.Context, t target) string {
	log := b.log.With().Str("mint", t.mint).Logger()

	lock, err := b.locker.Acquire(ctx, "entity:"+t.mint, b.opts.LockTTL)
	if errors.Is(err, domain.ErrLockContention) {
		log.Debug().Msg("entity locked elsewhere, skipping")
		return OutcomeContended
	}
	if err != nil {
		log.Warn().Err(err).Msg("entity lock failed")
		return OutcomeError
	}
	defer func() {
		if _, err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("entity lock release failed")
		}
	}()

	out, err := b.scorer.Score(ctx, t.mint, t.hint)
	if errors.Is(err, domain.ErrNoMarketData) {
		log.Debug().Msg("no market data")
		return OutcomeNoData
	}
	if err != nil {
		log.Warn().Err(err).Msg("scoring failed")
		return OutcomeError
	}

	if b.opts.Snapshots != nil {
		err := b.opts.Snapshots.InsertBulk(ctx, out.Snapshots)
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			log.Error().Err(err).Msg("persist snapshots failed")
			return OutcomeStoreError
		}
	}
	if b.opts.Scores != nil {
		if err := b.opts.Scores.Upsert(ctx, &out.Result); err != nil {
			log.Error().Err(err).Msg("persist score failed")
			return OutcomeStoreError
		}
	}

	log.Info().
		Float64("final", out.Result.Final).
		Str("risk", string(out.Result.Risk)).
		Bool("ai_fallback", out.Result.AIScore == nil).
		Msg("entity scored")
	return OutcomeScored
}
