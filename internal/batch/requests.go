package batch

import (
	"context"
	"errors"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/scoring"
	"solana-signal-lab/internal/solana"
)

// RequestQueue is the name of the shared manual re-score queue.
const RequestQueue = "score-requests"

// ScoreRequest asks the batcher to rescore one entity.
type ScoreRequest struct {
	Mint        string `json:"mint"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	RequestedAt int64  `json:"requestedAt"` // Unix ms
}

// drainRequests pops up to BatchSize queued requests and scores them as one batch.
func (b *Batcher) drainRequests(ctx context.Context) Result {
	var targets []target
	seen := make(map[string]bool)

	for len(targets) < b.opts.BatchSize {
		var req ScoreRequest
		ok, err := b.opts.Requests.Dequeue(ctx, &req)
		if errors.Is(err, domain.ErrParse) {
			b.log.Warn().Err(err).Msg("discarding malformed score request")
			continue
		}
		if err != nil {
			b.log.Warn().Err(err).Msg("score request queue unavailable")
			break
		}
		if !ok {
			break
		}
		if !solana.IsValidPubkey(req.Mint) || seen[req.Mint] {
			continue
		}
		seen[req.Mint] = true
		targets = append(targets, target{
			mint: req.Mint,
			hint: scoring.Entity{Mint: req.Mint, Name: req.Name, Symbol: req.Symbol},
		})
	}

	if len(targets) == 0 {
		return Result{}
	}
	res := b.processTargets(ctx, targets)
	b.log.Info().Int("requests", len(targets)).Interface("outcomes", res.Outcomes).Msg("score requests processed")
	return res
}
