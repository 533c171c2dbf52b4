package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"solana-signal-lab/internal/ai"
	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// MaxFallbackConfidence caps the confidence of heuristic-only judgments.
const MaxFallbackConfidence = 0.3

// aiBucketKey is the shared token bucket for the AI provider.
const aiBucketKey = "ai"

// JudgeOptions configures Judge.
type JudgeOptions struct {
	BucketCapacity     float64
	BucketRefillPerSec float64
	CacheTTL           time.Duration
	FallbackConfidence float64
	Risk               RiskThresholds
	Logger             zerolog.Logger
}

// Judge requests AI judgments and falls back to heuristics on any failure.
type Judge struct {
	ai     ai.Completer
	bucket *control.TokenBucket
	cache  *control.Cache
	opts   JudgeOptions
	log    zerolog.Logger
}

// NewJudge creates a Judge. completer, bucket and cache may each be nil;
// a nil completer always falls back.
func NewJudge(completer ai.Completer, bucket *control.TokenBucket, cache *control.Cache, opts JudgeOptions) *Judge {
	if opts.FallbackConfidence <= 0 || opts.FallbackConfidence > MaxFallbackConfidence {
		opts.FallbackConfidence = 0.25
	}
	if opts.Risk == (RiskThresholds{}) {
		opts.Risk = DefaultRiskThresholds()
	}
	return &Judge{
		ai:     completer,
		bucket: bucket,
		cache:  cache,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "judge").Logger(),
	}
}

// RequestAIJudgment never fails: errors become a heuristic fallback.
func (j *Judge) RequestAIJudgment(ctx context.Context, e Entity, snaps []domain.EntitySnapshot, h domain.HeuristicMetrics) domain.AIJudgment {
	if j.ai == nil {
		observability.RecordAIJudgment("disabled")
		return j.Fallback(h, "no AI provider configured")
	}

	var (
		judgment domain.AIJudgment
		err      error
	)
	if j.cache != nil {
		key := "ai:" + e.Mint + ":" + snapshotHash(snaps)
		judgment, err = control.Cached(ctx, j.cache, key, j.opts.CacheTTL, func(ctx context.Context) (domain.AIJudgment, error) {
			return j.request(ctx, e, snaps, h)
		})
	} else {
		judgment, err = j.request(ctx, e, snaps, h)
	}

	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			outcome = "rate_limited"
		case errors.Is(err, domain.ErrParse):
			outcome = "parse_error"
		}
		observability.RecordAIJudgment(outcome)
		j.log.Warn().Err(err).Str("mint", e.Mint).Msg("AI judgment failed, using heuristics")
		return j.Fallback(h, err.Error())
	}
	observability.RecordAIJudgment("ok")
	return judgment
}

func (j *Judge) request(ctx context.Context, e Entity, snaps []domain.EntitySnapshot, h domain.HeuristicMetrics) (domain.AIJudgment, error) {
	if j.bucket != nil {
		if err := j.bucket.Allow(ctx, aiBucketKey, j.opts.BucketCapacity, j.opts.BucketRefillPerSec); err != nil {
			return domain.AIJudgment{}, err
		}
	}
	content, err := j.ai.Complete(ctx, systemPrompt, BuildPrompt(e, snaps, h))
	if err != nil {
		return domain.AIJudgment{}, err
	}
	return ParseJudgment(content)
}

// Fallback derives a judgment from heuristics alone.
func (j *Judge) Fallback(h domain.HeuristicMetrics, reason string) domain.AIJudgment {
	return domain.AIJudgment{
		Score:      h.Total,
		Confidence: j.opts.FallbackConfidence,
		Risk:       j.opts.Risk.Tier(h),
		Reasoning:  "AI judgment unavailable (" + reason + "); score is heuristic-only",
		Fallback:   true,
	}
}

type rawJudgment struct {
	Score          *float64 `json:"score"`
	Confidence     *float64 `json:"confidence"`
	Risk           *string  `json:"risk"`
	Reasoning      *string  `json:"reasoning"`
	ProbEnterable  *float64 `json:"probEnterable"`
	ExpectedROIP50 *float64 `json:"expectedRoiP50"`
	ExpectedROIP90 *float64 `json:"expectedRoiP90"`
	Category       string   `json:"category"`
}

// ParseJudgment decodes the strict judgment contract. A surrounding markdown
// code fence is tolerated; anything else is a domain.ErrParse.
func ParseJudgment(content string) (domain.AIJudgment, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var raw rawJudgment
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&raw); err != nil {
		return domain.AIJudgment{}, fmt.Errorf("%w: judgment: %v", domain.ErrParse, err)
	}

	missing := func(name string) error {
		return fmt.Errorf("%w: judgment missing %s", domain.ErrParse, name)
	}
	switch {
	case raw.Score == nil:
		return domain.AIJudgment{}, missing("score")
	case raw.Confidence == nil:
		return domain.AIJudgment{}, missing("confidence")
	case raw.Risk == nil:
		return domain.AIJudgment{}, missing("risk")
	case raw.Reasoning == nil:
		return domain.AIJudgment{}, missing("reasoning")
	case raw.ProbEnterable == nil:
		return domain.AIJudgment{}, missing("probEnterable")
	case raw.ExpectedROIP50 == nil:
		return domain.AIJudgment{}, missing("expectedRoiP50")
	case raw.ExpectedROIP90 == nil:
		return domain.AIJudgment{}, missing("expectedRoiP90")
	}

	risk := domain.RiskTier(strings.ToLower(strings.TrimSpace(*raw.Risk)))
	if !risk.IsValid() {
		return domain.AIJudgment{}, fmt.Errorf("%w: judgment risk %q", domain.ErrParse, *raw.Risk)
	}
	if *raw.Score < 0 || *raw.Score > 100 {
		return domain.AIJudgment{}, fmt.Errorf("%w: judgment score %v out of range", domain.ErrParse, *raw.Score)
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return domain.AIJudgment{}, fmt.Errorf("%w: judgment confidence %v out of range", domain.ErrParse, *raw.Confidence)
	}
	if *raw.ProbEnterable < 0 || *raw.ProbEnterable > 1 {
		return domain.AIJudgment{}, fmt.Errorf("%w: judgment probEnterable %v out of range", domain.ErrParse, *raw.ProbEnterable)
	}

	return domain.AIJudgment{
		Score:          *raw.Score,
		Confidence:     *raw.Confidence,
		Risk:           risk,
		Reasoning:      *raw.Reasoning,
		ProbEnterable:  *raw.ProbEnterable,
		ExpectedROIP50: *raw.ExpectedROIP50,
		ExpectedROIP90: *raw.ExpectedROIP90,
		Category:       raw.Category,
	}, nil
}

// snapshotHash identifies a snapshot set independently of capture time.
func snapshotHash(snaps []domain.EntitySnapshot) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, s := range snaps {
		s.CapturedAt = 0
		_ = enc.Encode(s)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
