package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"solana-signal-lab/internal/breaker"
	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// DexScreener limiter key shared by every process.
const dexScreenerLimitKey = "dexscreener"

// DexScreenerOptions configures the DexScreener client.
type DexScreenerOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	// Window enforces RequestsPerMinute across processes. Optional.
	Window     *control.SlidingWindow
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// DexScreener reads pairs from the DexScreener token endpoint.
type DexScreener struct {
	baseURL string
	rpm     int
	http    *http.Client
	limiter *rate.Limiter
	window  *control.SlidingWindow
	cb      *gobreaker.CircuitBreaker
	sol     dexSolPrice
	log     zerolog.Logger
	now     func() time.Time
}

// NewDexScreener creates a client.
func NewDexScreener(opts DexScreenerOptions) *DexScreener {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.dexscreener.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 300
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &DexScreener{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		rpm:     opts.RequestsPerMinute,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1),
		window:  opts.Window,
		cb:      breaker.New("dexscreener"),
		log:     opts.Logger.With().Str("component", "dexscreener").Logger(),
		now:     time.Now,
	}
}

// Name implements Source.
func (d *DexScreener) Name() string { return domain.ProvenanceDexScreener }

// Fetch returns one snapshot per Solana pair that has mint as its base token.
func (d *DexScreener) Fetch(ctx context.Context, mint string) ([]domain.EntitySnapshot, error) {
	pairs, err := d.pairs(ctx, mint)
	if err != nil {
		return nil, err
	}
	capturedAt := d.now().UnixMilli()
	var out []domain.EntitySnapshot
	for _, p := range pairs {
		if p.BaseToken.Address != mint {
			continue
		}
		out = append(out, p.snapshot(capturedAt))
	}
	return out, nil
}

// pairs returns every Solana pair listing mint on either side.
func (d *DexScreener) pairs(ctx context.Context, mint string) ([]dexPair, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if d.window != nil {
		if err := d.window.Allow(ctx, dexScreenerLimitKey, time.Minute, d.rpm); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	result, err := breaker.Execute(d.cb, func() ([]dexPair, error) {
		return d.get(ctx, mint)
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordUpstreamCall("dexscreener", status, time.Since(start))
	if err != nil {
		return nil, err
	}

	var pairs []dexPair
	for _, p := range result {
		if p.ChainID == "solana" {
			pairs = append(pairs, p)
		}
	}
	d.log.Debug().Str("mint", mint).Int("pairs", len(pairs)).Msg("fetched pairs")
	return pairs, nil
}

func (d *DexScreener) get(ctx context.Context, mint string) ([]dexPair, error) {
	endpoint := d.baseURL + "/latest/dex/tokens/" + url.PathEscape(mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: %w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("dexscreener: %w: read body: %v", domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitedError{Key: dexScreenerLimitKey, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("dexscreener: %w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var parsed dexTokensResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("dexscreener: %w: %v", domain.ErrParse, err)
	}
	return parsed.Pairs, nil
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}

type dexTokensResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type dexTxns struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

type dexPair struct {
	ChainID     string   `json:"chainId"`
	DexID       string   `json:"dexId"`
	PairAddress string   `json:"pairAddress"`
	BaseToken   dexToken `json:"baseToken"`
	QuoteToken  dexToken `json:"quoteToken"`
	PriceUSD    string   `json:"priceUsd"`
	Txns        struct {
		M5  dexTxns `json:"m5"`
		H1  dexTxns `json:"h1"`
		H6  dexTxns `json:"h6"`
		H24 dexTxns `json:"h24"`
	} `json:"txns"`
	Volume      domain.Windowed `json:"volume"`
	PriceChange domain.Windowed `json:"priceChange"`
	Liquidity   *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV       float64 `json:"fdv"`
	MarketCap float64 `json:"marketCap"`
}

func (p dexPair) priceUSD() float64 {
	v, _ := strconv.ParseFloat(p.PriceUSD, 64)
	return v
}

func (p dexPair) snapshot(capturedAt int64) domain.EntitySnapshot {
	snap := domain.EntitySnapshot{
		Mint:        p.BaseToken.Address,
		PairAddress: p.PairAddress,
		DexID:       p.DexID,
		BaseName:    p.BaseToken.Name,
		BaseSymbol:  p.BaseToken.Symbol,
		PriceUSD:    p.priceUSD(),
		Volume:      p.Volume,
		PriceChange: p.PriceChange,
		Txns: domain.TxnWindows{
			M5:  domain.TxnCount{Buys: p.Txns.M5.Buys, Sells: p.Txns.M5.Sells},
			H1:  domain.TxnCount{Buys: p.Txns.H1.Buys, Sells: p.Txns.H1.Sells},
			H6:  domain.TxnCount{Buys: p.Txns.H6.Buys, Sells: p.Txns.H6.Sells},
			H24: domain.TxnCount{Buys: p.Txns.H24.Buys, Sells: p.Txns.H24.Sells},
		},
		MarketCapUSD: p.MarketCap,
		Provenance:   domain.ProvenanceDexScreener,
		CapturedAt:   capturedAt,
	}
	if snap.MarketCapUSD == 0 {
		snap.MarketCapUSD = p.FDV
	}
	if p.Liquidity != nil {
		snap.LiquidityUSD = p.Liquidity.USD
	}
	return snap
}
