// Package api serves the read-only HTTP surface: current signals, health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
	"solana-signal-lab/internal/scanner"
	"solana-signal-lab/internal/storage"
)

// Generations reads published generations from the shared cache.
type Generations interface {
	Current(ctx context.Context) (*domain.Generation, error)
	Version(ctx context.Context, generatedAt int64) (*domain.Generation, error)
}

// StreamStatus reports the stream connection state.
type StreamStatus interface {
	State() domain.ConnectionState
}

// ScanStatus reports scanner health.
type ScanStatus interface {
	Healthy(ctx context.Context, now time.Time) bool
	LastSuccess(ctx context.Context) time.Time
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the server. Every dependency except Generations is optional.
type Options struct {
	Generations Generations
	History     storage.SignalStore
	Stream      StreamStatus
	Scanner     ScanStatus
	KV          Pinger
	Logger      zerolog.Logger
}

// Server holds the handlers.
type Server struct {
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		opts: opts,
		log:  opts.Logger.With().Str("component", "api").Logger(),
		now:  time.Now,
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	api := r.Group("/api")
	{
		api.GET("/signals", s.getSignals)
		api.GET("/health", s.getHealth)
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// SignalsResponse is the body of GET /api/signals.
type SignalsResponse struct {
	GeneratedAt int64           `json:"generatedAt"`
	IntervalMs  int64           `json:"intervalMs"`
	Considered  int             `json:"considered"`
	AgeMs       int64           `json:"ageMs"`
	Stale       bool            `json:"stale"` // older than two intervals
	Signals     []domain.Signal `json:"signals"`
}

func (s *Server) getSignals(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		g   *domain.Generation
		err error
	)
	if at := c.Query("generated_at"); at != "" {
		ts, perr := strconv.ParseInt(at, 10, 64)
		if perr != nil || ts <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "generated_at must be a positive Unix ms timestamp"})
			return
		}
		g, err = s.version(ctx, ts)
	} else {
		g, err = s.opts.Generations.Current(ctx)
	}
	switch {
	case errors.Is(err, scanner.ErrNoGeneration), errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": scanner.ErrNoGeneration.Error()})
		return
	case err != nil:
		s.log.Error().Err(err).Msg("read generation failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal store unavailable"})
		return
	}

	signals := g.Signals
	if limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0")); limit > 0 && len(signals) > limit {
		signals = signals[:limit]
	}
	if minScore, perr := strconv.ParseFloat(c.DefaultQuery("min_score", "0"), 64); perr == nil && minScore > 0 {
		filtered := make([]domain.Signal, 0, len(signals))
		for _, sig := range signals {
			if sig.Score >= minScore {
				filtered = append(filtered, sig)
			}
		}
		signals = filtered
	}
	if signals == nil {
		signals = []domain.Signal{}
	}

	age := s.now().UnixMilli() - g.GeneratedAt
	c.JSON(http.StatusOK, SignalsResponse{
		GeneratedAt: g.GeneratedAt,
		IntervalMs:  g.IntervalMs,
		Considered:  g.Considered,
		AgeMs:       age,
		Stale:       g.IntervalMs > 0 && age > 2*g.IntervalMs,
		Signals:     signals,
	})
}

// version reads a past generation from the cache, then from history.
func (s *Server) version(ctx context.Context, generatedAt int64) (*domain.Generation, error) {
	g, err := s.opts.Generations.Version(ctx, generatedAt)
	if err == nil || s.opts.History == nil || !errors.Is(err, scanner.ErrNoGeneration) {
		return g, err
	}
	return s.opts.History.GetByTime(ctx, generatedAt)
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status          string `json:"status"` // ok | degraded
	Stream          string `json:"stream,omitempty"`
	ScannerHealthy  *bool  `json:"scannerHealthy,omitempty"`
	LastScanAt      int64  `json:"lastScanAt,omitempty"` // Unix ms
	KV              string `json:"kv,omitempty"`
	CurrentGenAt    int64  `json:"currentGenerationAt,omitempty"`
	CurrentGenStale bool   `json:"currentGenerationStale"`
}

func (s *Server) getHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	now := s.now()
	resp := HealthResponse{Status: "ok"}
	degrade := func() { resp.Status = "degraded" }

	if s.opts.Stream != nil {
		resp.Stream = string(s.opts.Stream.State())
		if s.opts.Stream.State() != domain.StateConnected {
			degrade()
		}
	}
	if s.opts.Scanner != nil {
		healthy := s.opts.Scanner.Healthy(ctx, now)
		resp.ScannerHealthy = &healthy
		if last := s.opts.Scanner.LastSuccess(ctx); !last.IsZero() {
			resp.LastScanAt = last.UnixMilli()
		}
		if !healthy {
			degrade()
		}
	}
	if s.opts.KV != nil {
		resp.KV = "ok"
		if err := s.opts.KV.Ping(ctx); err != nil {
			resp.KV = "unavailable"
			degrade()
		}
	}
	if g, err := s.opts.Generations.Current(ctx); err == nil {
		resp.CurrentGenAt = g.GeneratedAt
		resp.CurrentGenStale = g.IntervalMs > 0 && now.UnixMilli()-g.GeneratedAt > 2*g.IntervalMs
		if resp.CurrentGenStale {
			degrade()
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
