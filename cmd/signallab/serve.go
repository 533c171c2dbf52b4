package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"solana-signal-lab/internal/api"
	"solana-signal-lab/internal/batch"
	"solana-signal-lab/internal/config"
	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/publish"
	"solana-signal-lab/internal/scanner"
	"solana-signal-lab/internal/stream"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stream consumer, batcher, scanner and read API",
	Long: `Run every long-lived component in one process.

Shutdown on SIGINT/SIGTERM: the batcher stops accepting events and flushes
what is queued, then the stream is closed without reconnecting, then the
HTTP server is shut down.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply schema migrations on start")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log, serveMigrate)
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	client := stream.New(stream.Options{Config: streamConfig(cfg.Stream), Logger: log})
	for _, t := range streamTopics(cfg.Stream) {
		if err := client.Subscribe(t); err != nil {
			return err
		}
	}

	locker := control.NewLocker(a.kv, control.LockOptions{
		Attempts:   cfg.Batch.LockAttempts,
		RetryDelay: cfg.Batch.LockRetryDelay,
	})

	batcher := batch.New(engine, locker, batch.Options{
		BatchSize:       cfg.Batch.BatchSize,
		ProcessingDelay: cfg.Batch.ProcessingDelay,
		Concurrency:     cfg.Batch.Concurrency,
		LockTTL:         cfg.Batch.LockTTL,
		Snapshots:       a.snapshots,
		Scores:          a.scores,
		Requests:        control.NewQueue(a.kv, batch.RequestQueue),
		Logger:          log,
	})

	publisher, err := newPublisher(cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	generations := scanner.NewGenerationCache(a.kv, cfg.Scanner.GenerationTTL)
	sc := scanner.New(a.scores, generations, scanner.Options{
		Interval:       cfg.Scanner.Interval,
		Lookback:       cfg.Scanner.Lookback,
		TopN:           cfg.Scanner.TopN,
		NoiseThreshold: cfg.Scanner.NoiseThreshold,
		Filters: scanner.Filters{
			MinScore:        cfg.Scanner.MinScore,
			MinVolumeUSD:    cfg.Scanner.MinVolumeUSD,
			MinLiquidityUSD: cfg.Scanner.MinLiquidityUSD,
			MinConfidence:   cfg.Scanner.MinConfidence,
			MinTxns:         cfg.Scanner.MinTxns,
			MinMarketCapUSD: cfg.Scanner.MinMarketCapUSD,
			MaxMarketCapUSD: cfg.Scanner.MaxMarketCapUSD,
		},
		Signals:   a.signals,
		Publisher: publisher,
		Logger:    log,
	})

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.New(api.Options{
			Generations: generations,
			History:     a.signals,
			Stream:      client,
			Scanner:     sc,
			KV:          a.kv,
			Logger:      log,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	batcherDone := make(chan struct{})

	g.Go(func() error {
		return connectStream(gctx, client, cfg.Stream, log)
	})
	g.Go(func() error {
		defer close(batcherDone)
		return batcher.Run(gctx, client.Events())
	})
	g.Go(func() error {
		return sc.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		<-batcherDone
		_ = client.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// connectStream retries the initial connection with the stream's own backoff.
// Later reconnects are handled by the client. Auth failures are fatal.
func connectStream(ctx context.Context, client *stream.Client, cfg config.StreamConfig, log zerolog.Logger) error {
	for attempt := 1; ; attempt++ {
		err := client.Connect(ctx)
		if err == nil || errors.Is(err, stream.ErrClosed) {
			return nil
		}
		if errors.Is(err, domain.ErrAuth) {
			return fmt.Errorf("stream: %w", err)
		}
		delay := stream.Backoff(attempt, cfg.ReconnectBase, cfg.ReconnectCap)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("stream connect failed")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func streamConfig(c config.StreamConfig) stream.Config {
	return stream.Config{
		URL:                  c.URL,
		APIKey:               c.APIKey,
		ConnectTimeout:       c.ConnectTimeout,
		PingInterval:         c.PingInterval,
		ReadTimeout:          c.ReadTimeout,
		WriteTimeout:         c.WriteTimeout,
		ReconnectBase:        c.ReconnectBase,
		ReconnectCap:         c.ReconnectCap,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		EventBuffer:          c.EventBuffer,
	}
}

func streamTopics(c config.StreamConfig) []stream.Topic {
	var topics []stream.Topic
	if c.NewTokens {
		topics = append(topics, stream.Topic{Name: stream.TopicNewToken})
	}
	if c.Migrations {
		topics = append(topics, stream.Topic{Name: stream.TopicMigration})
	}
	if len(c.TradeKeys) > 0 {
		topics = append(topics, stream.Topic{Name: stream.TopicTokenTrade, Keys: c.TradeKeys})
	}
	return topics
}

type generationPublisher interface {
	scanner.Publisher
	Close() error
}

func newPublisher(c config.KafkaConfig, log zerolog.Logger) (generationPublisher, error) {
	if len(c.Brokers) == 0 {
		return publish.Noop{}, nil
	}
	p, err := publish.NewKafka(publish.KafkaOptions{
		Brokers: c.Brokers,
		Topic:   c.Topic,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Strs("brokers", c.Brokers).Str("topic", c.Topic).Msg("kafka publisher enabled")
	return p, nil
}
