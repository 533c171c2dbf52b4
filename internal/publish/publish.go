// Package publish hands published signal generations to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures a KafkaPublisher.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // default: 10s
	MaxAttempts  int           // default: 3
	Logger       zerolog.Logger
}

// KafkaPublisher writes each generation as one JSON message keyed by generated_at.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewKafka creates a KafkaPublisher.
func NewKafka(opts KafkaOptions) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic is required")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            opts.MaxAttempts,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
	return newKafka(w, opts), nil
}

func newKafka(w messageWriter, opts KafkaOptions) *KafkaPublisher {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &KafkaPublisher{
		writer:  w,
		topic:   opts.Topic,
		timeout: opts.WriteTimeout,
		log:     opts.Logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

// Publish writes g.
func (p *KafkaPublisher) Publish(ctx context.Context, g *domain.Generation) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode generation: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(g.GeneratedAt, 10)),
		Value: data,
		Time:  time.UnixMilli(g.GeneratedAt),
	})
	if err != nil {
		observability.RecordUpstreamCall("kafka", "error", time.Since(start))
		return fmt.Errorf("%w: kafka write %s: %v", domain.ErrUpstreamUnavailable, p.topic, err)
	}
	observability.RecordUpstreamCall("kafka", "ok", time.Since(start))

	p.log.Debug().
		Str("topic", p.topic).
		Int64("generated_at", g.GeneratedAt).
		Int("signals", len(g.Signals)).
		Msg("generation published")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop discards generations.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, *domain.Generation) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }
