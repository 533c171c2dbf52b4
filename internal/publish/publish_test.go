package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-signal-lab/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafka(w, KafkaOptions{Topic: "signals"})

	g := &domain.Generation{
		GeneratedAt: 1_700_000_000_000,
		IntervalMs:  300_000,
		Considered:  3,
		Signals:     []domain.Signal{{Mint: "m", Rank: 1, Score: 80}},
	}
	require.NoError(t, p.Publish(context.Background(), g))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "1700000000000", string(w.msgs[0].Key))

	var got domain.Generation
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, *g, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newKafka(w, KafkaOptions{Topic: "signals"})

	err := p.Publish(context.Background(), &domain.Generation{GeneratedAt: 1})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestNewKafka_Validation(t *testing.T) {
	_, err := NewKafka(KafkaOptions{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafka(KafkaOptions{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewKafka(KafkaOptions{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestNoop(t *testing.T) {
	var n Noop
	assert.NoError(t, n.Publish(context.Background(), &domain.Generation{}))
	assert.NoError(t, n.Close())
}
