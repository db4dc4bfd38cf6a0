package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	fetchErr  error
	commitErr error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErr != nil {
		defer r.mu.Unlock()
		return kafka.Message{}, r.fetchErr
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestConsumer(r messageReader) *Consumer {
	return &Consumer{
		reader:     r,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		minBackoff: time.Millisecond,
		maxBackoff: 4 * time.Millisecond,
	}
}

func TestConsume_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 10}, {Offset: 11}}}
	c := newTestConsumer(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []int64
	failures := 3

	handler := func(_ context.Context, msg kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Offset)
		if msg.Offset == 10 && failures > 0 {
			failures--
			return errors.New("smtp down")
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, handler) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11}, r.commits())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{10, 10, 10, 10, 11}, seen)
}

func TestConsume_CancelDuringRetryDoesNotCommit(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7}}}
	c := newTestConsumer(r)

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 16)

	handler := func(context.Context, kafka.Message) error {
		calls <- struct{}{}
		return errors.New("smtp down")
	}

	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, handler) }()

	<-calls
	<-calls
	cancel()

	require.NoError(t, <-done)
	assert.Empty(t, r.commits())
}

func TestConsume_FetchAndCommitErrors(t *testing.T) {
	ctx := context.Background()
	ok := func(context.Context, kafka.Message) error { return nil }

	c := newTestConsumer(&fakeReader{fetchErr: errors.New("broker gone")})
	err := c.Consume(ctx, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.Consumer.Consume")

	c = newTestConsumer(&fakeReader{
		queue:     []kafka.Message{{Offset: 1}},
		commitErr: errors.New("rebalance"),
	})
	assert.ErrorContains(t, c.Consume(ctx, ok), "rebalance")
}

func TestDeliver_BackoffIsCapped(t *testing.T) {
	c := newTestConsumer(nil)
	c.maxBackoff = 2 * time.Millisecond

	attempts := 0
	start := time.Now()
	err := c.deliver(context.Background(), kafka.Message{}, func(context.Context, kafka.Message) error {
		attempts++
		if attempts < 6 {
			return errors.New("again")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 6, attempts)
	assert.Less(t, time.Since(start), time.Second)
}
