package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader messageReader
	log    *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, groupID, topic string, log *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		log:        log.With(slog.String("component", "kafka.consumer")),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Consume hands every message to handler and commits it only after handler
// succeeded. A failing message is retried with backoff until it succeeds or
// ctx is cancelled; the reader never moves past it. Returns nil when ctx is
// cancelled. Fetch and commit errors are returned; the caller should open a
// new consumer, which resumes from the last committed offset.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, kafka.Message) error) error {
	const op = "kafka.Consumer.Consume"

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if isDone(err) {
				return nil
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := c.deliver(ctx, msg, handler); err != nil {
			if isDone(err) {
				return nil
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if isDone(err) {
				return nil
			}
			return fmt.Errorf("%s:%w", op, err)
		}
	}
}

// deliver runs handler on msg until it returns nil. It gives up only when ctx
// is done.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message, handler func(context.Context, kafka.Message) error) error {
	backoff := c.minBackoff

	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.ErrorContext(ctx, "message handler failed, retrying",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Duration("in", backoff),
			slog.Any("err", err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, c.maxBackoff)
	}
}

func isDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
