package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const EventTicketSold = "ticket_sold"

// TicketEvent is the message the API publishes for the notifier worker.
type TicketEvent struct {
	Type        string    `json:"type"`
	TicketID    string    `json:"ticket_id"`
	Number      string    `json:"number"`
	BuyerName   string    `json:"buyer_name"`
	BuyerEmail  string    `json:"buyer_email"`
	PaymentID   string    `json:"payment_id"`
	RaffleTitle string    `json:"raffle_title"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Producer struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewProducer(brokers []string, log *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		log:    log.With(slog.String("component", "kafka.producer")),
	}
}

// Publish writes payload as JSON. Messages with the same key land on the same
// partition, so events of one ticket stay ordered.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload any) error {
	const op = "kafka.Producer.Publish"

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	p.log.DebugContext(ctx, "message published",
		slog.String("topic", topic),
		slog.String("key", key),
	)

	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
