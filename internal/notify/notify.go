// Package notify delivers buyer confirmations after a sale, either through
// the Kafka notification topic or straight over SMTP.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/email"
	"github.com/kirinyoku/raffle-go/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, c email.Confirmation) error
}

// Queue publishes a ticket_sold event for the notifier worker.
type Queue struct {
	pub    Publisher
	topic  string
	raffle string
}

func NewQueue(pub Publisher, topic, raffleTitle string) *Queue {
	return &Queue{pub: pub, topic: topic, raffle: raffleTitle}
}

func (q *Queue) NotifyBuyerConfirmed(ctx context.Context, t domain.Ticket) error {
	const op = "notify.Queue.NotifyBuyerConfirmed"

	ev := kafka.TicketEvent{
		Type:        kafka.EventTicketSold,
		TicketID:    t.ID.String(),
		Number:      t.Number,
		BuyerName:   t.BuyerName,
		BuyerEmail:  t.BuyerEmail,
		PaymentID:   t.PaymentID,
		RaffleTitle: q.raffle,
		OccurredAt:  time.Now().UTC(),
	}

	if err := q.pub.Publish(ctx, q.topic, t.Number, ev); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Direct sends the confirmation email in-process.
type Direct struct {
	sender ConfirmationSender
	raffle string
}

func NewDirect(sender ConfirmationSender, raffleTitle string) *Direct {
	return &Direct{sender: sender, raffle: raffleTitle}
}

func (d *Direct) NotifyBuyerConfirmed(ctx context.Context, t domain.Ticket) error {
	return d.sender.SendConfirmation(ctx, confirmationFor(t.BuyerEmail, t.BuyerName, t.Number, t.PaymentID, d.raffle))
}

// Worker turns ticket_sold events from Kafka into emails.
type Worker struct {
	sender ConfirmationSender
	log    *slog.Logger
}

func NewWorker(sender ConfirmationSender, log *slog.Logger) *Worker {
	return &Worker{sender: sender, log: log.With(slog.String("component", "notify.worker"))}
}

// Handle is a kafka.Consumer handler. Malformed or foreign messages are
// skipped so they do not block the partition; send failures are returned so
// the message is retried.
func (w *Worker) Handle(ctx context.Context, msg kafkago.Message) error {
	var ev kafka.TicketEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		w.log.WarnContext(ctx, "skip undecodable message",
			slog.Int64("offset", msg.Offset),
			slog.Any("err", err),
		)
		return nil
	}

	if ev.Type != kafka.EventTicketSold || ev.BuyerEmail == "" {
		return nil
	}

	c := confirmationFor(ev.BuyerEmail, ev.BuyerName, ev.Number, ev.PaymentID, ev.RaffleTitle)
	if err := w.sender.SendConfirmation(ctx, c); err != nil {
		return fmt.Errorf("notify.Worker.Handle:%w", err)
	}

	return nil
}

func confirmationFor(to, name, number, paymentID, title string) email.Confirmation {
	return email.Confirmation{
		To:          to,
		BuyerName:   name,
		Number:      number,
		RaffleTitle: title,
		PaymentID:   paymentID,
	}
}
