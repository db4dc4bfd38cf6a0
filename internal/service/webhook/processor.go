// Package webhook turns payment gateway notifications into ticket state
// changes. Notifications may arrive late, twice, concurrently or out of
// order, so every step is safe to repeat and the processor never reports a
// failure back to the gateway.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/metrics"
	"github.com/kirinyoku/raffle-go/internal/repository"
	"github.com/kirinyoku/raffle-go/internal/service/reservation"
)

type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeLookupFailed   Outcome = "lookup_failed"
	OutcomeUnknownPayment Outcome = "unknown_payment"
	OutcomeUnknownTicket  Outcome = "unknown_ticket"
	OutcomeAlreadySold    Outcome = "already_sold"
	OutcomeSold           Outcome = "sold"
	OutcomeReleased       Outcome = "released"
	OutcomeWaiting        Outcome = "waiting"
	OutcomeAnomaly        Outcome = "anomaly"
	OutcomeStale          Outcome = "stale"
	OutcomeError          Outcome = "error"
)

const topicPayment = "payment"

type Notification struct {
	PaymentID string
	Topic     string
	RequestID string
	Signature string
}

type PaymentGateway interface {
	GetPaymentDetails(ctx context.Context, paymentID string) (*domain.PaymentDetails, error)
}

type TicketFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
}

type Reservations interface {
	Finalize(ctx context.Context, number, orderID, paymentID string) (*domain.Ticket, bool, error)
	Abort(ctx context.Context, number, orderID, reason string) (bool, error)
}

type Notifier interface {
	NotifyBuyerConfirmed(ctx context.Context, ticket domain.Ticket) error
}

type Verifier interface {
	Verify(dataID, requestID, header string) error
}

// Locker serializes processing per payment id. Lock returns an ownership
// token that Unlock must present.
type Locker interface {
	Lock(ctx context.Context, paymentID string) (token string, ok bool, err error)
	Unlock(ctx context.Context, paymentID, token string) error
}

type Option func(*Processor)

// WithVerifier rejects notifications whose signature does not verify.
func WithVerifier(v Verifier) Option {
	return func(p *Processor) { p.verifier = v }
}

// WithLocker makes concurrent deliveries for the same payment run one after
// the other. A delivery waits for the lock; it is never dropped, because it
// may carry a newer payment status than the one being processed.
func WithLocker(l Locker) Option {
	return func(p *Processor) { p.locker = l }
}

// WithLockWait bounds how long a delivery waits for the payment lock before
// it proceeds without it.
func WithLockWait(d time.Duration) Option {
	return func(p *Processor) { p.lockWait = d }
}

func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(p *Processor) { p.notifyTimeout = d }
}

type Processor struct {
	gateway       PaymentGateway
	tickets       TicketFinder
	reservations  Reservations
	notifier      Notifier
	verifier      Verifier
	locker        Locker
	log           *slog.Logger
	notifyTimeout time.Duration
	lockWait      time.Duration

	wg sync.WaitGroup
}

func New(
	gateway PaymentGateway,
	tickets TicketFinder,
	reservations Reservations,
	log *slog.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		gateway:       gateway,
		tickets:       tickets,
		reservations:  reservations,
		log:           log.With(slog.String("component", "webhook")),
		notifyTimeout: 30 * time.Second,
		lockWait:      15 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one notification. It never returns an error: every
// outcome, including failures, is acknowledged to the gateway and the sweep
// is the backstop for anything left pending.
func (p *Processor) Handle(ctx context.Context, n Notification) (outcome Outcome) {
	log := p.log.With(
		slog.String("payment_id", n.PaymentID),
		slog.String("request_id", n.RequestID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic while processing notification", slog.Any("panic", r))
			outcome = OutcomeError
		}
		metrics.Webhook(string(outcome))
	}()

	paymentID := strings.TrimSpace(n.PaymentID)
	topic := strings.ToLower(strings.TrimSpace(n.Topic))

	if paymentID == "" || (topic != "" && topic != topicPayment) {
		log.DebugContext(ctx, "notification ignored", slog.String("topic", n.Topic))
		return OutcomeIgnored
	}

	if p.verifier != nil {
		if err := p.verifier.Verify(paymentID, n.RequestID, n.Signature); err != nil {
			log.WarnContext(ctx, "notification signature rejected", slog.Any("err", err))
			return OutcomeInvalid
		}
	}

	unlock := p.lock(ctx, log, paymentID)
	defer unlock()

	outcome = p.process(ctx, log, paymentID)
	log.InfoContext(ctx, "notification processed", slog.String("outcome", string(outcome)))

	return outcome
}

const (
	lockPollMin = 25 * time.Millisecond
	lockPollMax = 500 * time.Millisecond
)

// lock takes the payment lock, polling while another delivery holds it. When
// Redis fails or the wait runs out, processing continues unlocked: the
// conditional ticket updates keep that safe, the lock only orders the work.
func (p *Processor) lock(ctx context.Context, log *slog.Logger, paymentID string) func() {
	noop := func() {}
	if p.locker == nil {
		return noop
	}

	deadline := time.Now().Add(p.lockWait)
	poll := lockPollMin

	for {
		token, ok, err := p.locker.Lock(ctx, paymentID)
		if err != nil {
			log.WarnContext(ctx, "payment lock unavailable", slog.Any("err", err))
			return noop
		}
		if ok {
			return func() {
				if err := p.locker.Unlock(context.WithoutCancel(ctx), paymentID, token); err != nil {
					log.WarnContext(ctx, "payment unlock", slog.Any("err", err))
				}
			}
		}

		if time.Now().Add(poll).After(deadline) {
			log.WarnContext(ctx, "payment lock wait timed out, processing unlocked")
			return noop
		}

		select {
		case <-ctx.Done():
			return noop
		case <-time.After(poll):
		}

		poll = min(poll*2, lockPollMax)
	}
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, paymentID string) Outcome {
	payment, err := p.gateway.GetPaymentDetails(ctx, paymentID)
	if err != nil {
		log.ErrorContext(ctx, "payment lookup failed", slog.Any("err", err))
		return OutcomeLookupFailed
	}

	log = log.With(slog.String("status", payment.RawStatus))

	token, err := domain.ParseCorrelationToken(payment.CorrelationToken)
	if err != nil {
		log.WarnContext(ctx, "payment without a usable correlation token",
			slog.String("external_reference", payment.CorrelationToken),
		)
		return OutcomeUnknownPayment
	}

	ticket, err := p.tickets.GetByID(ctx, token.TicketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.WarnContext(ctx, "payment references an unknown ticket",
				slog.String("ticket_id", token.TicketID.String()),
			)
			return OutcomeUnknownTicket
		}
		log.ErrorContext(ctx, "ticket lookup failed", slog.Any("err", err))
		return OutcomeError
	}

	log = log.With(
		slog.String("number", ticket.Number),
		slog.String("order_id", token.Order()),
	)

	if ticket.Status == domain.TicketSold {
		if payment.Status.Failed() && ticket.PaymentID == payment.ID {
			log.ErrorContext(ctx, "sold ticket has a failed payment, needs manual reversal")
			return OutcomeAnomaly
		}
		return OutcomeAlreadySold
	}

	switch {
	case payment.Status.Approved():
		return p.approve(ctx, log, ticket.Number, token.Order(), payment.ID)
	case payment.Status.Failed():
		return p.abort(ctx, log, ticket.Number, token.Order(), string(payment.Status))
	default:
		return OutcomeWaiting
	}
}

func (p *Processor) approve(ctx context.Context, log *slog.Logger, number, orderID, paymentID string) Outcome {
	sold, changed, err := p.reservations.Finalize(ctx, number, orderID, paymentID)
	if err != nil {
		return p.classify(ctx, log, err)
	}

	if !changed {
		return OutcomeAlreadySold
	}

	p.notify(ctx, log, *sold)

	return OutcomeSold
}

func (p *Processor) abort(ctx context.Context, log *slog.Logger, number, orderID, reason string) Outcome {
	if _, err := p.reservations.Abort(ctx, number, orderID, reason); err != nil {
		return p.classify(ctx, log, err)
	}

	return OutcomeReleased
}

func (p *Processor) classify(ctx context.Context, log *slog.Logger, err error) Outcome {
	switch {
	case errors.Is(err, reservation.ErrStaleReservation):
		log.WarnContext(ctx, "notification for a superseded reservation")
		return OutcomeStale
	case errors.Is(err, reservation.ErrAnomaly):
		return OutcomeAnomaly
	case errors.Is(err, reservation.ErrTicketNotFound):
		return OutcomeUnknownTicket
	}

	log.ErrorContext(ctx, "state change failed", slog.Any("err", err))
	return OutcomeError
}

// notify sends the buyer confirmation in the background. A failure is logged
// and never undoes the sale.
func (p *Processor) notify(ctx context.Context, log *slog.Logger, t domain.Ticket) {
	if p.notifier == nil {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.notifyTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				metrics.Notification("error")
				log.ErrorContext(nctx, "panic while notifying buyer", slog.Any("panic", r))
			}
		}()

		if err := p.notifier.NotifyBuyerConfirmed(nctx, t); err != nil {
			metrics.Notification("error")
			log.ErrorContext(nctx, "notify buyer", slog.Any("err", err))
			return
		}

		metrics.Notification("sent")
	}()
}

// Wait blocks until background notifications finish or ctx is done.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook.Processor.Wait:%w", ctx.Err())
	}
}
