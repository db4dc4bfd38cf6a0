package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/metrics"
	"github.com/kirinyoku/raffle-go/internal/repository"
)

// TicketStore is the subset of the ticket store the reservation flow mutates.
type TicketStore interface {
	Reserve(ctx context.Context, number string, buyer domain.Buyer, orderID string) (*domain.Ticket, error)
	AttachPayment(ctx context.Context, number, orderID, paymentRef string) error
	Release(ctx context.Context, number, orderID string) (bool, error)
	ConfirmSold(ctx context.Context, number, orderID, paymentID string) (*domain.Ticket, bool, error)
	Reverse(ctx context.Context, number, paymentID string) error
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Ticket, error)
}

type PaymentGateway interface {
	CreatePaymentRequest(ctx context.Context, ticket domain.Ticket, buyer domain.Buyer) (*domain.PaymentRequest, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

// ChangeHook is called after every committed status change of a ticket.
type ChangeHook func(ctx context.Context, number string, status domain.TicketStatus)

type Config struct {
	// PendingTTL is how long a reservation may stay pending before the sweep releases it.
	PendingTTL time.Duration

	// SweepBatch caps the tickets released by a single sweep.
	SweepBatch int

	// ReleaseTimeout bounds the compensating release after a gateway failure.
	ReleaseTimeout time.Duration
}

type Option func(*Service)

func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithChangeHook(h ChangeHook) Option {
	return func(s *Service) { s.onChange = h }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store    TicketStore
	gateway  PaymentGateway
	limiter  Limiter
	onChange ChangeHook
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
}

func New(store TicketStore, gateway PaymentGateway, log *slog.Logger, cfg Config, opts ...Option) *Service {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}

	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 500
	}

	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}

	s := &Service{
		store:   store,
		gateway: gateway,
		log:     log.With(slog.String("component", "reservation")),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

type PurchaseRequest struct {
	Number string
	Name   string
	Email  string

	// RateKey identifies the client for rate limiting. Empty disables the check.
	RateKey string
}

// BeginPurchase reserves a ticket for the buyer and creates the payment
// request the buyer is redirected to.
//
// Parameters:
//   - ctx: request-scoped context.
//   - req: ticket number and buyer identity.
//
// Returns:
//   - *domain.PaymentIntent: order id and checkout link.
//   - error: *ValidationError if a field is missing.
//   - error: *RateLimitedError if the client exceeded its purchase rate.
//   - error: reservation.ErrTicketUnavailable if the ticket is not available.
//   - error: reservation.ErrTicketNotFound if the number does not exist.
//   - error: *GatewayError if the payment request could not be created; the ticket is released.
func (s *Service) BeginPurchase(ctx context.Context, req PurchaseRequest) (*domain.PaymentIntent, error) {
	const op = "service.reservation.BeginPurchase"

	number := strings.TrimSpace(req.Number)
	buyer := domain.Buyer{
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
	}

	buyer, err := validate(number, buyer)
	if err != nil {
		metrics.Purchase("invalid")
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if s.limiter != nil && req.RateKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, req.RateKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			metrics.Purchase("rate_limited")
			return nil, fmt.Errorf("%s:%w", op, &RateLimitedError{RetryAfter: retry})
		}
	}

	orderID := uuid.NewString()

	ticket, err := s.store.Reserve(ctx, number, buyer, orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			metrics.Purchase("unavailable")
			return nil, fmt.Errorf("%s:%w", op, ErrTicketUnavailable)
		case errors.Is(err, repository.ErrNotFound):
			metrics.Purchase("not_found")
			return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.changed(ctx, number, domain.TicketPending)

	payment, err := s.gateway.CreatePaymentRequest(ctx, *ticket, buyer)
	if err != nil {
		s.releaseAfterGatewayFailure(ctx, number, orderID, err)
		metrics.Purchase("gateway_error")
		return nil, fmt.Errorf("%s:%w", op, &GatewayError{Err: err})
	}

	if err := s.store.AttachPayment(ctx, number, orderID, payment.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.Purchase("unavailable")
			return nil, fmt.Errorf("%s:%w", op, ErrTicketUnavailable)
		}
		// the checkout link is still valid; the payment id arrives with the webhook
		s.log.ErrorContext(ctx, "attach payment reference",
			slog.String("number", number),
			slog.String("order_id", orderID),
			slog.Any("err", err),
		)
	}

	metrics.Purchase("started")

	return &domain.PaymentIntent{
		Number:     number,
		OrderID:    orderID,
		PaymentRef: payment.ID,
		PaymentURL: payment.PaymentURL,
	}, nil
}

// releaseAfterGatewayFailure runs on a context detached from the caller so a
// client disconnect cannot leave the ticket pending.
func (s *Service) releaseAfterGatewayFailure(ctx context.Context, number, orderID string, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ReleaseTimeout)
	defer cancel()

	released, err := s.store.Release(rctx, number, orderID)
	if err != nil {
		s.log.ErrorContext(rctx, "release after gateway failure",
			slog.String("number", number),
			slog.String("order_id", orderID),
			slog.Any("cause", cause),
			slog.Any("err", err),
		)
		return
	}

	s.log.WarnContext(rctx, "payment request failed, ticket released",
		slog.String("number", number),
		slog.String("order_id", orderID),
		slog.Any("cause", cause),
	)

	if released {
		metrics.Released("gateway_error")
		s.changed(rctx, number, domain.TicketAvailable)
	}
}

// Finalize marks a pending ticket as sold.
//
// Returns:
//   - *domain.Ticket: the sold ticket.
//   - bool: true only for the call that performed the transition.
//   - error: reservation.ErrStaleReservation if the ticket is pending for another order.
//   - error: reservation.ErrAnomaly if the ticket is not reserved at all.
//   - error: reservation.ErrTicketNotFound if the number does not exist.
func (s *Service) Finalize(ctx context.Context, number, orderID, paymentID string) (*domain.Ticket, bool, error) {
	const op = "service.reservation.Finalize"

	t, changed, err := s.store.ConfirmSold(ctx, number, orderID, paymentID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleOrder):
			return nil, false, fmt.Errorf("%s:%w", op, ErrStaleReservation)
		case errors.Is(err, repository.ErrNotReserved):
			s.log.ErrorContext(ctx, "approved payment for a ticket that is not reserved",
				slog.String("number", number),
				slog.String("order_id", orderID),
				slog.String("payment_id", paymentID),
			)
			return nil, false, fmt.Errorf("%s:%w", op, ErrAnomaly)
		case errors.Is(err, repository.ErrNotFound):
			return nil, false, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		}
		return nil, false, fmt.Errorf("%s:%w", op, err)
	}

	if changed {
		s.changed(ctx, number, domain.TicketSold)
	}

	return t, changed, nil
}

// Abort returns a pending ticket to the pool. Aborting an available ticket is a no-op.
//
// Returns:
//   - bool: true if the ticket was released by this call.
//   - error: reservation.ErrAnomaly if the ticket is already sold; it stays sold.
//   - error: reservation.ErrStaleReservation if the ticket is pending for another order.
//   - error: reservation.ErrTicketNotFound if the number does not exist.
func (s *Service) Abort(ctx context.Context, number, orderID, reason string) (bool, error) {
	const op = "service.reservation.Abort"

	released, err := s.store.Release(ctx, number, orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadySold):
			s.log.ErrorContext(ctx, "abort requested for a sold ticket",
				slog.String("number", number),
				slog.String("order_id", orderID),
				slog.String("reason", reason),
			)
			return false, fmt.Errorf("%s:%w", op, ErrAnomaly)
		case errors.Is(err, repository.ErrStaleOrder):
			return false, fmt.Errorf("%s:%w", op, ErrStaleReservation)
		case errors.Is(err, repository.ErrNotFound):
			return false, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		}
		return false, fmt.Errorf("%s:%w", op, err)
	}

	if released {
		metrics.Released(reason)
		s.changed(ctx, number, domain.TicketAvailable)
	}

	return released, nil
}

// Reverse puts a sold ticket back in the pool after its payment was refunded
// or charged back. Only an operator triggers it.
func (s *Service) Reverse(ctx context.Context, number, paymentID string) error {
	const op = "service.reservation.Reverse"

	if strings.TrimSpace(paymentID) == "" {
		return fmt.Errorf("%s:%w", op, &ValidationError{Fields: []string{"payment_id"}})
	}

	if err := s.store.Reverse(ctx, number, paymentID); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return fmt.Errorf("%s:%w", op, ErrNotSold)
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	s.log.WarnContext(ctx, "sale reversed",
		slog.String("number", number),
		slog.String("payment_id", paymentID),
	)
	metrics.Released("reversed")
	s.changed(ctx, number, domain.TicketAvailable)

	return nil
}

// SweepStale releases reservations that stayed pending longer than PendingTTL.
//
// Returns:
//   - int: number of tickets released.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	const op = "service.reservation.SweepStale"

	cutoff := s.now().Add(-s.cfg.PendingTTL)

	stale, err := s.store.ListStalePending(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	released := 0
	for _, t := range stale {
		ok, err := s.store.Release(ctx, t.Number, t.OrderID)
		if err != nil {
			// sold or re-reserved since the listing
			if errors.Is(err, repository.ErrAlreadySold) || errors.Is(err, repository.ErrStaleOrder) {
				continue
			}
			return released, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			continue
		}

		released++
		metrics.Released("expired")
		s.changed(ctx, t.Number, domain.TicketAvailable)
	}

	if released > 0 {
		s.log.InfoContext(ctx, "released stale reservations",
			slog.Int("count", released),
			slog.Time("cutoff", cutoff),
		)
	}

	return released, nil
}

func (s *Service) changed(ctx context.Context, number string, status domain.TicketStatus) {
	if s.onChange != nil {
		s.onChange(ctx, number, status)
	}
}

// validate checks the purchase fields and returns buyer with the email
// reduced to its bare address, so "Ana <ana@example.com>" is stored as
// ana@example.com.
func validate(number string, buyer domain.Buyer) (domain.Buyer, error) {
	var fields []string

	if number == "" {
		fields = append(fields, "number")
	}
	if buyer.Name == "" {
		fields = append(fields, "name")
	}
	if buyer.Email == "" {
		fields = append(fields, "email")
	} else if addr, err := mail.ParseAddress(buyer.Email); err != nil {
		fields = append(fields, "email")
	} else {
		buyer.Email = addr.Address
	}

	if len(fields) > 0 {
		return buyer, &ValidationError{Fields: fields}
	}

	return buyer, nil
}
