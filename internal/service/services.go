package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kirinyoku/raffle-go/internal/domain"
	redisrepo "github.com/kirinyoku/raffle-go/internal/repository/redis"
	"github.com/kirinyoku/raffle-go/internal/service/admin"
	"github.com/kirinyoku/raffle-go/internal/service/orders"
	"github.com/kirinyoku/raffle-go/internal/service/query"
	"github.com/kirinyoku/raffle-go/internal/service/reservation"
	"github.com/kirinyoku/raffle-go/internal/service/webhook"
)

// TicketStore is everything the services need from a ticket store. Both the
// Postgres and the in-memory store satisfy it.
type TicketStore interface {
	reservation.TicketStore
	query.TicketReader
	orders.OrderFinder
	admin.Pool
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
}

type PaymentGateway interface {
	reservation.PaymentGateway
	webhook.PaymentGateway
}

type Services struct {
	Reservation *reservation.Service
	Webhook     *webhook.Processor
	Query       *query.Service
	Admin       *admin.Service
	Orders      *orders.Service
}

type Config struct {
	Reservation reservation.Config
	Query       query.Config
}

// Deps carries the collaborators. Optional ones are left nil when the
// backing infrastructure is not configured.
type Deps struct {
	Store   TicketStore
	Gateway PaymentGateway
	Raffle  domain.Raffle
	Log     *slog.Logger

	Cache    *redisrepo.Cache
	PubSub   *redisrepo.TicketsPubSub
	Limiter  reservation.Limiter
	Locker   webhook.Locker
	Verifier webhook.Verifier
	Notifier webhook.Notifier

	// Broadcast pushes changes to in-process subscribers when there is no
	// pubsub to fan them out.
	Broadcast func(ctx context.Context, number string, status domain.TicketStatus)
}

func NewServices(d Deps, cfg Config) *Services {
	resOpts := []reservation.Option{
		reservation.WithChangeHook(changeHook(d.Cache, d.PubSub, d.Broadcast, d.Log)),
	}
	if d.Limiter != nil {
		resOpts = append(resOpts, reservation.WithLimiter(d.Limiter))
	}

	res := reservation.New(d.Store, d.Gateway, d.Log, cfg.Reservation, resOpts...)

	var whOpts []webhook.Option
	if d.Locker != nil {
		whOpts = append(whOpts, webhook.WithLocker(d.Locker))
	}
	if d.Verifier != nil {
		whOpts = append(whOpts, webhook.WithVerifier(d.Verifier))
	}
	if d.Notifier != nil {
		whOpts = append(whOpts, webhook.WithNotifier(d.Notifier))
	}

	var inv admin.Invalidator
	if d.Cache != nil {
		inv = d.Cache
	}

	return &Services{
		Reservation: res,
		Webhook:     webhook.New(d.Gateway, d.Store, res, d.Log, whOpts...),
		Query:       query.New(d.Store, d.Cache, cfg.Query),
		Admin:       admin.New(d.Store, inv, d.Raffle, d.Log),
		Orders:      orders.New(d.Store),
	}
}

// changeHook keeps the read cache and live subscribers in step with the
// store. Failures are logged; the store stays authoritative.
func changeHook(
	cache *redisrepo.Cache,
	pubsub *redisrepo.TicketsPubSub,
	broadcast func(context.Context, string, domain.TicketStatus),
	log *slog.Logger,
) reservation.ChangeHook {
	return func(ctx context.Context, number string, status domain.TicketStatus) {
		if cache != nil {
			if err := cache.InvalidateTicket(ctx, number); err != nil {
				log.WarnContext(ctx, "invalidate ticket cache",
					slog.String("number", number),
					slog.Any("err", err),
				)
			}
		}

		if pubsub != nil {
			if err := pubsub.PublishTicketChanged(ctx, number, status); err != nil {
				log.WarnContext(ctx, "publish ticket change",
					slog.String("number", number),
					slog.Any("err", err),
				)
			}
		} else if broadcast != nil {
			broadcast(ctx, number, status)
		}
	}
}
