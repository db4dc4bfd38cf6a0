package admin

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/kirinyoku/raffle-go/internal/domain"
)

type Pool interface {
	Reseed(ctx context.Context, numbers []string) (int64, error)
	Counts(ctx context.Context) (*domain.TicketCounts, error)
}

// Invalidator drops whatever read caches sit in front of the pool.
type Invalidator interface {
	InvalidatePool(ctx context.Context) error
}

type Service struct {
	pool   Pool
	cache  Invalidator
	raffle domain.Raffle
	log    *slog.Logger
}

// New builds the admin service. cache may be nil.
func New(pool Pool, cache Invalidator, raffle domain.Raffle, log *slog.Logger) *Service {
	return &Service{
		pool:   pool,
		cache:  cache,
		raffle: raffle,
		log:    log.With(slog.String("component", "admin")),
	}
}

type SeedRequest struct {
	// PoolSize and Width default to the configured raffle when zero.
	PoolSize int
	Width    int

	// Force wipes the pool even if tickets are pending or sold.
	Force bool
}

// Seed wipes the ticket pool and recreates every number as available.
//
// Parameters:
//   - ctx: request-scoped context.
//   - req: pool shape and the force flag.
//
// Returns:
//   - int64: number of tickets created.
//   - error: admin.ErrPoolInUse if tickets are pending or sold and Force is not set.
//   - error: admin.ErrInvalidPool if the pool does not fit in the number width.
func (s *Service) Seed(ctx context.Context, req SeedRequest) (int64, error) {
	const op = "service.admin.Seed"

	r := s.raffle
	if req.PoolSize > 0 {
		r.PoolSize = req.PoolSize
	}
	if req.Width > 0 {
		r.NumberWidth = req.Width
	}

	if r.PoolSize <= 0 || r.NumberWidth <= 0 || r.NumberWidth > 9 ||
		float64(r.PoolSize) > math.Pow10(r.NumberWidth) {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidPool)
	}

	if !req.Force {
		c, err := s.pool.Counts(ctx)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, err)
		}
		if c.Pending > 0 || c.Sold > 0 {
			return 0, fmt.Errorf("%s:%w", op, ErrPoolInUse)
		}
	}

	n, err := s.pool.Reseed(ctx, r.Numbers())
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidatePool(ctx); err != nil {
			s.log.WarnContext(ctx, "invalidate read caches after seed", slog.Any("err", err))
		}
	}

	s.log.InfoContext(ctx, "ticket pool seeded",
		slog.Int64("tickets", n),
		slog.Int("width", r.NumberWidth),
		slog.Bool("force", req.Force),
	)

	return n, nil
}
