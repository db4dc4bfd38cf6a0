package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/metrics"
	"github.com/kirinyoku/raffle-go/internal/repository"
	redisrepo "github.com/kirinyoku/raffle-go/internal/repository/redis"
)

type TicketReader interface {
	Get(ctx context.Context, number string) (*domain.Ticket, error)
	ListAll(ctx context.Context) ([]domain.TicketSummary, error)
	ListByStatus(ctx context.Context, status domain.TicketStatus, limit, offset int) ([]domain.Ticket, error)
	Counts(ctx context.Context) (*domain.TicketCounts, error)
}

type Config struct {
	BoardTTL        time.Duration
	TicketStatusTTL time.Duration
	DefaultPage     int
	MaxPage         int
}

type Service struct {
	store TicketReader
	cache *redisrepo.Cache
	cfg   Config
}

// New builds the read side. cache may be nil, in which case every call hits the store.
func New(store TicketReader, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.BoardTTL <= 0 {
		cfg.BoardTTL = 5 * time.Second
	}

	if cfg.TicketStatusTTL <= 0 {
		cfg.TicketStatusTTL = 5 * time.Second
	}

	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 100
	}

	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 1000
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// Board returns the public view of the pool: every number with its status and
// the sale progress. It never carries buyer data.
//
// Parameters:
//   - ctx: request-scoped context.
//
// Returns:
//   - *domain.Board: tickets, sold and total counts and progress in percent.
func (s *Service) Board(ctx context.Context) (*domain.Board, error) {
	const op = "service.query.Board"

	board, err := cached(ctx, s.cache, redisrepo.KeyBoard(), s.cfg.BoardTTL, s.loadBoard)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &board, nil
}

func (s *Service) loadBoard(ctx context.Context) (domain.Board, error) {
	tickets, err := s.store.ListAll(ctx)
	if err != nil {
		return domain.Board{}, err
	}

	var sold int64
	for _, t := range tickets {
		if t.Status == domain.TicketSold {
			sold++
		}
	}

	total := int64(len(tickets))

	var progress float64
	if total > 0 {
		progress = float64(sold) / float64(total) * 100
	}

	if tickets == nil {
		tickets = []domain.TicketSummary{}
	}

	return domain.Board{
		Tickets:    tickets,
		SoldCount:  sold,
		TotalCount: total,
		Progress:   progress,
	}, nil
}

// TicketStatus returns the public status of a single number.
//
// Returns:
//   - error: query.ErrTicketNotFound if the number does not exist.
func (s *Service) TicketStatus(ctx context.Context, number string) (*domain.TicketSummary, error) {
	const op = "service.query.TicketStatus"

	summary, err := cached(ctx, s.cache, redisrepo.KeyTicketStatus(number), s.cfg.TicketStatusTTL,
		func(ctx context.Context) (domain.TicketSummary, error) {
			t, err := s.store.Get(ctx, number)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.TicketSummary{}, ErrTicketNotFound
				}
				return domain.TicketSummary{}, err
			}

			return domain.TicketSummary{Number: t.Number, Status: t.Status}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &summary, nil
}

// Tickets lists full ticket records, buyer data included, for operators.
func (s *Service) Tickets(
	ctx context.Context,
	status domain.TicketStatus,
	limit, offset int,
) ([]domain.Ticket, error) {
	const op = "service.query.Tickets"

	if !status.Valid() {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidStatus)
	}

	if limit <= 0 {
		limit = s.cfg.DefaultPage
	}

	if limit > s.cfg.MaxPage {
		limit = s.cfg.MaxPage
	}

	if offset < 0 {
		offset = 0
	}

	tickets, err := s.store.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return tickets, nil
}

// Counts returns the pool breakdown by status and refreshes the ticket gauges.
func (s *Service) Counts(ctx context.Context) (*domain.TicketCounts, error) {
	const op = "service.query.Counts"

	c, err := s.store.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	metrics.ObserveCounts(*c)

	return c, nil
}

func cached[T any](
	ctx context.Context,
	c *redisrepo.Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	if c == nil {
		return loader(ctx)
	}

	return redisrepo.GetOrSetJSON(ctx, c, key, ttl, loader)
}
