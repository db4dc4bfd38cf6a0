// Package memory is an in-process ticket store with the same semantics as the
// Postgres one. Every mutation holds the store mutex, so each state
// transition is atomic just like the single conditional UPDATE it mirrors.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/repository"
)

type Option func(*TicketStore)

// WithClock overrides the time source used for reservation and sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *TicketStore) { s.now = now }
}

type TicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*domain.Ticket
	now     func() time.Time
}

func NewTicketStore(opts ...Option) *TicketStore {
	s := &TicketStore{
		tickets: make(map[string]*domain.Ticket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TicketStore) FindAvailable(ctx context.Context, number string) (*domain.Ticket, error) {
	const op = "memory.TicketStore.FindAvailable"

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[number]
	if !ok || t.Status != domain.TicketAvailable {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return clone(t), nil
}

func (s *TicketStore) Get(ctx context.Context, number string) (*domain.Ticket, error) {
	const op = "memory.TicketStore.Get"

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[number]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return clone(t), nil
}

func (s *TicketStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "memory.TicketStore.GetByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tickets {
		if t.ID == id {
			return clone(t), nil
		}
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
}

func (s *TicketStore) GetByOrder(ctx context.Context, orderID string) (*domain.Ticket, error) {
	const op = "memory.TicketStore.GetByOrder"

	s.mu.RLock()
	defer s.mu.RUnlock()

	if orderID != "" {
		for _, t := range s.tickets {
			if t.OrderID == orderID {
				return clone(t), nil
			}
		}
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
}

func (s *TicketStore) Reserve(
	ctx context.Context,
	number string,
	buyer domain.Buyer,
	orderID string,
) (*domain.Ticket, error) {
	const op = "memory.TicketStore.Reserve"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[number]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if t.Status != domain.TicketAvailable {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	now := s.now()
	t.Status = domain.TicketPending
	t.BuyerName = buyer.Name
	t.BuyerEmail = buyer.Email
	t.OrderID = orderID
	t.PaymentID = ""
	t.ReservedAt = &now
	t.UpdatedAt = now

	return clone(t), nil
}

func (s *TicketStore) AttachPayment(ctx context.Context, number, orderID, paymentRef string) error {
	const op = "memory.TicketStore.AttachPayment"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[number]
	if !ok || t.Status != domain.TicketPending || t.OrderID != orderID {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	t.PaymentID = paymentRef
	t.UpdatedAt = s.now()

	return nil
}

func (s *TicketStore) Release(ctx context.Context, number, orderID string) (bool, error) {
	const op = "memory.TicketStore.Release"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[number]
	if !ok {
		return false, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	switch t.Status {
	case domain.TicketAvailable:
		return false, nil
	case domain.TicketSold:
		return false, fmt.Errorf("%s:%w", op, repository.ErrAlreadySold)
	}

	if orderID != "" && t.OrderID != orderID {
		return false, fmt.Errorf("%s:%w", op, repository.ErrStaleOrder)
	}

	s.reset(t)

	return true, nil
}

func (s *TicketStore) ConfirmSold(
	ctx context.Context,
	number, orderID, paymentID string,
) (*domain.Ticket, bool, error) {
	const op = "memory.TicketStore.ConfirmSold"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[number]
	if !ok {
		return nil, false, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	switch t.Status {
	case domain.TicketSold:
		return clone(t), false, nil
	case domain.TicketAvailable:
		return nil, false, fmt.Errorf("%s:%w", op, repository.ErrNotReserved)
	}

	if orderID != "" && t.OrderID != orderID {
		return nil, false, fmt.Errorf("%s:%w", op, repository.ErrStaleOrder)
	}

	now := s.now()
	t.Status = domain.TicketSold
	t.PaymentID = paymentID
	t.SoldAt = &now
	t.UpdatedAt = now

	return clone(t), true, nil
}

func (s *TicketStore) Reverse(ctx context.Context, number, paymentID string) error {
	const op = "memory.TicketStore.Reverse"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[number]
	if !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if t.Status != domain.TicketSold || t.PaymentID != paymentID {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	s.reset(t)

	return nil
}

func (s *TicketStore) ListAll(ctx context.Context) ([]domain.TicketSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TicketSummary, 0, len(s.tickets))
	for _, t := range s.sorted() {
		out = append(out, domain.TicketSummary{Number: t.Number, Status: t.Status})
	}

	return out, nil
}

func (s *TicketStore) ListByStatus(
	ctx context.Context,
	status domain.TicketStatus,
	limit, offset int,
) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Ticket
	skipped := 0
	for _, t := range s.sorted() {
		if t.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *clone(t))
	}

	return out, nil
}

func (s *TicketStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.Status == domain.TicketPending && t.ReservedAt != nil && !t.ReservedAt.After(before) {
			out = append(out, *clone(t))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ReservedAt.Before(*out[j].ReservedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *TicketStore) CountByStatus(ctx context.Context, status domain.TicketStatus) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, t := range s.tickets {
		if t.Status == status {
			n++
		}
	}

	return n, nil
}

func (s *TicketStore) Counts(ctx context.Context) (*domain.TicketCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.TicketCounts
	for _, t := range s.tickets {
		switch t.Status {
		case domain.TicketAvailable:
			c.Available++
		case domain.TicketPending:
			c.Pending++
		case domain.TicketSold:
			c.Sold++
		}
	}
	c.Total = c.Available + c.Pending + c.Sold

	return &c, nil
}

// Reseed replaces the whole pool with available tickets.
func (s *TicketStore) Reseed(ctx context.Context, numbers []string) (int64, error) {
	const op = "memory.TicketStore.Reseed"

	fresh := make(map[string]*domain.Ticket, len(numbers))
	now := s.now()
	for _, n := range numbers {
		if _, dup := fresh[n]; dup {
			return 0, fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
		fresh[n] = &domain.Ticket{
			ID:        uuid.New(),
			Number:    n,
			Status:    domain.TicketAvailable,
			UpdatedAt: now,
		}
	}

	s.mu.Lock()
	s.tickets = fresh
	s.mu.Unlock()

	return int64(len(fresh)), nil
}

func (s *TicketStore) reset(t *domain.Ticket) {
	t.Status = domain.TicketAvailable
	t.BuyerName = ""
	t.BuyerEmail = ""
	t.PaymentID = ""
	t.OrderID = ""
	t.ReservedAt = nil
	t.SoldAt = nil
	t.UpdatedAt = s.now()
}

func (s *TicketStore) sorted() []*domain.Ticket {
	out := make([]*domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func clone(t *domain.Ticket) *domain.Ticket {
	cp := *t
	if t.ReservedAt != nil {
		v := *t.ReservedAt
		cp.ReservedAt = &v
	}
	if t.SoldAt != nil {
		v := *t.SoldAt
		cp.SoldAt = &v
	}
	return &cp
}
