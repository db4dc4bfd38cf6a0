package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/repository"
)

type OrderFinder interface {
	GetByOrder(ctx context.Context, orderID string) (*domain.Ticket, error)
}

type Service struct {
	store OrderFinder
}

func New(store OrderFinder) *Service {
	return &Service{store: store}
}

// GetOrderStatus tells a buyer where their reservation stands. Once a
// reservation is released its order id is forgotten and the order reads as
// not found.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: order id returned by the purchase call.
//
// Returns:
//   - *domain.OrderStatus: ticket number and status, without buyer data.
//   - error: orders.ErrOrderNotFound if no ticket carries the order id.
func (s *Service) GetOrderStatus(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	const op = "service.orders.GetOrderStatus"

	if _, err := uuid.Parse(orderID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
	}

	t, err := s.store.GetByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &domain.OrderStatus{
		OrderID: orderID,
		Number:  t.Number,
		Status:  t.Status,
	}, nil
}
