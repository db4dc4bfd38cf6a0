package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrderStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTicketStore()
	_, err := store.Reseed(ctx, []string{"0001"})
	require.NoError(t, err)

	orderID := uuid.NewString()
	_, err = store.Reserve(ctx, "0001", domain.Buyer{Name: "A", Email: "a@b.c"}, orderID)
	require.NoError(t, err)

	svc := New(store)

	st, err := svc.GetOrderStatus(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatus{OrderID: orderID, Number: "0001", Status: domain.TicketPending}, *st)

	_, err = svc.GetOrderStatus(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = svc.GetOrderStatus(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
