package admin

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidatePool(context.Context) error {
	c.calls++
	return nil
}

func newService(t *testing.T) (*Service, *memory.TicketStore, *countingInvalidator) {
	t.Helper()

	store := memory.NewTicketStore()
	inv := &countingInvalidator{}
	raffle := domain.Raffle{PoolSize: 10000, NumberWidth: 4}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(store, inv, raffle, log), store, inv
}

func TestSeed_Defaults(t *testing.T) {
	svc, store, inv := newService(t)
	ctx := context.Background()

	n, err := svc.Seed(ctx, SeedRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 10000, n)
	assert.Equal(t, 1, inv.calls)

	first, err := store.Get(ctx, "0000")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAvailable, first.Status)

	_, err = store.Get(ctx, "9999")
	require.NoError(t, err)
}

func TestSeed_RefusesWhenInUse(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Seed(ctx, SeedRequest{PoolSize: 10, Width: 2})
	require.NoError(t, err)

	_, err = store.Reserve(ctx, "05", domain.Buyer{Name: "A", Email: "a@b.c"}, "o1")
	require.NoError(t, err)

	_, err = svc.Seed(ctx, SeedRequest{PoolSize: 10, Width: 2})
	assert.ErrorIs(t, err, ErrPoolInUse)

	n, err := svc.Seed(ctx, SeedRequest{PoolSize: 10, Width: 2, Force: true})
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	tk, err := store.Get(ctx, "05")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAvailable, tk.Status)
}

func TestSeed_InvalidPool(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Seed(context.Background(), SeedRequest{PoolSize: 101, Width: 2})
	assert.ErrorIs(t, err, ErrInvalidPool)
}
