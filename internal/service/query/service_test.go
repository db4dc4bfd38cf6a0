package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/repository/memory"
	redisrepo "github.com/kirinyoku/raffle-go/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *memory.TicketStore {
	t.Helper()

	ctx := context.Background()
	s := memory.NewTicketStore()
	_, err := s.Reseed(ctx, []string{"0000", "0001", "0002", "0003"})
	require.NoError(t, err)

	buyer := domain.Buyer{Name: "Alice", Email: "alice@example.com"}
	_, err = s.Reserve(ctx, "0001", buyer, "o1")
	require.NoError(t, err)
	_, _, err = s.ConfirmSold(ctx, "0001", "o1", "pay-1")
	require.NoError(t, err)
	_, err = s.Reserve(ctx, "0002", buyer, "o2")
	require.NoError(t, err)

	return s
}

func TestBoard(t *testing.T) {
	svc := New(seededStore(t), nil, Config{})

	b, err := svc.Board(context.Background())
	require.NoError(t, err)
	assert.Len(t, b.Tickets, 4)
	assert.EqualValues(t, 1, b.SoldCount)
	assert.EqualValues(t, 4, b.TotalCount)
	assert.InDelta(t, 25.0, b.Progress, 0.0001)

	raw, err := json.Marshal(b.Tickets[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":"0001","status":"sold"}`, string(raw))
}

func TestBoard_Empty(t *testing.T) {
	svc := New(memory.NewTicketStore(), nil, Config{})

	b, err := svc.Board(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b.Tickets)
	assert.Zero(t, b.Progress)
}

func TestBoard_ServedFromCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := redisrepo.NewCache(db)

	mock.ExpectGet(redisrepo.KeyBoard()).SetVal(`{"tickets":[],"soldCount":3,"totalCount":10,"progress":30}`)

	svc := New(memory.NewTicketStore(), cache, Config{})

	b, err := svc.Board(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.SoldCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBoard_FillsCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := redisrepo.NewCache(db)
	store := memory.NewTicketStore()
	_, err := store.Reseed(context.Background(), []string{"0000"})
	require.NoError(t, err)

	mock.ExpectGet(redisrepo.KeyBoard()).RedisNil()
	mock.ExpectGet(redisrepo.KeyBoard()).RedisNil()
	mock.ExpectSet(redisrepo.KeyBoard(),
		`{"tickets":[{"number":"0000","status":"available"}],"soldCount":0,"totalCount":1,"progress":0}`,
		time.Second,
	).SetVal("OK")

	svc := New(store, cache, Config{BoardTTL: time.Second})

	b, err := svc.Board(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.TotalCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStatus(t *testing.T) {
	svc := New(seededStore(t), nil, Config{})

	s, err := svc.TicketStatus(context.Background(), "0002")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPending, s.Status)

	_, err = svc.TicketStatus(context.Background(), "9999")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTickets(t *testing.T) {
	svc := New(seededStore(t), nil, Config{MaxPage: 2})

	sold, err := svc.Tickets(context.Background(), domain.TicketSold, 0, 0)
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, "alice@example.com", sold[0].BuyerEmail)

	avail, err := svc.Tickets(context.Background(), domain.TicketAvailable, 50, 0)
	require.NoError(t, err)
	assert.Len(t, avail, 2)

	_, err = svc.Tickets(context.Background(), "bogus", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCounts(t *testing.T) {
	svc := New(seededStore(t), nil, Config{})

	c, err := svc.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCounts{Available: 2, Pending: 1, Sold: 1, Total: 4}, *c)
}
