package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/repository/memory"
	"github.com/kirinyoku/raffle-go/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentRequest(ctx context.Context, ticket domain.Ticket, buyer domain.Buyer) (*domain.PaymentRequest, error) {
	args := m.Called(ctx, ticket.Number)
	if p, ok := args.Get(0).(*domain.PaymentRequest); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) GetPaymentDetails(ctx context.Context, paymentID string) (*domain.PaymentDetails, error) {
	args := m.Called(ctx, paymentID)
	if p, ok := args.Get(0).(*domain.PaymentDetails); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

type testAPI struct {
	store   *memory.TicketStore
	gateway *MockGateway
	router  *gin.Engine
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewTicketStore()
	_, err := store.Reseed(context.Background(), []string{"0000", "0001", "0002"})
	require.NoError(t, err)

	gw := new(MockGateway)
	svcs := service.NewServices(service.Deps{
		Store:   store,
		Gateway: gw,
		Raffle: domain.Raffle{
			Title:       "Test",
			Currency:    "ARS",
			PoolSize:    3,
			NumberWidth: 4,
		},
		Log: log,
	}, service.Config{})

	return &testAPI{
		store:   store,
		gateway: gw,
		router:  NewRouter(svcs, opts, log),
	}
}

func (a *testAPI) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) checkoutOK(number string) {
	a.gateway.On("CreatePaymentRequest", mock.Anything, number).
		Return(&domain.PaymentRequest{ID: "pref-" + number, PaymentURL: "https://pay/" + number}, nil).
		Once()
}

func TestBoard_ETag(t *testing.T) {
	api := newTestAPI(t, Options{})

	w := api.do(http.MethodGet, "/raffle/tickets", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var b domain.Board
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Len(t, b.Tickets, 3)
	assert.EqualValues(t, 3, b.TotalCount)
	assert.Zero(t, b.Progress)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = api.do(http.MethodGet, "/raffle/tickets", nil, http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestTicketStatus(t *testing.T) {
	api := newTestAPI(t, Options{})

	w := api.do(http.MethodGet, "/raffle/tickets/0001", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"number":"0001","status":"available"}`, w.Body.String())

	w = api.do(http.MethodGet, "/raffle/tickets/9999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuy(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.checkoutOK("0001")

	w := api.do(http.MethodPost, "/raffle/buy", BuyRequest{Number: "0001", Name: "Ana", Email: "ana@example.com"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp BuyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay/0001", resp.PaymentURL)
	assert.Equal(t, "0001", resp.Number)
	assert.NotEmpty(t, resp.OrderID)

	// second buyer loses
	w = api.do(http.MethodPost, "/raffle/buy", BuyRequest{Number: "0001", Name: "Bea", Email: "bea@example.com"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodGet, "/raffle/orders/"+resp.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	api.gateway.AssertExpectations(t)
}

func TestBuy_BadInput(t *testing.T) {
	api := newTestAPI(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/raffle/buy", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/raffle/buy", BuyRequest{Number: "0001", Name: "Ana", Email: "not-an-email"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.gateway.AssertNotCalled(t, "CreatePaymentRequest", mock.Anything, mock.Anything)
}

func TestBuy_GatewayFailureReleases(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.gateway.On("CreatePaymentRequest", mock.Anything, "0002").
		Return(nil, errors.New("gateway down")).Once()

	w := api.do(http.MethodPost, "/raffle/buy", BuyRequest{Number: "0002", Name: "Ana", Email: "ana@example.com"}, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	tk, err := api.store.Get(context.Background(), "0002")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAvailable, tk.Status)
}

func TestWebhook_ApprovedSells(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.checkoutOK("0000")

	w := api.do(http.MethodPost, "/raffle/buy", BuyRequest{Number: "0000", Name: "Ana", Email: "ana@example.com"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	tk, err := api.store.Get(context.Background(), "0000")
	require.NoError(t, err)

	api.gateway.On("GetPaymentDetails", mock.Anything, "555").Return(&domain.PaymentDetails{
		ID:               "555",
		Status:           domain.PaymentApproved,
		CorrelationToken: domain.TokenFor(*tk).String(),
	}, nil)

	w = api.do(http.MethodPost, "/raffle/webhook", map[string]any{
		"type": "payment",
		"data": map[string]any{"id": 555},
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	tk, err = api.store.Get(context.Background(), "0000")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketSold, tk.Status)
	assert.Equal(t, "555", tk.PaymentID)
}

func TestWebhook_AlwaysOK(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.gateway.On("GetPaymentDetails", mock.Anything, "777").Return(nil, errors.New("boom"))

	w := api.do(http.MethodPost, "/raffle/webhook?data.id=777&type=payment", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, "/raffle/webhook", map[string]any{"type": "merchant_order"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOrder_NotFound(t *testing.T) {
	api := newTestAPI(t, Options{})

	w := api.do(http.MethodGet, "/raffle/orders/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin(t *testing.T) {
	t.Run("disabled without accounts", func(t *testing.T) {
		api := newTestAPI(t, Options{})
		w := api.do(http.MethodGet, "/admin/raffle/counts", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	api := newTestAPI(t, Options{AdminAccounts: gin.Accounts{"root": "pw"}})

	t.Run("requires auth", func(t *testing.T) {
		w := api.do(http.MethodGet, "/admin/raffle/counts", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	auth := func() http.Header {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.SetBasicAuth("root", "pw")
		return req.Header
	}

	t.Run("counts", func(t *testing.T) {
		w := api.do(http.MethodGet, "/admin/raffle/counts", nil, auth())
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"available":3,"pending":0,"sold":0,"total":3}`, w.Body.String())
	})

	t.Run("invalid status", func(t *testing.T) {
		w := api.do(http.MethodGet, "/admin/raffle/tickets?status=lost", nil, auth())
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reverse unsold", func(t *testing.T) {
		w := api.do(http.MethodPost, "/admin/raffle/tickets/0001/reverse", ReverseRequest{PaymentID: "1"}, auth())
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("sweep", func(t *testing.T) {
		w := api.do(http.MethodPost, "/admin/raffle/sweep", nil, auth())
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"released":0}`, w.Body.String())
	})

	t.Run("seed refuses pool in use", func(t *testing.T) {
		api.checkoutOK("0002")
		w := api.do(http.MethodPost, "/raffle/buy", BuyRequest{Number: "0002", Name: "Ana", Email: "ana@example.com"}, nil)
		require.Equal(t, http.StatusCreated, w.Code)

		w = api.do(http.MethodPost, "/admin/raffle/seed", SeedRequest{PoolSize: 10, Width: 2}, auth())
		assert.Equal(t, http.StatusConflict, w.Code)

		w = api.do(http.MethodPost, "/admin/raffle/seed", SeedRequest{PoolSize: 10, Width: 2, Force: true}, auth())
		require.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"created":10}`, w.Body.String())
	})
}

func TestHub(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(domain.TicketSummary{Number: "0001", Status: domain.TicketSold})
	assert.Equal(t, domain.TicketSummary{Number: "0001", Status: domain.TicketSold}, <-ch)

	unsubscribe()
	unsubscribe()
	assert.Zero(t, h.Subscribers())
}

func TestEtagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"a", W/"b"`, `W/"b"`))
	assert.True(t, etagMatches(`*`, `"x"`))
	assert.False(t, etagMatches(``, `"x"`))
	assert.False(t, etagMatches(`"a"`, `"b"`))
}
