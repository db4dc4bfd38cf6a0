package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRaffle = domain.Raffle{
	Title:       "Alarma Moto",
	Description: "Rifa de una alarma para moto",
	UnitPrice:   decimal.NewFromInt(1500),
	Currency:    "ARS",
	PoolSize:    10000,
	NumberWidth: 4,
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()

	if cfg.AccessToken == "" {
		cfg.AccessToken = "test-token"
	}

	c, err := NewClient(cfg, testRaffle)
	require.NoError(t, err)

	return c
}

func TestCreatePaymentRequest(t *testing.T) {
	ticket := domain.Ticket{
		ID:      uuid.New(),
		Number:  "0042",
		Status:  domain.TicketPending,
		OrderID: uuid.NewString(),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, ticket.OrderID, r.Header.Get("X-Idempotency-Key"))

		var body struct {
			Items []struct {
				Title      string  `json:"title"`
				Quantity   int     `json:"quantity"`
				UnitPrice  float64 `json:"unit_price"`
				CurrencyID string  `json:"currency_id"`
			} `json:"items"`
			Payer struct {
				Email string `json:"email"`
			} `json:"payer"`
			BackURLs struct {
				Success string `json:"success"`
			} `json:"back_urls"`
			NotificationURL   string `json:"notification_url"`
			ExternalReference string `json:"external_reference"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.Equal(t, "Alarma Moto - Número 0042", body.Items[0].Title)
		assert.Equal(t, 1, body.Items[0].Quantity)
		assert.Equal(t, 1500.0, body.Items[0].UnitPrice)
		assert.Equal(t, "ARS", body.Items[0].CurrencyID)
		assert.Equal(t, "alice@example.com", body.Payer.Email)
		assert.Equal(t, "http://front/success", body.BackURLs.Success)
		assert.Equal(t, "http://back/raffle/webhook", body.NotificationURL)
		assert.Equal(t, ticket.ID.String()+":"+ticket.OrderID, body.ExternalReference)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp/checkout","sandbox_init_point":"https://sandbox/checkout"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{
		BaseURL:         srv.URL,
		AccessToken:     "secret",
		NotificationURL: "http://back/raffle/webhook",
		FrontendURL:     "http://front/",
	})

	req, err := c.CreatePaymentRequest(context.Background(), ticket, domain.Buyer{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "pref-1", req.ID)
	assert.Equal(t, "https://mp/checkout", req.PaymentURL)
	assert.Equal(t, ticket.ID, req.Token.TicketID)
}

func TestCreatePaymentRequest_Sandbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp/checkout","sandbox_init_point":"https://sandbox/checkout"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL, Sandbox: true})

	req, err := c.CreatePaymentRequest(context.Background(), domain.Ticket{ID: uuid.New(), Number: "0001"}, domain.Buyer{Name: "A", Email: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox/checkout", req.PaymentURL)
}

func TestCreatePaymentRequest_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid unit_price"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})

	_, err := c.CreatePaymentRequest(context.Background(), domain.Ticket{ID: uuid.New(), Number: "0001"}, domain.Buyer{Name: "A", Email: "a@b.c"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid unit_price", apiErr.Message)
}

func TestGetPaymentDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/123":
			_, _ = w.Write([]byte(`{"id":123,"status":"approved","external_reference":"tok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})

	p, err := c.GetPaymentDetails(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", p.ID)
	assert.Equal(t, domain.PaymentApproved, p.Status)
	assert.Equal(t, "approved", p.RawStatus)
	assert.Equal(t, "tok", p.CorrelationToken)

	_, err = c.GetPaymentDetails(context.Background(), "999")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = c.GetPaymentDetails(context.Background(), "../admin")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestGetPaymentDetails_UnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":7,"status":"something_new"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})

	p, err := c.GetPaymentDetails(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentOther, p.Status)
}

func TestGetPaymentDetails_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid access token"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})

	_, err := c.GetPaymentDetails(context.Background(), "123")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewClient_BadBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url", AccessToken: "x"}, testRaffle)
	assert.Error(t, err)
}

func TestTransport(t *testing.T) {
	var got *http.Request
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		got = r
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	tr, err := newTransport("http://127.0.0.1:9999/mp/", next)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "https://api.mercadopago.com/checkout/preferences", nil)
	req.Header.Set("X-Idempotency-Key", "random")
	req = req.WithContext(withIdempotencyKey(req.Context(), "order-1"))

	_, err = tr.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/mp/checkout/preferences", got.URL.String())
	assert.Equal(t, "order-1", got.Header.Get("X-Idempotency-Key"))
	assert.Equal(t, "random", req.Header.Get("X-Idempotency-Key"), "the caller's request is not mutated")

	// production: nothing to rewrite
	tr, err = newTransport("", next)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "https://api.mercadopago.com/v1/payments/1", nil)
	_, err = tr.RoundTrip(req)
	require.NoError(t, err)
	assert.Same(t, req, got)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestVerifier(t *testing.T) {
	v := NewVerifier("s3cret")
	h := v.Sign("123", "req-1", "1704908010")

	assert.NoError(t, v.Verify("123", "req-1", h))
	assert.ErrorIs(t, v.Verify("124", "req-1", h), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify("123", "req-2", h), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify("123", "req-1", ""), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify("123", "req-1", "ts=1,v1=zz"), ErrInvalidSignature)
	assert.ErrorIs(t, NewVerifier("other").Verify("123", "req-1", h), ErrInvalidSignature)
}
