// Package mercadopago adapts the Mercado Pago SDK to the raffle's payment
// gateway: checkout preferences, payment lookup and webhook signature checks.
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
)

var (
	ErrPaymentNotFound = errors.New("mercadopago: payment not found")
	ErrUnauthorized    = errors.New("mercadopago: unauthorized")
)

// APIError is returned for any non-2xx answer that has no dedicated sentinel.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	// BaseURL replaces the API host the SDK talks to. Empty means production.
	BaseURL     string
	AccessToken string

	// NotificationURL is where Mercado Pago posts payment notifications.
	NotificationURL string

	// FrontendURL is the base of the success, failure and pending back URLs.
	FrontendURL string

	// Sandbox makes CreatePaymentRequest return the sandbox checkout link.
	Sandbox bool

	Timeout time.Duration
}

type Client struct {
	preferences preference.Client
	payments    payment.Client

	notificationURL string
	frontendURL     string
	sandbox         bool
	raffle          domain.Raffle
}

func NewClient(cfg Config, raffle domain.Raffle) (*Client, error) {
	const op = "mercadopago.NewClient"

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tr, err := newTransport(cfg.BaseURL, http.DefaultTransport)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sdk, err := config.New(cfg.AccessToken, config.WithHTTPClient(&http.Client{
		Timeout:   timeout,
		Transport: tr,
	}))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Client{
		preferences:     preference.NewClient(sdk),
		payments:        payment.NewClient(sdk),
		notificationURL: cfg.NotificationURL,
		frontendURL:     strings.TrimRight(cfg.FrontendURL, "/"),
		sandbox:         cfg.Sandbox,
		raffle:          raffle,
	}, nil
}

// CreatePaymentRequest creates a checkout preference for one ticket. The
// ticket's correlation token travels as external_reference and comes back on
// the payment. The order id is the idempotency key, so a retried call for the
// same reservation yields the same preference.
func (c *Client) CreatePaymentRequest(
	ctx context.Context,
	ticket domain.Ticket,
	buyer domain.Buyer,
) (*domain.PaymentRequest, error) {
	const op = "mercadopago.Client.CreatePaymentRequest"

	token := domain.TokenFor(ticket)

	req := preference.Request{
		Items: []preference.ItemRequest{{
			Title:       fmt.Sprintf("%s - Número %s", c.raffle.Title, ticket.Number),
			Description: c.raffle.Description,
			Quantity:    1,
			UnitPrice:   c.raffle.UnitPrice.InexactFloat64(),
			CurrencyID:  c.raffle.Currency,
		}},
		Payer:             &preference.PayerRequest{Name: buyer.Name, Email: buyer.Email},
		NotificationURL:   c.notificationURL,
		ExternalReference: token.String(),
	}
	if c.frontendURL != "" {
		req.BackURLs = &preference.BackURLsRequest{
			Success: c.frontendURL + "/success",
			Failure: c.frontendURL + "/failure",
			Pending: c.frontendURL + "/pending",
		}
	}

	reply, err := c.preferences.Create(withIdempotencyKey(ctx, ticket.OrderID), req)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateErr(err))
	}

	link := reply.InitPoint
	if c.sandbox && reply.SandboxInitPoint != "" {
		link = reply.SandboxInitPoint
	}
	if reply.ID == "" || link == "" {
		return nil, fmt.Errorf("%s:%w", op, &APIError{StatusCode: http.StatusOK, Message: "preference without id or checkout link"})
	}

	return &domain.PaymentRequest{
		ID:         reply.ID,
		PaymentURL: link,
		Token:      token,
	}, nil
}

// GetPaymentDetails fetches the authoritative state of a payment.
//
// Returns:
//   - error: ErrPaymentNotFound if the gateway does not know the payment.
func (c *Client) GetPaymentDetails(ctx context.Context, id string) (*domain.PaymentDetails, error) {
	const op = "mercadopago.Client.GetPaymentDetails"

	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrPaymentNotFound)
	}

	reply, err := c.payments.Get(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateErr(err))
	}

	pid := id
	if reply.ID != 0 {
		pid = strconv.Itoa(reply.ID)
	}

	return &domain.PaymentDetails{
		ID:               pid,
		Status:           domain.ParsePaymentStatus(reply.Status),
		RawStatus:        reply.Status,
		CorrelationToken: reply.ExternalReference,
	}, nil
}

func translateErr(err error) error {
	var re *mperror.ResponseError
	if !errors.As(err, &re) {
		return err
	}

	switch re.StatusCode {
	case http.StatusNotFound:
		return ErrPaymentNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return &APIError{StatusCode: re.StatusCode, Message: apiMessage(re.Message)}
	}
}

// apiMessage pulls the human readable part out of an error body.
func apiMessage(body string) string {
	var reply struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err == nil {
		if reply.Message != "" {
			return reply.Message
		}
		if reply.Error != "" {
			return reply.Error
		}
	}

	return strings.TrimSpace(body)
}

type idemKey struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idemKey{}, key)
}

// transport points SDK requests at base when set and swaps the SDK's random
// idempotency key for the one carried on the request context.
type transport struct {
	base *url.URL
	next http.RoundTripper
}

func newTransport(baseURL string, next http.RoundTripper) (*transport, error) {
	t := &transport{next: next}

	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid base url %q", baseURL)
		}
		t.base = u
	}

	return t, nil
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	key, _ := req.Context().Value(idemKey{}).(string)
	if t.base == nil && key == "" {
		return t.next.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	if t.base != nil {
		r.URL.Scheme = t.base.Scheme
		r.URL.Host = t.base.Host
		r.URL.Path = t.base.Path + r.URL.Path
		r.URL.RawPath = ""
		r.Host = t.base.Host
	}
	if key != "" {
		r.Header.Set("X-Idempotency-Key", key)
	}

	return t.next.RoundTrip(r)
}
