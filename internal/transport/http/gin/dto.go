package httpgin

import (
	"time"

	"github.com/kirinyoku/raffle-go/internal/domain"
)

type BuyRequest struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type BuyResponse struct {
	PaymentURL string `json:"paymentUrl"`
	OrderID    string `json:"orderId"`
	Number     string `json:"number"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

// webhookBody covers both notification shapes Mercado Pago posts:
// {"type":"payment","data":{"id":"123"}} and {"topic":"payment","resource":"123"}.
type webhookBody struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Data     struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// flexibleID accepts an id sent either as a JSON string or a JSON number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	*f = flexibleID(s)
	return nil
}

type ReverseRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

type SeedRequest struct {
	PoolSize int  `json:"pool_size" binding:"gte=0"`
	Width    int  `json:"width" binding:"gte=0,lte=9"`
	Force    bool `json:"force"`
}

type SeedResponse struct {
	Created int64 `json:"created"`
}

type SweepResponse struct {
	Released int `json:"released"`
}

// AdminTicket is the operator view of a ticket, buyer data included.
type AdminTicket struct {
	ID         string              `json:"id"`
	Number     string              `json:"number"`
	Status     domain.TicketStatus `json:"status"`
	BuyerName  string              `json:"buyer_name,omitempty"`
	BuyerEmail string              `json:"buyer_email,omitempty"`
	PaymentID  string              `json:"payment_id,omitempty"`
	OrderID    string              `json:"order_id,omitempty"`
	ReservedAt *time.Time          `json:"reserved_at,omitempty"`
	SoldAt     *time.Time          `json:"sold_at,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func toAdminTickets(ts []domain.Ticket) []AdminTicket {
	out := make([]AdminTicket, 0, len(ts))
	for _, t := range ts {
		out = append(out, AdminTicket{
			ID:         t.ID.String(),
			Number:     t.Number,
			Status:     t.Status,
			BuyerName:  t.BuyerName,
			BuyerEmail: t.BuyerEmail,
			PaymentID:  t.PaymentID,
			OrderID:    t.OrderID,
			ReservedAt: t.ReservedAt,
			SoldAt:     t.SoldAt,
			UpdatedAt:  t.UpdatedAt,
		})
	}
	return out
}
