package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// PaymentStatus is the closed set of payment outcomes the service acts on.
// Anything the gateway reports outside this set maps to PaymentOther.
type PaymentStatus string

const (
	PaymentApproved    PaymentStatus = "approved"
	PaymentPending     PaymentStatus = "pending"
	PaymentInProcess   PaymentStatus = "in_process"
	PaymentAuthorized  PaymentStatus = "authorized"
	PaymentInMediation PaymentStatus = "in_mediation"
	PaymentRejected    PaymentStatus = "rejected"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentRefunded    PaymentStatus = "refunded"
	PaymentChargedBack PaymentStatus = "charged_back"
	PaymentOther       PaymentStatus = "other"
)

func ParsePaymentStatus(s string) PaymentStatus {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentApproved:
		return PaymentApproved
	case PaymentPending:
		return PaymentPending
	case PaymentInProcess:
		return PaymentInProcess
	case PaymentAuthorized:
		return PaymentAuthorized
	case PaymentInMediation:
		return PaymentInMediation
	case PaymentRejected:
		return PaymentRejected
	case PaymentCancelled, "canceled":
		return PaymentCancelled
	case PaymentRefunded:
		return PaymentRefunded
	case PaymentChargedBack:
		return PaymentChargedBack
	default:
		return PaymentOther
	}
}

func (s PaymentStatus) Approved() bool {
	return s == PaymentApproved
}

// Failed reports whether s is a terminal negative outcome.
func (s PaymentStatus) Failed() bool {
	switch s {
	case PaymentRejected, PaymentCancelled, PaymentRefunded, PaymentChargedBack:
		return true
	}
	return false
}

var ErrInvalidCorrelationToken = errors.New("invalid correlation token")

// CorrelationToken is handed to the payment gateway when a payment request is
// created and echoed back on every notification for that payment.
type CorrelationToken struct {
	TicketID uuid.UUID
	OrderID  uuid.UUID
}

func TokenFor(t Ticket) CorrelationToken {
	tok := CorrelationToken{TicketID: t.ID}
	if id, err := uuid.Parse(t.OrderID); err == nil {
		tok.OrderID = id
	}
	return tok
}

func (c CorrelationToken) String() string {
	if c.OrderID == uuid.Nil {
		return c.TicketID.String()
	}
	return c.TicketID.String() + ":" + c.OrderID.String()
}

// Order returns the order id as stored on tickets, or "" when the token has none.
func (c CorrelationToken) Order() string {
	if c.OrderID == uuid.Nil {
		return ""
	}
	return c.OrderID.String()
}

// ParseCorrelationToken accepts "<ticket>:<order>" and the bare "<ticket>" form.
func ParseCorrelationToken(s string) (CorrelationToken, error) {
	s = strings.TrimSpace(s)
	ticketPart, orderPart, hasOrder := strings.Cut(s, ":")

	ticketID, err := uuid.Parse(ticketPart)
	if err != nil {
		return CorrelationToken{}, ErrInvalidCorrelationToken
	}

	tok := CorrelationToken{TicketID: ticketID}
	if hasOrder {
		orderID, err := uuid.Parse(orderPart)
		if err != nil {
			return CorrelationToken{}, ErrInvalidCorrelationToken
		}
		tok.OrderID = orderID
	}

	return tok, nil
}

// PaymentRequest is what the gateway returns when a checkout is created.
type PaymentRequest struct {
	ID         string
	PaymentURL string
	Token      CorrelationToken
}

// PaymentDetails is the gateway's authoritative view of a payment.
type PaymentDetails struct {
	ID               string
	Status           PaymentStatus
	RawStatus        string
	CorrelationToken string
}
