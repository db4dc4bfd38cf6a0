package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketPending   TicketStatus = "pending"
	TicketSold      TicketStatus = "sold"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketAvailable, TicketPending, TicketSold:
		return true
	}
	return false
}

type Buyer struct {
	Name  string
	Email string
}

type Ticket struct {
	ID         uuid.UUID
	Number     string
	Status     TicketStatus
	BuyerName  string
	BuyerEmail string
	PaymentID  string
	OrderID    string
	ReservedAt *time.Time
	SoldAt     *time.Time
	UpdatedAt  time.Time
}

func (t Ticket) Buyer() Buyer {
	return Buyer{Name: t.BuyerName, Email: t.BuyerEmail}
}

// Consistent reports whether the holder fields agree with the status:
// available tickets carry no buyer, payment or order; pending and sold
// tickets always carry a buyer, and sold tickets a payment id.
func (t Ticket) Consistent() bool {
	switch t.Status {
	case TicketAvailable:
		return t.BuyerName == "" && t.BuyerEmail == "" && t.PaymentID == "" && t.OrderID == ""
	case TicketPending:
		return t.BuyerName != "" && t.BuyerEmail != ""
	case TicketSold:
		return t.BuyerName != "" && t.BuyerEmail != "" && t.PaymentID != ""
	}
	return false
}

// TicketSummary is the public projection of a ticket. It never carries buyer data.
type TicketSummary struct {
	Number string       `json:"number"`
	Status TicketStatus `json:"status"`
}

type TicketCounts struct {
	Available int64 `json:"available"`
	Pending   int64 `json:"pending"`
	Sold      int64 `json:"sold"`
	Total     int64 `json:"total"`
}

type Board struct {
	Tickets    []TicketSummary `json:"tickets"`
	SoldCount  int64           `json:"soldCount"`
	TotalCount int64           `json:"totalCount"`
	Progress   float64         `json:"progress"`
}

type OrderStatus struct {
	OrderID string       `json:"orderId"`
	Number  string       `json:"number"`
	Status  TicketStatus `json:"status"`
}

type PaymentIntent struct {
	Number     string
	OrderID    string
	PaymentRef string
	PaymentURL string
}

// Raffle describes the raffle being sold.
type Raffle struct {
	Title       string
	Description string
	UnitPrice   decimal.Decimal
	Currency    string
	PoolSize    int
	NumberWidth int
}

func (r Raffle) FormatNumber(i int) string {
	return fmt.Sprintf("%0*d", r.NumberWidth, i)
}

// Numbers returns the full pool of ticket numbers, in order.
func (r Raffle) Numbers() []string {
	out := make([]string, 0, r.PoolSize)
	for i := 0; i < r.PoolSize; i++ {
		out = append(out, r.FormatNumber(i))
	}
	return out
}
