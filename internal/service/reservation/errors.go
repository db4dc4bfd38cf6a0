package reservation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTicketUnavailable = errors.New("ticket not available")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrNotSold           = errors.New("ticket is not sold under this payment")
	ErrStaleReservation  = errors.New("reservation was superseded")

	// ErrAnomaly marks a state the system should never reach on its own,
	// e.g. a failure notification for a ticket that is already sold.
	// It is logged and never auto-corrected.
	ErrAnomaly = errors.New("reservation anomaly")
)

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

// GatewayError wraps any failure of the payment gateway while creating the
// payment request. The reservation has already been released when it is returned.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return "payment gateway: " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error { return e.Err }
