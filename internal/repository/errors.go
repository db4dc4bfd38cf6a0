package repository

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadySold = errors.New("ticket already sold")
	ErrNotReserved = errors.New("ticket not reserved")
	ErrStaleOrder  = errors.New("reservation belongs to another order")
)
