package admin

import "errors"

var (
	ErrPoolInUse   = errors.New("pool has pending or sold tickets")
	ErrInvalidPool = errors.New("invalid pool size or number width")
)
