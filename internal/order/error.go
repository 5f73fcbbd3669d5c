package order

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrAmbiguousOrder    = errors.New("more than one pending order matches")
	ErrPaymentNotPending = errors.New("order payment is not pending")
	ErrUnauthorized      = errors.New("unauthorized")
)
