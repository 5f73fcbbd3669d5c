package payment

import "errors"

var (
	ErrAuthentication      = errors.New("callback authentication failed")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrMalformedCallback   = errors.New("malformed callback")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentClosed       = errors.New("payment is no longer pending")
)
