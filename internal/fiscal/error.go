package fiscal

import "errors"

var (
	ErrDisabled            = errors.New("fiscal receipts are disabled")
	ErrNotEligible         = errors.New("order is not eligible for a fiscal receipt")
	ErrReceiptInProgress   = errors.New("fiscal receipt issuance already in progress")
	ErrReceiptNotFound     = errors.New("fiscal receipt not found")
	ErrReceiptUnrecorded   = errors.New("fiscal receipt may be printed but is not recorded")
	ErrServiceRejected     = errors.New("fiscal service rejected the receipt")
	ErrServiceUnavailable  = errors.New("fiscal service unavailable")
	ErrSequenceUnavailable = errors.New("fiscal sequence allocation failed")
)
