package order

import (
	"encoding/json"
	"time"

	"paygate-be/internal/payment"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

type EventType string

const (
	EventPaymentCompleted    EventType = "payment_completed"
	EventPaymentFailed       EventType = "payment_failed"
	EventFiscalReceiptIssued EventType = "fiscal_receipt_issued"
	EventFiscalReceiptFailed EventType = "fiscal_receipt_failed"
)

type Order struct {
	ID            int64
	Number        string
	UserID        *int64
	TotalAmount   decimal.Decimal
	Currency      string
	PaymentStatus PaymentStatus
	Status        Status
	PaidAt        *time.Time
	Email         string
	Shipping      Shipping
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Shipping struct {
	Name    string
	Phone   string
	Address string
	City    string
	Fee     decimal.Decimal
}

type OrderItem struct {
	ID         int64
	OrderID    int64
	ProductID  int64
	Name       string
	Department int
	AdgCode    string
	Unit       string
	Quantity   decimal.Decimal
	LineTotal  decimal.Decimal
}

type Event struct {
	ID        int64
	OrderID   int64
	Type      EventType
	Data      json.RawMessage
	CreatedAt time.Time
}

// Transition is one authenticated payment outcome for an order.
type Transition struct {
	OrderID               int64
	Provider              payment.Provider
	Success               bool
	ProviderPaymentID     string
	ProviderTransactionID string
	Amount                decimal.Decimal
	Currency              string
	ErrorCode             string
	Raw                   json.RawMessage
}

// Target is the payment status the transition moves the order to.
func (t Transition) Target() PaymentStatus {
	if t.Success {
		return PaymentPaid
	}
	return PaymentFailed
}

type TransitionResult struct {
	OrderID int64
	// Applied is false when the order had already left pending.
	Applied       bool
	PaymentStatus PaymentStatus
}
