package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderBankCard    Provider = "bankcard"
	ProviderWallet      Provider = "wallet"
	ProviderMobileMoney Provider = "mobilemoney"
	ProviderDelivery    Provider = "delivery"
)

func (p Provider) String() string { return string(p) }

// ParseProvider maps a route or request value to a known provider key.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderBankCard, ProviderWallet, ProviderMobileMoney, ProviderDelivery:
		return p, nil
	}
	return "", ErrUnknownProvider
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment is the authoritative row for one (order, provider) pair.
type Payment struct {
	ID                    int64
	OrderID               int64
	Provider              Provider
	Status                Status
	ProviderPaymentID     string
	ProviderTransactionID string
	Amount                decimal.Decimal
	Currency              string
	ErrorCode             string
	RawResponse           json.RawMessage
	CompletedAt           *time.Time
	FailedAt              *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Bill is what a provider needs to know about an order to start a payment.
type Bill struct {
	OrderID     int64
	Number      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Email       string
}

// OutboundRequest is either a redirect (Method GET + RedirectURL) or a form
// the browser posts to FormAction.
type OutboundRequest struct {
	Provider          Provider          `json:"provider"`
	Method            string            `json:"method"`
	RedirectURL       string            `json:"redirect_url,omitempty"`
	FormAction        string            `json:"form_action,omitempty"`
	FormFields        map[string]string `json:"form_fields,omitempty"`
	ProviderPaymentID string            `json:"-"`
}

// Outcome is the provider-neutral result of an authenticated callback.
type Outcome struct {
	Provider Provider

	// References are candidate order numbers, tried in order.
	References []string
	// MatchByAmount allows a single pending order with the same amount and
	// currency to be used when no reference matches.
	MatchByAmount bool

	// Precheck marks an unsigned availability check that must not move state.
	Precheck bool

	Success           bool
	ProviderPaymentID string
	// PaymentVerified is set when the provider's own status lookup tied
	// ProviderPaymentID to the order, so it may come from an earlier attempt.
	PaymentVerified       bool
	ProviderTransactionID string
	Amount                decimal.Decimal
	Currency              string
	ErrorCode             string

	// Extra carries provider fields that downstream checks need, such as the
	// receiving account of a wallet precheck.
	Extra map[string]string

	Raw json.RawMessage
}

// Callback is a row in the raw inbound callback log.
type Callback struct {
	ID             int64
	Provider       Provider
	EventID        string
	BillReference  string
	SignatureValid bool
	Payload        json.RawMessage
}
