package fiscal

import (
	"encoding/json"
	"time"
)

type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptIssued  ReceiptStatus = "issued"
)

// Receipt is the durable record of a fiscal receipt for one order. A pending
// row is an in-flight claim; an issued row means the receipt was printed.
type Receipt struct {
	ID          int64
	OrderID     int64
	Seq         int64
	Status      ReceiptStatus
	ReceiptID   string
	Fiscal      string
	QR          string
	RawResponse json.RawMessage
	IssuedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReceiptRequest is the print request body of the fiscal service.
type ReceiptRequest struct {
	CRN              string        `json:"crn"`
	Seq              int64         `json:"seq"`
	CashierID        int           `json:"cashierId"`
	Mode             int           `json:"mode"`
	Items            []ReceiptItem `json:"items"`
	PaidAmount       float64       `json:"paidAmount"`
	PaidAmountCard   float64       `json:"paidAmountCard"`
	PartialAmount    float64       `json:"partialAmount"`
	PrePaymentAmount float64       `json:"prePaymentAmount"`
	UseExtPOS        bool          `json:"useExtPOS"`
}

type ReceiptItem struct {
	Dep         int     `json:"dep"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
	ProductCode string  `json:"productCode"`
	ProductName string  `json:"productName"`
	AdgCode     string  `json:"adgCode"`
	Unit        string  `json:"unit"`
}

type ReceiptResponse struct {
	Code         int            `json:"code"`
	Error        string         `json:"error,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Result       *ReceiptResult `json:"result,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type ReceiptResult struct {
	Rseq   int64   `json:"rseq"`
	CRN    string  `json:"crn"`
	SN     string  `json:"sn"`
	TIN    string  `json:"tin"`
	Fiscal string  `json:"fiscal"`
	QR     string  `json:"qr"`
	Total  float64 `json:"total"`
	Time   int64   `json:"time"`
}
