package bankcard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// InitPaymentRequest is the vPOS payment registration body.
type InitPaymentRequest struct {
	ClientID    string  `json:"ClientID"`
	Username    string  `json:"Username"`
	Password    string  `json:"Password"`
	Currency    string  `json:"Currency"`
	Description string  `json:"Description"`
	OrderID     int64   `json:"OrderID"`
	Amount      float64 `json:"Amount"`
	BackURL     string  `json:"BackURL"`
	Opaque      string  `json:"Opaque"`
}

type InitPaymentResponse struct {
	PaymentID       string `json:"PaymentID"`
	ResponseCode    int    `json:"ResponseCode"`
	ResponseMessage string `json:"ResponseMessage"`
}

type paymentDetailsRequest struct {
	PaymentID string `json:"PaymentID"`
	Username  string `json:"Username"`
	Password  string `json:"Password"`
}

// PaymentDetails is the authoritative status of a vPOS payment.
type PaymentDetails struct {
	Amount          decimal.Decimal `json:"Amount"`
	ApprovedAmount  decimal.Decimal `json:"ApprovedAmount"`
	ApprovalCode    string          `json:"ApprovalCode"`
	Currency        string          `json:"Currency"`
	Description     string          `json:"Description"`
	MDOrderID       string          `json:"MDOrderID"`
	OrderID         json.Number     `json:"OrderID"`
	Opaque          string          `json:"Opaque"`
	OrderStatus     int             `json:"OrderStatus"`
	PaymentState    string          `json:"PaymentState"`
	ResponseCode    string          `json:"ResponseCode"`
	TrxnDescription string          `json:"TrxnDescription"`

	Raw json.RawMessage `json:"-"`
}

const (
	responseApproved   = "00"
	orderStatusDeposit = 2
)

// Paid reports whether the gateway captured the funds.
func (d *PaymentDetails) Paid() bool {
	return d.ResponseCode == responseApproved && d.OrderStatus == orderStatusDeposit
}

// Gateway is the subset of the vPOS API the adapter needs.
type Gateway interface {
	InitPayment(ctx context.Context, req InitPaymentRequest) (*InitPaymentResponse, error)
	GetPaymentDetails(ctx context.Context, paymentID string) (*PaymentDetails, error)
}

type client struct {
	cfg        config.BankCardConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(cfg config.BankCardConfig) Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "bankcard-vpos",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// 4xx answers mean the gateway is up.
			IsSuccessful: func(err error) bool {
				var se *statusError
				return err == nil || errors.As(err, &se)
			},
		}),
	}
}

func (c *client) InitPayment(ctx context.Context, req InitPaymentRequest) (*InitPaymentResponse, error) {
	req.ClientID = c.cfg.ClientID
	req.Username = c.cfg.Username
	req.Password = c.cfg.Password

	body, err := c.post(ctx, "/api/VPOS/InitPayment", req)
	if err != nil {
		return nil, err
	}

	var res InitPaymentResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode InitPayment: %v", payment.ErrProviderUnavailable, err)
	}
	if res.ResponseCode != 1 || res.PaymentID == "" {
		return nil, fmt.Errorf("%w: InitPayment rejected (%d %s)", payment.ErrProviderUnavailable, res.ResponseCode, res.ResponseMessage)
	}

	return &res, nil
}

func (c *client) GetPaymentDetails(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	body, err := c.post(ctx, "/api/VPOS/GetPaymentDetails", paymentDetailsRequest{
		PaymentID: paymentID,
		Username:  c.cfg.Username,
		Password:  c.cfg.Password,
	})
	if err != nil {
		return nil, err
	}

	var details PaymentDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("%w: decode GetPaymentDetails: %v", payment.ErrProviderUnavailable, err)
	}
	details.Raw = body

	return &details, nil
}

// post sends one JSON call through the breaker. Transport errors and 5xx
// count as breaker failures; the caller sees ErrProviderUnavailable.
func (c *client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("provider", payment.ProviderBankCard.String()),
		zap.String("path", path),
	)

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read vpos response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("vpos status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &statusError{code: resp.StatusCode, body: b}
		}
		return b, nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			log.Error("vpos returned non-success status", zap.Int("status", se.code), zap.ByteString("response", se.body))
		} else {
			log.Error("vpos request failed", zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}

	return body, nil
}

type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string { return fmt.Sprintf("vpos status %d", e.code) }
