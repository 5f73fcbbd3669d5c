// Package bankcard implements the card gateway. The return callback is not
// signed by the gateway, so the adapter binds it to the order with an HMAC
// "opaque" value and trusts only the gateway's own status lookup.
package bankcard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/payment"
	"paygate-be/internal/payment/checksum"

	"go.uber.org/zap"
)

const (
	ParamOrderID      = "orderID"
	ParamPaymentID    = "paymentID"
	ParamOpaque       = "opaque"
	ParamResponseCode = "resposneCode" // sic, as sent by the gateway
)

var isoCurrency = map[string]string{
	"AMD": "051",
	"USD": "840",
	"EUR": "978",
	"RUB": "643",
}

func currencyCode(c string) (string, bool) {
	code, ok := isoCurrency[strings.ToUpper(c)]
	return code, ok
}

func currencyFromCode(code string) string {
	for c, n := range isoCurrency {
		if n == code {
			return c
		}
	}
	return code
}

type Adapter struct {
	cfg     config.BankCardConfig
	gateway Gateway
}

func New(cfg config.BankCardConfig, gateway Gateway) *Adapter {
	if cfg.OpaqueSecret == "" {
		logger.L().Warn("bank card opaque secret is empty")
	}
	return &Adapter{cfg: cfg, gateway: gateway}
}

func (a *Adapter) Provider() payment.Provider { return payment.ProviderBankCard }

func (a *Adapter) BuildOutboundRequest(ctx context.Context, bill payment.Bill, locale string) (*payment.OutboundRequest, error) {
	code, ok := currencyCode(bill.Currency)
	if !ok {
		return nil, payment.ErrCurrencyMismatch
	}

	amount, _ := bill.Amount.Float64()
	res, err := a.gateway.InitPayment(ctx, InitPaymentRequest{
		Currency:    code,
		Description: bill.Description,
		OrderID:     bill.OrderID,
		Amount:      amount,
		BackURL:     a.cfg.BackURL,
		Opaque:      a.Opaque(bill.OrderID, bill.Number),
	})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("id", res.PaymentID)
	q.Set("lang", language(locale))

	return &payment.OutboundRequest{
		Provider:          payment.ProviderBankCard,
		Method:            http.MethodGet,
		RedirectURL:       strings.TrimRight(a.cfg.BaseURL, "/") + "/Payments/Pay?" + q.Encode(),
		ProviderPaymentID: res.PaymentID,
	}, nil
}

// Opaque binds a gateway order id to our bill number.
func (a *Adapter) Opaque(orderID int64, billNo string) string {
	return billNo + ":" + checksum.HMACSHA256(a.cfg.OpaqueSecret, "|", strconv.FormatInt(orderID, 10), billNo)
}

func (a *Adapter) VerifyCallback(ctx context.Context, params url.Values) (*payment.Outcome, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "adapter"),
		zap.String("provider", payment.ProviderBankCard.String()),
		logger.Masked("payment_id", payment.Param(params, ParamPaymentID)),
	)

	if err := payment.RequireParams(params, ParamOrderID, ParamPaymentID, ParamOpaque); err != nil {
		return nil, err
	}

	billNo, err := a.verifyOpaque(payment.Param(params, ParamOrderID), payment.Param(params, ParamOpaque))
	if err != nil {
		log.Warn("opaque binding mismatch")
		return nil, err
	}

	paymentID := payment.Param(params, ParamPaymentID)
	details, err := a.gateway.GetPaymentDetails(ctx, paymentID)
	if err != nil {
		log.Warn("payment status lookup failed", zap.Error(err))
		if !errors.Is(err, payment.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	if details.OrderID != "" && details.OrderID.String() != payment.Param(params, ParamOrderID) {
		log.Warn("status lookup is for another order", zap.String("lookup_order_id", details.OrderID.String()))
		return nil, payment.ErrAuthentication
	}

	outcome := &payment.Outcome{
		Provider:              payment.ProviderBankCard,
		References:            []string{billNo},
		Success:               details.Paid(),
		ProviderPaymentID:     paymentID,
		PaymentVerified:       details.OrderID != "",
		ProviderTransactionID: details.ApprovalCode,
		Amount:                details.Amount,
		Currency:              currencyFromCode(details.Currency),
		Raw:                   details.Raw,
	}
	if !outcome.Success {
		outcome.ErrorCode = details.ResponseCode
		if outcome.ErrorCode == "" {
			outcome.ErrorCode = payment.Param(params, ParamResponseCode)
		}
	}

	log.Info("payment status resolved",
		zap.Bool("success", outcome.Success),
		zap.String("response_code", details.ResponseCode),
		zap.Int("order_status", details.OrderStatus),
	)

	return outcome, nil
}

func (a *Adapter) verifyOpaque(orderID, opaque string) (string, error) {
	i := strings.LastIndex(opaque, ":")
	if i <= 0 {
		return "", payment.ErrAuthentication
	}
	billNo, mac := opaque[:i], opaque[i+1:]
	if !checksum.VerifyHMACSHA256(mac, a.cfg.OpaqueSecret, "|", orderID, billNo) {
		return "", payment.ErrAuthentication
	}
	return billNo, nil
}

func language(locale string) string {
	switch strings.ToLower(locale) {
	case "hy", "am":
		return "am"
	case "ru":
		return "ru"
	default:
		return "en"
	}
}
