// Package delivery implements payment collected through the delivery partner.
package delivery

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/payment"
	"paygate-be/internal/payment/checksum"

	"go.uber.org/zap"
)

const (
	ParamOrder         = "order"
	ParamStatus        = "status"
	ParamAmount        = "amount"
	ParamCurrency      = "currency"
	ParamTransactionID = "transaction_id"
	ParamSignature     = "signature"
	ParamErrorCode     = "error_code"
)

var successTokens = map[string]bool{
	"paid":      true,
	"success":   true,
	"completed": true,
	"captured":  true,
}

type Adapter struct {
	cfg config.DeliveryConfig
}

func New(cfg config.DeliveryConfig) *Adapter {
	if cfg.Secret == "" {
		logger.L().Warn("delivery payment secret is empty")
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Provider() payment.Provider { return payment.ProviderDelivery }

func (a *Adapter) BuildOutboundRequest(ctx context.Context, bill payment.Bill, locale string) (*payment.OutboundRequest, error) {
	amount := payment.FormatAmount(bill.Amount)
	currency := strings.ToUpper(bill.Currency)

	q := url.Values{}
	q.Set("merchant", a.cfg.MerchantID)
	q.Set("order", bill.Number)
	q.Set("amount", amount)
	q.Set("currency", currency)
	q.Set("return_url", a.cfg.ReturnURL)
	q.Set("lang", strings.ToLower(locale))
	q.Set("signature", checksum.HMACSHA256(a.cfg.Secret, "|", a.cfg.MerchantID, bill.Number, amount, currency))

	return &payment.OutboundRequest{
		Provider:    payment.ProviderDelivery,
		Method:      http.MethodGet,
		RedirectURL: a.cfg.PayURL + "?" + q.Encode(),
	}, nil
}

func (a *Adapter) VerifyCallback(ctx context.Context, params url.Values) (*payment.Outcome, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "adapter"),
		zap.String("provider", payment.ProviderDelivery.String()),
		zap.String("order", payment.Param(params, ParamOrder)),
	)

	if err := payment.RequireParams(params, ParamOrder, ParamStatus, ParamAmount, ParamCurrency, ParamSignature); err != nil {
		return nil, err
	}

	if !checksum.VerifyHMACSHA256(payment.Param(params, ParamSignature), a.cfg.Secret, "|", a.signedFields(params)...) {
		log.Warn("signature mismatch")
		return nil, payment.ErrAuthentication
	}

	amount, err := payment.ParseAmount(payment.Param(params, ParamAmount))
	if err != nil {
		return nil, err
	}

	status := strings.ToLower(payment.Param(params, ParamStatus))
	outcome := &payment.Outcome{
		Provider:              payment.ProviderDelivery,
		References:            []string{payment.Param(params, ParamOrder)},
		Success:               successTokens[status],
		ProviderTransactionID: payment.Param(params, ParamTransactionID),
		Amount:                amount,
		Currency:              strings.ToUpper(payment.Param(params, ParamCurrency)),
		Raw:                   payment.RawParams(params),
	}
	if !outcome.Success {
		outcome.ErrorCode = payment.Param(params, ParamErrorCode)
		if outcome.ErrorCode == "" {
			outcome.ErrorCode = status
		}
	}

	return outcome, nil
}

// Sign computes the callback signature the partner sends.
func (a *Adapter) Sign(params url.Values) string {
	return checksum.HMACSHA256(a.cfg.Secret, "|", a.signedFields(params)...)
}

func (a *Adapter) signedFields(params url.Values) []string {
	return []string{
		payment.Param(params, ParamOrder),
		payment.Param(params, ParamStatus),
		payment.Param(params, ParamAmount),
		payment.Param(params, ParamCurrency),
		payment.Param(params, ParamTransactionID),
	}
}
