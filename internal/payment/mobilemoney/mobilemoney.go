// Package mobilemoney implements the mobile-money invoice provider. The bill
// number travels base64 encoded as issuer_id.
package mobilemoney

import (
	"context"
	"encoding/base64"
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
	ParamInvoice   = "invoice"
	ParamIssuerID  = "issuer_id"
	ParamPaymentID = "payment_id"
	ParamCurrency  = "currency"
	ParamSum       = "sum"
	ParamTime      = "time"
	ParamStatus    = "status"
	ParamChecksum  = "checksum"
)

// dram sign as the provider writes it
const amdSymbol = "֏"

type Adapter struct {
	cfg config.MobileMoneyConfig
}

func New(cfg config.MobileMoneyConfig) *Adapter {
	if cfg.SecretKey == "" {
		logger.L().Warn("mobile money secret key is empty")
	}
	if cfg.ValidDays <= 0 {
		cfg.ValidDays = 1
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Provider() payment.Provider { return payment.ProviderMobileMoney }

func (a *Adapter) BuildOutboundRequest(ctx context.Context, bill payment.Bill, locale string) (*payment.OutboundRequest, error) {
	if !payment.CurrenciesMatch(bill.Currency, "AMD") {
		return nil, payment.ErrCurrencyMismatch
	}

	issuerID := EncodeReference(bill.Number)
	product := base64.StdEncoding.EncodeToString([]byte(bill.Description))
	price := payment.FormatAmount(bill.Amount)
	validDays := strconv.Itoa(a.cfg.ValidDays)

	q := url.Values{}
	q.Set("action", "PostInvoice")
	q.Set("issuer", a.cfg.Issuer)
	q.Set("currency", amdSymbol)
	q.Set("price", price)
	q.Set("product", product)
	q.Set("issuer_id", issuerID)
	q.Set("valid_days", validDays)
	q.Set("lang", language(locale))
	q.Set("security_code", checksum.MD5("",
		a.cfg.SecretKey, a.cfg.Issuer, amdSymbol, price, product, issuerID, validDays,
	))

	return &payment.OutboundRequest{
		Provider:    payment.ProviderMobileMoney,
		Method:      http.MethodGet,
		RedirectURL: a.cfg.InvoiceURL + "?" + q.Encode(),
	}, nil
}

func (a *Adapter) VerifyCallback(ctx context.Context, params url.Values) (*payment.Outcome, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "adapter"),
		zap.String("provider", payment.ProviderMobileMoney.String()),
		zap.String("invoice", payment.Param(params, ParamInvoice)),
	)

	if err := payment.RequireParams(params,
		ParamInvoice, ParamIssuerID, ParamPaymentID, ParamCurrency, ParamSum, ParamTime, ParamStatus, ParamChecksum,
	); err != nil {
		return nil, err
	}

	if !checksum.VerifyMD5(payment.Param(params, ParamChecksum), "", a.signedFields(params)...) {
		log.Warn("checksum mismatch")
		return nil, payment.ErrAuthentication
	}

	amount, err := payment.ParseAmount(payment.Param(params, ParamSum))
	if err != nil {
		return nil, err
	}

	issuerID := payment.Param(params, ParamIssuerID)
	refs := []string{issuerID}
	if decoded, ok := DecodeReference(issuerID); ok && decoded != issuerID {
		refs = append(refs, decoded)
	}

	outcome := &payment.Outcome{
		Provider:              payment.ProviderMobileMoney,
		References:            refs,
		MatchByAmount:         true,
		ProviderTransactionID: payment.Param(params, ParamPaymentID),
		Amount:                amount,
		Currency:              normalizeCurrency(payment.Param(params, ParamCurrency)),
		Raw:                   payment.RawParams(params),
	}

	switch status := strings.ToUpper(payment.Param(params, ParamStatus)); status {
	case "PAID":
		outcome.Success = true
	case "REJECTED", "EXPIRED", "CANCELLED", "FAILED":
		outcome.ErrorCode = status
	default:
		log.Warn("unknown invoice status", zap.String("status", status))
		return nil, payment.ErrMalformedCallback
	}

	return outcome, nil
}

// Sign computes the callback checksum the provider sends.
func (a *Adapter) Sign(params url.Values) string {
	return checksum.MD5("", a.signedFields(params)...)
}

func (a *Adapter) signedFields(params url.Values) []string {
	return []string{
		a.cfg.SecretKey,
		payment.Param(params, ParamInvoice),
		payment.Param(params, ParamIssuerID),
		payment.Param(params, ParamPaymentID),
		payment.Param(params, ParamCurrency),
		payment.Param(params, ParamSum),
		payment.Param(params, ParamTime),
		payment.Param(params, ParamStatus),
	}
}

func EncodeReference(billNo string) string {
	return base64.StdEncoding.EncodeToString([]byte(billNo))
}

func DecodeReference(issuerID string) (string, bool) {
	b, err := base64.StdEncoding.DecodeString(issuerID)
	if err != nil || len(b) == 0 {
		return "", false
	}
	return string(b), true
}

func normalizeCurrency(c string) string {
	if c == amdSymbol || strings.EqualFold(c, "AMD") || c == "051" {
		return "AMD"
	}
	return strings.ToUpper(c)
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
