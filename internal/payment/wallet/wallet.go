// Package wallet implements the wallet provider: a browser form POST at
// initiation and a two phase callback (unsigned precheck, signed confirm).
package wallet

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
	FieldLanguage     = "EDP_LANGUAGE"
	FieldRecAccount   = "EDP_REC_ACCOUNT"
	FieldDescription  = "EDP_DESCRIPTION"
	FieldAmount       = "EDP_AMOUNT"
	FieldBillNo       = "EDP_BILL_NO"
	FieldEmail        = "EDP_EMAIL"
	FieldPrecheck     = "EDP_PRECHECK"
	FieldPayerAccount = "EDP_PAYER_ACCOUNT"
	FieldTransID      = "EDP_TRANS_ID"
	FieldTransDate    = "EDP_TRANS_DATE"
	FieldChecksum     = "EDP_CHECKSUM"
)

// The wallet settles in drams only.
const currency = "AMD"

type Adapter struct {
	cfg config.WalletConfig
}

func New(cfg config.WalletConfig) *Adapter {
	if cfg.SecretKey == "" {
		logger.L().Warn("wallet secret key is empty")
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Provider() payment.Provider { return payment.ProviderWallet }

func (a *Adapter) BuildOutboundRequest(ctx context.Context, bill payment.Bill, locale string) (*payment.OutboundRequest, error) {
	if !payment.CurrenciesMatch(bill.Currency, currency) {
		return nil, payment.ErrCurrencyMismatch
	}

	return &payment.OutboundRequest{
		Provider:   payment.ProviderWallet,
		Method:     http.MethodPost,
		FormAction: a.cfg.PaymentURL,
		FormFields: map[string]string{
			FieldLanguage:    language(locale),
			FieldRecAccount:  a.cfg.RecAccount,
			FieldDescription: bill.Description,
			FieldAmount:      payment.FormatAmount(bill.Amount),
			FieldBillNo:      bill.Number,
			FieldEmail:       bill.Email,
		},
	}, nil
}

func (a *Adapter) VerifyCallback(ctx context.Context, params url.Values) (*payment.Outcome, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "adapter"),
		zap.String("provider", payment.ProviderWallet.String()),
		zap.String("bill_no", payment.Param(params, FieldBillNo)),
	)

	if err := payment.RequireParams(params, FieldBillNo, FieldRecAccount, FieldAmount); err != nil {
		return nil, err
	}

	amount, err := payment.ParseAmount(payment.Param(params, FieldAmount))
	if err != nil {
		return nil, err
	}

	if payment.Param(params, FieldRecAccount) != a.cfg.RecAccount {
		log.Warn("receiving account does not match")
		return nil, payment.ErrAuthentication
	}

	outcome := &payment.Outcome{
		Provider:   payment.ProviderWallet,
		References: []string{payment.Param(params, FieldBillNo)},
		Amount:     amount,
		Currency:   currency,
		Raw:        payment.RawParams(params),
	}

	if strings.EqualFold(payment.Param(params, FieldPrecheck), "YES") {
		outcome.Precheck = true
		return outcome, nil
	}

	if err := payment.RequireParams(params, FieldPayerAccount, FieldTransID, FieldTransDate, FieldChecksum); err != nil {
		return nil, err
	}

	if !checksum.VerifyMD5(payment.Param(params, FieldChecksum), ":", a.signedFields(params)...) {
		log.Warn("checksum mismatch")
		return nil, payment.ErrAuthentication
	}

	outcome.Success = true
	outcome.ProviderTransactionID = payment.Param(params, FieldTransID)
	return outcome, nil
}

// Sign computes the confirm checksum the wallet sends, upper-cased.
func (a *Adapter) Sign(params url.Values) string {
	return strings.ToUpper(checksum.MD5(":", a.signedFields(params)...))
}

func (a *Adapter) signedFields(params url.Values) []string {
	return []string{
		payment.Param(params, FieldRecAccount),
		payment.Param(params, FieldAmount),
		a.cfg.SecretKey,
		payment.Param(params, FieldBillNo),
		payment.Param(params, FieldPayerAccount),
		payment.Param(params, FieldTransID),
		payment.Param(params, FieldTransDate),
	}
}

func language(locale string) string {
	switch strings.ToLower(locale) {
	case "hy", "am":
		return "AM"
	case "ru":
		return "RU"
	default:
		return "EN"
	}
}
