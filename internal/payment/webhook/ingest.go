// Package webhook receives provider callbacks, authenticates them through the
// provider adapters and feeds the resulting outcomes to the order reducer.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"
	"paygate-be/internal/order"
	"paygate-be/internal/payment"
	"paygate-be/internal/payment/bankcard"
	"paygate-be/internal/payment/checksum"
	"paygate-be/internal/payment/delivery"
	"paygate-be/internal/payment/mobilemoney"
	"paygate-be/internal/payment/wallet"

	"go.uber.org/zap"
)

type Orders interface {
	ResolveForCallback(ctx context.Context, outcome *payment.Outcome) (*order.Order, error)
	ApplyPaymentOutcome(ctx context.Context, orderID int64, outcome *payment.Outcome) (*order.TransitionResult, error)
}

type Carts interface {
	ClearCart(ctx context.Context, userID int64) error
}

// ReceiptIssuer starts fiscal issuance for a freshly paid order.
type ReceiptIssuer interface {
	IssueAsync(ctx context.Context, orderID int64)
}

// Result is what a handler needs to answer the provider.
type Result struct {
	Outcome    *payment.Outcome
	Order      *order.Order
	Transition *order.TransitionResult
	Replay     bool
}

// Paid reports whether the order ended up paid, whether by this callback or
// an earlier one.
func (r *Result) Paid() bool {
	return r != nil && r.Transition != nil && r.Transition.PaymentStatus == order.PaymentPaid
}

// referenceParams names the parameter carrying each provider's bill
// reference, recorded with the raw callback before it is verified.
var referenceParams = map[payment.Provider]string{
	payment.ProviderWallet:      wallet.FieldBillNo,
	payment.ProviderBankCard:    bankcard.ParamOrderID,
	payment.ProviderMobileMoney: mobilemoney.ParamIssuerID,
	payment.ProviderDelivery:    delivery.ParamOrder,
}

type Ingestor struct {
	registry *payment.Registry
	payments payment.Repository
	orders   Orders
	carts    Carts
	issuer   ReceiptIssuer
}

func NewIngestor(registry *payment.Registry, payments payment.Repository, orders Orders, carts Carts, issuer ReceiptIssuer) *Ingestor {
	return &Ingestor{
		registry: registry,
		payments: payments,
		orders:   orders,
		carts:    carts,
		issuer:   issuer,
	}
}

// Ingest records, authenticates and applies one callback. Every error leaves
// order state untouched.
func (i *Ingestor) Ingest(ctx context.Context, provider payment.Provider, params url.Values) (*Result, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("method", "Ingest"),
		zap.String("provider", provider.String()),
	)

	adapter, err := i.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	raw := payment.RawParams(params)
	callbackID, replay, err := i.payments.SaveCallback(ctx, &payment.Callback{
		Provider:      provider,
		EventID:       checksum.SHA256(raw),
		BillReference: payment.Param(params, referenceParams[provider]),
		Payload:       raw,
	})
	if err != nil {
		log.Error("failed to record callback", zap.Error(err))
		metrics.CallbacksTotal.WithLabelValues(provider.String(), "error").Inc()
		return nil, err
	}
	if replay {
		log.Info("replayed callback")
	}
	ctx = logger.WithFields(ctx, zap.String("provider", provider.String()), zap.Int64("callback_id", callbackID))
	log = log.With(zap.Int64("callback_id", callbackID))

	fail := func(reason string, signatureValid bool, label string, err error) (*Result, error) {
		metrics.CallbacksTotal.WithLabelValues(provider.String(), label).Inc()
		if callbackID > 0 {
			if mErr := i.payments.MarkCallbackFailed(context.WithoutCancel(ctx), callbackID, reason, signatureValid); mErr != nil {
				log.Error("failed to mark callback", zap.Error(mErr))
			}
		}
		return nil, err
	}

	outcome, err := adapter.VerifyCallback(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrProviderUnavailable):
			log.Warn("callback could not be verified", zap.Error(err))
			return fail(err.Error(), false, "unavailable", err)
		case errors.Is(err, payment.ErrMalformedCallback):
			log.Warn("malformed callback", zap.Error(err))
			return fail(err.Error(), false, "rejected", err)
		default:
			log.Warn("callback authentication failed", zap.Error(err))
			return fail(err.Error(), false, "auth_failed", err)
		}
	}

	o, err := i.orders.ResolveForCallback(ctx, outcome)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) || errors.Is(err, order.ErrAmbiguousOrder) {
			log.Error("no order for callback, manual reconciliation required",
				zap.Strings("references", outcome.References),
				zap.ByteString("payload", raw),
				zap.Error(err),
			)
			return fail(err.Error(), true, "not_found", err)
		}
		return fail(err.Error(), true, "error", err)
	}
	log = log.With(zap.Int64("order_id", o.ID), zap.String("order_number", o.Number))

	// failure outcomes may carry partial or zero amounts
	if outcome.Success || outcome.Precheck {
		if !payment.CurrenciesMatch(o.Currency, outcome.Currency) {
			log.Warn("currency mismatch", zap.String("expected", o.Currency), zap.String("received", outcome.Currency))
			return fail("currency mismatch", true, "rejected", payment.ErrCurrencyMismatch)
		}
		if !payment.AmountsMatch(o.TotalAmount, outcome.Amount, o.Currency) {
			log.Warn("amount mismatch",
				zap.String("expected", o.TotalAmount.String()),
				zap.String("received", outcome.Amount.String()),
			)
			return fail("amount mismatch", true, "rejected", payment.ErrAmountMismatch)
		}
	}

	if outcome.Precheck {
		if o.PaymentStatus != order.PaymentPending {
			return fail("order not pending", true, "rejected", order.ErrPaymentNotPending)
		}
		i.markProcessed(ctx, log, callbackID)
		metrics.CallbacksTotal.WithLabelValues(provider.String(), "precheck").Inc()
		return &Result{Outcome: outcome, Order: o, Replay: replay}, nil
	}

	if outcome.ProviderPaymentID != "" {
		p, err := i.payments.GetByOrderAndProvider(ctx, o.ID, provider)
		switch {
		case err == nil && p.ProviderPaymentID != "" && p.ProviderPaymentID != outcome.ProviderPaymentID && outcome.PaymentVerified:
			log.Info("payment settled through an earlier attempt",
				zap.String("latest", p.ProviderPaymentID),
				zap.String("received", outcome.ProviderPaymentID),
			)
		case err == nil && p.ProviderPaymentID != "" && p.ProviderPaymentID != outcome.ProviderPaymentID:
			log.Warn("payment id does not belong to order",
				zap.String("expected", p.ProviderPaymentID),
				zap.String("received", outcome.ProviderPaymentID),
			)
			return fail("provider payment id mismatch", false, "auth_failed", payment.ErrAuthentication)
		case err != nil && !errors.Is(err, payment.ErrPaymentNotFound):
			return fail(err.Error(), true, "error", err)
		}
	}

	res, err := i.orders.ApplyPaymentOutcome(ctx, o.ID, outcome)
	if err != nil {
		return fail(fmt.Sprintf("apply outcome: %v", err), true, "error", err)
	}

	if res.Applied && res.PaymentStatus == order.PaymentPaid {
		i.afterPaid(ctx, log, o)
	}

	i.markProcessed(ctx, log, callbackID)

	label := "accepted"
	if !res.Applied {
		label = "duplicate"
	}
	metrics.CallbacksTotal.WithLabelValues(provider.String(), label).Inc()

	log.Info("callback processed",
		zap.Bool("applied", res.Applied),
		zap.String("payment_status", string(res.PaymentStatus)),
	)
	return &Result{Outcome: outcome, Order: o, Transition: res, Replay: replay}, nil
}

// afterPaid runs the side effects of a new paid transition. Neither may fail
// the callback.
func (i *Ingestor) afterPaid(ctx context.Context, log *zap.Logger, o *order.Order) {
	if o.UserID != nil && i.carts != nil {
		if err := i.carts.ClearCart(ctx, *o.UserID); err != nil {
			log.Warn("failed to clear cart after payment", zap.Error(err))
		}
	}

	if i.issuer != nil {
		i.issuer.IssueAsync(ctx, o.ID)
	}
}

func (i *Ingestor) markProcessed(ctx context.Context, log *zap.Logger, callbackID int64) {
	if callbackID == 0 {
		return
	}
	if err := i.payments.MarkCallbackProcessed(context.WithoutCancel(ctx), callbackID); err != nil {
		log.Error("failed to mark callback processed", zap.Error(err))
	}
}
