package webhook

import (
	"errors"
	"net/http"
	"net/url"

	"paygate-be/internal/logger"
	"paygate-be/internal/order"
	"paygate-be/internal/payment"
	"paygate-be/internal/utils"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// Minimal answers providers get back. Nothing about why a callback was
// rejected leaves the service.
const (
	walletAccepted      = "OK"
	walletRejected      = "ERROR"
	mobileMoneyAccepted = "OK"
	mobileMoneyRejected = "FAIL"
)

type Handler struct {
	ingestor   *Ingestor
	successURL string
	failureURL string
}

func NewHandler(ingestor *Ingestor, successURL, failureURL string) *Handler {
	return &Handler{
		ingestor:   ingestor,
		successURL: successURL,
		failureURL: failureURL,
	}
}

// Wallet handles both the unsigned precheck and the signed confirmation.
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	params, ok := formParams(w, r)
	if !ok {
		utils.WriteText(w, walletRejected, http.StatusOK)
		return
	}

	if _, err := h.ingestor.Ingest(r.Context(), payment.ProviderWallet, params); err != nil {
		h.rejectText(w, r, err, walletRejected)
		return
	}
	utils.WriteText(w, walletAccepted, http.StatusOK)
}

// BankCardReturn is where the customer's browser lands after the card page.
// The answer is a redirect to the storefront result page.
func (h *Handler) BankCardReturn(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingestor.Ingest(r.Context(), payment.ProviderBankCard, r.URL.Query())
	if err != nil || !res.Paid() {
		http.Redirect(w, r, resultURL(h.failureURL, res), http.StatusFound)
		return
	}
	http.Redirect(w, r, resultURL(h.successURL, res), http.StatusFound)
}

func (h *Handler) MobileMoney(w http.ResponseWriter, r *http.Request) {
	params, ok := formParams(w, r)
	if !ok {
		utils.WriteText(w, mobileMoneyRejected, http.StatusOK)
		return
	}

	if _, err := h.ingestor.Ingest(r.Context(), payment.ProviderMobileMoney, params); err != nil {
		h.rejectText(w, r, err, mobileMoneyRejected)
		return
	}
	utils.WriteText(w, mobileMoneyAccepted, http.StatusOK)
}

type deliveryAck struct {
	Status string `json:"status"`
}

func (h *Handler) Delivery(w http.ResponseWriter, r *http.Request) {
	params, ok := formParams(w, r)
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, deliveryAck{Status: "rejected"})
		return
	}

	if _, err := h.ingestor.Ingest(r.Context(), payment.ProviderDelivery, params); err != nil {
		if isRejection(err) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, deliveryAck{Status: "rejected"})
			return
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, deliveryAck{Status: "retry"})
		return
	}
	render.JSON(w, r, deliveryAck{Status: "ok"})
}

// rejectText answers a text protocol provider. Internal failures get a 500 so
// the provider retries; everything else is a final rejection.
func (h *Handler) rejectText(w http.ResponseWriter, r *http.Request, err error, token string) {
	if isRejection(err) {
		utils.WriteText(w, token, http.StatusOK)
		return
	}
	logger.FromCtx(r.Context()).Error("callback failed",
		zap.String("layer", "handler"),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	utils.WriteText(w, token, http.StatusInternalServerError)
}

func isRejection(err error) bool {
	for _, target := range []error{
		payment.ErrAuthentication,
		payment.ErrMalformedCallback,
		payment.ErrAmountMismatch,
		payment.ErrCurrencyMismatch,
		payment.ErrUnknownProvider,
		order.ErrOrderNotFound,
		order.ErrAmbiguousOrder,
		order.ErrPaymentNotPending,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// formParams merges the query string and a form encoded body.
func formParams(w http.ResponseWriter, r *http.Request) (url.Values, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		logger.FromCtx(r.Context()).Warn("unreadable callback body",
			zap.String("layer", "handler"),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		return nil, false
	}
	return r.Form, true
}

func resultURL(base string, res *Result) string {
	if base == "" {
		base = "/"
	}
	if res == nil || res.Order == nil {
		return base
	}

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("order", res.Order.Number)
	u.RawQuery = q.Encode()
	return u.String()
}
