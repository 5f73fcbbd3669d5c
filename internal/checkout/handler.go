package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"paygate-be/internal/order"
	"paygate-be/internal/payment"
	"paygate-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type initiateRequest struct {
	Provider string `json:"provider"`
	Locale   string `json:"locale"`
}

// InitiatePayment handles POST /api/orders/{orderID}/payments.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID, ok := utils.ParseID(chi.URLParam(r, "orderID"))
	if !ok {
		utils.WriteJSONError(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	provider, err := payment.ParseProvider(req.Provider)
	if err != nil {
		utils.WriteJSONError(w, "unknown payment provider", http.StatusBadRequest)
		return
	}

	out, err := h.svc.InitiatePayment(r.Context(), userID, orderID, provider, req.Locale)
	if err != nil {
		msg, code := checkoutError(err)
		utils.WriteJSONError(w, msg, code)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, out)
}

func checkoutError(err error) (string, int) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return "order not found", http.StatusNotFound
	case errors.Is(err, order.ErrUnauthorized):
		return "forbidden", http.StatusForbidden
	case errors.Is(err, order.ErrPaymentNotPending), errors.Is(err, payment.ErrPaymentClosed):
		return "order is not awaiting payment", http.StatusConflict
	case errors.Is(err, payment.ErrUnknownProvider):
		return "payment provider not enabled", http.StatusBadRequest
	case errors.Is(err, payment.ErrCurrencyMismatch):
		return "currency not supported by provider", http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrProviderUnavailable):
		return "payment provider unavailable", http.StatusBadGateway
	default:
		return "internal error", http.StatusInternalServerError
	}
}
