package fiscal

import (
	"errors"
	"net/http"
	"time"

	"paygate-be/internal/order"
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

type receiptResponse struct {
	OrderID   int64      `json:"orderId"`
	Seq       int64      `json:"seq"`
	ReceiptID string     `json:"receiptId"`
	Fiscal    string     `json:"fiscal"`
	QR        string     `json:"qr"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty"`
}

// Issue handles POST /internal/orders/{orderID}/fiscal-receipt. It is safe to
// call again for an order whose receipt already exists.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	orderID, ok := utils.ParseID(chi.URLParam(r, "orderID"))
	if !ok {
		utils.WriteJSONError(w, "invalid order id", http.StatusBadRequest)
		return
	}

	rc, err := h.svc.Issue(r.Context(), orderID)
	if err != nil {
		msg, code := issueError(err)
		utils.WriteJSONError(w, msg, code)
		return
	}

	render.JSON(w, r, receiptResponse{
		OrderID:   rc.OrderID,
		Seq:       rc.Seq,
		ReceiptID: rc.ReceiptID,
		Fiscal:    rc.Fiscal,
		QR:        rc.QR,
		IssuedAt:  rc.IssuedAt,
	})
}

func issueError(err error) (string, int) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return "order not found", http.StatusNotFound
	case errors.Is(err, ErrNotEligible):
		return "order is not eligible for a fiscal receipt", http.StatusConflict
	case errors.Is(err, ErrReceiptInProgress):
		return "fiscal receipt issuance in progress", http.StatusConflict
	case errors.Is(err, ErrReceiptUnrecorded):
		return "fiscal receipt needs manual reconciliation", http.StatusConflict
	case errors.Is(err, ErrDisabled):
		return "fiscal receipts are disabled", http.StatusServiceUnavailable
	case errors.Is(err, ErrServiceRejected):
		return "fiscal service rejected the receipt", http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrSequenceUnavailable):
		return "fiscal service unavailable", http.StatusServiceUnavailable
	default:
		return "internal error", http.StatusInternalServerError
	}
}
