package checkout

import (
	"context"
	"fmt"

	"paygate-be/internal/logger"
	"paygate-be/internal/order"
	"paygate-be/internal/payment"

	"go.uber.org/zap"
)

// Orders is the read side checkout needs.
type Orders interface {
	GetByID(ctx context.Context, orderID int64) (*order.Order, error)
}

type Service interface {
	// InitiatePayment starts a payment attempt for the user's pending order
	// and returns what the customer must be sent to.
	InitiatePayment(ctx context.Context, userID, orderID int64, provider payment.Provider, locale string) (*payment.OutboundRequest, error)
}

type service struct {
	orders   Orders
	payments payment.Repository
	registry *payment.Registry
}

func NewService(orders Orders, payments payment.Repository, registry *payment.Registry) Service {
	return &service{
		orders:   orders,
		payments: payments,
		registry: registry,
	}
}

func (s *service) InitiatePayment(ctx context.Context, userID, orderID int64, provider payment.Provider, locale string) (*payment.OutboundRequest, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "InitiatePayment"),
		zap.Int64("order_id", orderID),
		zap.String("provider", provider.String()),
	)

	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID == nil || *o.UserID != userID {
		log.Warn("checkout for foreign order", zap.Int64("user_id", userID))
		return nil, order.ErrUnauthorized
	}
	if o.PaymentStatus != order.PaymentPending || o.Status == order.StatusCancelled {
		return nil, order.ErrPaymentNotPending
	}

	bill := payment.Bill{
		OrderID:     o.ID,
		Number:      o.Number,
		Amount:      o.TotalAmount,
		Currency:    o.Currency,
		Description: fmt.Sprintf("Order %s", o.Number),
		Email:       o.Email,
	}

	out, err := adapter.BuildOutboundRequest(ctx, bill, locale)
	if err != nil {
		log.Error("failed to build outbound request", zap.Error(err))
		return nil, err
	}

	p := &payment.Payment{
		OrderID:           o.ID,
		Provider:          provider,
		ProviderPaymentID: out.ProviderPaymentID,
		Amount:            o.TotalAmount,
		Currency:          o.Currency,
	}
	if err := s.payments.UpsertPending(ctx, p); err != nil {
		return nil, err
	}

	log.Info("payment initiated", zap.Int64("payment_id", p.ID))
	return out, nil
}
