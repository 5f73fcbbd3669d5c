package order

import (
	"context"
	"errors"

	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"
	"paygate-be/internal/payment"

	"go.uber.org/zap"
)

type Service interface {
	GetByID(ctx context.Context, orderID int64) (*Order, error)
	GetItems(ctx context.Context, orderID int64) ([]OrderItem, error)

	// ResolveForCallback finds the order an authenticated outcome refers to.
	ResolveForCallback(ctx context.Context, outcome *payment.Outcome) (*Order, error)
	ApplyPaymentOutcome(ctx context.Context, orderID int64, outcome *payment.Outcome) (*TransitionResult, error)

	AppendEvent(ctx context.Context, orderID int64, eventType EventType, data any) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetByID(ctx context.Context, orderID int64) (*Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

func (s *service) GetItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	return s.repo.GetItems(ctx, orderID)
}

func (s *service) AppendEvent(ctx context.Context, orderID int64, eventType EventType, data any) error {
	return s.repo.AppendEvent(ctx, orderID, eventType, data)
}

func (s *service) ResolveForCallback(ctx context.Context, outcome *payment.Outcome) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ResolveForCallback"),
		zap.String("provider", outcome.Provider.String()),
		zap.Strings("references", outcome.References),
	)

	for _, ref := range outcome.References {
		if ref == "" {
			continue
		}
		o, err := s.repo.GetByNumber(ctx, ref)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			log.Error("order lookup failed", zap.Error(err))
			return nil, err
		}
	}

	if !outcome.MatchByAmount {
		return nil, ErrOrderNotFound
	}

	candidates, err := s.repo.FindPendingByAmount(ctx, outcome.Amount, outcome.Currency)
	if err != nil {
		log.Error("amount lookup failed", zap.Error(err))
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return nil, ErrOrderNotFound
	case 1:
		log.Warn("order matched by amount", zap.Int64("order_id", candidates[0].ID))
		return candidates[0], nil
	default:
		log.Error("several pending orders share the amount, manual reconciliation required",
			zap.String("amount", outcome.Amount.String()),
			zap.String("currency", outcome.Currency),
		)
		return nil, ErrAmbiguousOrder
	}
}

func (s *service) ApplyPaymentOutcome(ctx context.Context, orderID int64, outcome *payment.Outcome) (*TransitionResult, error) {
	t := Transition{
		OrderID:               orderID,
		Provider:              outcome.Provider,
		Success:               outcome.Success,
		ProviderPaymentID:     outcome.ProviderPaymentID,
		ProviderTransactionID: outcome.ProviderTransactionID,
		Amount:                outcome.Amount,
		Currency:              outcome.Currency,
		ErrorCode:             outcome.ErrorCode,
		Raw:                   outcome.Raw,
	}

	res, err := s.repo.ApplyTransition(ctx, t)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to apply payment outcome",
			zap.String("layer", "service"),
			zap.String("method", "ApplyPaymentOutcome"),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
		return nil, err
	}

	if res.Applied {
		metrics.TransitionsTotal.WithLabelValues(outcome.Provider.String(), string(res.PaymentStatus)).Inc()
	}

	return res, nil
}
