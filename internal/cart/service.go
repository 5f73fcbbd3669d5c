package cart

import (
	"context"
	"fmt"

	"paygate-be/internal/logger"

	"go.uber.org/zap"
)

type Service interface {
	ClearCart(ctx context.Context, userID int64) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// ClearCart empties the user's cart. An already empty cart is not an error.
func (s *service) ClearCart(ctx context.Context, userID int64) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ClearCart"),
		zap.Int64("user_id", userID),
	)

	if userID <= 0 {
		return ErrUserNotAuthenticated
	}

	n, err := s.repo.ClearCart(ctx, userID)
	if err != nil {
		log.Error("failed to clear cart", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrFailedClearCart, err)
	}

	log.Info("cart cleared", zap.Int64("rows", n))
	return nil
}
