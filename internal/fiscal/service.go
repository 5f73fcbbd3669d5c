package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"
	"paygate-be/internal/order"

	"go.uber.org/zap"
)

// Orders is what issuance reads from and appends to the order side.
type Orders interface {
	GetByID(ctx context.Context, orderID int64) (*order.Order, error)
	GetItems(ctx context.Context, orderID int64) ([]order.OrderItem, error)
	AppendEvent(ctx context.Context, orderID int64, eventType order.EventType, data any) error
}

type Service interface {
	Issue(ctx context.Context, orderID int64) (*Receipt, error)
	// IssueAsync runs Issue in the background; errors are only logged.
	IssueAsync(ctx context.Context, orderID int64)
	Wait()
}

const (
	fiscalCurrency  = "AMD"
	claimStaleAfter = 10 * time.Minute
	asyncTimeout    = 2 * time.Minute
)

type service struct {
	cfg       config.FiscalConfig
	orders    Orders
	receipts  Repository
	allocator SequenceAllocator
	client    Client

	wg sync.WaitGroup
}

func NewService(cfg config.FiscalConfig, orders Orders, receipts Repository, allocator SequenceAllocator, client Client) Service {
	return &service{
		cfg:       cfg,
		orders:    orders,
		receipts:  receipts,
		allocator: allocator,
		client:    client,
	}
}

func (s *service) Issue(ctx context.Context, orderID int64) (*Receipt, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Issue"),
		zap.Int64("order_id", orderID),
	)

	if !s.cfg.Enabled || s.client == nil {
		return nil, ErrDisabled
	}

	existing, err := s.receipts.GetByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, ErrReceiptNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == ReceiptIssued {
		metrics.FiscalSubmissionsTotal.WithLabelValues("skipped").Inc()
		log.Info("fiscal receipt already issued", zap.Int64("seq", existing.Seq))
		return existing, nil
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != order.PaymentPaid || !strings.EqualFold(o.Currency, fiscalCurrency) {
		log.Info("order not eligible for fiscal receipt",
			zap.String("payment_status", string(o.PaymentStatus)),
			zap.String("currency", o.Currency),
		)
		return nil, ErrNotEligible
	}

	claimed, err := s.receipts.Claim(ctx, orderID, claimStaleAfter)
	if err != nil {
		return nil, err
	}
	if !claimed {
		rc, err := s.receipts.GetByOrder(ctx, orderID)
		if err == nil && rc.Status == ReceiptIssued {
			return rc, nil
		}
		if err == nil && rc.Seq > 0 && time.Since(rc.UpdatedAt) > claimStaleAfter {
			log.Error("fiscal receipt left unrecorded, manual reconciliation required", zap.Int64("seq", rc.Seq))
			return nil, ErrReceiptUnrecorded
		}
		log.Info("fiscal receipt issuance already in progress")
		return nil, ErrReceiptInProgress
	}

	return s.print(ctx, o)
}

// print runs with the claim held. The sequence is written to the claim before
// the service sees it, so a claim that outlives its print is never taken over
// and printed again. Once the service has accepted a receipt its sequence
// number is spent and must never be rolled back.
func (s *service) print(ctx context.Context, o *order.Order) (*Receipt, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "print"),
		zap.Int64("order_id", o.ID),
	)

	release := func() bool {
		if err := s.receipts.Release(context.WithoutCancel(ctx), o.ID); err != nil {
			log.Error("failed to release fiscal receipt claim", zap.Error(err))
			return false
		}
		return true
	}
	rollback := func(seq int64) {
		if err := s.allocator.Rollback(context.WithoutCancel(ctx), seq); err != nil {
			log.Error("failed to roll back fiscal sequence", zap.Error(err))
		}
	}

	items, err := s.orders.GetItems(ctx, o.ID)
	if err != nil {
		release()
		return nil, err
	}

	req, err := BuildRequest(s.cfg, o, items)
	if err != nil {
		log.Error("cannot build fiscal receipt", zap.Error(err))
		release()
		return nil, err
	}

	seq, err := s.allocator.Allocate(ctx)
	if err != nil {
		release()
		return nil, err
	}
	req.Seq = seq
	log = log.With(zap.Int64("seq", seq))

	if err := s.receipts.Reserve(ctx, o.ID, seq); err != nil {
		log.Error("failed to reserve fiscal sequence on claim", zap.Error(err))
		if release() {
			rollback(seq)
		}
		return nil, err
	}

	resp, err := s.client.Print(ctx, req)
	if err != nil {
		detached := context.WithoutCancel(ctx)

		// The claim holds seq, so it goes first. A claim that cannot be
		// dropped keeps its number and leaves a gap instead.
		if release() {
			rollback(seq)
		}

		failure := map[string]any{"seq": seq, "error": err.Error()}
		if resp != nil {
			failure["code"] = resp.Code
		}
		if evErr := s.orders.AppendEvent(detached, o.ID, order.EventFiscalReceiptFailed, failure); evErr != nil {
			log.Error("failed to record fiscal failure event", zap.Error(evErr))
		}

		metrics.FiscalSubmissionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	rc := &Receipt{
		OrderID:     o.ID,
		Seq:         seq,
		ReceiptID:   strconv.FormatInt(resp.Result.Rseq, 10),
		Fiscal:      resp.Result.Fiscal,
		QR:          resp.Result.QR,
		RawResponse: resp.Raw,
	}

	// The receipt exists at the service from here on.
	detached := context.WithoutCancel(ctx)
	if err := s.receipts.Complete(detached, rc); err != nil {
		log.Error("fiscal receipt printed but not recorded", zap.String("receipt_id", rc.ReceiptID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrReceiptUnrecorded, err)
	}

	if err := s.orders.AppendEvent(detached, o.ID, order.EventFiscalReceiptIssued, map[string]any{
		"seq":        seq,
		"receipt_id": rc.ReceiptID,
		"fiscal":     rc.Fiscal,
	}); err != nil {
		log.Error("failed to record fiscal issued event", zap.Error(err))
	}

	metrics.FiscalSubmissionsTotal.WithLabelValues("issued").Inc()
	log.Info("fiscal receipt issued", zap.String("receipt_id", rc.ReceiptID))
	return rc, nil
}

func (s *service) IssueAsync(ctx context.Context, orderID int64) {
	if !s.cfg.Enabled {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
		defer cancel()

		log := logger.FromCtx(ctx).With(zap.Int64("order_id", orderID))
		defer func() {
			if r := recover(); r != nil {
				log.Error("fiscal issuance panicked", zap.Any("panic", r))
			}
		}()

		if _, err := s.Issue(ctx, orderID); err != nil && !errors.Is(err, ErrNotEligible) {
			log.Warn("background fiscal issuance failed", zap.Error(err))
		}
	}()
}

// Wait blocks until background issuances finish.
func (s *service) Wait() {
	s.wg.Wait()
}
