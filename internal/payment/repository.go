package payment

import (
	"context"
	"database/sql"
	"errors"

	"paygate-be/internal/db"
	"paygate-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	UpsertPending(ctx context.Context, p *Payment) error
	GetByOrderAndProvider(ctx context.Context, orderID int64, provider Provider) (*Payment, error)

	SaveCallback(ctx context.Context, cb *Callback) (callbackID int64, isDuplicate bool, err error)
	MarkCallbackProcessed(ctx context.Context, callbackID int64) error
	MarkCallbackFailed(ctx context.Context, callbackID int64, reason string, signatureValid bool) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// UpsertPending creates the payment attempt for (order, provider) or
// refreshes it while it is still pending. A settled attempt is never
// reopened.
func (r *repository) UpsertPending(ctx context.Context, p *Payment) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "UpsertPending"),
		zap.Int64("order_id", p.OrderID),
		zap.String("provider", p.Provider.String()),
	)

	const q = `
	INSERT INTO payments (
		order_id,
		provider,
		status,
		provider_payment_id,
		amount,
		currency
	)
	VALUES ($1, $2, 'pending', NULLIF($3, ''), $4, $5)
	ON CONFLICT (order_id, provider)
	DO UPDATE SET
		provider_payment_id = EXCLUDED.provider_payment_id,
		amount = EXCLUDED.amount,
		currency = EXCLUDED.currency,
		updated_at = now()
	WHERE payments.status = 'pending'
	RETURNING id, status, created_at, updated_at;
	`

	err := r.db.QueryRowContext(ctx, q,
		p.OrderID,
		p.Provider,
		p.ProviderPaymentID,
		p.Amount,
		p.Currency,
	).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("payment attempt already settled")
		return ErrPaymentClosed
	}
	if err != nil {
		log.Error("failed to upsert payment", zap.Error(err))
		return err
	}

	return nil
}

func (r *repository) GetByOrderAndProvider(ctx context.Context, orderID int64, provider Provider) (*Payment, error) {
	const q = `
	SELECT
		id,
		order_id,
		provider,
		status,
		COALESCE(provider_payment_id, ''),
		COALESCE(provider_transaction_id, ''),
		amount,
		currency,
		COALESCE(error_code, ''),
		raw_response,
		completed_at,
		failed_at,
		created_at,
		updated_at
	FROM payments
	WHERE order_id = $1 AND provider = $2
	`

	var (
		p   Payment
		raw []byte
	)
	err := r.db.QueryRowContext(ctx, q, orderID, provider).Scan(
		&p.ID,
		&p.OrderID,
		&p.Provider,
		&p.Status,
		&p.ProviderPaymentID,
		&p.ProviderTransactionID,
		&p.Amount,
		&p.Currency,
		&p.ErrorCode,
		&raw,
		&p.CompletedAt,
		&p.FailedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load payment",
			zap.String("layer", "repository"),
			zap.String("method", "GetByOrderAndProvider"),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
		return nil, err
	}
	p.RawResponse = raw

	return &p, nil
}

// SaveCallback stores the raw callback once per (provider, event_id). A
// replay returns isDuplicate and no id.
func (r *repository) SaveCallback(ctx context.Context, cb *Callback) (int64, bool, error) {
	const q = `
	INSERT INTO payment_callbacks (
		provider,
		event_id,
		bill_reference,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (provider, event_id)
	DO NOTHING
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		cb.Provider,
		cb.EventID,
		cb.BillReference,
		cb.SignatureValid,
		db.JSONArg(cb.Payload),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, err
	}

	return id, false, nil
}

func (r *repository) MarkCallbackProcessed(ctx context.Context, callbackID int64) error {
	const q = `
	UPDATE payment_callbacks
	SET processed_at = now(), signature_valid = TRUE, process_error = NULL
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID)
	return err
}

func (r *repository) MarkCallbackFailed(ctx context.Context, callbackID int64, reason string, signatureValid bool) error {
	const q = `
	UPDATE payment_callbacks
	SET process_error = $2, signature_valid = $3
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID, reason, signatureValid)
	return err
}
