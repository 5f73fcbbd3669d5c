package fiscal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paygate-be/internal/db"
	"paygate-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	GetByOrder(ctx context.Context, orderID int64) (*Receipt, error)
	// Claim reserves the order for one issuer. A pending claim older than
	// staleAfter is taken over.
	Claim(ctx context.Context, orderID int64, staleAfter time.Duration) (bool, error)
	// Reserve records the sequence number on the claim before printing. A
	// claim carrying a sequence is never taken over.
	Reserve(ctx context.Context, orderID, seq int64) error
	Complete(ctx context.Context, r *Receipt) error
	Release(ctx context.Context, orderID int64) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByOrder(ctx context.Context, orderID int64) (*Receipt, error) {
	const q = `
	SELECT
		id,
		order_id,
		COALESCE(seq, 0),
		status,
		COALESCE(receipt_id, ''),
		COALESCE(fiscal, ''),
		COALESCE(qr, ''),
		raw_response,
		issued_at,
		created_at,
		updated_at
	FROM ehdm_receipts
	WHERE order_id = $1
	`

	var (
		rc  Receipt
		raw []byte
	)
	err := r.db.QueryRowContext(ctx, q, orderID).Scan(
		&rc.ID,
		&rc.OrderID,
		&rc.Seq,
		&rc.Status,
		&rc.ReceiptID,
		&rc.Fiscal,
		&rc.QR,
		&raw,
		&rc.IssuedAt,
		&rc.CreatedAt,
		&rc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	rc.RawResponse = raw

	return &rc, nil
}

func (r *repository) Claim(ctx context.Context, orderID int64, staleAfter time.Duration) (bool, error) {
	const q = `
	INSERT INTO ehdm_receipts (order_id, status)
	VALUES ($1, 'pending')
	ON CONFLICT (order_id)
	DO UPDATE SET updated_at = now()
	WHERE ehdm_receipts.status = 'pending'
	  AND ehdm_receipts.seq IS NULL
	  AND ehdm_receipts.updated_at < now() - make_interval(secs => $2)
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(ctx, q, orderID, staleAfter.Seconds()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to claim fiscal receipt",
			zap.String("layer", "repository"),
			zap.String("method", "Claim"),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
		return false, err
	}

	return true, nil
}

func (r *repository) Reserve(ctx context.Context, orderID, seq int64) error {
	const q = `
	UPDATE ehdm_receipts
	SET seq = $2, updated_at = now()
	WHERE order_id = $1
	  AND status = 'pending'
	  AND seq IS NULL
	`

	res, err := r.db.ExecContext(ctx, q, orderID, seq)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to reserve fiscal sequence",
			zap.String("layer", "repository"),
			zap.String("method", "Reserve"),
			zap.Int64("order_id", orderID),
			zap.Int64("seq", seq),
			zap.Error(err),
		)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

func (r *repository) Complete(ctx context.Context, rc *Receipt) error {
	const q = `
	UPDATE ehdm_receipts
	SET
		status = 'issued',
		seq = $2,
		receipt_id = $3,
		fiscal = $4,
		qr = $5,
		raw_response = $6,
		issued_at = now(),
		updated_at = now()
	WHERE order_id = $1
	  AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, q,
		rc.OrderID,
		rc.Seq,
		rc.ReceiptID,
		rc.Fiscal,
		rc.QR,
		db.JSONArg(rc.RawResponse),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrReceiptNotFound
	}

	rc.Status = ReceiptIssued
	return nil
}

func (r *repository) Release(ctx context.Context, orderID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM ehdm_receipts WHERE order_id = $1 AND status = 'pending'`, orderID,
	)
	return err
}
