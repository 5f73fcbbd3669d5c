package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"paygate-be/internal/db"
	"paygate-be/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Repository interface {
	GetByID(ctx context.Context, orderID int64) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	FindPendingByAmount(ctx context.Context, amount decimal.Decimal, currency string) ([]*Order, error)
	GetItems(ctx context.Context, orderID int64) ([]OrderItem, error)

	ApplyTransition(ctx context.Context, t Transition) (*TransitionResult, error)
	AppendEvent(ctx context.Context, orderID int64, eventType EventType, data any) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const orderColumns = `
	id,
	number,
	user_id,
	total_amount,
	currency,
	payment_status,
	status,
	paid_at,
	COALESCE(email, ''),
	COALESCE(shipping_name, ''),
	COALESCE(shipping_phone, ''),
	COALESCE(shipping_address, ''),
	COALESCE(shipping_city, ''),
	shipping_fee,
	created_at,
	updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o      Order
		userID sql.NullInt64
	)
	err := row.Scan(
		&o.ID,
		&o.Number,
		&userID,
		&o.TotalAmount,
		&o.Currency,
		&o.PaymentStatus,
		&o.Status,
		&o.PaidAt,
		&o.Email,
		&o.Shipping.Name,
		&o.Shipping.Phone,
		&o.Shipping.Address,
		&o.Shipping.City,
		&o.Shipping.Fee,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		o.UserID = &userID.Int64
	}
	return &o, nil
}

func (r *repository) GetByID(ctx context.Context, orderID int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (r *repository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// FindPendingByAmount returns at most two candidates; callers only need to
// know whether the match is unique.
func (r *repository) FindPendingByAmount(ctx context.Context, amount decimal.Decimal, currency string) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status = 'pending'
		  AND currency = $2
		  AND ABS(total_amount - $1) <= 0.01
		ORDER BY id
		LIMIT 2
	`, amount, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *repository) GetItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id,
			order_id,
			COALESCE(product_id, 0),
			name,
			department,
			adg_code,
			unit,
			quantity,
			line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.ProductID,
			&it.Name,
			&it.Department,
			&it.AdgCode,
			&it.Unit,
			&it.Quantity,
			&it.LineTotal,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const (
	markPaidQuery = `
		UPDATE orders
		SET
			payment_status = 'paid',
			status = 'confirmed',
			paid_at = now(),
			updated_at = now()
		WHERE id = $1
		  AND payment_status = 'pending'
	`

	markFailedQuery = `
		UPDATE orders
		SET
			payment_status = 'failed',
			payment_error_code = NULLIF($2, ''),
			updated_at = now()
		WHERE id = $1
		  AND payment_status = 'pending'
	`
)

// ApplyTransition moves the order out of pending in one read-committed
// transaction. The order row is locked first and the conditional order
// update runs last, so two racing callbacks cannot both apply.
func (r *repository) ApplyTransition(ctx context.Context, t Transition) (*TransitionResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ApplyTransition"),
		zap.Int64("order_id", t.OrderID),
		zap.String("provider", t.Provider.String()),
		zap.String("target", string(t.Target())),
	)

	result := &TransitionResult{OrderID: t.OrderID}

	err := db.WithTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		var current PaymentStatus
		err := tx.QueryRowContext(ctx,
			`SELECT payment_status FROM orders WHERE id = $1 FOR UPDATE`, t.OrderID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		result.PaymentStatus = current
		if current != PaymentPending {
			return ErrPaymentNotPending
		}

		paymentStatus, eventType := "completed", EventPaymentCompleted
		if !t.Success {
			paymentStatus, eventType = "failed", EventPaymentFailed
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET
				status = $3,
				provider_payment_id = COALESCE(NULLIF($4, ''), provider_payment_id),
				provider_transaction_id = NULLIF($5, ''),
				error_code = NULLIF($6, ''),
				raw_response = $7,
				completed_at = CASE WHEN $3::text = 'completed' THEN now() ELSE completed_at END,
				failed_at = CASE WHEN $3::text = 'failed' THEN now() ELSE failed_at END,
				updated_at = now()
			WHERE order_id = $1
			  AND provider = $2
			  AND status = 'pending'
		`,
			t.OrderID,
			t.Provider,
			paymentStatus,
			t.ProviderPaymentID,
			t.ProviderTransactionID,
			t.ErrorCode,
			db.JSONArg(t.Raw),
		)
		if err != nil {
			log.Error("failed to update payment", zap.Error(err))
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Warn("no pending payment row for provider")
		}

		data, err := json.Marshal(map[string]any{
			"provider":                t.Provider,
			"provider_payment_id":     t.ProviderPaymentID,
			"provider_transaction_id": t.ProviderTransactionID,
			"amount":                  t.Amount.String(),
			"currency":                t.Currency,
			"error_code":              t.ErrorCode,
		})
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_events (order_id, type, data) VALUES ($1, $2, $3)`,
			t.OrderID, eventType, db.JSONArg(data),
		); err != nil {
			log.Error("failed to insert order event", zap.Error(err))
			return err
		}

		if t.Success {
			res, err = tx.ExecContext(ctx, markPaidQuery, t.OrderID)
		} else {
			res, err = tx.ExecContext(ctx, markFailedQuery, t.OrderID, t.ErrorCode)
		}
		if err != nil {
			log.Error("failed to update order", zap.Error(err))
			return err
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrPaymentNotPending
		}

		result.Applied = true
		result.PaymentStatus = t.Target()
		return nil
	})

	if errors.Is(err, ErrPaymentNotPending) {
		log.Info("order already settled, transition skipped", zap.String("payment_status", string(result.PaymentStatus)))
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("payment transition applied")
	return result, nil
}

func (r *repository) AppendEvent(ctx context.Context, orderID int64, eventType EventType, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO order_events (order_id, type, data) VALUES ($1, $2, $3)`,
		orderID, eventType, db.JSONArg(payload),
	)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to append order event",
			zap.String("layer", "repository"),
			zap.String("method", "AppendEvent"),
			zap.Int64("order_id", orderID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
	return err
}
