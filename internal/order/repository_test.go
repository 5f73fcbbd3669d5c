package order

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"paygate-be/internal/payment"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{
	"id", "number", "user_id", "total_amount", "currency", "payment_status", "status", "paid_at",
	"email", "shipping_name", "shipping_phone", "shipping_address", "shipping_city", "shipping_fee",
	"created_at", "updated_at",
}

func orderRow(rows *sqlmock.Rows, id int64, number string, userID any, total string, status string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, number, userID, total, "AMD", status, "pending", nil,
		"buyer@example.com", "Ani", "+37499000000", "Abovyan 1", "Yerevan", "0", now, now)
}

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func paidTransition() Transition {
	return Transition{
		OrderID:               7,
		Provider:              payment.ProviderWallet,
		Success:               true,
		ProviderTransactionID: "998877",
		Amount:                decimal.NewFromInt(5000),
		Currency:              "AMD",
		Raw:                   []byte(`{"EDP_TRANS_ID":"998877"}`),
	}
}

func TestRepository_GetByNumber(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery(`SELECT .* FROM orders WHERE number = \$1`).
			WithArgs("ORD-7").
			WillReturnRows(orderRow(sqlmock.NewRows(orderCols), 7, "ORD-7", int64(42), "5000.00", "pending"))

		o, err := repo.GetByNumber(ctx, "ORD-7")
		require.NoError(t, err)
		assert.Equal(t, int64(7), o.ID)
		require.NotNil(t, o.UserID)
		assert.Equal(t, int64(42), *o.UserID)
		assert.Equal(t, PaymentPending, o.PaymentStatus)
		assert.Equal(t, "Yerevan", o.Shipping.City)
		assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(5000)))
	})

	t.Run("GuestOrder", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery(`SELECT .* FROM orders WHERE id = \$1`).
			WithArgs(int64(8)).
			WillReturnRows(orderRow(sqlmock.NewRows(orderCols), 8, "ORD-8", nil, "100", "paid"))

		o, err := repo.GetByID(ctx, 8)
		require.NoError(t, err)
		assert.Nil(t, o.UserID)
	})

	t.Run("NotFound", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery(`SELECT .* FROM orders WHERE number = \$1`).WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByNumber(ctx, "nope")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestRepository_FindPendingByAmount(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows(orderCols)
	orderRow(rows, 1, "ORD-1", nil, "5000", "pending")
	orderRow(rows, 2, "ORD-2", nil, "5000", "pending")

	mock.ExpectQuery(`SELECT .* FROM orders\s+WHERE payment_status = 'pending'`).
		WithArgs(decimal.NewFromInt(5000), "AMD").
		WillReturnRows(rows)

	got, err := repo.FindPendingByAmount(context.Background(), decimal.NewFromInt(5000), "AMD")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRepository_GetItems(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .* FROM order_items`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "product_id", "name", "department", "adg_code", "unit", "quantity", "line_total",
		}).
			AddRow(int64(1), int64(7), int64(100), "Tea", 1, "1006", "pcs", "3", "1000.00").
			AddRow(int64(2), int64(7), int64(101), "Honey", 1, "0409", "kg", "0.5", "2500.00"))

	items, err := repo.GetItems(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Tea", items[0].Name)
	assert.Equal(t, "0.5", items[1].Quantity.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ApplyTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("Paid", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		tr := paidTransition()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT payment_status FROM orders WHERE id = \$1 FOR UPDATE`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow("pending"))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(int64(7), payment.ProviderWallet, "completed", "", "998877", "", `{"EDP_TRANS_ID":"998877"}`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_events`).
			WithArgs(int64(7), EventPaymentCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE orders\s+SET\s+payment_status = 'paid'`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.ApplyTransition(ctx, tr)
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, PaymentPaid, res.PaymentStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failed", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		tr := paidTransition()
		tr.Provider = payment.ProviderBankCard
		tr.Success = false
		tr.ProviderPaymentID = "pay-abc"
		tr.ErrorCode = "0116"

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT payment_status FROM orders`).
			WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow("pending"))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(int64(7), payment.ProviderBankCard, "failed", "pay-abc", "998877", "0116", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_events`).
			WithArgs(int64(7), EventPaymentFailed, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE orders\s+SET\s+payment_status = 'failed'`).
			WithArgs(int64(7), "0116").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.ApplyTransition(ctx, tr)
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, PaymentFailed, res.PaymentStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyPaid", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT payment_status FROM orders`).
			WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow("paid"))
		mock.ExpectRollback()

		res, err := repo.ApplyTransition(ctx, paidTransition())
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, PaymentPaid, res.PaymentStatus)
		// no payment update, no event
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LostRaceOnFinalUpdate", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT payment_status FROM orders`).
			WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow("pending"))
		mock.ExpectExec(`UPDATE payments`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_events`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		res, err := repo.ApplyTransition(ctx, paidTransition())
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NoPaymentRow", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT payment_status FROM orders`).
			WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow("pending"))
		mock.ExpectExec(`UPDATE payments`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO order_events`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.ApplyTransition(ctx, paidTransition())
		require.NoError(t, err)
		assert.True(t, res.Applied)
	})

	t.Run("OrderNotFound", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT payment_status FROM orders`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.ApplyTransition(ctx, paidTransition())
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("EventInsertFails", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT payment_status FROM orders`).
			WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow("pending"))
		mock.ExpectExec(`UPDATE payments`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_events`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := repo.ApplyTransition(ctx, paidTransition())
		assert.EqualError(t, err, "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_AppendEvent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO order_events`).
		WithArgs(int64(7), EventFiscalReceiptIssued, `{"seq":12}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AppendEvent(context.Background(), 7, EventFiscalReceiptIssued, map[string]int{"seq": 12})
	assert.NoError(t, err)
}
