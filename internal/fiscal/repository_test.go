package fiscal

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewRepository(conn), mock
}

var receiptColumns = []string{
	"id", "order_id", "seq", "status", "receipt_id", "fiscal", "qr", "raw_response", "issued_at", "created_at", "updated_at",
}

func TestRepository_GetByOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Found", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(`SELECT .* FROM ehdm_receipts WHERE order_id = \$1`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows(receiptColumns).
				AddRow(1, 42, 17, "issued", "881", "77120931", "qr", []byte(`{"code":0}`), now, now, now))

		rc, err := repo.GetByOrder(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, ReceiptIssued, rc.Status)
		assert.Equal(t, int64(17), rc.Seq)
		assert.JSONEq(t, `{"code":0}`, string(rc.RawResponse))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(`SELECT .* FROM ehdm_receipts`).WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByOrder(ctx, 42)
		assert.ErrorIs(t, err, ErrReceiptNotFound)
	})
}

func TestRepository_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("Claimed", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(`INSERT INTO ehdm_receipts .* ON CONFLICT \(order_id\) DO UPDATE .* AND ehdm_receipts.seq IS NULL .* make_interval`).
			WithArgs(int64(42), float64(600)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

		ok, err := repo.Claim(ctx, 42, 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("HeldElsewhere", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(`INSERT INTO ehdm_receipts`).WillReturnError(sql.ErrNoRows)

		ok, err := repo.Claim(ctx, 42, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DBError", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(`INSERT INTO ehdm_receipts`).WillReturnError(errors.New("connection reset"))

		_, err := repo.Claim(ctx, 42, time.Minute)
		assert.Error(t, err)
	})
}

func TestRepository_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("Reserved", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectExec(`UPDATE ehdm_receipts SET seq = \$2.* WHERE order_id = \$1 AND status = 'pending' AND seq IS NULL`).
			WithArgs(int64(42), int64(17)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Reserve(ctx, 42, 17))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyReserved", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectExec(`UPDATE ehdm_receipts`).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Reserve(ctx, 42, 18), ErrReceiptNotFound)
	})
}

func TestRepository_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("Issued", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		rc := &Receipt{OrderID: 42, Seq: 17, ReceiptID: "881", Fiscal: "77120931", QR: "qr", RawResponse: []byte(`{"code":0}`)}

		mock.ExpectExec(`UPDATE ehdm_receipts SET .*status = 'issued'.* WHERE order_id = \$1 AND status = 'pending'`).
			WithArgs(int64(42), int64(17), "881", "77120931", "qr", `{"code":0}`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Complete(ctx, rc))
		assert.Equal(t, ReceiptIssued, rc.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ClaimLost", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectExec(`UPDATE ehdm_receipts`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Complete(ctx, &Receipt{OrderID: 42})
		assert.ErrorIs(t, err, ErrReceiptNotFound)
	})
}

func TestRepository_Release(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`DELETE FROM ehdm_receipts WHERE order_id = \$1 AND status = 'pending'`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Release(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}
