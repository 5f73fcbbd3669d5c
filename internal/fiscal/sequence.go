package fiscal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"paygate-be/internal/db"
	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SequenceAllocator hands out fiscal receipt numbers.
type SequenceAllocator interface {
	Allocate(ctx context.Context) (int64, error)
	Rollback(ctx context.Context, seq int64) error
}

const maxAllocateAttempts = 16

// Allocator keeps the counter in the single ehdm_state row. Every change runs
// in a serializable transaction, so concurrent callers and other instances
// never see the same number.
type Allocator struct {
	db    *sql.DB
	floor int64
}

func NewAllocator(conn *sql.DB, floor int64) *Allocator {
	if floor < 1 {
		floor = 1
	}
	return &Allocator{db: conn, floor: floor}
}

var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// Allocate returns the current next_seq and advances it by one.
func (a *Allocator) Allocate(ctx context.Context) (int64, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "allocator"),
		zap.String("method", "Allocate"),
	)

	var seq int64
	err := retrySerializable(ctx, func() error {
		return db.WithTx(ctx, a.db, serializable, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ehdm_state (id, next_seq) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, a.floor,
			); err != nil {
				return err
			}

			if err := tx.QueryRowContext(ctx,
				`SELECT next_seq FROM ehdm_state WHERE id = 1 FOR UPDATE`,
			).Scan(&seq); err != nil {
				return err
			}

			_, err := tx.ExecContext(ctx,
				`UPDATE ehdm_state SET next_seq = next_seq + 1, updated_at = now() WHERE id = 1`,
			)
			return err
		})
	})
	if err != nil {
		log.Error("sequence allocation failed", zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrSequenceUnavailable, err)
	}

	log.Info("sequence allocated", zap.Int64("seq", seq))
	return seq, nil
}

// Rollback gives seq back when it was the last number handed out and was
// never printed. Anything else (a later allocation, a repeated rollback, the
// counter at its floor) leaves the counter alone.
func (a *Allocator) Rollback(ctx context.Context, seq int64) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "allocator"),
		zap.String("method", "Rollback"),
		zap.Int64("seq", seq),
	)

	var affected int64
	err := retrySerializable(ctx, func() error {
		return db.WithTx(ctx, a.db, serializable, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE ehdm_state
				SET next_seq = next_seq - 1, updated_at = now()
				WHERE id = 1
				  AND next_seq = $1::bigint + 1
				  AND next_seq > $2
			`, seq, a.floor)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
	})
	if err != nil {
		metrics.SequenceRollbacksTotal.WithLabelValues("error").Inc()
		log.Error("sequence rollback failed", zap.Error(err))
		return err
	}

	if affected == 0 {
		metrics.SequenceRollbacksTotal.WithLabelValues("noop").Inc()
		log.Warn("sequence rollback skipped, counter moved on or at floor")
		return nil
	}

	metrics.SequenceRollbacksTotal.WithLabelValues("applied").Inc()
	log.Info("sequence rolled back")
	return nil
}

func retrySerializable(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAllocateAttempts; attempt++ {
		err = fn()
		if err == nil || !isSerializationFailure(err) {
			return err
		}

		backoff := time.Duration(attempt)*2*time.Millisecond + time.Duration(rand.IntN(3000))*time.Microsecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
