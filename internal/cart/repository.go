package cart

import (
	"context"
	"database/sql"
)

// Repository covers the one cart operation payments need. Cart contents
// belong to the storefront.
type Repository interface {
	ClearCart(ctx context.Context, userID int64) (int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ClearCart(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
