package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository is the host platform's order store. UpdateStatus is a
// compare-and-set and is the only serialization point for concurrent
// notifications on the same order.
type Repository interface {
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	SetMeta(ctx context.Context, orderID int64, meta map[string]string) error
	UpdateStatus(ctx context.Context, orderID int64, from, to OrderStatus, note string) error
	AnnotateOnce(ctx context.Context, orderID int64, metaKey, metaValue, note string) (bool, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var o Order
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_key, total, currency, status, needs_processing, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(
		&o.ID, &o.Key, &o.Total, &o.Currency, &o.Status, &o.NeedsProcessing, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT meta_key, meta_value FROM order_meta WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	o.Metadata = make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		o.Metadata[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &o, nil
}

func (r *repository) SetMeta(ctx context.Context, orderID int64, meta map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for k, v := range meta {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_meta (order_id, meta_key, meta_value)
			VALUES ($1, $2, $3)
			ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value
		`, orderID, k, v)
		if err != nil {
			return fmt.Errorf("failed to save order meta %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, orderID int64, from, to OrderStatus, note string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, orderID, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStatusConflict
	}

	if note != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_notes (order_id, note) VALUES ($1, $2)
		`, orderID, note); err != nil {
			return fmt.Errorf("failed to add order note: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AnnotateOnce writes metaKey and note together, only the first time metaKey
// is set for the order.
func (r *repository) AnnotateOnce(ctx context.Context, orderID int64, metaKey, metaValue, note string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO order_meta (order_id, meta_key, meta_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id, meta_key) DO NOTHING
	`, orderID, metaKey, metaValue)
	if err != nil {
		return false, fmt.Errorf("failed to save order meta %q: %w", metaKey, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_notes (order_id, note) VALUES ($1, $2)
	`, orderID, note); err != nil {
		return false, fmt.Errorf("failed to add order note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
