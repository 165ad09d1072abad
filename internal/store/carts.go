package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/models"
)

type AddCartItemRequest struct {
	UserID    int64
	ProductID int64
	Quantity  int
	Size      string
	Color     string
}

// AddCartItem upserts a cart line; adding the same product/variant again
// bumps the quantity instead of creating a duplicate row.
func AddCartItem(ctx context.Context, db *sql.DB, req AddCartItemRequest) (*models.CartItem, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", req.Quantity)
	}

	item := &models.CartItem{}
	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, size, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (user_id, product_id, size, color)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING id, user_id, product_id, quantity, size, color, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, req.UserID, req.ProductID, req.Quantity, req.Size, req.Color).Scan(
		&item.ID,
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.Size,
		&item.Color,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return item, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func GetCartItems(ctx context.Context, db *sql.DB, userID int64) ([]models.CartItem, error) {
	return queryCartItems(ctx, db, userID)
}

// getCartItemsTx reads the cart inside the checkout transaction, so the lines
// that get ordered and the lines that get cleared are the same set.
func getCartItemsTx(ctx context.Context, tx *sql.Tx, userID int64) ([]models.CartItem, error) {
	return queryCartItems(ctx, tx, userID)
}

func queryCartItems(ctx context.Context, q querier, userID int64) ([]models.CartItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, product_id, quantity, size, color, created_at, updated_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ProductID,
			&item.Quantity,
			&item.Size,
			&item.Color,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// clearCartTx runs inside the checkout transaction so the cart empties
// atomically with the order creation.
func clearCartTx(ctx context.Context, tx *sql.Tx, userID int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
