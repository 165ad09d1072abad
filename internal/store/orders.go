package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	UserID          int64
	Items           []OrderItemRequest
	PaymentMethod   string
	ShippingAddress string
	Discount        decimal.Decimal
	// ClientTotal is only a sanity signal; the server-computed total is
	// always what gets persisted.
	ClientTotal *decimal.Decimal
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
	Size      string
	Color     string
}

func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102150405"), suffix)
}

const orderColumns = `id, user_id, order_number, status, payment_status, payment_method,
	payment_intent_id, subtotal, tax, shipping_fee, discount, total_amount,
	shipping_address, tracking_number, estimated_delivery, created_at, updated_at,
	cancelled_at, shipped_at, delivered_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := s.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentMethod,
		&order.PaymentIntentID,
		&order.Subtotal,
		&order.Tax,
		&order.ShippingFee,
		&order.Discount,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.TrackingNumber,
		&order.EstimatedDelivery,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.CancelledAt,
		&order.ShippedAt,
		&order.DeliveredAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// precheckStock is the fast-fail path: a non-authoritative read outside any
// transaction. The authoritative re-check happens under FOR UPDATE inside the
// checkout transaction.
func precheckStock(ctx context.Context, db *sql.DB, items []OrderItemRequest) error {
	for _, item := range items {
		var stock int
		err := db.QueryRowContext(ctx,
			`SELECT stock_quantity FROM products WHERE id = $1`,
			item.ProductID).Scan(&stock)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrProductNotFound
			}
			return fmt.Errorf("precheck product %d: %w", item.ProductID, err)
		}
		if stock < item.Quantity {
			return fmt.Errorf("%w: product %d has %d, requested %d",
				database.ErrInsufficientStock, item.ProductID, stock, item.Quantity)
		}
	}
	return nil
}

func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for product %d", item.Quantity, item.ProductID)
		}
	}

	if err := precheckStock(ctx, db, req.Items); err != nil {
		return nil, err
	}

	var order *models.Order
	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var err error
		order, err = createOrderTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	items, err := getOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	logTotalMismatch(req.ClientTotal, order)
	return order, nil
}

// CreateOrderFromCart builds the order from the user's stored cart lines and
// clears the cart inside the same transaction, so a crash mid-way leaves
// either the full before-state or the full after-state. The cart is read
// inside the transaction too: every line the clear deletes is a line the
// order contains.
func CreateOrderFromCart(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	var order *models.Order
	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		cartItems, err := getCartItemsTx(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if len(cartItems) == 0 {
			return database.ErrCartEmpty
		}

		items := make([]OrderItemRequest, 0, len(cartItems))
		for _, ci := range cartItems {
			items = append(items, OrderItemRequest{
				ProductID: ci.ProductID,
				Quantity:  ci.Quantity,
				Size:      ci.Size,
				Color:     ci.Color,
			})
		}
		req.Items = items

		order, err = createOrderTx(ctx, tx, req)
		if err != nil {
			return err
		}
		return clearCartTx(ctx, tx, req.UserID)
	})
	if err != nil {
		return nil, err
	}

	items, err := getOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	logTotalMismatch(req.ClientTotal, order)
	return order, nil
}

func logTotalMismatch(clientTotal *decimal.Decimal, order *models.Order) {
	if clientTotal != nil && !clientTotal.Equal(order.TotalAmount) {
		log.Printf("order %s: client total %s disagrees with server total %s, server value persisted",
			order.OrderNumber, clientTotal, order.TotalAmount)
	}
}

func createOrderTx(ctx context.Context, tx *sql.Tx, req CreateOrderRequest) (*models.Order, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
		req.UserID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return nil, database.ErrUserNotFound
	}

	// Authoritative re-check: lock each product row and read the live stock
	// count immediately before decrementing.
	type productSnapshot struct {
		name  string
		image string
		price decimal.Decimal
	}
	snapshots := make(map[int64]productSnapshot, len(req.Items))
	subtotal := decimal.Zero

	for _, item := range req.Items {
		var snap productSnapshot
		var stock int
		err := tx.QueryRowContext(ctx,
			`SELECT name, image_url, price, stock_quantity
			 FROM products
			 WHERE id = $1
			 FOR UPDATE`,
			item.ProductID).Scan(&snap.name, &snap.image, &snap.price, &stock)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, database.ErrProductNotFound
			}
			return nil, fmt.Errorf("lock product %d: %w", item.ProductID, err)
		}

		if stock < item.Quantity {
			return nil, fmt.Errorf("%w: product %d has %d, requested %d",
				database.ErrInsufficientStock, item.ProductID, stock, item.Quantity)
		}

		snapshots[item.ProductID] = snap
		subtotal = subtotal.Add(snap.price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	totals := ComputeTotals(subtotal, req.Discount)

	orderNumber := generateOrderNumber()
	var orderID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, payment_status, payment_method,
		                     subtotal, tax, shipping_fee, discount, total_amount,
		                     shipping_address, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW(), 1)
		 RETURNING id`,
		req.UserID, orderNumber, models.OrderStatusPending, models.PaymentStatusPending,
		req.PaymentMethod, totals.Subtotal, totals.Tax, totals.ShippingFee,
		totals.Discount, totals.Total, req.ShippingAddress).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	for _, item := range req.Items {
		snap := snapshots[item.ProductID]
		lineSubtotal := snap.price.Mul(decimal.NewFromInt(int64(item.Quantity)))

		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, product_image,
			                          size, color, quantity, unit_price, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
			orderID, item.ProductID, snap.name, snap.image, item.Size, item.Color,
			item.Quantity, snap.price, lineSubtotal)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
	}

	for _, item := range req.Items {
		if err := DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return nil, err
		}
	}

	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, fmt.Errorf("fetch created order: %w", err)
	}
	return order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := getOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func getOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, product_image, size, color,
		        quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.ProductImage,
			&item.Size,
			&item.Color,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
