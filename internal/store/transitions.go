package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

type StatusUpdateRequest struct {
	Status            string
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// StatusChange reports what a committed transition did, so callers can
// dispatch the post-commit best-effort effects (refund call, emails, audit)
// without the store depending on any of them.
type StatusChange struct {
	Order          *models.Order
	PreviousStatus string
	StatusChanged  bool
	StockRestored  bool
	// RefundIntentID is set when the transition owes a provider refund:
	// payment had been captured and the order entered cancelled/refunded.
	RefundIntentID string
}

// UpdateOrderStatus applies an admin-requested transition through the guard.
// A request whose status equals the current status (or is empty) is a
// tracking-number-only update and bypasses the guard entirely.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, req StatusUpdateRequest) (*StatusChange, error) {
	var change *StatusChange

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		order, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}

		change = &StatusChange{PreviousStatus: order.Status}

		if req.Status == "" || req.Status == order.Status {
			updated, err := updateTrackingTx(ctx, tx, order, req)
			if err != nil {
				return err
			}
			change.Order = updated
			return nil
		}

		if err := ValidateTransition(order.Status, req.Status); err != nil {
			return err
		}

		fx := EffectsFor(order.Status, req.Status)

		paymentStatus := order.PaymentStatus
		if fx.ForcePaymentPaid {
			paymentStatus = models.PaymentStatusPaid
		}
		if fx.RefundIfPaid && order.PaymentStatus == models.PaymentStatusPaid {
			paymentStatus = models.PaymentStatusRefunded
			change.RefundIntentID = order.PaymentIntentID
		}

		if fx.RestoreStock {
			if err := restoreStockTx(ctx, tx, order.ID); err != nil {
				return err
			}
			change.StockRestored = true
		}

		tracking := order.TrackingNumber
		if req.TrackingNumber != "" {
			tracking = req.TrackingNumber
		}
		estimated := order.EstimatedDelivery
		if req.EstimatedDelivery != nil {
			estimated = req.EstimatedDelivery
		}

		updated, err := scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1,
			     payment_status = $2,
			     tracking_number = $3,
			     estimated_delivery = $4,
			     shipped_at = CASE WHEN $5 THEN NOW() ELSE shipped_at END,
			     delivered_at = CASE WHEN $6 THEN NOW() ELSE delivered_at END,
			     cancelled_at = CASE WHEN $7 THEN NOW() ELSE cancelled_at END,
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $8
			 RETURNING `+orderColumns,
			req.Status, paymentStatus, tracking, estimated,
			fx.StampShippedAt, fx.StampDeliveredAt, fx.StampCancelledAt,
			order.ID))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		change.Order = updated
		change.StatusChanged = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

func updateTrackingTx(ctx context.Context, tx *sql.Tx, order *models.Order, req StatusUpdateRequest) (*models.Order, error) {
	tracking := order.TrackingNumber
	if req.TrackingNumber != "" {
		tracking = req.TrackingNumber
	}
	estimated := order.EstimatedDelivery
	if req.EstimatedDelivery != nil {
		estimated = req.EstimatedDelivery
	}

	updated, err := scanOrder(tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET tracking_number = $1, estimated_delivery = $2, updated_at = NOW(), version = version + 1
		 WHERE id = $3
		 RETURNING `+orderColumns,
		tracking, estimated, order.ID))
	if err != nil {
		return nil, fmt.Errorf("update tracking: %w", err)
	}
	return updated, nil
}

// restoreStockTx increments each product's stock by the quantity purchased in
// the order, inside the same transaction as the status change.
func restoreStockTx(ctx context.Context, tx *sql.Tx, orderID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	type line struct {
		productID int64
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.quantity); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	for _, l := range lines {
		_, err := tx.ExecContext(ctx,
			`UPDATE products
			 SET stock_quantity = stock_quantity + $1, updated_at = NOW()
			 WHERE id = $2`,
			l.quantity, l.productID)
		if err != nil {
			return fmt.Errorf("restore stock for product %d: %w", l.productID, err)
		}
	}

	return nil
}

// MarkPaymentSucceeded records a provider-confirmed payment. This is a
// provider-driven transition outside the user-facing status machine, so the
// fields are written directly rather than through the guard. Calling it on an
// already-paid order is a no-op success.
func MarkPaymentSucceeded(ctx context.Context, db *sql.DB, orderID int64, intentID string) (*models.Order, bool, error) {
	var order *models.Order
	var changed bool

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		current, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}

		if current.PaymentStatus == models.PaymentStatusPaid {
			order = current
			changed = false
			return nil
		}

		intent := current.PaymentIntentID
		if intentID != "" {
			intent = intentID
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, payment_status = $2, payment_intent_id = $3,
			     updated_at = NOW(), version = version + 1
			 WHERE id = $4
			 RETURNING `+orderColumns,
			models.OrderStatusConfirmed, models.PaymentStatusPaid, intent, orderID))
		if err != nil {
			return fmt.Errorf("mark payment succeeded: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return order, changed, nil
}

// MarkPaymentFailed reverts the order to pending with a failed payment
// status, again bypassing the guard as a provider-driven change.
func MarkPaymentFailed(ctx context.Context, db *sql.DB, orderID int64, intentID string) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		current, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}

		intent := current.PaymentIntentID
		if intentID != "" {
			intent = intentID
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, payment_status = $2, payment_intent_id = $3,
			     updated_at = NOW(), version = version + 1
			 WHERE id = $4
			 RETURNING `+orderColumns,
			models.OrderStatusPending, models.PaymentStatusFailed, intent, orderID))
		if err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// AttachPaymentIntent stores the provider reference on the order so later
// webhook events and refunds can be reconciled back to it.
func AttachPaymentIntent(ctx context.Context, db *sql.DB, orderID int64, intentID, paymentMethod string) (*models.Order, error) {
	var order *models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}

		if current.PaymentStatus == models.PaymentStatusPaid {
			return database.ErrOrderAlreadyPaid
		}

		method := current.PaymentMethod
		if paymentMethod != "" {
			method = paymentMethod
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET payment_intent_id = $1, payment_method = $2, updated_at = NOW(), version = version + 1
			 WHERE id = $3
			 RETURNING `+orderColumns,
			intentID, method, orderID))
		if err != nil {
			return fmt.Errorf("attach payment intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}
