package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
)

func createTestOrder(t *testing.T, db *sql.DB, email, sku string, stock, qty int) (*models.Order, int64) {
	t.Helper()
	ctx := context.Background()
	userID := createTestUser(t, db, email)
	productID := createTestProduct(t, db, sku, 50, stock)

	order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID: userID,
		Items:  []store.OrderItemRequest{{ProductID: productID, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return order, productID
}

func advanceOrder(t *testing.T, db *sql.DB, orderID int64, statuses ...string) *store.StatusChange {
	t.Helper()
	var change *store.StatusChange
	var err error
	for _, status := range statuses {
		change, err = store.UpdateOrderStatus(context.Background(), db, orderID, store.StatusUpdateRequest{Status: status})
		if err != nil {
			t.Fatalf("Transition to %s: %v", status, err)
		}
	}
	return change
}

func TestInvalidTransitionRejected(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, _ := createTestOrder(t, db, "guard@example.com", "TRN-001", 10, 1)

	// pending -> shipped is not a legal edge.
	_, err := store.UpdateOrderStatus(context.Background(), db, order.ID, store.StatusUpdateRequest{
		Status: models.OrderStatusShipped,
	})
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition error, got: %v", err)
	}

	fetched, err := store.GetOrder(context.Background(), db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if fetched.Status != models.OrderStatusPending {
		t.Errorf("Status should remain pending, got %s", fetched.Status)
	}
}

func TestTerminalStatusesRejectAllTransitions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, _ := createTestOrder(t, db, "terminal@example.com", "TRN-002", 10, 1)
	advanceOrder(t, db, order.ID, models.OrderStatusCancelled)

	for _, next := range []string{
		models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusProcessing,
		models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusRefunded,
	} {
		_, err := store.UpdateOrderStatus(context.Background(), db, order.ID, store.StatusUpdateRequest{Status: next})
		if !errors.Is(err, database.ErrInvalidTransition) {
			t.Errorf("cancelled -> %s should be rejected, got: %v", next, err)
		}
	}
}

func TestShippedTransitionStampsAndForcesPaid(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, _ := createTestOrder(t, db, "shipped@example.com", "TRN-003", 10, 1)
	advanceOrder(t, db, order.ID, models.OrderStatusConfirmed, models.OrderStatusProcessing)

	change, err := store.UpdateOrderStatus(context.Background(), db, order.ID, store.StatusUpdateRequest{
		Status:         models.OrderStatusShipped,
		TrackingNumber: "TRK123",
	})
	if err != nil {
		t.Fatalf("Transition to shipped: %v", err)
	}

	updated := change.Order
	if updated.Status != models.OrderStatusShipped {
		t.Errorf("Expected status shipped, got %s", updated.Status)
	}
	if updated.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Expected payment status forced to paid, got %s", updated.PaymentStatus)
	}
	if updated.ShippedAt == nil {
		t.Error("Expected shipped_at to be stamped")
	}
	if updated.TrackingNumber != "TRK123" {
		t.Errorf("Expected tracking number TRK123, got %s", updated.TrackingNumber)
	}
}

func TestTrackingOnlyUpdateBypassesGuard(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, _ := createTestOrder(t, db, "tracking@example.com", "TRN-004", 10, 1)

	// Same status as current: no transition validation, no side effects.
	change, err := store.UpdateOrderStatus(context.Background(), db, order.ID, store.StatusUpdateRequest{
		Status:         models.OrderStatusPending,
		TrackingNumber: "TRK999",
	})
	if err != nil {
		t.Fatalf("Tracking-only update: %v", err)
	}

	if change.StatusChanged {
		t.Error("Tracking-only update should not report a status change")
	}
	if change.Order.TrackingNumber != "TRK999" {
		t.Errorf("Expected tracking number TRK999, got %s", change.Order.TrackingNumber)
	}
	if change.Order.Status != models.OrderStatusPending {
		t.Errorf("Status should remain pending, got %s", change.Order.Status)
	}
}

func TestCancelRestoresStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, productID := createTestOrder(t, db, "cancel@example.com", "TRN-005", 10, 3)
	if got := productStock(t, db, productID); got != 7 {
		t.Fatalf("Expected stock 7 after checkout, got %d", got)
	}

	change := advanceOrder(t, db, order.ID, models.OrderStatusCancelled)

	if !change.StockRestored {
		t.Error("Expected stock restoration to be reported")
	}
	if change.Order.CancelledAt == nil {
		t.Error("Expected cancelled_at to be stamped")
	}
	if got := productStock(t, db, productID); got != 10 {
		t.Errorf("Expected stock restored to 10, got %d", got)
	}
}

func TestRefundAfterDeliveryRestoresStockAndOwesRefund(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, productID := createTestOrder(t, db, "refund@example.com", "TRN-006", 10, 2)

	ctx := context.Background()
	if _, err := store.AttachPaymentIntent(ctx, db, order.ID, "pi_test_123", "card"); err != nil {
		t.Fatalf("Attach payment intent: %v", err)
	}
	if _, _, err := store.MarkPaymentSucceeded(ctx, db, order.ID, "pi_test_123"); err != nil {
		t.Fatalf("Mark payment succeeded: %v", err)
	}

	advanceOrder(t, db, order.ID, models.OrderStatusProcessing, models.OrderStatusShipped, models.OrderStatusDelivered)
	change := advanceOrder(t, db, order.ID, models.OrderStatusRefunded)

	if change.Order.PaymentStatus != models.PaymentStatusRefunded {
		t.Errorf("Expected payment status refunded, got %s", change.Order.PaymentStatus)
	}
	if change.RefundIntentID != "pi_test_123" {
		t.Errorf("Expected refund owed for pi_test_123, got %q", change.RefundIntentID)
	}
	if got := productStock(t, db, productID); got != 10 {
		t.Errorf("Expected stock restored to 10, got %d", got)
	}
}

func TestCancelUnpaidOrderOwesNoRefund(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, _ := createTestOrder(t, db, "norefund@example.com", "TRN-007", 10, 1)
	change := advanceOrder(t, db, order.ID, models.OrderStatusCancelled)

	if change.RefundIntentID != "" {
		t.Errorf("Unpaid order should owe no refund, got %q", change.RefundIntentID)
	}
	if change.Order.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("Expected payment status to stay pending, got %s", change.Order.PaymentStatus)
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, productID := createTestOrder(t, db, "idempotent@example.com", "TRN-008", 10, 2)

	ctx := context.Background()
	first, changed, err := store.MarkPaymentSucceeded(ctx, db, order.ID, "pi_once")
	if err != nil {
		t.Fatalf("First confirm: %v", err)
	}
	if !changed {
		t.Error("First confirm should report a change")
	}
	if first.Status != models.OrderStatusConfirmed || first.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Expected confirmed/paid, got %s/%s", first.Status, first.PaymentStatus)
	}

	second, changed, err := store.MarkPaymentSucceeded(ctx, db, order.ID, "pi_twice")
	if err != nil {
		t.Fatalf("Second confirm: %v", err)
	}
	if changed {
		t.Error("Second confirm on a paid order should be a no-op")
	}
	if second.PaymentIntentID != "pi_once" {
		t.Errorf("Intent id should not be overwritten, got %s", second.PaymentIntentID)
	}
	if second.Version != first.Version {
		t.Errorf("No-op confirm should not bump version: %d vs %d", second.Version, first.Version)
	}
	if got := productStock(t, db, productID); got != 8 {
		t.Errorf("Stock must not move on confirm, got %d", got)
	}
}

func TestPaymentFailedRevertsToPending(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order, _ := createTestOrder(t, db, "payfail@example.com", "TRN-009", 10, 1)

	updated, err := store.MarkPaymentFailed(context.Background(), db, order.ID, "pi_failed")
	if err != nil {
		t.Fatalf("Mark payment failed: %v", err)
	}

	if updated.Status != models.OrderStatusPending {
		t.Errorf("Expected status pending, got %s", updated.Status)
	}
	if updated.PaymentStatus != models.PaymentStatusFailed {
		t.Errorf("Expected payment status failed, got %s", updated.PaymentStatus)
	}
}

// Stock conservation: after an arbitrary mix of checkouts and cancellations,
// stock equals initial minus the quantities held by non-cancelled orders.
func TestStockConservation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "ledger@example.com")
	productID := createTestProduct(t, db, "TRN-010", 10, 20)

	var orders []*models.Order
	for i := 0; i < 4; i++ {
		order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
			UserID: userID,
			Items:  []store.OrderItemRequest{{ProductID: productID, Quantity: 3}},
		})
		if err != nil {
			t.Fatalf("Create order %d: %v", i, err)
		}
		orders = append(orders, order)
	}

	advanceOrder(t, db, orders[0].ID, models.OrderStatusCancelled)
	advanceOrder(t, db, orders[2].ID, models.OrderStatusCancelled)

	// 20 initial - 4*3 purchased + 2*3 restored
	if got := productStock(t, db, productID); got != 14 {
		t.Errorf("Expected stock 14, got %d", got)
	}
}

func TestAuditSinkWritesAndSurvivesFailure(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sink := newTestSink(db)

	sink.Write(ctx, testAuditRecord("order.created", "42"))

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE action = 'order.created' AND resource_id = '42'`).Scan(&count); err != nil {
		t.Fatalf("Count audit rows: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 audit row, got %d", count)
	}

	// Dropping the table makes the sink fail internally; the call must still
	// return without panicking or surfacing an error.
	if _, err := db.ExecContext(ctx, `DROP TABLE audit_log`); err != nil {
		t.Fatalf("Drop audit_log: %v", err)
	}
	sink.Write(ctx, testAuditRecord("order.created", "43"))
}
