package integration

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

func createTestUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test User")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user.ID
}

func createTestProduct(t *testing.T, db *sql.DB, sku string, price int64, stock int) int64 {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, store.CreateProductRequest{
		SKU:      sku,
		Name:     "Product " + sku,
		ImageURL: "https://img.example.com/" + sku + ".jpg",
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product.ID
}

func productStock(t *testing.T, db *sql.DB, id int64) int {
	t.Helper()
	product, err := store.GetProduct(context.Background(), db, id)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	return product.StockQuantity
}

func TestCreateOrderComputesTotalsAndDecrementsStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "totals@example.com")
	productID := createTestProduct(t, db, "ORD-001", 10, 50)

	order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID: userID,
		Items:  []store.OrderItemRequest{{ProductID: productID, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if order.Status != "pending" {
		t.Errorf("Expected status pending, got %s", order.Status)
	}
	if order.PaymentStatus != "pending" {
		t.Errorf("Expected payment status pending, got %s", order.PaymentStatus)
	}
	if !order.Subtotal.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected subtotal 50, got %s", order.Subtotal)
	}
	if !order.Tax.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Expected tax 4, got %s", order.Tax)
	}
	if !order.ShippingFee.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected shipping fee 10, got %s", order.ShippingFee)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(64)) {
		t.Errorf("Expected total 64, got %s", order.TotalAmount)
	}

	if got := productStock(t, db, productID); got != 45 {
		t.Errorf("Expected stock 45, got %d", got)
	}
}

func TestCreateOrderFreeShippingAboveThreshold(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "shipping@example.com")
	productID := createTestProduct(t, db, "ORD-002", 100, 10)

	order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID: userID,
		Items:  []store.OrderItemRequest{{ProductID: productID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if !order.ShippingFee.IsZero() {
		t.Errorf("Expected free shipping, got %s", order.ShippingFee)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(216)) {
		t.Errorf("Expected total 216, got %s", order.TotalAmount)
	}
}

func TestCreateOrderServerTotalWins(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "authority@example.com")
	productID := createTestProduct(t, db, "ORD-003", 10, 10)

	bogus := decimal.NewFromInt(999999)
	order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID:      userID,
		Items:       []store.OrderItemRequest{{ProductID: productID, Quantity: 3}},
		ClientTotal: &bogus,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	// subtotal 30 + tax 2.40 + shipping 10
	expected := decimal.NewFromFloat(42.40)
	if !order.TotalAmount.Equal(expected) {
		t.Errorf("Expected persisted total %s, got %s", expected, order.TotalAmount)
	}
}

func TestCreateOrderSnapshotsProductFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "snapshot@example.com")
	productID := createTestProduct(t, db, "ORD-004", 25, 10)

	order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID: userID,
		Items:  []store.OrderItemRequest{{ProductID: productID, Quantity: 1, Size: "M", Color: "red"}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	// Mutate the product after purchase; the snapshot must not change.
	if _, err := db.ExecContext(ctx,
		`UPDATE products SET name = 'Renamed', price = 999 WHERE id = $1`, productID); err != nil {
		t.Fatalf("Rename product: %v", err)
	}

	fetched, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(fetched.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(fetched.Items))
	}

	item := fetched.Items[0]
	if item.ProductName != "Product ORD-004" {
		t.Errorf("Expected snapshot name preserved, got %q", item.ProductName)
	}
	if !item.UnitPrice.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected snapshot unit price 25, got %s", item.UnitPrice)
	}
	if item.Size != "M" || item.Color != "red" {
		t.Errorf("Expected variant M/red, got %s/%s", item.Size, item.Color)
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "insufficient@example.com")
	productID := createTestProduct(t, db, "ORD-005", 100, 5)

	_, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID: userID,
		Items:  []store.OrderItemRequest{{ProductID: productID, Quantity: 10}},
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock error, got: %v", err)
	}

	if got := productStock(t, db, productID); got != 5 {
		t.Errorf("Stock should remain unchanged at 5, got %d", got)
	}

	var orderCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&orderCount); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if orderCount != 0 {
		t.Errorf("Expected no partial order rows, got %d", orderCount)
	}
}

func TestConcurrentCheckoutLastUnit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "race@example.com")
	productID := createTestProduct(t, db, "ORD-006", 50, 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
				UserID: userID,
				Items:  []store.OrderItemRequest{{ProductID: productID, Quantity: 1}},
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var successes, stockFailures int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, database.ErrInsufficientStock):
			stockFailures++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("Expected exactly 1 successful checkout, got %d", successes)
	}
	if stockFailures != 1 {
		t.Errorf("Expected exactly 1 insufficient-stock failure, got %d", stockFailures)
	}
	if got := productStock(t, db, productID); got != 0 {
		t.Errorf("Expected stock 0, got %d", got)
	}
}

func TestCreateOrderFromCartClearsCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "cart@example.com")
	productID := createTestProduct(t, db, "ORD-007", 20, 10)

	if _, err := store.AddCartItem(ctx, db, store.AddCartItemRequest{
		UserID:    userID,
		ProductID: productID,
		Quantity:  2,
	}); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	order, err := store.CreateOrderFromCart(ctx, db, store.CreateOrderRequest{UserID: userID})
	if err != nil {
		t.Fatalf("Create order from cart: %v", err)
	}

	if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
		t.Errorf("Expected 1 item with quantity 2, got %+v", order.Items)
	}
	if got := productStock(t, db, productID); got != 8 {
		t.Errorf("Expected stock 8, got %d", got)
	}

	items, err := store.GetCartItems(ctx, db, userID)
	if err != nil {
		t.Fatalf("Get cart items: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected cart to be cleared, got %d items", len(items))
	}
}

func TestCreateOrderFromCartOrdersEveryLine(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := createTestUser(t, db, "multiline@example.com")
	firstID := createTestProduct(t, db, "ORD-008", 30, 10)
	secondID := createTestProduct(t, db, "ORD-009", 40, 10)

	for _, add := range []store.AddCartItemRequest{
		{UserID: userID, ProductID: firstID, Quantity: 2},
		{UserID: userID, ProductID: secondID, Quantity: 1, Size: "L"},
	} {
		if _, err := store.AddCartItem(ctx, db, add); err != nil {
			t.Fatalf("Add cart item: %v", err)
		}
	}

	order, err := store.CreateOrderFromCart(ctx, db, store.CreateOrderRequest{UserID: userID})
	if err != nil {
		t.Fatalf("Create order from cart: %v", err)
	}

	// Every cart line must become an order line; the clear must not discard
	// anything that wasn't ordered.
	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(order.Items))
	}
	if !order.Subtotal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected subtotal 100, got %s", order.Subtotal)
	}
	if got := productStock(t, db, firstID); got != 8 {
		t.Errorf("Expected stock 8 for first product, got %d", got)
	}
	if got := productStock(t, db, secondID); got != 9 {
		t.Errorf("Expected stock 9 for second product, got %d", got)
	}

	items, err := store.GetCartItems(ctx, db, userID)
	if err != nil {
		t.Fatalf("Get cart items: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected cart to be cleared, got %d items", len(items))
	}
}

func TestCreateOrderFromCartEmpty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	userID := createTestUser(t, db, "emptycart@example.com")

	_, err := store.CreateOrderFromCart(context.Background(), db, store.CreateOrderRequest{UserID: userID})
	if !errors.Is(err, database.ErrCartEmpty) {
		t.Errorf("Expected empty cart error, got: %v", err)
	}
}
