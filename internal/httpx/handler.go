package httpx

import (
	"database/sql"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/audit"
	"github.com/safar/go-storefront/internal/email"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/payment"
)

type Handler struct {
	DB      *sql.DB
	Redis   *redis.Client
	Gateway *payment.Gateway
	Audit   *audit.Sink
	Emails  email.Sender
	Events  *events.Producer
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Post("/orders/from-cart", h.createOrderFromCart)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/cancel", h.cancelOrder)
	r.Patch("/orders/{id}/confirm-payment", h.confirmPayment)

	r.Patch("/admin/orders/{id}/status", h.adminUpdateStatus)

	r.Post("/payments/create-payment-intent", h.createPaymentIntent)
	r.Post("/payments/webhook", h.paymentWebhook)

	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)

	r.Post("/users", h.createUser)
	r.Get("/users", h.listUsers)
	r.Get("/users/{id}", h.getUser)

	r.Post("/cart/items", h.addCartItem)
	r.Get("/cart", h.getCart)
}
