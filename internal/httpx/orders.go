package httpx

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/audit"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/redisx"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

type orderItemPayload struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

type createOrderPayload struct {
	UserID          int64              `json:"user_id"`
	Items           []orderItemPayload `json:"items"`
	PaymentMethod   string             `json:"payment_method"`
	ShippingAddress string             `json:"shipping_address"`
	Discount        decimal.Decimal    `json:"discount"`
	Total           *decimal.Decimal   `json:"total,omitempty"`
}

func (p *createOrderPayload) toRequest() store.CreateOrderRequest {
	items := make([]store.OrderItemRequest, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, store.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	return store.CreateOrderRequest{
		UserID:          p.UserID,
		Items:           items,
		PaymentMethod:   p.PaymentMethod,
		ShippingAddress: p.ShippingAddress,
		Discount:        p.Discount,
		ClientTotal:     p.Total,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var payload createOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == 0 || len(payload.Items) == 0 {
		respondError(w, http.StatusBadRequest, "user_id and items are required")
		return
	}
	for _, item := range payload.Items {
		if item.ProductID == 0 || item.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "each item needs a product_id and a positive quantity")
			return
		}
	}

	order, err := store.CreateOrder(r.Context(), h.DB, payload.toRequest())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.dispatchOrderCreated(order, metaFromRequest(r, fmt.Sprintf("user:%d", order.UserID)))
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) createOrderFromCart(w http.ResponseWriter, r *http.Request) {
	var payload createOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	order, err := store.CreateOrderFromCart(r.Context(), h.DB, payload.toRequest())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.dispatchOrderCreated(order, metaFromRequest(r, fmt.Sprintf("user:%d", order.UserID)))
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) dispatchOrderCreated(order *models.Order, meta requestMeta) {
	ctx, cancel := effectContext()
	defer cancel()

	h.Audit.Write(ctx, audit.Record{
		Action:       "order.created",
		ResourceType: "order",
		ResourceID:   strconv.FormatInt(order.ID, 10),
		Actor:        meta.Actor,
		Severity:     audit.SeverityInfo,
		After:        order,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})

	h.publishEvent(events.EventOrderCreated, order.ID, events.OrderCreatedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.TotalAmount.String(),
		ItemCount:   len(order.Items),
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	ctx := r.Context()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrder, id)
		if cached, err := h.Redis.Get(ctx, key).Result(); err == nil && cached != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(cached))
			return
		}
	}

	order, err := store.GetOrder(ctx, h.DB, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if h.Redis != nil {
		if body, err := json.Marshal(order); err == nil {
			key := fmt.Sprintf(redisx.KeyOrder, id)
			if err := h.Redis.Set(ctx, key, body, redisx.TTLOrderCache).Err(); err != nil {
				log.Printf("cache order %d: %v", id, err)
			}
		}
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := store.ListOrdersCursor(r.Context(), h.DB, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var payload struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := store.GetOrder(r.Context(), h.DB, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if payload.UserID == 0 || order.UserID != payload.UserID {
		respondError(w, http.StatusForbidden, "order does not belong to this user")
		return
	}

	change, err := store.UpdateOrderStatus(r.Context(), h.DB, id, store.StatusUpdateRequest{
		Status: models.OrderStatusCancelled,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.dispatchStatusChange(change, metaFromRequest(r, fmt.Sprintf("user:%d", payload.UserID)))
	respondJSON(w, http.StatusOK, change.Order)
}

// confirmPayment marks the order paid from the client side after the
// provider confirms synchronously. Calling it on an already-paid order is a
// no-op success.
func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var payload struct {
		PaymentIntentID string `json:"payment_intent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, changed, err := store.MarkPaymentSucceeded(r.Context(), h.DB, id, payload.PaymentIntentID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if changed {
		ctx, cancel := effectContext()
		h.invalidateOrderCache(ctx, order.ID)
		h.Audit.Write(ctx, audit.Record{
			Action:       "order.payment_confirmed",
			ResourceType: "order",
			ResourceID:   strconv.FormatInt(order.ID, 10),
			Actor:        fmt.Sprintf("user:%d", order.UserID),
			Severity:     audit.SeverityInfo,
			After:        map[string]string{"status": order.Status, "payment_status": order.PaymentStatus},
			IP:           r.RemoteAddr,
			UserAgent:    r.UserAgent(),
		})
		h.sendOrderEmail(ctx, order, "Payment received",
			fmt.Sprintf("We received your payment for order %s.", order.OrderNumber))
		h.publishEvent(events.EventPaymentSucceeded, order.ID, events.PaymentPayload{
			OrderID:         order.ID,
			OrderNumber:     order.OrderNumber,
			PaymentIntentID: order.PaymentIntentID,
			PaymentStatus:   order.PaymentStatus,
		})
		cancel()
	}

	respondJSON(w, http.StatusOK, order)
}

func metaFromRequest(r *http.Request, actor string) requestMeta {
	return requestMeta{
		Actor:     actor,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
