package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/safar/go-storefront/internal/audit"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/store"
)

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OrderID       int64  `json:"order_id"`
		PaymentMethod string `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.OrderID == 0 {
		respondError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	order, err := store.GetOrder(r.Context(), h.DB, payload.OrderID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		respondError(w, http.StatusBadRequest, "order already paid")
		return
	}

	intent, err := h.Gateway.CreateIntent(r.Context(), order.ID, order.TotalAmount, "usd")
	if err != nil {
		// Full detail stays server-side; the client gets a safe message.
		log.Printf("create payment intent for order %d: %v", order.ID, err)
		respondError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	if _, err := store.AttachPaymentIntent(r.Context(), h.DB, order.ID, intent.ID, payload.PaymentMethod); err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"payment_intent_id": intent.ID,
		"client_secret":     intent.ClientSecret,
	})
}

// paymentWebhook receives signed provider events. It acknowledges 200 once
// the database write lands; best-effort email failures must never trigger a
// provider redelivery.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body")
		return
	}

	if err := h.Gateway.VerifySignature(body, r.Header.Get(payment.SignatureHeader)); err != nil {
		respondError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed event")
		return
	}

	switch event.Type {
	case payment.EventPaymentSucceeded:
		h.handlePaymentSucceeded(w, r, event)
	case payment.EventPaymentFailed:
		h.handlePaymentFailed(w, r, event)
	default:
		// Unknown event types are acknowledged so the provider stops
		// redelivering them.
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func (h *Handler) handlePaymentSucceeded(w http.ResponseWriter, r *http.Request, event *payment.Event) {
	orderID, err := event.OrderID()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, changed, err := store.MarkPaymentSucceeded(r.Context(), h.DB, orderID, event.IntentID())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if changed {
		ctx, cancel := effectContext()
		h.invalidateOrderCache(ctx, order.ID)
		h.Audit.Write(ctx, audit.Record{
			Action:       "payment.succeeded",
			ResourceType: "order",
			ResourceID:   strconv.FormatInt(order.ID, 10),
			Actor:        audit.ActorSystem,
			Severity:     audit.SeverityInfo,
			After:        map[string]string{"status": order.Status, "payment_status": order.PaymentStatus},
		})
		h.sendOrderEmail(ctx, order, "Order confirmed",
			fmt.Sprintf("Payment for order %s succeeded. We're getting it ready.", order.OrderNumber))
		h.publishEvent(events.EventPaymentSucceeded, order.ID, events.PaymentPayload{
			OrderID:         order.ID,
			OrderNumber:     order.OrderNumber,
			PaymentIntentID: order.PaymentIntentID,
			PaymentStatus:   order.PaymentStatus,
		})
		cancel()
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) handlePaymentFailed(w http.ResponseWriter, r *http.Request, event *payment.Event) {
	orderID, err := event.OrderID()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := store.MarkPaymentFailed(r.Context(), h.DB, orderID, event.IntentID())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	ctx, cancel := effectContext()
	h.invalidateOrderCache(ctx, order.ID)
	h.Audit.Write(ctx, audit.Record{
		Action:       "payment.failed",
		ResourceType: "order",
		ResourceID:   strconv.FormatInt(order.ID, 10),
		Actor:        audit.ActorSystem,
		Severity:     audit.SeverityWarning,
		After:        map[string]string{"status": order.Status, "payment_status": order.PaymentStatus},
	})
	h.sendOrderEmail(ctx, order, "Payment failed",
		fmt.Sprintf("Payment for order %s did not go through. Please try again.", order.OrderNumber))
	h.publishEvent(events.EventPaymentFailed, order.ID, events.PaymentPayload{
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		PaymentIntentID: order.PaymentIntentID,
		PaymentStatus:   order.PaymentStatus,
	})
	cancel()

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
