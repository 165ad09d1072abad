package httpx

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/safar/go-storefront/internal/audit"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/redisx"
	"github.com/safar/go-storefront/internal/store"
)

const effectTimeout = 15 * time.Second

// effectContext detaches post-commit side effects from the request context so
// a client disconnect cannot cancel them mid-flight.
func effectContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), effectTimeout)
}

// requestMeta identifies the actor for the audit trail.
type requestMeta struct {
	Actor     string
	IP        string
	UserAgent string
}

// dispatchStatusChange runs every post-commit side effect of a committed
// status transition. None of these participate in the transaction and none
// are retried: a failure is recorded through the audit sink (critical for
// refunds) and left for operational follow-up.
func (h *Handler) dispatchStatusChange(change *store.StatusChange, meta requestMeta) {
	ctx, cancel := effectContext()
	defer cancel()

	order := change.Order
	h.invalidateOrderCache(ctx, order.ID)

	if change.RefundIntentID != "" {
		if err := h.Gateway.Refund(ctx, change.RefundIntentID); err != nil {
			log.Printf("refund for order %s failed: %v", order.OrderNumber, err)
			h.Audit.Write(ctx, audit.Record{
				Action:       "payment.refund_failed",
				ResourceType: "order",
				ResourceID:   fmt.Sprintf("%d", order.ID),
				Actor:        meta.Actor,
				Severity:     audit.SeverityCritical,
				After:        map[string]string{"payment_intent_id": change.RefundIntentID, "error": err.Error()},
				IP:           meta.IP,
				UserAgent:    meta.UserAgent,
			})
		}
	}

	h.Audit.Write(ctx, audit.Record{
		Action:       "order.status_changed",
		ResourceType: "order",
		ResourceID:   fmt.Sprintf("%d", order.ID),
		Actor:        meta.Actor,
		Severity:     severityForTransition(order.Status),
		Before:       map[string]string{"status": change.PreviousStatus},
		After:        map[string]string{"status": order.Status, "payment_status": order.PaymentStatus},
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})

	h.sendOrderEmail(ctx, order, statusEmailSubject(order.Status),
		fmt.Sprintf("Your order %s is now %s.", order.OrderNumber, order.Status))

	h.publishEvent(events.EventOrderStatusChanged, order.ID, events.OrderStatusChangedPayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		From:          change.PreviousStatus,
		To:            order.Status,
		PaymentStatus: order.PaymentStatus,
	})
}

func severityForTransition(status string) audit.Severity {
	switch status {
	case models.OrderStatusCancelled, models.OrderStatusRefunded:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}

func statusEmailSubject(status string) string {
	switch status {
	case models.OrderStatusShipped:
		return "Your order has shipped"
	case models.OrderStatusDelivered:
		return "Your order was delivered"
	case models.OrderStatusCancelled:
		return "Your order was cancelled"
	case models.OrderStatusRefunded:
		return "Your order was refunded"
	default:
		return "Order update"
	}
}

// sendOrderEmail looks up the customer's address and attempts delivery.
// Best-effort only.
func (h *Handler) sendOrderEmail(ctx context.Context, order *models.Order, subject, body string) {
	user, err := store.GetUser(ctx, h.DB, order.UserID)
	if err != nil {
		log.Printf("email for order %s: lookup user %d: %v", order.OrderNumber, order.UserID, err)
		return
	}
	if err := h.Emails.Send(ctx, user.Email, subject, body); err != nil {
		log.Printf("email for order %s: %v", order.OrderNumber, err)
	}
}

func (h *Handler) publishEvent(eventType string, orderID int64, payload any) {
	if h.Events == nil {
		return
	}
	h.Events.PublishOrderEvent(eventType, orderID, payload)
}

func (h *Handler) invalidateOrderCache(ctx context.Context, orderID int64) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrder, orderID)).Err(); err != nil {
		log.Printf("invalidate order cache %d: %v", orderID, err)
	}
}
