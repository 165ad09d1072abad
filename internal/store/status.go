package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

// allowedTransitions is the complete set of legal status edges. Cancelled and
// refunded are terminal.
var allowedTransitions = map[string]map[string]bool{
	models.OrderStatusPending: {
		models.OrderStatusConfirmed: true,
		models.OrderStatusCancelled: true,
	},
	models.OrderStatusConfirmed: {
		models.OrderStatusProcessing: true,
		models.OrderStatusCancelled:  true,
	},
	models.OrderStatusProcessing: {
		models.OrderStatusShipped:   true,
		models.OrderStatusCancelled: true,
	},
	models.OrderStatusShipped: {
		models.OrderStatusDelivered: true,
	},
	models.OrderStatusDelivered: {
		models.OrderStatusRefunded: true,
	},
	models.OrderStatusCancelled: {},
	models.OrderStatusRefunded:  {},
}

func CanTransition(from, to string) bool {
	return allowedTransitions[from][to]
}

// ValidateTransition returns an error naming the current status, the
// requested status and the allowed set for any edge not in the table.
func ValidateTransition(from, to string) error {
	if CanTransition(from, to) {
		return nil
	}

	next := allowedTransitions[from]
	allowed := make([]string, 0, len(next))
	for s := range next {
		allowed = append(allowed, s)
	}
	sort.Strings(allowed)

	allowedDesc := "none"
	if len(allowed) > 0 {
		allowedDesc = strings.Join(allowed, ", ")
	}

	return fmt.Errorf("%w: cannot move order from %q to %q (allowed: %s)",
		database.ErrInvalidTransition, from, to, allowedDesc)
}

// TransitionEffects describes the side effects owed when an order enters a
// new status. It is a pure function of the edge so the effect logic stays in
// one place instead of scattered conditionals.
type TransitionEffects struct {
	StampShippedAt   bool
	StampDeliveredAt bool
	StampCancelledAt bool
	RestoreStock     bool
	ForcePaymentPaid bool
	RefundIfPaid     bool
}

// EffectsFor is keyed to the target status and applies only when the status
// actually changes.
func EffectsFor(from, to string) TransitionEffects {
	var fx TransitionEffects
	if from == to {
		return fx
	}

	switch to {
	case models.OrderStatusShipped:
		fx.StampShippedAt = true
		fx.ForcePaymentPaid = true
	case models.OrderStatusDelivered:
		fx.StampDeliveredAt = true
	case models.OrderStatusCancelled:
		fx.StampCancelledAt = true
		fx.RestoreStock = true
		fx.RefundIfPaid = true
	case models.OrderStatusRefunded:
		fx.RestoreStock = true
		fx.RefundIfPaid = true
	}

	return fx
}
