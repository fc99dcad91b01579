package orders

import (
	"fmt"
	"slices"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

// transitions lists every status each status may move to. Forward skips are allowed;
// DELIVERED -> OUT_FOR_DELIVERY is the only backward edge.
var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPlaced: {
		domain.OrderStatusConfirmed,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	},
	domain.OrderStatusConfirmed: {
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	},
	domain.OrderStatusPacked: {
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	},
	domain.OrderStatusOutForDelivery: {
		domain.OrderStatusDelivered,
	},
	domain.OrderStatusDelivered: {
		domain.OrderStatusOutForDelivery,
	},
}

// DeliveryStatuses are the statuses a delivery agent sees and may set.
var DeliveryStatuses = []domain.OrderStatus{
	domain.OrderStatusShipped,
	domain.OrderStatusOutForDelivery,
	domain.OrderStatusDelivered,
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(transitions[from], to)
}

// NextStatuses returns the statuses role may choose for an order currently in from.
func NextStatuses(from domain.OrderStatus, role domain.Role) []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, to := range transitions[from] {
		if roleAllows(role, from, to) {
			out = append(out, to)
		}
	}
	return out
}

// Advance appends {to, now} to the timeline and sets the order status. The input is
// not modified.
func Advance(order domain.Order, to domain.OrderStatus, now time.Time, role domain.Role) (domain.Order, error) {
	from := order.CurrentStatus()
	if !to.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	if !roleAllows(role, from, to) {
		return domain.Order{}, fmt.Errorf("%w: role %s may not move %s -> %s", domain.ErrNotAuthorized, role, from, to)
	}

	next := order
	next.OrderStatus = to
	next.StatusTimeline = append(slices.Clone(order.StatusTimeline), domain.StatusEntry{
		Status:    to,
		Timestamp: now.UTC(),
	})
	return next, nil
}

func roleAllows(role domain.Role, from, to domain.OrderStatus) bool {
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleDelivery:
		return slices.Contains(DeliveryStatuses, from) && slices.Contains(DeliveryStatuses, to)
	case domain.RoleUser:
		return false
	default:
		return false
	}
}
