package enums

import "fmt"

// OrderStatus tracks a pickup order from payment to collection.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusPickedUp   OrderStatus = "picked_up"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
	OrderStatusPickedUp,
	OrderStatusCancelled,
}

// orderTransitions lists the single-step moves allowed out of each status.
// picked_up and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {OrderStatusPickedUp},
}

// ActiveOrderStatuses are the statuses a customer still waits on.
var ActiveOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPickedUp || s == OrderStatusCancelled
}

// CanTransitionTo reports whether next is a single allowed step from s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// CanReach reports whether next is reachable from s through one or more
// allowed steps. Observers that may miss intermediate updates use this
// instead of CanTransitionTo.
func (s OrderStatus) CanReach(next OrderStatus) bool {
	seen := map[OrderStatus]bool{}
	queue := []OrderStatus{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, candidate := range orderTransitions[cur] {
			if candidate == next {
				return true
			}
			if !seen[candidate] {
				seen[candidate] = true
				queue = append(queue, candidate)
			}
		}
	}
	return false
}

// Progress maps the status onto the tracking view's progress percentage.
// Unknown values sit at the midpoint.
func (s OrderStatus) Progress() int {
	switch s {
	case OrderStatusPending:
		return 30
	case OrderStatusProcessing:
		return 70
	case OrderStatusCompleted, OrderStatusPickedUp:
		return 100
	case OrderStatusCancelled:
		return 0
	default:
		return 50
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
