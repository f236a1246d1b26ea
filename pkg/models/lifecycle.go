package models

// InitialStatuses derives the entry state of a new order from how it is paid.
// Orders paid up front wait in PENDING until the payment is approved; orders
// paid on delivery are confirmed for fulfilment straight away.
func InitialStatuses(t PaymentType) (OrderStatus, PaymentStatus) {
	if t == PayBeforeDelivery {
		return OrderPending, PaymentUnpaid
	}
	return OrderConfirmed, PaymentPending
}

func flowIndex[T comparable](flow []T, v T) int {
	for i, s := range flow {
		if s == v {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further order transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// CanTransitionTo allows the immediate successor in the forward flow, or
// CANCELLED from any state before DELIVERED.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == OrderCancelled {
		return true
	}
	i := flowIndex(orderFlow, s)
	return i >= 0 && i+1 < len(orderFlow) && orderFlow[i+1] == next
}

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// CanTransitionTo allows only the next stage, except that failed is reachable
// from every non-terminal stage.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == DeliveryFailed {
		return true
	}
	i := flowIndex(deliveryFlow, s)
	return i >= 0 && i+1 < len(deliveryFlow) && deliveryFlow[i+1] == next
}

// OrderStatus is the order status this delivery stage implies, if any.
func (s DeliveryStatus) OrderStatus() (OrderStatus, bool) {
	switch s {
	case DeliveryOutForDelivery:
		return OrderOutForDelivery, true
	case DeliveryDelivered:
		return OrderDelivered, true
	}
	return "", false
}

// PaymentEligible reports whether the customer may submit payment evidence now.
// Up-front orders accept evidence while unpaid or after a rejection; pay-on-delivery
// orders accept it once delivered and until a payment is approved. Cancelled
// orders never do.
func (o *Order) PaymentEligible() bool {
	if o.Status == OrderCancelled {
		return false
	}
	switch o.PaymentType {
	case PayBeforeDelivery:
		return o.PaymentStatus == PaymentUnpaid || o.PaymentStatus == PaymentRejected
	case PayAfterDelivery:
		return o.Status == OrderDelivered && o.PaymentStatus != PaymentApproved
	}
	return false
}

// Reviewable reports whether a payment decision can be recorded. Evidence on
// a cancelled order stays unreviewed.
func (o *Order) Reviewable() bool {
	return o.Status != OrderCancelled && o.PaymentStatus == PaymentSubmitted
}
