package orders

import "errors"

var (
	ErrProductNotFound         = errors.New("product not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrNotEligibleForPayment   = errors.New("order is not eligible for payment")
	ErrNoPendingApproval       = errors.New("no payment awaiting approval")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrUnauthorized            = errors.New("not allowed for this user")

	ErrUnauthenticated  = errors.New("authentication required")
	ErrOrderNotFound    = errors.New("order not found")
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDuplicateRequest = errors.New("duplicate request")
)
