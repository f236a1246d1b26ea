package models

import (
	"encoding/json"
	"fmt"
)

type ProductType string

const (
	ProductEggs         ProductType = "EGGS"
	ProductChickenMeat  ProductType = "CHICKEN_MEAT"
	ProductChickenFeed  ProductType = "CHICKEN_FEED"
	ProductChicks       ProductType = "CHICKS"
	ProductHatchingEggs ProductType = "HATCHING_EGGS"
)

var productTypes = []ProductType{ProductEggs, ProductChickenMeat, ProductChickenFeed, ProductChicks, ProductHatchingEggs}

type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderPacked         OrderStatus = "PACKED"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

// orderFlow is the forward progression; CANCELLED sits outside it.
var (
	orderFlow     = []OrderStatus{OrderPending, OrderConfirmed, OrderPacked, OrderOutForDelivery, OrderDelivered}
	orderStatuses = []OrderStatus{OrderPending, OrderConfirmed, OrderPacked, OrderOutForDelivery, OrderDelivered, OrderCancelled}
)

type PaymentType string

const (
	PayBeforeDelivery PaymentType = "BEFORE_DELIVERY"
	PayAfterDelivery  PaymentType = "AFTER_DELIVERY"
)

var paymentTypes = []PaymentType{PayBeforeDelivery, PayAfterDelivery}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "UNPAID"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSubmitted PaymentStatus = "SUBMITTED"
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentRejected  PaymentStatus = "REJECTED"
)

var paymentStatuses = []PaymentStatus{PaymentUnpaid, PaymentPending, PaymentSubmitted, PaymentApproved, PaymentRejected}

type DeliveryStatus string

const (
	DeliveryProcessing     DeliveryStatus = "processing"
	DeliveryPickedUp       DeliveryStatus = "picked_up"
	DeliveryInTransit      DeliveryStatus = "in_transit"
	DeliveryOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryDelivered      DeliveryStatus = "delivered"
	DeliveryFailed         DeliveryStatus = "failed"
)

var (
	deliveryFlow     = []DeliveryStatus{DeliveryProcessing, DeliveryPickedUp, DeliveryInTransit, DeliveryOutForDelivery, DeliveryDelivered}
	deliveryStatuses = []DeliveryStatus{DeliveryProcessing, DeliveryPickedUp, DeliveryInTransit, DeliveryOutForDelivery, DeliveryDelivered, DeliveryFailed}
)

type ApprovalAction string

const (
	ActionApprove ApprovalAction = "APPROVE"
	ActionReject  ApprovalAction = "REJECT"
)

var approvalActions = []ApprovalAction{ActionApprove, ActionReject}

type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleSeller      Role = "SELLER"
	RoleCompany     Role = "COMPANY"
	RoleCustomer    Role = "CUSTOMER"
	RoleStakeholder Role = "STAKEHOLDER"
)

var roles = []Role{RoleAdmin, RoleSeller, RoleCompany, RoleCustomer, RoleStakeholder}

// IsMerchant reports whether the role owns products.
func (r Role) IsMerchant() bool {
	return r == RoleSeller || r == RoleCompany
}

// SeesAllOrders reports whether the role has marketplace-wide read access.
func (r Role) SeesAllOrders() bool {
	return r == RoleAdmin || r == RoleStakeholder
}

type NotificationType string

const (
	NotifyOrderCreated     NotificationType = "ORDER_CREATED"
	NotifyOrderStatus      NotificationType = "ORDER_STATUS"
	NotifyPaymentSubmitted NotificationType = "PAYMENT_SUBMITTED"
	NotifyPaymentReviewed  NotificationType = "PAYMENT_REVIEWED"
	NotifyDeliveryStatus   NotificationType = "DELIVERY_STATUS"
)

var notificationTypes = []NotificationType{NotifyOrderCreated, NotifyOrderStatus, NotifyPaymentSubmitted, NotifyPaymentReviewed, NotifyDeliveryStatus}

// UnknownValueError is returned when a string does not name a member of a closed enum.
type UnknownValueError struct {
	Enum  string
	Value string
}

func (e *UnknownValueError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Enum, e.Value)
}

func parseEnum[T ~string](enum string, members []T, s string) (T, error) {
	for _, m := range members {
		if string(m) == s {
			return m, nil
		}
	}
	var zero T
	return zero, &UnknownValueError{Enum: enum, Value: s}
}

func unmarshalEnum[T ~string](data []byte, enum string, members []T, dst *T) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%s must be a string: %w", enum, err)
	}
	v, err := parseEnum(enum, members, s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func ParseProductType(s string) (ProductType, error) {
	return parseEnum("product type", productTypes, s)
}

func (t ProductType) Valid() bool { _, err := ParseProductType(string(t)); return err == nil }

func (t *ProductType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "product type", productTypes, t)
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	return parseEnum("order status", orderStatuses, s)
}

func (s OrderStatus) Valid() bool { _, err := ParseOrderStatus(string(s)); return err == nil }

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "order status", orderStatuses, s)
}

func ParsePaymentType(s string) (PaymentType, error) {
	return parseEnum("payment type", paymentTypes, s)
}

func (t PaymentType) Valid() bool { _, err := ParsePaymentType(string(t)); return err == nil }

func (t *PaymentType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "payment type", paymentTypes, t)
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	return parseEnum("payment status", paymentStatuses, s)
}

func (s PaymentStatus) Valid() bool { _, err := ParsePaymentStatus(string(s)); return err == nil }

func (s *PaymentStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "payment status", paymentStatuses, s)
}

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	return parseEnum("delivery status", deliveryStatuses, s)
}

func (s DeliveryStatus) Valid() bool { _, err := ParseDeliveryStatus(string(s)); return err == nil }

func (s *DeliveryStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "delivery status", deliveryStatuses, s)
}

func ParseApprovalAction(s string) (ApprovalAction, error) {
	return parseEnum("approval action", approvalActions, s)
}

func (a ApprovalAction) Valid() bool { _, err := ParseApprovalAction(string(a)); return err == nil }

func (a *ApprovalAction) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "approval action", approvalActions, a)
}

func ParseRole(s string) (Role, error) {
	return parseEnum("role", roles, s)
}

func (r Role) Valid() bool { _, err := ParseRole(string(r)); return err == nil }

func (r *Role) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "role", roles, r)
}

func ParseNotificationType(s string) (NotificationType, error) {
	return parseEnum("notification type", notificationTypes, s)
}

func (t NotificationType) Valid() bool { _, err := ParseNotificationType(string(t)); return err == nil }

func (t *NotificationType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "notification type", notificationTypes, t)
}
