package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      ProductType     `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	SellerID  string          `json:"seller_id"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Order struct {
	ID               string          `json:"id"`
	CustomerID       string          `json:"customer_id"`
	Items            []OrderItem     `json:"items"`
	Total            decimal.Decimal `json:"total"`
	Status           OrderStatus     `json:"status"`
	PaymentType      PaymentType     `json:"payment_type"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentPhone     string          `json:"payment_phone,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentDetails   string          `json:"payment_details,omitempty"`
	Delivery         *Delivery       `json:"delivery,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OrderItem carries point-in-time copies of the product's name, owner and
// price so later catalogue edits never change a placed order.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	SellerID    string          `json:"seller_id"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Subtotal is price × quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Delivery struct {
	ID                string         `json:"id"`
	OrderID           string         `json:"order_id"`
	Address           string         `json:"address"`
	TrackingID        string         `json:"tracking_id"`
	Status            DeliveryStatus `json:"status"`
	CourierName       string         `json:"courier_name,omitempty"`
	CourierPhone      string         `json:"courier_phone,omitempty"`
	EstimatedDelivery time.Time      `json:"estimated_delivery"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type DeliveryEvent struct {
	ID         string         `json:"id"`
	DeliveryID string         `json:"delivery_id"`
	Status     DeliveryStatus `json:"status"`
	Location   string         `json:"location,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type PaymentApproval struct {
	ID         string         `json:"id"`
	OrderID    string         `json:"order_id"`
	ApproverID string         `json:"approver_id"`
	Action     ApprovalAction `json:"action"`
	Notes      string         `json:"notes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	OrderID   string           `json:"order_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// ShortID is the order reference shown to people.
func (o *Order) ShortID() string {
	if len(o.ID) <= 8 {
		return o.ID
	}
	return o.ID[:8]
}

// SellerIDs returns the distinct owners of the ordered products in item order.
func (o *Order) SellerIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	var ids []string
	for _, item := range o.Items {
		if item.SellerID == "" || seen[item.SellerID] {
			continue
		}
		seen[item.SellerID] = true
		ids = append(ids, item.SellerID)
	}
	return ids
}

// HasSeller reports whether sellerID owns any line item.
func (o *Order) HasSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// ComputeTotal sums the snapshotted line prices.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}
