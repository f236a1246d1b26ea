package models

type LineItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items           []LineItemRequest `json:"items"`
	DeliveryAddress string            `json:"deliveryAddress"`
	PaymentType     PaymentType       `json:"paymentType"`
	PaymentDetails  string            `json:"paymentDetails,omitempty"`
}

type ListOrdersQuery struct {
	Status *OrderStatus
	Page   int
	Limit  int
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type OrderList struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status"`
}

type SubmitPaymentRequest struct {
	Phone        string `json:"phone"`
	Reference    string `json:"reference"`
	MpesaMessage string `json:"mpesaMessage"`
}

type ReviewPaymentRequest struct {
	Action ApprovalAction `json:"action"`
	Notes  string         `json:"notes,omitempty"`
}

type UpdateDeliveryStatusRequest struct {
	Status       DeliveryStatus `json:"status"`
	Location     string         `json:"location,omitempty"`
	CourierName  string         `json:"courierName,omitempty"`
	CourierPhone string         `json:"courierPhone,omitempty"`
}

type PaymentReview struct {
	Order    *Order           `json:"order"`
	Approval *PaymentApproval `json:"approval"`
}

type DeliveryUpdate struct {
	Delivery *Delivery     `json:"delivery"`
	Event    DeliveryEvent `json:"event"`
	Order    *Order        `json:"order"`
}

type DeliveryTracking struct {
	Delivery *Delivery       `json:"delivery"`
	Events   []DeliveryEvent `json:"events"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
