package orders

import (
	"fmt"
	"strings"

	"github.com/jogardn/poultry-market/pkg/models"
)

func (s *Service) newNotification(userID string, t models.NotificationType, orderID, title, message string) models.Notification {
	return models.Notification{
		ID:        newID(),
		UserID:    userID,
		Type:      t,
		Title:     title,
		Message:   message,
		OrderID:   orderID,
		CreatedAt: s.now(),
	}
}

func paymentLabel(t models.PaymentType) string {
	if t == models.PayBeforeDelivery {
		return "pay before delivery"
	}
	return "pay on delivery"
}

// humanize turns OUT_FOR_DELIVERY or out_for_delivery into "out for delivery".
func humanize[T ~string](v T) string {
	return strings.ToLower(strings.ReplaceAll(string(v), "_", " "))
}

// orderCreatedNotifications tells every seller on the order, once each.
func (s *Service) orderCreatedNotifications(o *models.Order) []models.Notification {
	var out []models.Notification
	for _, sellerID := range o.SellerIDs() {
		units := 0
		for _, item := range o.Items {
			if item.SellerID == sellerID {
				units += item.Quantity
			}
		}
		out = append(out, s.newNotification(sellerID, models.NotifyOrderCreated, o.ID,
			"New order received",
			fmt.Sprintf("Order #%s includes %d unit(s) of your products (%s).", o.ShortID(), units, paymentLabel(o.PaymentType))))
	}
	return out
}

func (s *Service) paymentSubmittedNotifications(o *models.Order) []models.Notification {
	var out []models.Notification
	for _, sellerID := range o.SellerIDs() {
		out = append(out, s.newNotification(sellerID, models.NotifyPaymentSubmitted, o.ID,
			"Payment awaiting approval",
			fmt.Sprintf("Order #%s: M-Pesa payment %s of KES %s submitted for review.", o.ShortID(), o.PaymentReference, o.Total.StringFixed(2))))
	}
	return out
}

func (s *Service) paymentReviewedNotification(o *models.Order, a *models.PaymentApproval) models.Notification {
	if a.Action == models.ActionApprove {
		return s.newNotification(o.CustomerID, models.NotifyPaymentReviewed, o.ID,
			"Payment approved",
			fmt.Sprintf("Your payment %s for order #%s was approved.", o.PaymentReference, o.ShortID()))
	}
	msg := fmt.Sprintf("Your payment %s for order #%s was rejected.", o.PaymentReference, o.ShortID())
	if a.Notes != "" {
		msg += " Reason: " + a.Notes
	}
	return s.newNotification(o.CustomerID, models.NotifyPaymentReviewed, o.ID, "Payment rejected", msg)
}

func (s *Service) orderStatusNotification(o *models.Order) models.Notification {
	return s.newNotification(o.CustomerID, models.NotifyOrderStatus, o.ID,
		"Order updated",
		fmt.Sprintf("Order #%s is now %s.", o.ShortID(), humanize(o.Status)))
}

func (s *Service) deliveryNotification(o *models.Order, d *models.Delivery, e models.DeliveryEvent) models.Notification {
	msg := fmt.Sprintf("Order #%s (%s) is %s.", o.ShortID(), d.TrackingID, humanize(d.Status))
	if e.Location != "" {
		msg = fmt.Sprintf("Order #%s (%s) is %s at %s.", o.ShortID(), d.TrackingID, humanize(d.Status), e.Location)
	}
	return s.newNotification(o.CustomerID, models.NotifyDeliveryStatus, o.ID, "Delivery update", msg)
}
