package orders

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/internal/store"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	// Safaricom numbers in local (07/01), international (254) or E.164 (+254) form.
	mpesaPhonePattern = regexp.MustCompile(`^(?:\+?254|0)([17]\d{8})$`)
	referencePattern  = regexp.MustCompile(`^[A-Z0-9]{6,20}$`)
)

// normalizePhone returns the number in 2547XXXXXXXX form.
func normalizePhone(raw string) (string, bool) {
	compact := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	m := mpesaPhonePattern.FindStringSubmatch(compact)
	if m == nil {
		return "", false
	}
	return "254" + m[1], true
}

func validatePayment(req models.SubmitPaymentRequest) (phone, reference string, err error) {
	phone, ok := normalizePhone(req.Phone)
	if !ok {
		return "", "", fmt.Errorf("%w: phone must be a valid M-Pesa number", ErrInvalidRequest)
	}
	reference = strings.ToUpper(strings.TrimSpace(req.Reference))
	if !referencePattern.MatchString(reference) {
		return "", "", fmt.Errorf("%w: reference must be 6-20 letters or digits", ErrInvalidRequest)
	}
	return phone, reference, nil
}

// SubmitPayment records the customer's M-Pesa evidence and moves the payment
// to SUBMITTED. Only the ordering customer may submit, and only while the
// order is eligible for payment.
func (s *Service) SubmitPayment(ctx context.Context, user auth.User, orderID string, req models.SubmitPaymentRequest) (*models.Order, error) {
	phone, reference, err := validatePayment(req)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if user.Role != models.RoleCustomer || o.CustomerID != user.ID {
			return fmt.Errorf("%w: only the ordering customer can submit payment", ErrUnauthorized)
		}
		if !o.PaymentEligible() {
			return fmt.Errorf("%w: %s order is %s with payment %s",
				ErrNotEligibleForPayment, o.PaymentType, o.Status, o.PaymentStatus)
		}

		o.PaymentPhone = phone
		o.PaymentReference = reference
		o.PaymentDetails = strings.TrimSpace(req.MpesaMessage)
		o.PaymentStatus = models.PaymentSubmitted
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"reference": order.PaymentReference,
	}).Info("Payment submitted")

	s.notify(ctx, order.ID, s.paymentSubmittedNotifications(order))
	return order, nil
}

// ReviewPayment records a seller's or admin's decision on submitted evidence.
// Approving an up-front payment confirms a PENDING order. The approval record
// and the order change commit together.
func (s *Service) ReviewPayment(ctx context.Context, user auth.User, orderID string, req models.ReviewPaymentRequest) (*models.PaymentReview, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: action must be approve or reject", ErrInvalidRequest)
	}

	var (
		order    *models.Order
		approval *models.PaymentApproval
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.CustomerID == user.ID || !canManage(user, o) {
			return fmt.Errorf("%w: cannot review payment for order %s", ErrUnauthorized, o.ShortID())
		}
		if !o.Reviewable() {
			if o.Status == models.OrderCancelled {
				return fmt.Errorf("%w: order %s is cancelled", ErrNoPendingApproval, o.ShortID())
			}
			return fmt.Errorf("%w: payment is %s", ErrNoPendingApproval, o.PaymentStatus)
		}

		now := s.now()
		a := &models.PaymentApproval{
			ID:         newID(),
			OrderID:    o.ID,
			ApproverID: user.ID,
			Action:     req.Action,
			Notes:      strings.TrimSpace(req.Notes),
			CreatedAt:  now,
		}
		if err := tx.InsertApproval(ctx, a); err != nil {
			return err
		}

		if req.Action == models.ActionApprove {
			o.PaymentStatus = models.PaymentApproved
			if o.PaymentType == models.PayBeforeDelivery && o.Status == models.OrderPending {
				o.Status = models.OrderConfirmed
			}
		} else {
			o.PaymentStatus = models.PaymentRejected
		}
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		order, approval = o, a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"action":         approval.Action,
		"approver_id":    approval.ApproverID,
		"payment_status": order.PaymentStatus,
		"order_status":   order.Status,
	}).Info("Payment reviewed")

	s.notify(ctx, order.ID, []models.Notification{s.paymentReviewedNotification(order, approval)})
	return &models.PaymentReview{Order: order, Approval: approval}, nil
}
