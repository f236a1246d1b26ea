package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/internal/store"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

// UpdateDeliveryStatus advances a delivery one stage (or to failed), appends
// a tracking event and carries out_for_delivery and delivered onto the order
// when that is the order's next legal status. An order that has not been
// packed yet keeps its status, and a cancelled order only accepts a failed
// delivery.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, user auth.User, deliveryID string, req models.UpdateDeliveryStatusRequest) (*models.DeliveryUpdate, error) {
	next := req.Status
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown delivery status %q", ErrInvalidRequest, next)
	}

	var (
		delivery *models.Delivery
		event    models.DeliveryEvent
		order    *models.Order
		advanced bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		d, err := tx.LockDelivery(ctx, deliveryID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrDeliveryNotFound, deliveryID)
			}
			return err
		}
		o, err := lockOrder(ctx, tx, d.OrderID)
		if err != nil {
			return err
		}
		if !canManage(user, o) {
			return fmt.Errorf("%w: delivery %s", ErrUnauthorized, deliveryID)
		}
		if !d.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: delivery %s -> %s", ErrInvalidStatusTransition, d.Status, next)
		}
		if next != models.DeliveryFailed {
			switch o.Status {
			case models.OrderCancelled:
				return fmt.Errorf("%w: order %s is cancelled", ErrInvalidStatusTransition, o.ShortID())
			case models.OrderPending:
				return fmt.Errorf("%w: order %s is awaiting payment approval", ErrInvalidStatusTransition, o.ShortID())
			}
		}

		now := s.now()
		d.Status = next
		if name := strings.TrimSpace(req.CourierName); name != "" {
			d.CourierName = name
		}
		if phone := strings.TrimSpace(req.CourierPhone); phone != "" {
			d.CourierPhone = phone
		}
		d.UpdatedAt = now
		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return err
		}

		event = models.DeliveryEvent{
			ID:         newID(),
			DeliveryID: d.ID,
			Status:     next,
			Location:   strings.TrimSpace(req.Location),
			CreatedAt:  now,
		}
		if err := tx.InsertDeliveryEvent(ctx, &event); err != nil {
			return err
		}

		if implied, ok := next.OrderStatus(); ok && o.Status.CanTransitionTo(implied) {
			o.Status = implied
			o.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			advanced = true
		}
		o.Delivery = d
		delivery, order = d, o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"delivery_id":  delivery.ID,
		"tracking_id":  delivery.TrackingID,
		"status":       delivery.Status,
		"order_id":     order.ID,
		"order_status": order.Status,
		"order_moved":  advanced,
	}).Info("Delivery status updated")

	s.notify(ctx, order.ID, []models.Notification{s.deliveryNotification(order, delivery, event)})
	return &models.DeliveryUpdate{Delivery: delivery, Event: event, Order: order}, nil
}

// TrackDelivery is the public tracking view: the delivery and its events,
// oldest first.
func (s *Service) TrackDelivery(ctx context.Context, trackingID string) (*models.DeliveryTracking, error) {
	d, err := s.store.GetDeliveryByTracking(ctx, strings.TrimSpace(trackingID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: tracking id %s", ErrDeliveryNotFound, trackingID)
		}
		return nil, err
	}
	events, err := s.store.ListDeliveryEvents(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.DeliveryEvent{}
	}
	return &models.DeliveryTracking{Delivery: d, Events: events}, nil
}
