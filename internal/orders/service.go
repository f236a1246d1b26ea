package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/internal/store"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	// trackingAttempts bounds order inserts that lose a tracking id race.
	trackingAttempts = 3
)

// Notifier delivers notifications on a best-effort basis. Errors are logged
// by the caller and never fail the operation that produced the notification.
type Notifier interface {
	Notify(ctx context.Context, notifications []models.Notification) error
}

type Options struct {
	// DeliveryEstimate is added to the creation time to get EstimatedDelivery.
	DeliveryEstimate time.Duration
	Now              func() time.Time
}

// Service owns the order lifecycle: creation with stock decrement, the
// payment approval workflow and delivery tracking.
type Service struct {
	store    store.Store
	notifier Notifier
	logger   *logrus.Logger
	opts     Options
	tracking trackingIDs
}

func NewService(s store.Store, notifier Notifier, logger *logrus.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DeliveryEstimate <= 0 {
		opts.DeliveryEstimate = 72 * time.Hour
	}
	return &Service{
		store:    s,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

func newID() string {
	return uuid.New().String()
}

func canView(u auth.User, o *models.Order) bool {
	switch {
	case u.Role.SeesAllOrders():
		return true
	case u.Role == models.RoleCustomer:
		return o.CustomerID == u.ID
	case u.Role.IsMerchant():
		return o.HasSeller(u.ID)
	}
	return false
}

// canManage covers sellers of at least one line item and admins.
func canManage(u auth.User, o *models.Order) bool {
	if u.Role == models.RoleAdmin {
		return true
	}
	return u.Role.IsMerchant() && o.HasSeller(u.ID)
}

func validateCreate(req models.CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidRequest)
	}
	for i, line := range req.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no productId", ErrInvalidRequest, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidRequest, i)
		}
	}
	if !req.PaymentType.Valid() {
		return fmt.Errorf("%w: paymentType must be BEFORE_DELIVERY or AFTER_DELIVERY", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" {
		return fmt.Errorf("%w: deliveryAddress is required", ErrInvalidRequest)
	}
	return nil
}

func uniqueProductIDs(items []models.LineItemRequest) []string {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, line := range items {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}
	sort.Strings(ids)
	return ids
}

// CreateOrder validates stock for every line, snapshots prices, persists the
// order with its items and delivery and decrements stock in one transaction.
// Any failure leaves stock and orders untouched.
func (s *Service) CreateOrder(ctx context.Context, user auth.User, req models.CreateOrderRequest) (*models.Order, error) {
	if user.Role != models.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers can place orders", ErrUnauthorized)
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.now()
	status, paymentStatus := models.InitialStatuses(req.PaymentType)
	order := &models.Order{
		ID:             newID(),
		CustomerID:     user.ID,
		Status:         status,
		PaymentType:    req.PaymentType,
		PaymentStatus:  paymentStatus,
		PaymentDetails: strings.TrimSpace(req.PaymentDetails),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.Delivery = &models.Delivery{
		ID:                newID(),
		OrderID:           order.ID,
		Address:           strings.TrimSpace(req.DeliveryAddress),
		TrackingID:        s.tracking.next(now),
		Status:            models.DeliveryProcessing,
		EstimatedDelivery: now.Add(s.opts.DeliveryEstimate),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	firstEvent := &models.DeliveryEvent{
		ID:         newID(),
		DeliveryID: order.Delivery.ID,
		Status:     models.DeliveryProcessing,
		CreatedAt:  now,
	}

	insert := func(tx store.Tx) error {
		products, err := tx.LockProducts(ctx, uniqueProductIDs(req.Items))
		if err != nil {
			return err
		}

		// A product listed twice is checked against what the earlier lines left.
		remaining := make(map[string]int, len(products))
		items := make([]models.OrderItem, 0, len(req.Items))
		for _, line := range req.Items {
			p, ok := products[line.ProductID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
			}
			left, seen := remaining[p.ID]
			if !seen {
				left = p.Stock
			}
			if left < line.Quantity {
				return fmt.Errorf("%w: %s has %d left, %d requested", ErrInsufficientStock, p.Name, left, line.Quantity)
			}
			remaining[p.ID] = left - line.Quantity

			item := models.OrderItem{
				ID:          newID(),
				OrderID:     order.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				SellerID:    p.SellerID,
				Quantity:    line.Quantity,
				Price:       p.Price,
			}
			items = append(items, item)
		}
		order.Items = items
		order.Total = order.ComputeTotal()

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertDeliveryEvent(ctx, firstEvent); err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := tx.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, store.ErrStockExhausted) {
					return fmt.Errorf("%w: %s", ErrInsufficientStock, item.ProductName)
				}
				return err
			}
		}
		return nil
	}

	// Another instance may have issued the same TRK id in the same millisecond.
	err := s.store.InTx(ctx, insert)
	for attempt := 1; attempt < trackingAttempts && errors.Is(err, store.ErrTrackingIDTaken); attempt++ {
		s.logger.WithField("tracking_id", order.Delivery.TrackingID).Warn("Tracking id taken, retrying with the next one")
		order.Delivery.TrackingID = s.tracking.next(s.now())
		err = s.store.InTx(ctx, insert)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"customer_id": user.ID,
			"items_count": len(req.Items),
		}).Warn("Order creation rejected")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"total":        order.Total.StringFixed(2),
		"payment_type": order.PaymentType,
		"tracking_id":  order.Delivery.TrackingID,
	}).Info("Order created")

	s.notify(ctx, order.ID, s.orderCreatedNotifications(order))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, user auth.User, id string) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return nil, err
	}
	if !canView(user, o) {
		return nil, fmt.Errorf("%w: order %s", ErrUnauthorized, id)
	}
	return o, nil
}

// ListOrders scopes the listing by role: customers see their own orders,
// sellers and companies see orders containing their products, admins and
// stakeholders see everything.
func (s *Service) ListOrders(ctx context.Context, user auth.User, q models.ListOrdersQuery) (*models.OrderList, error) {
	page := max(q.Page, 1)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	if page-1 > math.MaxInt32/limit {
		return nil, fmt.Errorf("%w: page %d is out of range", ErrInvalidRequest, page)
	}

	filter := store.OrderFilter{Status: q.Status, Offset: (page - 1) * limit, Limit: limit}
	switch {
	case user.Role.SeesAllOrders():
	case user.Role == models.RoleCustomer:
		filter.CustomerID = user.ID
	case user.Role.IsMerchant():
		filter.SellerID = user.ID
	default:
		return nil, fmt.Errorf("%w: role %s cannot list orders", ErrUnauthorized, user.Role)
	}

	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return &models.OrderList{
		Orders: orders,
		Pagination: models.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	}, nil
}

func lockOrder(ctx context.Context, tx store.Tx, id string) (*models.Order, error) {
	o, err := tx.LockOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return nil, err
	}
	return o, nil
}

// UpdateOrderStatus moves an order one step along PENDING → CONFIRMED →
// PACKED → OUT_FOR_DELIVERY → DELIVERED, or to CANCELLED before delivery.
// Customers may only cancel their own order while it is PENDING or CONFIRMED.
func (s *Service) UpdateOrderStatus(ctx context.Context, user auth.User, id string, req models.UpdateOrderStatusRequest) (*models.Order, error) {
	next := req.Status
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, next)
	}

	var (
		order    *models.Order
		previous models.OrderStatus
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}

		if user.Role == models.RoleCustomer {
			if o.CustomerID != user.ID || next != models.OrderCancelled {
				return fmt.Errorf("%w: customers may only cancel their own orders", ErrUnauthorized)
			}
			if o.Status != models.OrderPending && o.Status != models.OrderConfirmed {
				return fmt.Errorf("%w: order %s is already %s", ErrInvalidStatusTransition, o.ShortID(), o.Status)
			}
		} else if !canManage(user, o) {
			return fmt.Errorf("%w: order %s", ErrUnauthorized, id)
		}

		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, next)
		}
		if o.Status == models.OrderPending && next == models.OrderConfirmed && o.PaymentStatus != models.PaymentApproved {
			return fmt.Errorf("%w: payment for order %s has not been approved", ErrInvalidStatusTransition, o.ShortID())
		}

		previous = o.Status
		o.Status = next
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
		"order_id": order.ID,
		"from":     previous,
		"to":       order.Status,
		"actor_id": user.ID,
	}).Info("Order status updated")

	s.notify(ctx, order.ID, []models.Notification{s.orderStatusNotification(order)})
	return order, nil
}

func (s *Service) ListApprovals(ctx context.Context, user auth.User, orderID string) ([]models.PaymentApproval, error) {
	if _, err := s.GetOrder(ctx, user, orderID); err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if approvals == nil {
		approvals = []models.PaymentApproval{}
	}
	return approvals, nil
}

func (s *Service) ListNotifications(ctx context.Context, user auth.User, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	out, err := s.store.ListNotifications(ctx, user.ID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Notification{}
	}
	return out, nil
}

// notify runs after the transaction has committed. Dispatch failures are
// logged and dropped.
func (s *Service) notify(ctx context.Context, orderID string, notifications []models.Notification) {
	if s.notifier == nil || len(notifications) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, notifications); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":   orderID,
			"recipients": len(notifications),
		}).Warn("Failed to dispatch notifications")
	}
}
