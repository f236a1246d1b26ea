// Package store persists products, orders, deliveries, payment approvals and
// notifications. Every multi-row change runs inside InTx so an order and its
// stock decrements commit or roll back together.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStockExhausted is returned by a guarded decrement that would take stock below zero.
	ErrStockExhausted = errors.New("stock exhausted")
	// ErrTrackingIDTaken means another delivery already holds the tracking id.
	ErrTrackingIDTaken = errors.New("tracking id taken")
)

type OrderFilter struct {
	CustomerID string
	SellerID   string
	Status     *models.OrderStatus
	Offset     int
	Limit      int
}

type Store interface {
	// InTx runs fn in one transaction, committing on nil and rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetProduct(ctx context.Context, id string) (*models.Product, error)
	UpsertProduct(ctx context.Context, p *models.Product) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, int, error)
	ListApprovals(ctx context.Context, orderID string) ([]models.PaymentApproval, error)

	GetDeliveryByTracking(ctx context.Context, trackingID string) (*models.Delivery, error)
	ListDeliveryEvents(ctx context.Context, deliveryID string) ([]models.DeliveryEvent, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side. Lock* methods hold the returned rows until the
// transaction ends.
type Tx interface {
	// LockProducts returns the products that exist among ids, keyed by id.
	LockProducts(ctx context.Context, ids []string) (map[string]*models.Product, error)
	DecrementStock(ctx context.Context, productID string, qty int) error

	InsertOrder(ctx context.Context, o *models.Order) error
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	InsertApproval(ctx context.Context, a *models.PaymentApproval) error

	LockDelivery(ctx context.Context, id string) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	InsertDeliveryEvent(ctx context.Context, e *models.DeliveryEvent) error
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open returns the backend named by driver. pg is ignored for the memory driver.
func Open(ctx context.Context, driver string, pg PostgresConfig, logger *logrus.Logger) (Store, error) {
	switch driver {
	case DriverMemory:
		logger.Warn("Using in-memory store; data is lost on restart")
		return NewMemoryStore(), nil
	case DriverPostgres:
		return OpenPostgres(ctx, pg, logger)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
