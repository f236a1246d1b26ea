package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestPostgres connects to DATABASE_URL and skips the test when it is unset.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := OpenPostgres(ctx, PostgresConfig{URL: url, MaxOpenConns: 8, ConnAttempts: 3}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pgProduct(t *testing.T, s *PostgresStore, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		ID:        "p-" + uuid.NewString()[:8],
		Name:      "Broiler 2kg",
		Type:      models.ProductChickenMeat,
		Price:     decimal.RequireFromString("7.50"),
		Stock:     stock,
		SellerID:  "seller-" + uuid.NewString()[:8],
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertProduct(context.Background(), p))
	return p
}

func pgOrder(customerID string, p *models.Product, qty int, createdAt time.Time) *models.Order {
	id := uuid.NewString()
	return &models.Order{
		ID:            id,
		CustomerID:    customerID,
		Total:         p.Price.Mul(decimal.NewFromInt(int64(qty))),
		Status:        models.OrderConfirmed,
		PaymentType:   models.PayAfterDelivery,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
		Items: []models.OrderItem{{
			ID: uuid.NewString(), OrderID: id, ProductID: p.ID, ProductName: p.Name,
			SellerID: p.SellerID, Quantity: qty, Price: p.Price,
		}},
		Delivery: &models.Delivery{
			ID:                uuid.NewString(),
			OrderID:           id,
			Address:           "Ruiru",
			TrackingID:        "TRK-" + id,
			Status:            models.DeliveryProcessing,
			EstimatedDelivery: createdAt.Add(72 * time.Hour),
			CreatedAt:         createdAt,
			UpdatedAt:         createdAt,
		},
	}
}

// placeOrder runs the same lock, check, insert and decrement sequence as order creation.
func placeOrder(ctx context.Context, s Store, o *models.Order) error {
	return s.InTx(ctx, func(tx Tx) error {
		line := o.Items[0]
		products, err := tx.LockProducts(ctx, []string{line.ProductID})
		if err != nil {
			return err
		}
		p, ok := products[line.ProductID]
		if !ok {
			return ErrNotFound
		}
		if p.Stock < line.Quantity {
			return ErrStockExhausted
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.DecrementStock(ctx, line.ProductID, line.Quantity)
	})
}

func TestPostgresLastUnitRace(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	p := pgProduct(t, s, 1)
	now := time.Now().UTC().Truncate(time.Microsecond)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = placeOrder(ctx, s, pgOrder("race-"+uuid.NewString()[:8], p, 1, now))
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrStockExhausted):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stock)
}

func TestPostgresDecrementGuardAndRollback(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	p := pgProduct(t, s, 2)
	o := pgOrder("c-"+uuid.NewString()[:8], p, 3, time.Now().UTC())

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.DecrementStock(ctx, p.ID, 3)
	})
	require.ErrorIs(t, err, ErrStockExhausted)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
	_, err = s.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotFound, "the order insert rolled back with the failed decrement")
}

func TestPostgresTrackingIDTaken(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	p := pgProduct(t, s, 5)
	now := time.Now().UTC()

	first := pgOrder("c-"+uuid.NewString()[:8], p, 1, now)
	require.NoError(t, placeOrder(ctx, s, first))

	second := pgOrder(first.CustomerID, p, 1, now)
	second.Delivery.TrackingID = first.Delivery.TrackingID
	require.ErrorIs(t, placeOrder(ctx, s, second), ErrTrackingIDTaken)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
}

func TestPostgresListOrdersFilters(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	p := pgProduct(t, s, 10)
	customerID := "c-" + uuid.NewString()[:8]
	base := time.Now().UTC().Truncate(time.Microsecond)

	var ids []string
	for i := 0; i < 3; i++ {
		o := pgOrder(customerID, p, 1, base.Add(time.Duration(i)*time.Minute))
		if i == 0 {
			o.Status = models.OrderPending
		}
		require.NoError(t, placeOrder(ctx, s, o))
		ids = append(ids, o.ID)
	}

	got, total, err := s.ListOrders(ctx, OrderFilter{CustomerID: customerID})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 3)
	assert.Equal(t, ids[2], got[0].ID, "newest first")
	require.Len(t, got[0].Items, 1)
	assert.Equal(t, p.ID, got[0].Items[0].ProductID)
	require.NotNil(t, got[0].Delivery)

	confirmed := models.OrderConfirmed
	got, total, err = s.ListOrders(ctx, OrderFilter{CustomerID: customerID, Status: &confirmed, Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 1)
	assert.Equal(t, ids[1], got[0].ID)

	got, total, err = s.ListOrders(ctx, OrderFilter{SellerID: p.SellerID, Offset: -10, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, got, 3)
}
