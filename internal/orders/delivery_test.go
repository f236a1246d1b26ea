package orders

import (
	"context"
	"testing"

	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) advance(t *testing.T, deliveryID string, statuses ...models.DeliveryStatus) *models.DeliveryUpdate {
	t.Helper()
	var last *models.DeliveryUpdate
	for _, s := range statuses {
		u, err := f.svc.UpdateDeliveryStatus(context.Background(), seller, deliveryID, models.UpdateDeliveryStatusRequest{Status: s})
		require.NoError(t, err, s)
		last = u
	}
	return last
}

func TestDeliveryStagesCannotBeSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, customer, orderRequest(models.PayAfterDelivery, line("broiler", 1)))
	require.NoError(t, err)

	_, err = f.svc.UpdateDeliveryStatus(ctx, seller, order.Delivery.ID, models.UpdateDeliveryStatusRequest{Status: models.DeliveryDelivered})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	update, err := f.svc.UpdateDeliveryStatus(ctx, seller, order.Delivery.ID, models.UpdateDeliveryStatusRequest{
		Status:   models.DeliveryFailed,
		Location: "Githurai roundabout",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, update.Delivery.Status)
	assert.Equal(t, models.OrderConfirmed, update.Order.Status, "a failed delivery leaves the order alone")

	_, err = f.svc.UpdateDeliveryStatus(ctx, seller, order.Delivery.ID, models.UpdateDeliveryStatusRequest{Status: models.DeliveryPickedUp})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition, "failed is terminal")
}

func TestDeliveryProjectsOntoOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, customer, orderRequest(models.PayAfterDelivery, line("broiler", 1)))
	require.NoError(t, err)
	_, err = f.svc.UpdateOrderStatus(ctx, seller, order.ID, models.UpdateOrderStatusRequest{Status: models.OrderPacked})
	require.NoError(t, err)
	f.notifier.take()

	u := f.advance(t, order.Delivery.ID, models.DeliveryPickedUp, models.DeliveryInTransit)
	assert.Equal(t, models.OrderPacked, u.Order.Status)

	u, err = f.svc.UpdateDeliveryStatus(ctx, seller, order.Delivery.ID, models.UpdateDeliveryStatusRequest{
		Status:       models.DeliveryOutForDelivery,
		Location:     " Kasarani ",
		CourierName:  "Otieno",
		CourierPhone: "0722000111",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderOutForDelivery, u.Order.Status)
	assert.Equal(t, "Otieno", u.Delivery.CourierName)
	assert.Equal(t, "Kasarani", u.Event.Location)

	u = f.advance(t, order.Delivery.ID, models.DeliveryDelivered)
	assert.Equal(t, models.OrderDelivered, u.Order.Status)
	assert.Equal(t, "Otieno", u.Delivery.CourierName, "courier details persist across updates")

	got := f.notifier.take()
	require.Len(t, got, 4)
	for _, n := range got {
		assert.Equal(t, customer.ID, n.UserID)
		assert.Equal(t, models.NotifyDeliveryStatus, n.Type)
	}
	assert.Contains(t, got[2].Message, "out for delivery at Kasarani")

	stored, err := f.svc.GetOrder(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, stored.Status)
	require.NotNil(t, stored.Delivery)
	assert.Equal(t, models.DeliveryDelivered, stored.Delivery.Status)

	tracking, err := f.svc.TrackDelivery(ctx, order.Delivery.TrackingID)
	require.NoError(t, err)
	var statuses []models.DeliveryStatus
	for _, e := range tracking.Events {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []models.DeliveryStatus{
		models.DeliveryProcessing,
		models.DeliveryPickedUp,
		models.DeliveryInTransit,
		models.DeliveryOutForDelivery,
		models.DeliveryDelivered,
	}, statuses)
}

func TestDeliveryLeavesUnpackedOrderAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, customer, orderRequest(models.PayAfterDelivery, line("broiler", 1)))
	require.NoError(t, err)

	u := f.advance(t, order.Delivery.ID, models.DeliveryPickedUp, models.DeliveryInTransit, models.DeliveryOutForDelivery)
	assert.Equal(t, models.OrderConfirmed, u.Order.Status, "CONFIRMED cannot skip PACKED")
	assert.Equal(t, models.DeliveryOutForDelivery, u.Delivery.Status)

	u = f.advance(t, order.Delivery.ID, models.DeliveryDelivered)
	assert.Equal(t, models.OrderConfirmed, u.Order.Status)

	for _, s := range []models.OrderStatus{models.OrderPacked, models.OrderOutForDelivery, models.OrderDelivered} {
		o, err := f.svc.UpdateOrderStatus(ctx, seller, order.ID, models.UpdateOrderStatusRequest{Status: s})
		require.NoError(t, err, s)
		assert.Equal(t, s, o.Status)
	}
}

func TestDeliveryNeverMovesOrderBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, customer, orderRequest(models.PayAfterDelivery, line("broiler", 1)))
	require.NoError(t, err)

	for _, s := range []models.OrderStatus{models.OrderPacked, models.OrderOutForDelivery, models.OrderDelivered} {
		_, err := f.svc.UpdateOrderStatus(ctx, seller, order.ID, models.UpdateOrderStatusRequest{Status: s})
		require.NoError(t, err, s)
	}

	u := f.advance(t, order.Delivery.ID, models.DeliveryPickedUp, models.DeliveryInTransit, models.DeliveryOutForDelivery)
	assert.Equal(t, models.OrderDelivered, u.Order.Status)
	assert.Equal(t, models.DeliveryOutForDelivery, u.Delivery.Status)
}

func TestDeliveryGuardsOnOrderState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.svc.CreateOrder(ctx, customer, orderRequest(models.PayBeforeDelivery, line("broiler", 1)))
	require.NoError(t, err)
	_, err = f.svc.UpdateDeliveryStatus(ctx, seller, pending.Delivery.ID, models.UpdateDeliveryStatusRequest{Status: models.DeliveryPickedUp})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition, "unpaid orders do not ship")

	cancelled, err := f.svc.CreateOrder(ctx, customer, orderRequest(models.PayAfterDelivery, line("broiler", 1)))
	require.NoError(t, err)
	_, err = f.svc.UpdateOrderStatus(ctx, customer, cancelled.ID, models.UpdateOrderStatusRequest{Status: models.OrderCancelled})
	require.NoError(t, err)
	_, err = f.svc.UpdateDeliveryStatus(ctx, seller, cancelled.Delivery.ID, models.UpdateDeliveryStatusRequest{Status: models.DeliveryPickedUp})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	u, err := f.svc.UpdateDeliveryStatus(ctx, seller, cancelled.Delivery.ID, models.UpdateDeliveryStatusRequest{Status: models.DeliveryFailed})
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, u.Order.Status)
}

func TestDeliveryPermissionsAndLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, customer, orderRequest(models.PayAfterDelivery, line("broiler", 1)))
	require.NoError(t, err)

	req := models.UpdateDeliveryStatusRequest{Status: models.DeliveryPickedUp}
	_, err = f.svc.UpdateDeliveryStatus(ctx, customer, order.Delivery.ID, req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.UpdateDeliveryStatus(ctx, company, order.Delivery.ID, req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.UpdateDeliveryStatus(ctx, admin, "missing", req)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
	_, err = f.svc.UpdateDeliveryStatus(ctx, admin, order.Delivery.ID, models.UpdateDeliveryStatusRequest{Status: "lost"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	u, err := f.svc.UpdateDeliveryStatus(ctx, admin, order.Delivery.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPickedUp, u.Delivery.Status)

	_, err = f.svc.TrackDelivery(ctx, "TRK0")
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}

func TestTrackingIDsAreUnique(t *testing.T) {
	var g trackingIDs
	assert.Equal(t, "TRK1717407000000", g.next(testNow))
	assert.Equal(t, "TRK1717407000001", g.next(testNow))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := g.next(testNow)
		assert.False(t, seen[id], id)
		seen[id] = true
	}
}
