package orders

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (a *apiFixture) client(t *testing.T, srv *httptest.Server, u auth.User) *Client {
	t.Helper()
	token, err := a.issuer.Issue(u)
	require.NoError(t, err)
	return NewClient(srv.URL+"/", token, a.svc.logger)
}

func TestClientAgainstHandler(t *testing.T) {
	a := newAPIFixture(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()
	ctx := context.Background()

	order, err := a.svc.CreateOrder(ctx, customer, orderRequest(models.PayBeforeDelivery, line("broiler", 2)))
	require.NoError(t, err)
	_, err = a.svc.SubmitPayment(ctx, customer, order.ID, validPayment())
	require.NoError(t, err)

	c := a.client(t, srv, seller)

	list, err := c.ListOrders(ctx, models.ListOrdersQuery{Limit: 5})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, order.ID, list.Orders[0].ID)

	review, err := c.ReviewPayment(ctx, order.ID, models.ReviewPaymentRequest{Action: models.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, review.Order.Status)

	approvals, err := c.ListApprovals(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)

	packed, err := c.UpdateOrderStatus(ctx, order.ID, models.UpdateOrderStatusRequest{Status: models.OrderPacked})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPacked, packed.Status)

	update, err := c.UpdateDeliveryStatus(ctx, order.Delivery.ID, models.UpdateDeliveryStatusRequest{Status: models.DeliveryPickedUp})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPickedUp, update.Delivery.Status)

	tracking, err := NewClient(srv.URL, "", a.svc.logger).TrackDelivery(ctx, order.Delivery.TrackingID)
	require.NoError(t, err)
	assert.Len(t, tracking.Events, 2)

	got, err := c.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "15.00", got.Total.StringFixed(2))
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	a := newAPIFixture(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	_, err := a.client(t, srv, admin).GetOrder(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "order not found")

	_, err = NewClient(srv.URL, "", a.svc.logger).ListOrders(context.Background(), models.ListOrdersQuery{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
