package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx answer from the order service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("order service returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the order service REST API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL, token string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to order service: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("Received response from order service")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode order service response: %w", err)
	}
	return nil
}

func (c *Client) ListOrders(ctx context.Context, q models.ListOrdersQuery) (*models.OrderList, error) {
	values := url.Values{}
	if q.Status != nil {
		values.Set("status", string(*q.Status))
	}
	if q.Page > 0 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/orders"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}

	var list models.OrderList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, req models.UpdateOrderStatusRequest) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID)+"/status", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) ReviewPayment(ctx context.Context, orderID string, req models.ReviewPaymentRequest) (*models.PaymentReview, error) {
	var review models.PaymentReview
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/approve-payment", req, &review); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"action":   req.Action,
	}).Info("Payment reviewed")
	return &review, nil
}

func (c *Client) ListApprovals(ctx context.Context, orderID string) ([]models.PaymentApproval, error) {
	var approvals []models.PaymentApproval
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/approvals", nil, &approvals); err != nil {
		return nil, err
	}
	return approvals, nil
}

func (c *Client) UpdateDeliveryStatus(ctx context.Context, deliveryID string, req models.UpdateDeliveryStatusRequest) (*models.DeliveryUpdate, error) {
	var update models.DeliveryUpdate
	if err := c.do(ctx, http.MethodPut, "/deliveries/"+url.PathEscape(deliveryID)+"/status", req, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

func (c *Client) TrackDelivery(ctx context.Context, trackingID string) (*models.DeliveryTracking, error) {
	var tracking models.DeliveryTracking
	if err := c.do(ctx, http.MethodGet, "/deliveries/track/"+url.PathEscape(trackingID), nil, &tracking); err != nil {
		return nil, err
	}
	return &tracking, nil
}
