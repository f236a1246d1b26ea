package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/internal/idempotency"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

const IdempotencyHeader = "Idempotency-Key"

// StreamHandler serves the live notification stream for an authenticated user.
type StreamHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, userID string, all bool)
}

// HealthFunc reports dependency health; a non-nil error turns /health into 503.
type HealthFunc func(ctx context.Context) (map[string]interface{}, error)

type Handler struct {
	service *Service
	guard   idempotency.Guard
	logger  *logrus.Logger
	stream  StreamHandler
	health  HealthFunc
}

func NewHandler(service *Service, guard idempotency.Guard, logger *logrus.Logger) *Handler {
	if guard == nil {
		guard = idempotency.Noop{}
	}
	return &Handler{
		service: service,
		guard:   guard,
		logger:  logger,
	}
}

func (h *Handler) SetStreamHandler(stream StreamHandler) {
	h.stream = stream
}

func (h *Handler) SetHealthFunc(fn HealthFunc) {
	h.health = fn
}

// Register mounts the public routes on r and everything else behind the
// protected middleware chain, which must put an auth.User on the context.
func (h *Handler) Register(r *mux.Router, protected ...mux.MiddlewareFunc) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/deliveries/track/{trackingId}", h.TrackDelivery).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(protected...)
	api.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/status", h.UpdateOrderStatus).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}/payment", h.SubmitPayment).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/approve-payment", h.ReviewPayment).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/approvals", h.ListApprovals).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/{id}/status", h.UpdateDeliveryStatus).Methods(http.MethodPut)
	api.HandleFunc("/notifications", h.ListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/ws", h.Stream).Methods(http.MethodGet)
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.respondWithDomainError(w, r, ErrUnauthenticated)
	}
	return u, ok
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Debug("Failed to decode request body")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req models.CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" {
		claimed, err := h.guard.Claim(r.Context(), user.ID, key)
		if err != nil {
			// Redis trouble should not stop orders; duplicates are the lesser evil.
			h.logger.WithError(err).WithField("customer_id", user.ID).Warn("Idempotency guard unavailable")
		} else if !claimed {
			h.respondWithDomainError(w, r, fmt.Errorf("%w: idempotency key %q already used", ErrDuplicateRequest, key))
			return
		}
	}

	order, err := h.service.CreateOrder(r.Context(), user, req)
	if err != nil {
		if key != "" {
			if rerr := h.guard.Release(r.Context(), user.ID, key); rerr != nil {
				h.logger.WithError(rerr).WithField("customer_id", user.ID).Warn("Failed to release idempotency key")
			}
		}
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, order)
}

func parseListQuery(r *http.Request) (models.ListOrdersQuery, error) {
	var q models.ListOrdersQuery
	values := r.URL.Query()
	if s := values.Get("status"); s != "" {
		status, err := models.ParseOrderStatus(strings.ToUpper(s))
		if err != nil {
			return q, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		q.Status = &status
	}
	for name, dst := range map[string]*int{"page": &q.Page, "limit": &q.Limit} {
		s := values.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidRequest, name)
		}
		*dst = n
	}
	return q, nil
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	q, err := parseListQuery(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	list, err := h.service.ListOrders(r.Context(), user, q)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req models.UpdateOrderStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.UpdateOrderStatus(r.Context(), user, mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req models.SubmitPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.SubmitPayment(r.Context(), user, mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) ReviewPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req models.ReviewPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	review, err := h.service.ReviewPayment(r.Context(), user, mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, review)
}

func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	approvals, err := h.service.ListApprovals(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, approvals)
}

func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req models.UpdateDeliveryStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	update, err := h.service.UpdateDeliveryStatus(r.Context(), user, mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, update)
}

func (h *Handler) TrackDelivery(w http.ResponseWriter, r *http.Request) {
	tracking, err := h.service.TrackDelivery(r.Context(), mux.Vars(r)["trackingId"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tracking)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.respondWithDomainError(w, r, fmt.Errorf("%w: limit must be an integer", ErrInvalidRequest))
			return
		}
		limit = n
	}
	notifications, err := h.service.ListNotifications(r.Context(), user, limit)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, notifications)
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if h.stream == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Live notifications are not enabled")
		return
	}
	h.stream.HandleWebSocket(w, r, user.ID, user.Role == models.RoleAdmin)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "order-service",
	}
	if h.health != nil {
		details, err := h.health(r.Context())
		for k, v := range details {
			body[k] = v
		}
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			h.respondWithJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	h.respondWithJSON(w, http.StatusOK, body)
}

// statusFor maps domain errors onto HTTP status codes. Unknown errors are
// reported as 500 without leaking their text.
func statusFor(err error) (int, string) {
	var enumErr *models.UnknownValueError
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.As(err, &enumErr):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrDeliveryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ErrNotEligibleForPayment),
		errors.Is(err, ErrNoPendingApproval),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrDuplicateRequest):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := statusFor(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": code,
	})
	if code == http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}
	h.respondWithError(w, code, message)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, models.ErrorResponse{Success: false, Error: message})
}

// RespondUnauthenticated is the auth middleware's failure callback.
func (h *Handler) RespondUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	h.respondWithDomainError(w, r, fmt.Errorf("%w: %v", ErrUnauthenticated, err))
}
