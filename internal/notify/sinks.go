package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jogardn/poultry-market/internal/circuitbreaker"
	"github.com/jogardn/poultry-market/internal/store"
	"github.com/jogardn/poultry-market/pkg/models"
)

// StoreSink persists notifications so users can list them later. It also
// serves as the worker's handler when persistence happens off the topic.
type StoreSink struct {
	store store.Store
}

func NewStoreSink(s store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// ErrInvalidNotification marks a notification that can never be stored.
var ErrInvalidNotification = errors.New("invalid notification")

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n models.Notification) error {
	if n.UserID == "" || !n.Type.Valid() {
		return fmt.Errorf("%w: %s has recipient %q and type %q", ErrInvalidNotification, n.ID, n.UserID, n.Type)
	}
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		return fmt.Errorf("persist notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *StoreSink) HandleNotification(ctx context.Context, n models.Notification) error {
	return s.Deliver(ctx, n)
}

// Pusher is the part of the websocket hub the sink needs.
type Pusher interface {
	SendToUser(userID, messageType string, data interface{}) bool
}

var ErrHubSaturated = errors.New("websocket hub saturated")

type HubSink struct {
	hub Pusher
}

func NewHubSink(hub Pusher) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Deliver(_ context.Context, n models.Notification) error {
	if !s.hub.SendToUser(n.UserID, "notification", n) {
		return ErrHubSaturated
	}
	return nil
}

// Publisher is the part of the Kafka producer the sink needs.
type Publisher interface {
	PublishNotification(ctx context.Context, n models.Notification) error
}

// EventSink publishes to Kafka through a circuit breaker so a dead broker
// costs one fast rejection per notification instead of a send timeout.
type EventSink struct {
	publisher Publisher
	breaker   *circuitbreaker.CircuitBreaker
}

func NewEventSink(publisher Publisher, breaker *circuitbreaker.CircuitBreaker) *EventSink {
	return &EventSink{publisher: publisher, breaker: breaker}
}

func (s *EventSink) Name() string { return "kafka" }

func (s *EventSink) Deliver(ctx context.Context, n models.Notification) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.publisher.PublishNotification(ctx, n)
	})
}
