// Package notify fans order notifications out to their destinations: the
// notifications table, live websocket sessions and the Kafka topic.
// Delivery is best effort. A failing destination is logged and skipped and
// never reaches the caller.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("dispatcher closed")

// Sink is one notification destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

type Dispatcher struct {
	sinks   []Sink
	logger  *logrus.Logger
	timeout time.Duration
	// parallel bounds concurrent deliveries per dispatch.
	parallel int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(logger *logrus.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sinks:    sinks,
		logger:   logger,
		timeout:  timeout,
		parallel: 8,
	}
}

// Notify returns immediately. Delivery continues after the caller's context
// is cancelled, bounded by the dispatcher timeout.
func (d *Dispatcher) Notify(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 || len(d.sinks) == 0 {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	batch := append([]models.Notification(nil), notifications...)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.dispatch(ctx, batch)
	}()
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, notifications []models.Notification) {
	var g errgroup.Group
	g.SetLimit(d.parallel)
	for _, n := range notifications {
		for _, sink := range d.sinks {
			n, sink := n, sink
			g.Go(func() error {
				if err := sink.Deliver(ctx, n); err != nil {
					d.logger.WithError(err).WithFields(logrus.Fields{
						"sink":            sink.Name(),
						"notification_id": n.ID,
						"user_id":         n.UserID,
						"order_id":        n.OrderID,
						"type":            n.Type,
					}).Warn("Notification delivery failed")
				}
				return nil
			})
		}
	}
	g.Wait()
}

// Wait blocks until every dispatch started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close rejects new dispatches and waits for in-flight ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
