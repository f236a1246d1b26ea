package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jogardn/poultry-market/pkg/models"
)

// MemoryStore keeps everything in process. One mutex covers every read and
// every transaction, which makes transactions serializable.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	products      map[string]models.Product
	orders        map[string]models.Order
	seq           map[string]int
	next          int
	deliveries    map[string]string // delivery id -> order id
	tracking      map[string]string // tracking id -> delivery id
	events        map[string][]models.DeliveryEvent
	approvals     map[string][]models.PaymentApproval
	notifications []models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		products:   make(map[string]models.Product),
		orders:     make(map[string]models.Order),
		seq:        make(map[string]int),
		deliveries: make(map[string]string),
		tracking:   make(map[string]string),
		events:     make(map[string][]models.DeliveryEvent),
		approvals:  make(map[string][]models.PaymentApproval),
	}}
}

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	if o.Delivery != nil {
		d := *o.Delivery
		o.Delivery = &d
	}
	return o
}

func (d *memData) clone() *memData {
	c := &memData{
		products:      make(map[string]models.Product, len(d.products)),
		orders:        make(map[string]models.Order, len(d.orders)),
		seq:           make(map[string]int, len(d.seq)),
		next:          d.next,
		deliveries:    make(map[string]string, len(d.deliveries)),
		tracking:      make(map[string]string, len(d.tracking)),
		events:        make(map[string][]models.DeliveryEvent, len(d.events)),
		approvals:     make(map[string][]models.PaymentApproval, len(d.approvals)),
		notifications: append([]models.Notification(nil), d.notifications...),
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range d.seq {
		c.seq[k] = v
	}
	for k, v := range d.deliveries {
		c.deliveries[k] = v
	}
	for k, v := range d.tracking {
		c.tracking[k] = v
	}
	for k, v := range d.events {
		c.events[k] = append([]models.DeliveryEvent(nil), v...)
	}
	for k, v := range d.approvals {
		c.approvals[k] = append([]models.PaymentApproval(nil), v...)
	}
	return c
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memTx{d: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) UpsertProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o = cloneOrder(o)
	return &o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]models.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.Order
	for _, o := range s.data.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.SellerID != "" && !o.HasSeller(f.SellerID) {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return s.data.seq[matched[i].ID] > s.data.seq[matched[j].ID]
	})

	total := len(matched)
	start := min(max(f.Offset, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	page := make([]models.Order, 0, end-start)
	for _, o := range matched[start:end] {
		page = append(page, cloneOrder(o))
	}
	return page, total, nil
}

func (s *MemoryStore) ListApprovals(_ context.Context, orderID string) ([]models.PaymentApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentApproval(nil), s.data.approvals[orderID]...), nil
}

func (s *MemoryStore) GetDeliveryByTracking(_ context.Context, trackingID string) (*models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deliveryID, ok := s.data.tracking[trackingID]
	if !ok {
		return nil, fmt.Errorf("tracking id %s: %w", trackingID, ErrNotFound)
	}
	o := s.data.orders[s.data.deliveries[deliveryID]]
	d := *o.Delivery
	return &d, nil
}

func (s *MemoryStore) ListDeliveryEvents(_ context.Context, deliveryID string) ([]models.DeliveryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DeliveryEvent(nil), s.data.events[deliveryID]...), nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.notifications = append(s.data.notifications, *n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for i := len(s.data.notifications) - 1; i >= 0; i-- {
		if n := s.data.notifications[i]; n.UserID == userID {
			out = append(out, n)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	d *memData
}

func (t *memTx) LockProducts(_ context.Context, ids []string) (map[string]*models.Product, error) {
	found := make(map[string]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.d.products[id]; ok {
			found[id] = &p
		}
	}
	return found, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) error {
	p, ok := t.d.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if p.Stock < qty {
		return fmt.Errorf("product %s: %w", productID, ErrStockExhausted)
	}
	p.Stock -= qty
	t.d.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *models.Order) error {
	if _, exists := t.d.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if d := o.Delivery; d != nil {
		if _, exists := t.d.tracking[d.TrackingID]; exists {
			return fmt.Errorf("tracking id %s: %w", d.TrackingID, ErrTrackingIDTaken)
		}
		t.d.deliveries[d.ID] = o.ID
		t.d.tracking[d.TrackingID] = d.ID
	}
	t.d.next++
	t.d.seq[o.ID] = t.d.next
	t.d.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*models.Order, error) {
	o, ok := t.d.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o = cloneOrder(o)
	return &o, nil
}

// UpdateOrder writes the mutable order fields; items, total and delivery are left alone.
func (t *memTx) UpdateOrder(_ context.Context, o *models.Order) error {
	cur, ok := t.d.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.PaymentPhone = o.PaymentPhone
	cur.PaymentReference = o.PaymentReference
	cur.PaymentDetails = o.PaymentDetails
	cur.UpdatedAt = o.UpdatedAt
	t.d.orders[o.ID] = cur
	return nil
}

func (t *memTx) InsertApproval(_ context.Context, a *models.PaymentApproval) error {
	t.d.approvals[a.OrderID] = append(t.d.approvals[a.OrderID], *a)
	return nil
}

func (t *memTx) LockDelivery(_ context.Context, id string) (*models.Delivery, error) {
	orderID, ok := t.d.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	d := *t.d.orders[orderID].Delivery
	return &d, nil
}

func (t *memTx) UpdateDelivery(_ context.Context, d *models.Delivery) error {
	orderID, ok := t.d.deliveries[d.ID]
	if !ok {
		return fmt.Errorf("delivery %s: %w", d.ID, ErrNotFound)
	}
	o := t.d.orders[orderID]
	cp := *d
	o.Delivery = &cp
	t.d.orders[orderID] = o
	return nil
}

func (t *memTx) InsertDeliveryEvent(_ context.Context, e *models.DeliveryEvent) error {
	t.d.events[e.DeliveryID] = append(t.d.events[e.DeliveryID], *e)
	return nil
}
