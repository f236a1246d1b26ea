package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type PostgresConfig struct {
	// URL, when set, is used as the connection string instead of the fields below.
	URL          string
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	ConnAttempts int
}

func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenPostgres connects, waits for the database to accept connections and
// applies the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 4)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	attempts := max(cfg.ConnAttempts, 1)
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			break
		}
		logger.WithError(err).WithField("attempt", i+1).Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database not reachable after %d attempts: %w", attempts, err)
	}

	if err := CreateTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

const productColumns = `id, name, type, price, stock, seller_id, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	p := &models.Product{}
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Price, &p.Stock, &p.SellerID, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "product "+id)
	}
	return p, nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (id, name, type, price, stock, seller_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, price = EXCLUDED.price,
			stock = EXCLUDED.stock, seller_id = EXCLUDED.seller_id, updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Type, p.Price, p.Stock, p.SellerID, p.UpdatedAt)
	return err
}

const orderColumns = `id, customer_id, total, status, payment_type, payment_status,
	payment_phone, payment_reference, payment_details, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.CustomerID, &o.Total, &o.Status, &o.PaymentType, &o.PaymentStatus,
		&o.PaymentPhone, &o.PaymentReference, &o.PaymentDetails, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return loadOrder(ctx, s.db, id, false)
}

func loadOrder(ctx context.Context, q querier, id string, lock bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "order "+id)
	}
	orders := []*models.Order{o}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	if err := attachDeliveries(ctx, q, orders); err != nil {
		return nil, err
	}
	return o, nil
}

func attachItems(ctx context.Context, q querier, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*models.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, seller_id, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.SellerID, &item.Quantity, &item.Price); err != nil {
			return err
		}
		o := byID[item.OrderID]
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

const deliveryColumns = `id, order_id, address, tracking_id, status, courier_name, courier_phone,
	estimated_delivery, created_at, updated_at`

func scanDelivery(row interface{ Scan(...any) error }) (*models.Delivery, error) {
	d := &models.Delivery{}
	err := row.Scan(&d.ID, &d.OrderID, &d.Address, &d.TrackingID, &d.Status, &d.CourierName,
		&d.CourierPhone, &d.EstimatedDelivery, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func attachDeliveries(ctx context.Context, q querier, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*models.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return err
		}
		byID[d.OrderID].Delivery = d
	}
	return rows.Err()
}

func (s *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, int, error) {
	status := ""
	if f.Status != nil {
		status = string(*f.Status)
	}
	where := `
		WHERE ($1 = '' OR o.customer_id = $1)
		  AND ($2 = '' OR EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.id AND oi.seller_id = $2))
		  AND ($3 = '' OR o.status = $3)
	`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders o`+where, f.CustomerID, f.SellerID, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := sql.NullInt64{Int64: int64(f.Limit), Valid: f.Limit > 0}
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders o`+where+`
		ORDER BY o.created_at DESC, o.id DESC LIMIT $4 OFFSET $5`,
		f.CustomerID, f.SellerID, status, limit, max(f.Offset, 0))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ptrs []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := attachItems(ctx, s.db, ptrs); err != nil {
		return nil, 0, err
	}
	if err := attachDeliveries(ctx, s.db, ptrs); err != nil {
		return nil, 0, err
	}

	orders := make([]models.Order, 0, len(ptrs))
	for _, o := range ptrs {
		orders = append(orders, *o)
	}
	return orders, total, nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, orderID string) ([]models.PaymentApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, approver_id, action, notes, created_at
		FROM payment_approvals WHERE order_id = $1 ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []models.PaymentApproval
	for rows.Next() {
		var a models.PaymentApproval
		if err := rows.Scan(&a.ID, &a.OrderID, &a.ApproverID, &a.Action, &a.Notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (s *PostgresStore) GetDeliveryByTracking(ctx context.Context, trackingID string) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE tracking_id = $1`, trackingID))
	if err != nil {
		return nil, notFound(err, "tracking id "+trackingID)
	}
	return d, nil
}

func (s *PostgresStore) ListDeliveryEvents(ctx context.Context, deliveryID string) ([]models.DeliveryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, delivery_id, status, location, created_at
		FROM delivery_events WHERE delivery_id = $1 ORDER BY created_at, id
	`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.DeliveryEvent
	for rows.Next() {
		var e models.DeliveryEvent
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.Status, &e.Location, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, order_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.OrderID, n.Read, n.CreatedAt)
	return err
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, order_id, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.OrderID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx *sql.Tx
}

// LockProducts takes row locks in id order so concurrent orders over
// overlapping products cannot deadlock.
func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]*models.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		found[p.ID] = p
	}
	return found, rows.Err()
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - $1, updated_at = now()
		WHERE id = $2 AND stock >= $1
	`, qty, productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %s: %w", productID, ErrStockExhausted)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, total, status, payment_type, payment_status,
			payment_phone, payment_reference, payment_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, o.ID, o.CustomerID, o.Total, o.Status, o.PaymentType, o.PaymentStatus,
		o.PaymentPhone, o.PaymentReference, o.PaymentDetails, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, seller_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, o.ID, item.ProductID, item.ProductName, item.SellerID, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}

	if d := o.Delivery; d != nil {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO deliveries (id, order_id, address, tracking_id, status, courier_name, courier_phone,
				estimated_delivery, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, d.ID, o.ID, d.Address, d.TrackingID, d.Status, d.CourierName, d.CourierPhone,
			d.EstimatedDelivery, d.CreatedAt, d.UpdatedAt)
		if isUniqueViolation(err, "deliveries_tracking_id_key") {
			return fmt.Errorf("tracking id %s: %w", d.TrackingID, ErrTrackingIDTaken)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, payment_status = $2, payment_phone = $3,
			payment_reference = $4, payment_details = $5, updated_at = $6
		WHERE id = $7
	`, o.Status, o.PaymentStatus, o.PaymentPhone, o.PaymentReference, o.PaymentDetails, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertApproval(ctx context.Context, a *models.PaymentApproval) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_approvals (id, order_id, approver_id, action, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.OrderID, a.ApproverID, a.Action, a.Notes, a.CreatedAt)
	return err
}

func (t *pgTx) LockDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	d, err := scanDelivery(t.tx.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "delivery "+id)
	}
	return d, nil
}

func (t *pgTx) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE deliveries SET status = $1, courier_name = $2, courier_phone = $3, updated_at = $4
		WHERE id = $5
	`, d.Status, d.CourierName, d.CourierPhone, d.UpdatedAt, d.ID)
	return err
}

func (t *pgTx) InsertDeliveryEvent(ctx context.Context, e *models.DeliveryEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO delivery_events (id, delivery_id, status, location, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.DeliveryID, e.Status, e.Location, e.CreatedAt)
	return err
}
