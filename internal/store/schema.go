package store

import (
	"context"
	"database/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(32) NOT NULL,
		price NUMERIC(12,2) NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		seller_id VARCHAR(64) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		customer_id VARCHAR(64) NOT NULL,
		total NUMERIC(12,2) NOT NULL,
		status VARCHAR(32) NOT NULL,
		payment_type VARCHAR(32) NOT NULL,
		payment_status VARCHAR(32) NOT NULL,
		payment_phone VARCHAR(32) NOT NULL DEFAULT '',
		payment_reference VARCHAR(64) NOT NULL DEFAULT '',
		payment_details TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
		product_id VARCHAR(64) NOT NULL REFERENCES products(id),
		product_name VARCHAR(255) NOT NULL,
		seller_id VARCHAR(64) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC(12,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL UNIQUE REFERENCES orders(id),
		address TEXT NOT NULL,
		tracking_id VARCHAR(64) NOT NULL CONSTRAINT deliveries_tracking_id_key UNIQUE,
		status VARCHAR(32) NOT NULL,
		courier_name VARCHAR(255) NOT NULL DEFAULT '',
		courier_phone VARCHAR(32) NOT NULL DEFAULT '',
		estimated_delivery TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_events (
		id VARCHAR(64) PRIMARY KEY,
		delivery_id VARCHAR(64) NOT NULL REFERENCES deliveries(id),
		status VARCHAR(32) NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_approvals (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
		approver_id VARCHAR(64) NOT NULL,
		action VARCHAR(16) NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		order_id VARCHAR(64) NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_seller_id ON order_items(seller_id)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_events_delivery_id ON delivery_events(delivery_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_approvals_order_id ON payment_approvals(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id, created_at DESC)`,
}

// CreateTables applies the schema idempotently.
func CreateTables(ctx context.Context, db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}
