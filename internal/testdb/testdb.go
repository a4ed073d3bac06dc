// Package testdb opens throwaway sqlite databases carrying the service schema.
package testdb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  flight_number TEXT NOT NULL,
  departure_airport TEXT NOT NULL,
  arrival_airport TEXT NOT NULL,
  flight_date DATE NOT NULL,
  aircraft_type TEXT,
  flight_emissions_kg NUMERIC(18,6) NOT NULL,
  saf_volume_liters NUMERIC(14,1) NOT NULL,
  carbon_reduction_kg NUMERIC(18,6) NOT NULL,
  total_price NUMERIC(12,2) NOT NULL,
  platform_fee NUMERIC(12,2) NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  notes TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  certificate_id TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  completed_at DATETIME
)`,
	`CREATE TABLE payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  amount NUMERIC(12,2) NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  gateway_session_id TEXT,
  gateway_payment_intent_id TEXT,
  checkout_url TEXT,
  fee_amount NUMERIC(12,2) NOT NULL,
  net_amount NUMERIC(12,2) NOT NULL,
  refunded_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  failure_reason TEXT,
  refund_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  succeeded_at DATETIME,
  refunded_at DATETIME
)`,
	`CREATE UNIQUE INDEX ux_payments_gateway_session ON payments (gateway_session_id) WHERE gateway_session_id IS NOT NULL`,
	`CREATE UNIQUE INDEX ux_payments_active_per_order ON payments (order_id) WHERE status IN ('pending','processing')`,
	`CREATE TABLE certificates (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
  certificate_number TEXT NOT NULL UNIQUE,
  registry_id TEXT NOT NULL,
  saf_volume_liters NUMERIC(14,1) NOT NULL,
  carbon_reduction_kg NUMERIC(18,6) NOT NULL,
  artifact_uri TEXT NOT NULL,
  issued_at DATETIME NOT NULL,
  created_at DATETIME
)`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  owner_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT,
  sent_at DATETIME,
  created_at DATETIME
)`,
}

// Open returns an in-memory database private to t with every table created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// TxRunner adapts a bare *gorm.DB to the WithTx contract of pkg/db.Client.
type TxRunner struct {
	DB *gorm.DB
}

func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}

// CountOutbox returns how many outbox rows carry eventType.
func CountOutbox(t *testing.T, conn *gorm.DB, eventType string) int64 {
	t.Helper()
	var n int64
	if err := conn.Table("outbox_events").Where("event_type = ?", eventType).Count(&n).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}
