package db

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		building_id TEXT NOT NULL DEFAULT '',
		number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'VACANT',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		contract_number TEXT NOT NULL,
		room_id TEXT NOT NULL,
		renter_id TEXT NOT NULL DEFAULT '',
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ,
		monthly_rent DOUBLE PRECISION NOT NULL DEFAULT 0,
		deposit DOUBLE PRECISION NOT NULL DEFAULT 0,
		key_deposit DOUBLE PRECISION NOT NULL DEFAULT 0,
		cleaning_fee DOUBLE PRECISION NOT NULL DEFAULT 0,
		payment_method TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		signed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_contracts_number ON contracts (contract_number)`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_room ON contracts (room_id)`,
	`CREATE TABLE IF NOT EXISTS meters (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		type TEXT NOT NULL,
		unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		unit TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meters_room ON meters (room_id)`,
	`CREATE TABLE IF NOT EXISTS meter_readings (
		id TEXT PRIMARY KEY,
		meter_id TEXT NOT NULL,
		contract_id TEXT NOT NULL DEFAULT '',
		room_id TEXT NOT NULL DEFAULT '',
		meter_type TEXT NOT NULL,
		previous_reading DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_reading DOUBLE PRECISION NOT NULL DEFAULT 0,
		usage_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PENDING',
		is_billed BOOLEAN NOT NULL DEFAULT FALSE,
		reading_date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_contract ON meter_readings (contract_id)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_created ON meter_readings (created_at)`,
	`CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		bill_number TEXT NOT NULL,
		type TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		received_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		pending_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		bill_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		period_start TIMESTAMPTZ,
		period_end TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'PENDING',
		remark TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_number ON bills (bill_number)`,
	`CREATE INDEX IF NOT EXISTS idx_bills_contract ON bills (contract_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bills_created ON bills (created_at)`,
	`CREATE TABLE IF NOT EXISTS bill_details (
		id TEXT PRIMARY KEY,
		bill_id TEXT NOT NULL,
		meter_reading_id TEXT NOT NULL DEFAULT '',
		meter_type TEXT NOT NULL,
		usage_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		price_source TEXT NOT NULL DEFAULT 'GLOBAL_SETTING',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bill_details_bill ON bill_details (bill_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bill_details_reading ON bill_details (meter_reading_id)`,
}

// EnsureSchema creates the service's tables and indexes when absent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}
	return nil
}
