package storage

import (
	"context"
)

var postgresMigrations = []string{
	`
	CREATE TABLE IF NOT EXISTS users(
		id VARCHAR PRIMARY KEY,
		payer_identity VARCHAR NOT NULL UNIQUE,
		invite_code VARCHAR NOT NULL UNIQUE,
		inviter_id VARCHAR REFERENCES users(id),
		commission_rate NUMERIC(6,4),
		created_at TIMESTAMPTZ NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS orders(
		order_no VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		payer_identity VARCHAR NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		description VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		prepay_ref VARCHAR,
		transaction_id VARCHAR UNIQUE,
		external_order_id VARCHAR,
		inviter_id VARCHAR,
		consumed_bill_no VARCHAR,
		fail_reason VARCHAR,
		created_at TIMESTAMPTZ NOT NULL,
		paid_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ NOT NULL
	);
	`,
	`CREATE INDEX IF NOT EXISTS idx_orders_inviter ON orders(inviter_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);`,
	`
	CREATE TABLE IF NOT EXISTS withdrawals(
		bill_no VARCHAR PRIMARY KEY,
		user_id VARCHAR NOT NULL,
		payer_identity VARCHAR NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		status VARCHAR NOT NULL,
		order_amount_total BIGINT NOT NULL,
		commission_rate NUMERIC(6,4) NOT NULL,
		related_orders TEXT NOT NULL,
		transfer_ref VARCHAR,
		package_info VARCHAR,
		fail_reason VARCHAR,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_withdrawals_processing ON withdrawals(payer_identity) WHERE status = 'PROCESSING';`,
	`
	CREATE TABLE IF NOT EXISTS notifications(
		external_order_id VARCHAR PRIMARY KEY,
		payer_identity VARCHAR NOT NULL,
		outcome VARCHAR NOT NULL,
		attempts INT NOT NULL,
		last_error VARCHAR,
		notified_at TIMESTAMPTZ NOT NULL
	);
	`,
}

var sqliteMigrations = []string{
	`
	CREATE TABLE IF NOT EXISTS users(
		id TEXT PRIMARY KEY,
		payer_identity TEXT NOT NULL UNIQUE,
		invite_code TEXT NOT NULL UNIQUE,
		inviter_id TEXT,
		commission_rate TEXT,
		created_at TIMESTAMP NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS orders(
		order_no TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payer_identity TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		prepay_ref TEXT,
		transaction_id TEXT UNIQUE,
		external_order_id TEXT,
		inviter_id TEXT,
		consumed_bill_no TEXT,
		fail_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		paid_at TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);
	`,
	`CREATE INDEX IF NOT EXISTS idx_orders_inviter ON orders(inviter_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);`,
	`
	CREATE TABLE IF NOT EXISTS withdrawals(
		bill_no TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payer_identity TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL,
		order_amount_total INTEGER NOT NULL,
		commission_rate TEXT NOT NULL,
		related_orders TEXT NOT NULL,
		transfer_ref TEXT,
		package_info TEXT,
		fail_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_withdrawals_processing ON withdrawals(payer_identity) WHERE status = 'PROCESSING';`,
	`
	CREATE TABLE IF NOT EXISTS notifications(
		external_order_id TEXT PRIMARY KEY,
		payer_identity TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		last_error TEXT,
		notified_at TIMESTAMP NOT NULL
	);
	`,
}

func (s *SQLStorage) runMigrations(ctx context.Context) error {
	migrations := postgresMigrations
	if s.db.DriverName() == DriverSQLite {
		migrations = sqliteMigrations
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	for _, migration := range migrations {
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return tx.Commit()
}
