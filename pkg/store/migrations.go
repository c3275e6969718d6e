package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the billing schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id BIGSERIAL PRIMARY KEY,
					panel_uuid VARCHAR(64),
					chat_id BIGINT NOT NULL,
					balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_accounts_chat_id ON accounts(chat_id);
			`,
		},
		{
			Version:     2,
			Description: "Create tariffs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tariffs (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					daily_price_cents BIGINT NOT NULL DEFAULT 0,
					base_traffic_limit_gb BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					tariff_id BIGINT NOT NULL REFERENCES tariffs(id),
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					traffic_limit_gb BIGINT NOT NULL DEFAULT 0,
					purchased_traffic_gb BIGINT NOT NULL DEFAULT 0,
					traffic_reset_at TIMESTAMP,
					last_charge_at TIMESTAMP,
					next_charge_at TIMESTAMP,
					daily_billing BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_subscriptions_account_id ON subscriptions(account_id);
				CREATE INDEX idx_subscriptions_due ON subscriptions(next_charge_at)
					WHERE daily_billing AND status = 'active';
			`,
		},
		{
			Version:     4,
			Description: "Create traffic_purchases table",
			SQL: `
				CREATE TABLE IF NOT EXISTS traffic_purchases (
					id BIGSERIAL PRIMARY KEY,
					subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
					traffic_gb BIGINT NOT NULL CHECK (traffic_gb > 0),
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_traffic_purchases_expires_at ON traffic_purchases(expires_at);
				CREATE INDEX idx_traffic_purchases_subscription_id ON traffic_purchases(subscription_id);
			`,
		},
		{
			Version:     5,
			Description: "Create ledger_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ledger_entries (
					id BIGSERIAL PRIMARY KEY,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
					direction VARCHAR(10) NOT NULL,
					category VARCHAR(50) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_ledger_entries_account_id ON ledger_entries(account_id, created_at);
			`,
		},
	}
}

// RunMigrations applies every pending migration, each in its own
// transaction. Applied versions are tracked in billing_migrations and
// skipped on subsequent runs.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS billing_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM billing_migrations ORDER BY version`)
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO billing_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
