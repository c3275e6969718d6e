package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SubscriptionStore provides access to subscriptions.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new SubscriptionStore.
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id, account_id, tariff_id, status, traffic_limit_gb,
	purchased_traffic_gb, traffic_reset_at, last_charge_at, next_charge_at,
	daily_billing, created_at, updated_at`

func scanSubscription(row interface {
	Scan(dest ...interface{}) error
}) (*Subscription, error) {
	sub := &Subscription{}
	var trafficResetAt, lastChargeAt, nextChargeAt sql.NullTime
	err := row.Scan(
		&sub.ID, &sub.AccountID, &sub.TariffID, &sub.Status, &sub.TrafficLimitGB,
		&sub.PurchasedTrafficGB, &trafficResetAt, &lastChargeAt, &nextChargeAt,
		&sub.DailyBilling, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if trafficResetAt.Valid {
		sub.TrafficResetAt = &trafficResetAt.Time
	}
	if lastChargeAt.Valid {
		sub.LastChargeAt = &lastChargeAt.Time
	}
	if nextChargeAt.Valid {
		sub.NextChargeAt = &nextChargeAt.Time
	}
	return sub, nil
}

// Get retrieves a subscription by ID.
func (s *SubscriptionStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListDueDaily returns the active subscriptions enrolled in per-day billing
// whose next charge timestamp is at or before asOf.
func (s *SubscriptionStore) ListDueDaily(ctx context.Context, asOf time.Time) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE daily_billing = true
		  AND status = $1
		  AND next_charge_at IS NOT NULL
		  AND next_charge_at <= $2
		ORDER BY next_charge_at
	`
	rows, err := s.db.QueryContext(ctx, query, SubscriptionStatusActive, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}

	return subs, nil
}

// AdvanceCharge records a successful charge: last_charge_at is set to
// chargedAt and next_charge_at to the start of the next billing cycle.
func (s *SubscriptionStore) AdvanceCharge(ctx context.Context, id int64, chargedAt, nextChargeAt time.Time) error {
	query := `
		UPDATE subscriptions
		SET last_charge_at = $2, next_charge_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, chargedAt, nextChargeAt)
	if err != nil {
		return fmt.Errorf("failed to advance charge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// SuspendForNonpayment marks the subscription disabled after an insufficient
// funds check. The next charge timestamp is deliberately left untouched so
// the subscription is picked up again if it is reactivated.
func (s *SubscriptionStore) SuspendForNonpayment(ctx context.Context, id int64) error {
	query := `
		UPDATE subscriptions
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, SubscriptionStatusDisabled)
	if err != nil {
		return fmt.Errorf("failed to suspend subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// ApplyTrafficDecay deletes the given expired traffic purchases and persists
// the reconciled quota fields in a single transaction, so a crash mid-way
// never leaves purchases deleted but the limit unshrunk (or vice versa).
func (s *SubscriptionStore) ApplyTrafficDecay(ctx context.Context, id int64, purchaseIDs []int64, limitGB, purchasedGB int64, resetAt *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(purchaseIDs) > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM traffic_purchases WHERE id = ANY($1)`, pq.Array(purchaseIDs))
		if err != nil {
			return fmt.Errorf("failed to delete expired purchases: %w", err)
		}
	}

	var reset sql.NullTime
	if resetAt != nil {
		reset = sql.NullTime{Time: *resetAt, Valid: true}
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET traffic_limit_gb = $2, purchased_traffic_gb = $3, traffic_reset_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, limitGB, purchasedGB, reset)
	if err != nil {
		return fmt.Errorf("failed to update traffic limits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit traffic decay: %w", err)
	}
	return nil
}
