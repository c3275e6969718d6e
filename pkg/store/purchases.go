package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TrafficPurchaseStore provides access to temporary traffic purchases.
type TrafficPurchaseStore struct {
	db *sql.DB
}

// NewTrafficPurchaseStore creates a new TrafficPurchaseStore.
func NewTrafficPurchaseStore(db *sql.DB) *TrafficPurchaseStore {
	return &TrafficPurchaseStore{db: db}
}

const purchaseColumns = `id, subscription_id, traffic_gb, expires_at, created_at`

func (s *TrafficPurchaseStore) list(ctx context.Context, query string, args ...interface{}) ([]*TrafficPurchase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []*TrafficPurchase
	for rows.Next() {
		p := &TrafficPurchase{}
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.TrafficGB, &p.ExpiresAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan traffic purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate traffic purchases: %w", err)
	}
	return purchases, nil
}

// ListExpired returns every traffic purchase whose expiry is at or before
// asOf, across all subscriptions.
func (s *TrafficPurchaseStore) ListExpired(ctx context.Context, asOf time.Time) ([]*TrafficPurchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM traffic_purchases
		WHERE expires_at <= $1
		ORDER BY subscription_id, expires_at
	`
	purchases, err := s.list(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired purchases: %w", err)
	}
	return purchases, nil
}

// ListActive returns the subscription's purchases that have not yet expired
// as of asOf, ordered by soonest expiry first.
func (s *TrafficPurchaseStore) ListActive(ctx context.Context, subscriptionID int64, asOf time.Time) ([]*TrafficPurchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM traffic_purchases
		WHERE subscription_id = $1 AND expires_at > $2
		ORDER BY expires_at
	`
	purchases, err := s.list(ctx, query, subscriptionID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list active purchases: %w", err)
	}
	return purchases, nil
}
