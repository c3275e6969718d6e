package store

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// tariffCacheSize bounds the in-process tariff cache. Tariffs are read for
// every due subscription each iteration and change rarely.
const tariffCacheSize = 256

// TariffStore provides read access to tariffs with an in-process LRU cache.
type TariffStore struct {
	db    *sql.DB
	cache *lru.Cache[int64, *Tariff]
}

// NewTariffStore creates a new TariffStore.
func NewTariffStore(db *sql.DB) (*TariffStore, error) {
	cache, err := lru.New[int64, *Tariff](tariffCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tariff cache: %w", err)
	}
	return &TariffStore{db: db, cache: cache}, nil
}

// Get retrieves a tariff by ID, serving repeated lookups from the cache.
func (s *TariffStore) Get(ctx context.Context, id int64) (*Tariff, error) {
	if tariff, ok := s.cache.Get(id); ok {
		return tariff, nil
	}

	query := `
		SELECT id, name, daily_price_cents, base_traffic_limit_gb, created_at, updated_at
		FROM tariffs
		WHERE id = $1
	`
	tariff := &Tariff{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tariff.ID, &tariff.Name, &tariff.DailyPriceCents, &tariff.BaseTrafficLimitGB,
		&tariff.CreatedAt, &tariff.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tariff %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tariff: %w", err)
	}

	s.cache.Add(id, tariff)
	return tariff, nil
}

// Invalidate drops a tariff from the cache, for use after administrative
// price changes.
func (s *TariffStore) Invalidate(id int64) {
	s.cache.Remove(id)
}
