package store

import (
	"errors"
	"time"
)

// Sentinel errors shared by all stores.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds is returned by Debit when the account balance
	// cannot cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrial    SubscriptionStatus = "trial"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
	SubscriptionStatusDisabled SubscriptionStatus = "disabled"
	SubscriptionStatusPending  SubscriptionStatus = "pending"
)

// Account holds a user's balance and the identities used for panel
// provisioning lookups and notification delivery.
type Account struct {
	ID           int64     `json:"id"`
	PanelUUID    string    `json:"panel_uuid,omitempty"`
	ChatID       int64     `json:"chat_id"`
	BalanceCents int64     `json:"balance_cents"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Subscription represents an account's active service plan.
//
// TrafficLimitGB is the total allowed quota; PurchasedTrafficGB is the
// portion of it attributable to still-active temporary traffic purchases.
// The difference is the tariff's base allotment and must never be negative.
type Subscription struct {
	ID                 int64              `json:"id"`
	AccountID          int64              `json:"account_id"`
	TariffID           int64              `json:"tariff_id"`
	Status             SubscriptionStatus `json:"status"`
	TrafficLimitGB     int64              `json:"traffic_limit_gb"`
	PurchasedTrafficGB int64              `json:"purchased_traffic_gb"`
	TrafficResetAt     *time.Time         `json:"traffic_reset_at,omitempty"`
	LastChargeAt       *time.Time         `json:"last_charge_at,omitempty"`
	NextChargeAt       *time.Time         `json:"next_charge_at,omitempty"`
	DailyBilling       bool               `json:"daily_billing"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Tariff describes a service plan's pricing and base traffic allotment.
type Tariff struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	DailyPriceCents    int64     `json:"daily_price_cents"`
	BaseTrafficLimitGB int64     `json:"base_traffic_limit_gb"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TrafficPurchase is one discrete, time-bound grant of additional traffic
// attached to a subscription. It is created at purchase time (outside this
// service) and deleted by the decay processor once expired.
type TrafficPurchase struct {
	ID             int64     `json:"id"`
	SubscriptionID int64     `json:"subscription_id"`
	TrafficGB      int64     `json:"traffic_gb"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// LedgerDirection is the direction of a monetary movement.
type LedgerDirection string

const (
	LedgerDirectionDebit  LedgerDirection = "debit"
	LedgerDirectionCredit LedgerDirection = "credit"
)

// LedgerCategory classifies a ledger entry.
type LedgerCategory string

const (
	// LedgerCategorySubscriptionPayment marks a recurring per-day charge.
	LedgerCategorySubscriptionPayment LedgerCategory = "subscription_payment"
)

// LedgerEntry is an immutable record of a monetary movement. Entries are
// only created as the result of a successful debit and are never updated
// or deleted.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	AmountCents int64           `json:"amount_cents"`
	Direction   LedgerDirection `json:"direction"`
	Category    LedgerCategory  `json:"category"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
