package billing

import (
	"context"
	"time"

	"github.com/relaymesh/billing/pkg/store"
)

// SubscriptionStore is the subset of the subscription store the processors
// depend on.
type SubscriptionStore interface {
	ListDueDaily(ctx context.Context, asOf time.Time) ([]*store.Subscription, error)
	Get(ctx context.Context, id int64) (*store.Subscription, error)
	AdvanceCharge(ctx context.Context, id int64, chargedAt, nextChargeAt time.Time) error
	SuspendForNonpayment(ctx context.Context, id int64) error
	ApplyTrafficDecay(ctx context.Context, id int64, purchaseIDs []int64, limitGB, purchasedGB int64, resetAt *time.Time) error
}

// AccountStore is the subset of the account store the processors depend on.
// Debit must be atomic: the balance check and the decrement happen as one
// operation.
type AccountStore interface {
	Get(ctx context.Context, id int64) (*store.Account, error)
	Debit(ctx context.Context, accountID, amountCents int64) error
	AppendLedgerEntry(ctx context.Context, entry *store.LedgerEntry) error
}

// TariffStore resolves tariffs.
type TariffStore interface {
	Get(ctx context.Context, id int64) (*store.Tariff, error)
}

// TrafficPurchaseStore is the subset of the purchase store the decay
// processor depends on.
type TrafficPurchaseStore interface {
	ListExpired(ctx context.Context, asOf time.Time) ([]*store.TrafficPurchase, error)
	ListActive(ctx context.Context, subscriptionID int64, asOf time.Time) ([]*store.TrafficPurchase, error)
}

// DeviceCounter reports how many devices are provisioned for a panel
// identity. Callers degrade to a default of one device on any error.
type DeviceCounter interface {
	CountDevices(ctx context.Context, panelUUID string) (int, error)
}

// PanelSyncer pushes subscription and quota state to the provisioning panel.
type PanelSyncer interface {
	PushSubscriptionState(ctx context.Context, sub *store.Subscription) error
	PushQuotaState(ctx context.Context, sub *store.Subscription) error
}

// Notifier delivers a message to an account's chat.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// ChargeOutcome classifies the result of processing one due subscription.
type ChargeOutcome string

const (
	OutcomeCharged   ChargeOutcome = "charged"
	OutcomeSuspended ChargeOutcome = "suspended"
	OutcomeError     ChargeOutcome = "error"
)

// ChargeStats aggregates one daily charge pass.
type ChargeStats struct {
	Checked   int
	Charged   int
	Suspended int
	Errors    int
}

// DecayStats aggregates one traffic decay pass. Checked counts expired
// purchases found, Reset counts purchases actually reclaimed.
type DecayStats struct {
	Checked int
	Reset   int
	Errors  int
}
