package billing

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaymesh/billing/pkg/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type mockSubscriptionStore struct {
	listDueDailyFunc      func(ctx context.Context, asOf time.Time) ([]*store.Subscription, error)
	getFunc               func(ctx context.Context, id int64) (*store.Subscription, error)
	advanceChargeFunc     func(ctx context.Context, id int64, chargedAt, nextChargeAt time.Time) error
	suspendFunc           func(ctx context.Context, id int64) error
	applyTrafficDecayFunc func(ctx context.Context, id int64, purchaseIDs []int64, limitGB, purchasedGB int64, resetAt *time.Time) error
}

func (m *mockSubscriptionStore) ListDueDaily(ctx context.Context, asOf time.Time) ([]*store.Subscription, error) {
	if m.listDueDailyFunc != nil {
		return m.listDueDailyFunc(ctx, asOf)
	}
	return nil, nil
}

func (m *mockSubscriptionStore) Get(ctx context.Context, id int64) (*store.Subscription, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockSubscriptionStore) AdvanceCharge(ctx context.Context, id int64, chargedAt, nextChargeAt time.Time) error {
	if m.advanceChargeFunc != nil {
		return m.advanceChargeFunc(ctx, id, chargedAt, nextChargeAt)
	}
	return nil
}

func (m *mockSubscriptionStore) SuspendForNonpayment(ctx context.Context, id int64) error {
	if m.suspendFunc != nil {
		return m.suspendFunc(ctx, id)
	}
	return nil
}

func (m *mockSubscriptionStore) ApplyTrafficDecay(ctx context.Context, id int64, purchaseIDs []int64, limitGB, purchasedGB int64, resetAt *time.Time) error {
	if m.applyTrafficDecayFunc != nil {
		return m.applyTrafficDecayFunc(ctx, id, purchaseIDs, limitGB, purchasedGB, resetAt)
	}
	return nil
}

type mockAccountStore struct {
	getFunc               func(ctx context.Context, id int64) (*store.Account, error)
	debitFunc             func(ctx context.Context, accountID, amountCents int64) error
	appendLedgerEntryFunc func(ctx context.Context, entry *store.LedgerEntry) error
}

func (m *mockAccountStore) Get(ctx context.Context, id int64) (*store.Account, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockAccountStore) Debit(ctx context.Context, accountID, amountCents int64) error {
	if m.debitFunc != nil {
		return m.debitFunc(ctx, accountID, amountCents)
	}
	return nil
}

func (m *mockAccountStore) AppendLedgerEntry(ctx context.Context, entry *store.LedgerEntry) error {
	if m.appendLedgerEntryFunc != nil {
		return m.appendLedgerEntryFunc(ctx, entry)
	}
	return nil
}

type mockTariffStore struct {
	getFunc func(ctx context.Context, id int64) (*store.Tariff, error)
}

func (m *mockTariffStore) Get(ctx context.Context, id int64) (*store.Tariff, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

type mockTrafficPurchaseStore struct {
	listExpiredFunc func(ctx context.Context, asOf time.Time) ([]*store.TrafficPurchase, error)
	listActiveFunc  func(ctx context.Context, subscriptionID int64, asOf time.Time) ([]*store.TrafficPurchase, error)
}

func (m *mockTrafficPurchaseStore) ListExpired(ctx context.Context, asOf time.Time) ([]*store.TrafficPurchase, error) {
	if m.listExpiredFunc != nil {
		return m.listExpiredFunc(ctx, asOf)
	}
	return nil, nil
}

func (m *mockTrafficPurchaseStore) ListActive(ctx context.Context, subscriptionID int64, asOf time.Time) ([]*store.TrafficPurchase, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx, subscriptionID, asOf)
	}
	return nil, nil
}

type mockDeviceCounter struct {
	countDevicesFunc func(ctx context.Context, panelUUID string) (int, error)
}

func (m *mockDeviceCounter) CountDevices(ctx context.Context, panelUUID string) (int, error) {
	if m.countDevicesFunc != nil {
		return m.countDevicesFunc(ctx, panelUUID)
	}
	return 1, nil
}

type mockPanelSyncer struct {
	pushSubscriptionStateFunc func(ctx context.Context, sub *store.Subscription) error
	pushQuotaStateFunc        func(ctx context.Context, sub *store.Subscription) error
}

func (m *mockPanelSyncer) PushSubscriptionState(ctx context.Context, sub *store.Subscription) error {
	if m.pushSubscriptionStateFunc != nil {
		return m.pushSubscriptionStateFunc(ctx, sub)
	}
	return nil
}

func (m *mockPanelSyncer) PushQuotaState(ctx context.Context, sub *store.Subscription) error {
	if m.pushQuotaStateFunc != nil {
		return m.pushQuotaStateFunc(ctx, sub)
	}
	return nil
}

type mockNotifier struct {
	sendMessageFunc func(ctx context.Context, chatID int64, text string) error
}

func (m *mockNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	if m.sendMessageFunc != nil {
		return m.sendMessageFunc(ctx, chatID, text)
	}
	return nil
}

type mockLocker struct {
	acquireFunc func(ctx context.Context) (bool, func(context.Context) error, error)
}

func (m *mockLocker) Acquire(ctx context.Context) (bool, func(context.Context) error, error) {
	if m.acquireFunc != nil {
		return m.acquireFunc(ctx)
	}
	return true, func(context.Context) error { return nil }, nil
}
