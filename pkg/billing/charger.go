package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaymesh/billing/pkg/observability"
	"github.com/relaymesh/billing/pkg/store"
)

// Charger processes subscriptions enrolled in per-day billing whose next
// charge is due: it debits the account or suspends the subscription when the
// balance cannot cover the charge.
type Charger struct {
	subs     SubscriptionStore
	accounts AccountStore
	tariffs  TariffStore
	devices  DeviceCounter
	effects  *Dispatcher

	cycle   time.Duration
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewCharger creates a daily charge processor. The dispatcher may be nil, in
// which case side effects are dropped (useful in tests).
func NewCharger(subs SubscriptionStore, accounts AccountStore, tariffs TariffStore, devices DeviceCounter, effects *Dispatcher, cycle time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *Charger {
	if cycle <= 0 {
		cycle = 24 * time.Hour
	}
	return &Charger{
		subs:     subs,
		accounts: accounts,
		tariffs:  tariffs,
		devices:  devices,
		effects:  effects,
		cycle:    cycle,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run processes every due subscription once. The only error it returns is a
// failure to list the due set; per-subscription failures are isolated and
// counted in the stats.
func (c *Charger) Run(ctx context.Context) (ChargeStats, error) {
	var stats ChargeStats

	now := c.now()
	subs, err := c.subs.ListDueDaily(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	stats.Checked = len(subs)

	for _, sub := range subs {
		outcome, effects := c.chargeSafely(ctx, sub)
		switch outcome {
		case OutcomeCharged:
			stats.Charged++
		case OutcomeSuspended:
			stats.Suspended++
		default:
			stats.Errors++
		}
		if c.metrics != nil {
			c.metrics.ChargesTotal.WithLabelValues(string(outcome)).Inc()
		}
		if c.effects != nil && len(effects) > 0 {
			c.effects.Dispatch(ctx, effects)
		}
	}

	return stats, nil
}

// chargeSafely isolates a panic in one subscription's processing so it
// cannot abort the rest of the batch.
func (c *Charger) chargeSafely(ctx context.Context, sub *store.Subscription) (outcome ChargeOutcome, effects []SideEffect) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("subscription_id", sub.ID).
				Errorf("panic while charging subscription: %v", r)
			outcome, effects = OutcomeError, nil
		}
	}()
	return c.chargeOne(ctx, sub)
}

func (c *Charger) chargeOne(ctx context.Context, sub *store.Subscription) (ChargeOutcome, []SideEffect) {
	log := c.logger.WithField("subscription_id", sub.ID)

	account, err := c.accounts.Get(ctx, sub.AccountID)
	if err != nil {
		log.WithError(err).Warn("account not resolvable, skipping charge")
		return OutcomeError, nil
	}

	tariff, err := c.tariffs.Get(ctx, sub.TariffID)
	if err != nil {
		log.WithError(err).Warn("tariff not resolvable, skipping charge")
		return OutcomeError, nil
	}

	if tariff.DailyPriceCents <= 0 {
		log.WithField("tariff_id", tariff.ID).Warn("non-positive daily price, skipping charge")
		return OutcomeError, nil
	}

	deviceCount := c.deviceCount(ctx, account)
	charge := tariff.DailyPriceCents * int64(deviceCount)

	if account.BalanceCents < charge {
		if err := c.subs.SuspendForNonpayment(ctx, sub.ID); err != nil {
			log.WithError(err).Error("failed to suspend subscription")
			return OutcomeError, nil
		}
		sub.Status = store.SubscriptionStatusDisabled
		log.WithFields(logrus.Fields{
			"balance_cents":  account.BalanceCents,
			"required_cents": charge,
			"device_count":   deviceCount,
		}).Info("subscription suspended: insufficient funds")

		return OutcomeSuspended, []SideEffect{{
			Kind:         EffectNotifySuspended,
			Subscription: sub,
			Account:      account,
			AmountCents:  charge,
			DeviceCount:  deviceCount,
		}}
	}

	if err := c.accounts.Debit(ctx, account.ID, charge); err != nil {
		// A concurrent spend can still win between the balance check and
		// the atomic debit; the subscription stays due and is retried on
		// the next pass.
		if errors.Is(err, store.ErrInsufficientFunds) {
			log.WithField("required_cents", charge).Warn("debit lost balance race, will retry")
		} else {
			log.WithError(err).Error("debit failed")
		}
		return OutcomeError, nil
	}

	description := fmt.Sprintf("Daily charge for tariff %q", tariff.Name)
	if deviceCount > 1 {
		description = fmt.Sprintf("Daily charge for tariff %q (%d devices)", tariff.Name, deviceCount)
	}
	entry := &store.LedgerEntry{
		AccountID:   account.ID,
		AmountCents: charge,
		Direction:   store.LedgerDirectionDebit,
		Category:    store.LedgerCategorySubscriptionPayment,
		Description: description,
	}
	// The money has moved; a ledger write failure is an operational problem
	// but must not cause a second debit on the next pass.
	if err := c.accounts.AppendLedgerEntry(ctx, entry); err != nil {
		log.WithError(err).Error("failed to append ledger entry after debit")
	}

	chargedAt := c.now()
	nextChargeAt := chargedAt.Add(c.cycle)
	if err := c.subs.AdvanceCharge(ctx, sub.ID, chargedAt, nextChargeAt); err != nil {
		log.WithError(err).Error("debit succeeded but advancing next charge failed")
		return OutcomeError, nil
	}
	sub.LastChargeAt = &chargedAt
	sub.NextChargeAt = &nextChargeAt

	log.WithFields(logrus.Fields{
		"amount_cents": charge,
		"device_count": deviceCount,
		"account_id":   account.ID,
	}).Info("daily charge applied")
	if c.metrics != nil {
		c.metrics.ChargedCentsTotal.Add(float64(charge))
	}

	return OutcomeCharged, []SideEffect{
		{
			Kind:         EffectSyncSubscription,
			Subscription: sub,
		},
		{
			Kind:           EffectNotifyCharged,
			Subscription:   sub,
			Account:        account,
			AmountCents:    charge,
			RemainingCents: account.BalanceCents - charge,
			DeviceCount:    deviceCount,
		},
	}
}

// deviceCount queries the panel for the account's device count, defaulting
// to one device on any failure and flooring the result at one.
func (c *Charger) deviceCount(ctx context.Context, account *store.Account) int {
	if c.devices == nil || account.PanelUUID == "" {
		return 1
	}

	count, err := c.devices.CountDevices(ctx, account.PanelUUID)
	if err != nil {
		c.logger.WithField("account_id", account.ID).WithError(err).
			Debug("device count unavailable, defaulting to 1")
		return 1
	}
	if count < 1 {
		return 1
	}
	return count
}
