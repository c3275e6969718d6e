package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaymesh/billing/pkg/observability"
	"github.com/relaymesh/billing/pkg/store"
)

// Decayer removes traffic purchases whose validity window has expired and
// shrinks the owning subscription's effective traffic limit, reconciling
// defensively against bookkeeping drift.
type Decayer struct {
	subs      SubscriptionStore
	accounts  AccountStore
	tariffs   TariffStore
	purchases TrafficPurchaseStore
	effects   *Dispatcher

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewDecayer creates a traffic decay processor.
func NewDecayer(subs SubscriptionStore, accounts AccountStore, tariffs TariffStore, purchases TrafficPurchaseStore, effects *Dispatcher, logger logrus.FieldLogger, metrics *observability.Metrics) *Decayer {
	return &Decayer{
		subs:      subs,
		accounts:  accounts,
		tariffs:   tariffs,
		purchases: purchases,
		effects:   effects,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run reclaims all expired purchases once. The only error it returns is a
// failure to list the expired set; per-subscription failures are isolated
// and counted in the stats.
func (d *Decayer) Run(ctx context.Context) (DecayStats, error) {
	var stats DecayStats

	now := d.now()
	expired, err := d.purchases.ListExpired(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("failed to list expired purchases: %w", err)
	}
	stats.Checked = len(expired)

	// Group by owning subscription, preserving first-seen order.
	groups := make(map[int64][]*store.TrafficPurchase)
	var order []int64
	for _, p := range expired {
		if _, seen := groups[p.SubscriptionID]; !seen {
			order = append(order, p.SubscriptionID)
		}
		groups[p.SubscriptionID] = append(groups[p.SubscriptionID], p)
	}

	for _, subID := range order {
		group := groups[subID]
		effects, err := d.reconcileSafely(ctx, subID, group, now)
		if err != nil {
			d.logger.WithField("subscription_id", subID).WithError(err).
				Error("failed to reclaim expired traffic")
			stats.Errors++
			if d.metrics != nil {
				d.metrics.TrafficDecaysTotal.WithLabelValues("error").Inc()
			}
			continue
		}
		stats.Reset += len(group)
		if d.metrics != nil {
			d.metrics.TrafficDecaysTotal.WithLabelValues("reset").Inc()
		}
		if d.effects != nil && len(effects) > 0 {
			d.effects.Dispatch(ctx, effects)
		}
	}

	return stats, nil
}

func (d *Decayer) reconcileSafely(ctx context.Context, subID int64, group []*store.TrafficPurchase, now time.Time) (effects []SideEffect, err error) {
	defer func() {
		if r := recover(); r != nil {
			effects, err = nil, fmt.Errorf("panic during reconciliation: %v", r)
		}
	}()
	return d.reconcileOne(ctx, subID, group, now)
}

// reconcileOne applies the clamp chain for one subscription's expired
// purchases. Every clamp prefers under-reclaiming: leaving the user slightly
// more quota is safer than cutting below the plan's base allotment.
func (d *Decayer) reconcileOne(ctx context.Context, subID int64, group []*store.TrafficPurchase, now time.Time) ([]SideEffect, error) {
	log := d.logger.WithField("subscription_id", subID)

	sub, err := d.subs.Get(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	var expiredTotal int64
	purchaseIDs := make([]int64, 0, len(group))
	for _, p := range group {
		expiredTotal += p.TrafficGB
		purchaseIDs = append(purchaseIDs, p.ID)
	}

	oldLimit := sub.TrafficLimitGB
	oldPurchased := sub.PurchasedTrafficGB

	// Drifted bookkeeping: more traffic expiring than was ever recorded as
	// purchased. Reclaim only what the subscription knows about.
	if expiredTotal > oldPurchased {
		log.WithFields(logrus.Fields{
			"expired_gb":   expiredTotal,
			"purchased_gb": oldPurchased,
		}).Error("expired traffic exceeds recorded purchases, clamping")
		expiredTotal = oldPurchased
		if d.metrics != nil {
			d.metrics.DataIntegrityWarnings.Inc()
		}
	}

	baseLimit := oldLimit - oldPurchased
	if baseLimit < 0 {
		tariff, terr := d.tariffs.Get(ctx, sub.TariffID)
		if terr == nil {
			log.WithFields(logrus.Fields{
				"base_limit_gb":  baseLimit,
				"tariff_base_gb": tariff.BaseTrafficLimitGB,
			}).Warn("negative base limit, falling back to tariff base allotment")
			baseLimit = tariff.BaseTrafficLimitGB
		} else {
			log.WithError(terr).Warn("negative base limit and tariff unavailable, clamping to zero")
		}
		if d.metrics != nil {
			d.metrics.DataIntegrityWarnings.Inc()
		}
	}
	if baseLimit < 0 {
		baseLimit = 0
	}

	newPurchased := oldPurchased - expiredTotal
	newLimit := baseLimit + newPurchased

	// Unreachable given the clamps above, but guarded: the effective limit
	// must never drop below the plan's base allotment.
	if newLimit < baseLimit {
		log.WithFields(logrus.Fields{
			"new_limit_gb":  newLimit,
			"base_limit_gb": baseLimit,
		}).Error("reconciled limit below base allotment, resetting to base")
		newLimit = baseLimit
		newPurchased = 0
		if d.metrics != nil {
			d.metrics.DataIntegrityWarnings.Inc()
		}
	}
	if newLimit < 0 {
		newLimit = 0
	}
	if newPurchased < 0 {
		newPurchased = 0
	}

	// Next reset is the soonest expiry among the purchases still active;
	// none pending clears it.
	remaining, err := d.purchases.ListActive(ctx, subID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list remaining purchases: %w", err)
	}
	var resetAt *time.Time
	if len(remaining) > 0 {
		earliest := remaining[0].ExpiresAt
		for _, p := range remaining[1:] {
			if p.ExpiresAt.Before(earliest) {
				earliest = p.ExpiresAt
			}
		}
		resetAt = &earliest
	}

	if err := d.subs.ApplyTrafficDecay(ctx, subID, purchaseIDs, newLimit, newPurchased, resetAt); err != nil {
		return nil, fmt.Errorf("failed to apply traffic decay: %w", err)
	}
	sub.TrafficLimitGB = newLimit
	sub.PurchasedTrafficGB = newPurchased
	sub.TrafficResetAt = resetAt

	log.WithFields(logrus.Fields{
		"old_limit_gb": oldLimit,
		"new_limit_gb": newLimit,
		"reclaimed_gb": expiredTotal,
		"purchases":    len(group),
	}).Info("expired purchased traffic reclaimed")
	if d.metrics != nil {
		d.metrics.ReclaimedGBTotal.Add(float64(expiredTotal))
	}

	effects := []SideEffect{{
		Kind:         EffectSyncQuota,
		Subscription: sub,
	}}
	if account, aerr := d.accounts.Get(ctx, sub.AccountID); aerr == nil {
		effects = append(effects, SideEffect{
			Kind:         EffectNotifyTrafficReclaimed,
			Subscription: sub,
			Account:      account,
			ReclaimedGB:  expiredTotal,
		})
	} else {
		log.WithError(aerr).Debug("account unavailable for reclaim notification")
	}

	return effects, nil
}
