package billing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaymesh/billing/pkg/notify"
	"github.com/relaymesh/billing/pkg/observability"
	"github.com/relaymesh/billing/pkg/store"
)

// SideEffectKind identifies a best-effort action requested by a processor.
type SideEffectKind string

const (
	EffectSyncSubscription       SideEffectKind = "sync_subscription"
	EffectSyncQuota              SideEffectKind = "sync_quota"
	EffectNotifyCharged          SideEffectKind = "notify_charged"
	EffectNotifySuspended        SideEffectKind = "notify_suspended"
	EffectNotifyTrafficReclaimed SideEffectKind = "notify_traffic_reclaimed"
)

// SideEffect is a best-effort action a processor wants performed after its
// core work has been committed. Effects carry everything the dispatcher
// needs so dispatching requires no further store reads.
type SideEffect struct {
	Kind         SideEffectKind
	Subscription *store.Subscription
	Account      *store.Account

	// Charge details, set on charge effects.
	AmountCents    int64
	RemainingCents int64
	DeviceCount    int

	// Decay details, set on traffic effects.
	ReclaimedGB int64
}

// Dispatcher executes side effects outside the processors' transactional
// boundary. Every effect is bounded by the configured timeout; failures are
// logged and never propagated.
type Dispatcher struct {
	panel    PanelSyncer
	notifier Notifier
	timeout  time.Duration
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// NewDispatcher creates a dispatcher. Either collaborator may be nil, in
// which case its effects are skipped.
func NewDispatcher(panel PanelSyncer, notifier Notifier, timeout time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		panel:    panel,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch performs each effect in order, best-effort.
func (d *Dispatcher) Dispatch(ctx context.Context, effects []SideEffect) {
	for _, effect := range effects {
		d.dispatchOne(ctx, effect)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, effect SideEffect) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
	skipped := false

	switch effect.Kind {
	case EffectSyncSubscription:
		if d.panel == nil {
			skipped = true
			break
		}
		err = d.panel.PushSubscriptionState(ctx, effect.Subscription)
	case EffectSyncQuota:
		if d.panel == nil {
			skipped = true
			break
		}
		err = d.panel.PushQuotaState(ctx, effect.Subscription)
	case EffectNotifyCharged:
		if d.notifier == nil || effect.Account == nil {
			skipped = true
			break
		}
		text := notify.DailyChargeMessage(effect.AmountCents, effect.RemainingCents, effect.DeviceCount)
		err = d.notifier.SendMessage(ctx, effect.Account.ChatID, text)
	case EffectNotifySuspended:
		if d.notifier == nil || effect.Account == nil {
			skipped = true
			break
		}
		text := notify.InsufficientFundsMessage(effect.AmountCents, effect.Account.BalanceCents)
		err = d.notifier.SendMessage(ctx, effect.Account.ChatID, text)
	case EffectNotifyTrafficReclaimed:
		if d.notifier == nil || effect.Account == nil {
			skipped = true
			break
		}
		text := notify.TrafficReclaimedMessage(effect.ReclaimedGB, effect.Subscription.TrafficLimitGB)
		err = d.notifier.SendMessage(ctx, effect.Account.ChatID, text)
	default:
		d.logger.WithField("kind", effect.Kind).Warn("unknown side effect kind")
		return
	}

	status := "ok"
	switch {
	case skipped:
		status = "skipped"
	case err != nil:
		status = "failed"
		fields := logrus.Fields{"kind": effect.Kind}
		if effect.Subscription != nil {
			fields["subscription_id"] = effect.Subscription.ID
		}
		d.logger.WithFields(fields).WithError(err).Warn("side effect failed")
	}
	if d.metrics != nil {
		d.metrics.SideEffectsTotal.WithLabelValues(string(effect.Kind), status).Inc()
	}
}
