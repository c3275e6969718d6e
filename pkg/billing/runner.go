package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/relaymesh/billing/pkg/observability"
)

// RunnerState is the lifecycle state of a Runner.
type RunnerState int

const (
	RunnerCreated RunnerState = iota
	RunnerRunning
	RunnerStopping
	RunnerStopped
)

func (s RunnerState) String() string {
	return [...]string{"created", "running", "stopping", "stopped"}[s]
}

// IterationLocker gates an iteration behind a shared lease so concurrently
// deployed instances do not drive the loop at the same time.
type IterationLocker interface {
	Acquire(ctx context.Context) (bool, func(context.Context) error, error)
}

// RunnerConfig configures the driver loop.
type RunnerConfig struct {
	// Interval between iterations. Defaults to 30 minutes.
	Interval time.Duration
	// Enabled is re-checked at the start of every iteration.
	Enabled func() bool
	// Locker is optional; nil assumes a single deployed instance.
	Locker IterationLocker
}

// Runner drives the two processors on a fixed cadence. It owns its lifecycle
// state explicitly: construct one per process and keep it in the composition
// root rather than behind a package-level singleton.
type Runner struct {
	charger *Charger
	decayer *Decayer
	cfg     RunnerConfig
	logger  logrus.FieldLogger
	metrics *observability.Metrics

	mu    sync.Mutex
	state RunnerState
	cron  *cron.Cron
	base  context.Context

	// iterMu serializes iterations regardless of how they were started;
	// wg tracks the immediate first iteration, which runs outside cron.
	iterMu sync.Mutex
	wg     sync.WaitGroup
}

// NewRunner creates a runner in the created state.
func NewRunner(charger *Charger, decayer *Decayer, cfg RunnerConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	return &Runner{
		charger: charger,
		decayer: decayer,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		state:   RunnerCreated,
	}
}

// State returns the current lifecycle state.
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins the loop: one immediate iteration, then one every interval.
// Iterations never overlap; a slow iteration causes the next tick to be
// skipped rather than queued.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunnerCreated {
		return fmt.Errorf("runner already started (state %s)", r.state)
	}

	r.base = ctx
	cronLogger := cron.PrintfLogger(r.logger)
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.cfg.Interval), func() {
		r.RunOnce(r.base)
	}); err != nil {
		return fmt.Errorf("failed to schedule billing iteration: %w", err)
	}

	r.state = RunnerRunning
	r.logger.WithField("interval", r.cfg.Interval.String()).Info("billing loop started")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.RunOnce(ctx)
	}()
	r.cron.Start()
	return nil
}

// Stop signals the loop to exit and waits for any in-flight iteration to
// finish. Stopping is cooperative: per-subscription work is never cancelled
// mid-flight.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.state != RunnerRunning {
		r.mu.Unlock()
		return
	}
	r.state = RunnerStopping
	c := r.cron
	r.mu.Unlock()

	<-c.Stop().Done()
	r.wg.Wait()

	r.mu.Lock()
	r.state = RunnerStopped
	r.mu.Unlock()
	r.logger.Info("billing loop stopped")
}

// RunOnce performs a single iteration: the daily charge pass followed by the
// traffic decay pass. Iterations never overlap: an invocation that finds a
// previous one still running is skipped, whether it came from the schedule
// or from the immediate run at startup. Processor failures are logged and
// never propagate; the next scheduled iteration retries.
func (r *Runner) RunOnce(ctx context.Context) {
	if !r.iterMu.TryLock() {
		r.logger.Debug("previous iteration still running, skipping")
		if r.metrics != nil {
			r.metrics.IterationsTotal.WithLabelValues("skipped").Inc()
		}
		return
	}
	defer r.iterMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("panic in billing iteration: %v", rec)
			if r.metrics != nil {
				r.metrics.IterationsTotal.WithLabelValues("panic").Inc()
			}
		}
	}()

	if !r.cfg.Enabled() {
		r.logger.Debug("billing disabled, skipping iteration")
		if r.metrics != nil {
			r.metrics.IterationsTotal.WithLabelValues("disabled").Inc()
		}
		return
	}

	if r.cfg.Locker != nil {
		ok, release, err := r.cfg.Locker.Acquire(ctx)
		if err != nil {
			r.logger.WithError(err).Warn("lease unavailable, skipping iteration")
			if r.metrics != nil {
				r.metrics.IterationsTotal.WithLabelValues("lease_error").Inc()
			}
			return
		}
		if !ok {
			r.logger.Debug("lease held elsewhere, skipping iteration")
			if r.metrics != nil {
				r.metrics.IterationsTotal.WithLabelValues("lease_contended").Inc()
			}
			return
		}
		defer func() {
			if err := release(ctx); err != nil {
				r.logger.WithError(err).Warn("failed to release iteration lease")
			}
		}()
	}

	start := time.Now()
	status := "ok"

	chargeStats, err := r.charger.Run(ctx)
	if err != nil {
		r.logger.WithError(err).Error("daily charge pass failed")
		status = "error"
	} else if chargeStats.Charged > 0 || chargeStats.Suspended > 0 || chargeStats.Errors > 0 {
		r.logger.WithFields(logrus.Fields{
			"checked":   chargeStats.Checked,
			"charged":   chargeStats.Charged,
			"suspended": chargeStats.Suspended,
			"errors":    chargeStats.Errors,
		}).Info("daily charge pass completed")
	}

	decayStats, err := r.decayer.Run(ctx)
	if err != nil {
		r.logger.WithError(err).Error("traffic decay pass failed")
		status = "error"
	} else if decayStats.Reset > 0 || decayStats.Errors > 0 {
		r.logger.WithFields(logrus.Fields{
			"checked": decayStats.Checked,
			"reset":   decayStats.Reset,
			"errors":  decayStats.Errors,
		}).Info("traffic decay pass completed")
	}

	if r.metrics != nil {
		r.metrics.IterationsTotal.WithLabelValues(status).Inc()
		r.metrics.IterationDuration.Observe(time.Since(start).Seconds())
	}
}
