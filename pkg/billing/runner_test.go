package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/billing/pkg/store"
)

// runnerFixture wires a runner to mocks that record whether a pass ran.
type runnerFixture struct {
	runner *Runner

	mu         sync.Mutex
	chargeRuns int
	decayRuns  int
}

func newRunnerFixture(t *testing.T, cfg RunnerConfig) *runnerFixture {
	t.Helper()
	f := &runnerFixture{}

	subs := &mockSubscriptionStore{
		listDueDailyFunc: func(ctx context.Context, asOf time.Time) ([]*store.Subscription, error) {
			f.mu.Lock()
			f.chargeRuns++
			f.mu.Unlock()
			return nil, nil
		},
	}
	purchases := &mockTrafficPurchaseStore{
		listExpiredFunc: func(ctx context.Context, asOf time.Time) ([]*store.TrafficPurchase, error) {
			f.mu.Lock()
			f.decayRuns++
			f.mu.Unlock()
			return nil, nil
		},
	}

	charger := NewCharger(subs, &mockAccountStore{}, &mockTariffStore{}, nil, nil, 24*time.Hour, testLogger(), nil)
	decayer := NewDecayer(subs, &mockAccountStore{}, &mockTariffStore{}, purchases, nil, testLogger(), nil)
	f.runner = NewRunner(charger, decayer, cfg, testLogger(), nil)
	return f
}

func (f *runnerFixture) runs() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chargeRuns, f.decayRuns
}

func TestRunnerRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("runs the charge pass then the decay pass", func(t *testing.T) {
		f := newRunnerFixture(t, RunnerConfig{Interval: time.Hour})

		f.runner.RunOnce(ctx)

		charges, decays := f.runs()
		assert.Equal(t, 1, charges)
		assert.Equal(t, 1, decays)
	})

	t.Run("skips the iteration when billing is disabled", func(t *testing.T) {
		f := newRunnerFixture(t, RunnerConfig{
			Interval: time.Hour,
			Enabled:  func() bool { return false },
		})

		f.runner.RunOnce(ctx)

		charges, decays := f.runs()
		assert.Zero(t, charges)
		assert.Zero(t, decays)
	})

	t.Run("skips the iteration when the lease is held elsewhere", func(t *testing.T) {
		locker := &mockLocker{
			acquireFunc: func(ctx context.Context) (bool, func(context.Context) error, error) {
				return false, nil, nil
			},
		}
		f := newRunnerFixture(t, RunnerConfig{Interval: time.Hour, Locker: locker})

		f.runner.RunOnce(ctx)

		charges, _ := f.runs()
		assert.Zero(t, charges)
	})

	t.Run("skips the iteration when the lease backend errors", func(t *testing.T) {
		locker := &mockLocker{
			acquireFunc: func(ctx context.Context) (bool, func(context.Context) error, error) {
				return false, nil, errors.New("redis unavailable")
			},
		}
		f := newRunnerFixture(t, RunnerConfig{Interval: time.Hour, Locker: locker})

		f.runner.RunOnce(ctx)

		charges, _ := f.runs()
		assert.Zero(t, charges)
	})

	t.Run("releases the lease after the iteration", func(t *testing.T) {
		released := false
		locker := &mockLocker{
			acquireFunc: func(ctx context.Context) (bool, func(context.Context) error, error) {
				return true, func(context.Context) error {
					released = true
					return nil
				}, nil
			},
		}
		f := newRunnerFixture(t, RunnerConfig{Interval: time.Hour, Locker: locker})

		f.runner.RunOnce(ctx)

		charges, _ := f.runs()
		assert.Equal(t, 1, charges)
		assert.True(t, released)
	})

	t.Run("a failing charge pass still runs the decay pass", func(t *testing.T) {
		decayRan := false
		subs := &mockSubscriptionStore{
			listDueDailyFunc: func(ctx context.Context, asOf time.Time) ([]*store.Subscription, error) {
				return nil, errors.New("connection refused")
			},
		}
		purchases := &mockTrafficPurchaseStore{
			listExpiredFunc: func(ctx context.Context, asOf time.Time) ([]*store.TrafficPurchase, error) {
				decayRan = true
				return nil, nil
			},
		}
		charger := NewCharger(subs, &mockAccountStore{}, &mockTariffStore{}, nil, nil, 24*time.Hour, testLogger(), nil)
		decayer := NewDecayer(subs, &mockAccountStore{}, &mockTariffStore{}, purchases, nil, testLogger(), nil)
		runner := NewRunner(charger, decayer, RunnerConfig{Interval: time.Hour}, testLogger(), nil)

		runner.RunOnce(ctx)

		assert.True(t, decayRan)
	})
}

func TestRunnerIterationsNeverOverlap(t *testing.T) {
	ctx := context.Background()

	// Block the charge pass inside the due-list query and count how many
	// invocations are in flight at once.
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	subs := &mockSubscriptionStore{
		listDueDailyFunc: func(ctx context.Context, asOf time.Time) ([]*store.Subscription, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			entered <- struct{}{}
			<-release

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil, nil
		},
	}
	charger := NewCharger(subs, &mockAccountStore{}, &mockTariffStore{}, nil, nil, 24*time.Hour, testLogger(), nil)
	decayer := NewDecayer(subs, &mockAccountStore{}, &mockTariffStore{}, &mockTrafficPurchaseStore{}, nil, testLogger(), nil)
	runner := NewRunner(charger, decayer, RunnerConfig{Interval: time.Hour}, testLogger(), nil)

	require.NoError(t, runner.Start(ctx))

	// Wait until the immediate first iteration is in flight, then fire what
	// a scheduled tick would run: it must skip, not run concurrently.
	<-entered
	runner.RunOnce(ctx)
	runner.RunOnce(ctx)

	// Stop must not return while the first iteration is still blocked.
	stopped := make(chan struct{})
	go func() {
		runner.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while an iteration was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the iteration finished")
	}
	assert.Equal(t, RunnerStopped, runner.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "the charge pass must never run concurrently with itself")
}

func TestRunnerLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start transitions to running and stop waits it out", func(t *testing.T) {
		f := newRunnerFixture(t, RunnerConfig{Interval: time.Hour})
		assert.Equal(t, RunnerCreated, f.runner.State())

		require.NoError(t, f.runner.Start(ctx))
		assert.Equal(t, RunnerRunning, f.runner.State())

		// The immediate first iteration runs asynchronously.
		require.Eventually(t, func() bool {
			charges, _ := f.runs()
			return charges == 1
		}, 2*time.Second, 10*time.Millisecond)

		f.runner.Stop()
		assert.Equal(t, RunnerStopped, f.runner.State())
	})

	t.Run("start is one-shot", func(t *testing.T) {
		f := newRunnerFixture(t, RunnerConfig{Interval: time.Hour})

		require.NoError(t, f.runner.Start(ctx))
		err := f.runner.Start(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already started")

		f.runner.Stop()
		err = f.runner.Start(ctx)
		require.Error(t, err, "a stopped runner cannot be restarted")
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		f := newRunnerFixture(t, RunnerConfig{Interval: time.Hour})
		f.runner.Stop()
		assert.Equal(t, RunnerCreated, f.runner.State())
	})

	t.Run("state strings", func(t *testing.T) {
		assert.Equal(t, "created", RunnerCreated.String())
		assert.Equal(t, "running", RunnerRunning.String())
		assert.Equal(t, "stopping", RunnerStopping.String())
		assert.Equal(t, "stopped", RunnerStopped.String())
	})
}
