package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/billing/pkg/billing"
	"github.com/relaymesh/billing/pkg/config"
	"github.com/relaymesh/billing/pkg/lease"
	"github.com/relaymesh/billing/pkg/notify"
	"github.com/relaymesh/billing/pkg/observability"
	"github.com/relaymesh/billing/pkg/panel"
	"github.com/relaymesh/billing/pkg/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (env vars override)")
		runOnce    = flag.Bool("run-once", false, "run a single billing iteration and exit")
		migrate    = flag.Bool("migrate", false, "apply pending schema migrations before starting")
	)
	flag.Parse()

	if err := run(*configPath, *runOnce, *migrate); err != nil {
		fmt.Fprintf(os.Stderr, "billingd: %v\n", err)
		os.Exit(1)
	}
}

// run owns the process lifecycle so deferred cleanup always executes;
// main only translates its error into an exit code.
func run(configPath string, runOnce, migrate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	logger.WithField("check_interval", cfg.Billing.CheckInterval.String()).Info("starting billingd")

	connCfg := store.DefaultConnectionConfig(cfg.Database.URL)
	connCfg.MaxConns = cfg.Database.MaxConns
	connCfg.MinConns = cfg.Database.MinConns
	db, err := store.Open(connCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if migrate {
		if err := store.RunMigrations(context.Background(), db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("schema migrations applied")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	subs := store.NewSubscriptionStore(db)
	accounts := store.NewAccountStore(db)
	purchases := store.NewTrafficPurchaseStore(db)
	tariffs, err := store.NewTariffStore(db)
	if err != nil {
		return fmt.Errorf("failed to create tariff store: %w", err)
	}

	var devices billing.DeviceCounter
	var syncer billing.PanelSyncer
	panelClient := panel.NewClient(cfg.Panel.BaseURL, cfg.Panel.Token, cfg.Panel.Timeout)
	if panelClient.Configured() {
		devices = panelClient
		syncer = panelClient
	} else {
		logger.Warn("panel is not configured, device counts default to 1 and state sync is disabled")
	}

	var notifier billing.Notifier
	telegram := notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.Timeout)
	if telegram.Configured() {
		notifier = telegram
	} else {
		logger.Warn("telegram is not configured, user notifications are disabled")
	}

	dispatcher := billing.NewDispatcher(syncer, notifier, cfg.Billing.SideEffectTimeout, logger, metrics)
	charger := billing.NewCharger(subs, accounts, tariffs, devices, dispatcher, cfg.Billing.ChargeCycle, logger, metrics)
	decayer := billing.NewDecayer(subs, accounts, tariffs, purchases, dispatcher, logger, metrics)

	var locker billing.IterationLocker
	if cfg.Redis.URL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = lease.NewLocker(redisClient, "", 0)
		logger.Info("iteration lease enabled")
	}

	runner := billing.NewRunner(charger, decayer, billing.RunnerConfig{
		Interval: cfg.Billing.CheckInterval,
		Enabled:  func() bool { return cfg.Billing.Enabled },
		Locker:   locker,
	}, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runOnce {
		runner.RunOnce(ctx)
		logger.Info("single iteration complete")
		return nil
	}

	router := mux.NewRouter()
	health := observability.NewHealthChecker(db)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if cfg.Ops.MetricsEnabled {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	opsServer := &http.Server{
		Addr:         ":" + cfg.Ops.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("port", cfg.Ops.Port).Info("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := runner.Start(groupCtx); err != nil {
			return fmt.Errorf("failed to start billing loop: %w", err)
		}
		<-groupCtx.Done()

		runner.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("ops server shutdown failed")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("billingd stopped")
	return nil
}
