package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rental-cloud/internal/alerting"
	"rental-cloud/internal/alerting/notify"
	billingapp "rental-cloud/internal/billing/application"
	billing "rental-cloud/internal/billing/domain"
	billingrepo "rental-cloud/internal/billing/infrastructure/postgres"
	"rental-cloud/internal/cache"
	"rental-cloud/internal/config"
	"rental-cloud/internal/consistency"
	"rental-cloud/internal/db"
	"rental-cloud/internal/errorlog"
	"rental-cloud/internal/fallback"
	"rental-cloud/internal/logger"
	meteringrepo "rental-cloud/internal/metering/infrastructure/postgres"
	"rental-cloud/internal/observability/metrics"
	"rental-cloud/internal/scheduler"
	tenancyrepo "rental-cloud/internal/tenancy/infrastructure/postgres"
	"rental-cloud/internal/txn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("development")
		bootLog.Fatal().Err(err).Msg("config load failed")
	}
	log := logger.New(cfg.Environment)

	sqlDB, err := sql.Open("pgx", cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := sqlDB.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("db ping failed")
	}
	cancel()
	if err := db.EnsureSchema(ctx, sqlDB); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	metrics.Init()

	contractRepo := tenancyrepo.NewContractRepository(sqlDB)
	roomRepo := tenancyrepo.NewRoomRepository(sqlDB)
	readingRepo := meteringrepo.NewReadingRepository(sqlDB)
	billRepo := billingrepo.NewBillRepository(sqlDB)

	uow, err := txn.NewPostgresUnitOfWork(sqlDB, sql.LevelSerializable)
	if err != nil {
		log.Fatal().Err(err).Msg("unit of work setup failed")
	}
	txManager, err := txn.NewManager(uow, log)
	if err != nil {
		log.Fatal().Err(err).Msg("transaction manager setup failed")
	}

	errRecorder := errorlog.NewRecorder(log)
	appCache := cache.New()
	go appCache.StartSweeper(ctx, time.Minute)

	settings := billingapp.StaticSettings{
		Values: billingapp.Settings{
			ReminderDays:          cfg.Billing.ReminderDays,
			AutoGenerateBills:     cfg.Billing.AutoGenerateBills,
			UsageAnomalyThreshold: cfg.Billing.UsageAnomalyThreshold,
		},
		Prices: map[string]float64{
			billing.CategoryElectricity: cfg.Billing.ElectricityUnitPrice,
			billing.CategoryWater:       cfg.Billing.WaterUnitPrice,
			billing.CategoryGas:         cfg.Billing.GasUnitPrice,
		},
	}

	engine, err := billingapp.NewRuleEngine(
		contractRepo, roomRepo, billRepo, readingRepo,
		txManager, settings, log,
		billingapp.WithCache(appCache),
		billingapp.WithErrorRecorder(errRecorder),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("rule engine setup failed")
	}

	batch, err := billingapp.NewBatchCoordinator(
		engine, billRepo, readingRepo, log,
		billingapp.WithBatchDefaults(cfg.Billing.BatchSize, cfg.Billing.MaxConcurrent, cfg.Billing.BatchChunkDelay),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("batch coordinator setup failed")
	}

	auditor, err := consistency.NewAuditor(billRepo, readingRepo, roomRepo, contractRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("auditor setup failed")
	}
	repairer, err := consistency.NewRepairer(
		billRepo, readingRepo, roomRepo, contractRepo, txManager, log,
		consistency.WithRepairerErrorRecorder(errRecorder),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("repairer setup failed")
	}
	synchronizer, err := consistency.NewSynchronizer(
		billRepo, readingRepo, repairer, log,
		consistency.WithSyncCache(appCache),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("synchronizer setup failed")
	}

	strategies, err := fallback.DefaultStrategies(engine, synchronizer, errRecorder)
	if err != nil {
		log.Fatal().Err(err).Msg("fallback strategies setup failed")
	}
	fallbackMgr, err := fallback.NewManager(log, strategies, fallback.WithErrorRecorder(errRecorder))
	if err != nil {
		log.Fatal().Err(err).Msg("fallback manager setup failed")
	}

	thresholds, err := alerting.LoadThresholds(cfg.Alerting.RulesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("alert thresholds load failed")
	}
	var channel notify.Channel = notify.NewConsoleChannel(log)
	if cfg.Alerting.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.Alerting.WebhookURL, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("webhook channel setup failed")
		}
		channel = notify.NewMulti(notify.NewConsoleChannel(log), webhook)
	}
	probe := func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return sqlDB.PingContext(probeCtx)
	}
	rules := alerting.DefaultRules(thresholds, errRecorder, billRepo, readingRepo, synchronizer, probe, nil)
	alertMgr, err := alerting.NewManager(channel, log, rules)
	if err != nil {
		log.Fatal().Err(err).Msg("alert manager setup failed")
	}
	go alertMgr.Start(ctx, cfg.Alerting.SweepInterval)

	sched := scheduler.New(log)
	mustRegister := func(job scheduler.Job) {
		if err := sched.Register(job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name).Msg("job registration failed")
		}
	}
	mustRegister(scheduler.Job{
		Name:     "upcoming_rent_bills",
		Interval: 6 * time.Hour,
		Run: func(ctx context.Context) error {
			generated, err := engine.CheckAndGenerateUpcomingBills(ctx)
			if err != nil {
				outcome := fallbackMgr.HandleError(ctx, &fallback.Incident{
					Category:  fallback.CategoryBillGeneration,
					Operation: "upcoming_rent_bills",
					Err:       err,
					Retry: func(ctx context.Context) error {
						_, retryErr := engine.CheckAndGenerateUpcomingBills(ctx)
						return retryErr
					},
				})
				if !outcome.Handled {
					return outcome.Err
				}
				return nil
			}
			if generated > 0 {
				log.Info().Int("generated", generated).Msg("upcoming rent bills generated")
			}
			return nil
		},
	})
	mustRegister(scheduler.Job{
		Name:     "pending_utility_bills",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			now := time.Now()
			_, err := batch.GeneratePendingUtilityBills(ctx, now.Add(-24*time.Hour), now, billingapp.BatchOptions{})
			return err
		},
	})
	mustRegister(scheduler.Job{
		Name:     "consistency_sweep",
		Interval: cfg.Consistency.SweepInterval,
		Run: func(ctx context.Context) error {
			report := auditor.Run(ctx)
			if report.Healthy() {
				return nil
			}
			if !cfg.Consistency.AutoRepair {
				log.Warn().Int("issues", len(report.Issues)).Msg("consistency issues found, auto repair disabled")
				return nil
			}
			summary := repairer.Repair(ctx, report.Issues, consistency.RepairOptions{SkipCritical: true})
			log.Info().
				Int("fixed", summary.Fixed).
				Int("failed", summary.Failed).
				Int("skipped", summary.Skipped).
				Msg("consistency repair finished")
			return nil
		},
	})
	mustRegister(scheduler.Job{
		Name:     "reading_sync",
		Interval: cfg.Consistency.SweepInterval,
		Run: func(ctx context.Context) error {
			_, err := synchronizer.SyncAll(ctx, consistency.RepairOptions{SkipCritical: true})
			if err != nil {
				outcome := fallbackMgr.HandleError(ctx, &fallback.Incident{
					Category:  fallback.CategoryConsistency,
					Operation: "reading_sync",
					Err:       err,
				})
				if !outcome.Handled {
					return outcome.Err
				}
			}
			return nil
		},
	})
	go sched.Start(ctx, time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := probe(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("ops endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ops endpoint failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops endpoint shutdown failed")
	}
}
