package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/config"
	"DeadManSwitch/internal/cache"
	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/queue"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/internal/schedule"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/otel"
	"DeadManSwitch/pkg/snowflake"
	"DeadManSwitch/pkg/token"
	"DeadManSwitch/storage"
	"DeadManSwitch/storage/database"
	"DeadManSwitch/storage/redis"
)

const version = "1.0.0"

func main() {
	logger.Init()
	defer logger.Sync()

	cfg := &config.Cfg
	if err := cfg.Validate(); err != nil {
		logger.Logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	shutdownOTel := initTelemetry(ctx)
	defer shutdownOTel()

	if err := storage.Init(storage.All); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	// scheduler 与 server、worker 使用不同的 machine id
	if err := snowflake.Init(cfg.SnowflakeMachineID, cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	store := repository.NewGormStore(database.DB())
	dir := directory.NewGormDirectory(database.DB())
	links := token.NewLinkSigner(cfg.LinkTokenSecret, cfg.LinkTokenTTL(), clock.Now)

	ledger := service.NewLedger(clock)
	composer := service.NewComposer(cfg.PublicURL)
	producer := queue.NewProducer()
	dispatcher := service.NewDispatcher(store, producer, producer, clock)

	// 锁、游标共用一个熔断器，Redis 故障时扫描退化为无锁执行
	breaker := cache.NewCircuitBreaker("scheduler-redis", 5, 30*time.Second, clock)
	reconciler := schedule.NewReconciler(
		store,
		ledger,
		service.NewOwnerNotifier(dir, ledger, composer, links),
		composer,
		service.NewReleaseCoordinator(dir, dir, ledger, composer, clock),
		dispatcher,
		clock,
		schedule.Options{
			WorkerPoolSize:   cfg.SweepWorkerPoolSize,
			BatchSize:        cfg.SweepBatchSize,
			MaxSweepDuration: cfg.MaxSweepDuration,
		},
	).WithCoordination(
		cache.NewLocker(redis.Client(), breaker),
		cache.NewSweepCursor(redis.Client(), breaker),
	)

	// 单次执行的超时比 MaxSweepDuration 多留一些，给最后一页收尾
	sweepTimeout := cfg.MaxSweepDuration + time.Minute
	runner := schedule.NewRunner(clock,
		schedule.SweepJob(schedule.SweepReminders, cfg.ReminderSweepInterval, sweepTimeout, cfg.SweepRunOnStart, reconciler.SweepReminders),
		schedule.SweepJob(schedule.SweepGracePeriods, cfg.GraceSweepInterval, sweepTimeout, cfg.SweepRunOnStart, reconciler.SweepGracePeriods),
		schedule.Job{
			Name:     "outbox_relay",
			Interval: cfg.OutboxRelayInterval,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := dispatcher.Relay(ctx)
				return err
			},
		},
	)

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", cfg.ServiceName+"-scheduler"),
		zap.String("environment", cfg.Environment),
		zap.Duration("reminder_interval", cfg.ReminderSweepInterval),
		zap.Duration("grace_interval", cfg.GraceSweepInterval),
	)

	runner.Start(ctx)
	<-ctx.Done()
	runner.Wait()

	logger.Logger.Info("Scheduler service shut down gracefully")
}

func initTelemetry(ctx context.Context) func() {
	cfg := config.Cfg
	if !cfg.OTelEnabled {
		return func() {}
	}

	shutdown, err := otel.InitOpenTelemetry(ctx, otel.Config{
		ServiceName:    cfg.ServiceName + "-scheduler",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Logger.Warn("Failed to initialize OpenTelemetry, continuing without it", zap.Error(err))
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}
}
