package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"DeadManSwitch/config"
	"DeadManSwitch/internal/cache"
	"DeadManSwitch/internal/queue"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/mail"
	"DeadManSwitch/pkg/notify"
	"DeadManSwitch/pkg/otel"
	"DeadManSwitch/pkg/sms"
	"DeadManSwitch/pkg/snowflake"
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	shutdownOTel := initTelemetry(ctx)
	defer shutdownOTel()

	if err := storage.Init(storage.All); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(cfg.SnowflakeMachineID, cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	store := repository.NewGormStore(database.DB())

	delivery := service.NewDeliveryService(store, newSenders(cfg), clock, cfg.DeliveryMaxAttempt)
	marker := cache.NewMessageMarker(redis.Client(), cache.NewCircuitBreaker("worker-redis", 5, 30*time.Second, clock))
	consumers := queue.NewConsumers(delivery, marker, store, cfg.WorkerPrefetch)

	logger.Logger.Info("Worker service starting",
		zap.String("service", cfg.ServiceName+"-worker"),
		zap.String("environment", cfg.Environment),
		zap.Int("prefetch", cfg.WorkerPrefetch),
	)

	// 任一消费者异常退出时整体退出，由进程管理器拉起
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumers.StartNotificationConsumer(gctx) })
	g.Go(func() error { return consumers.StartSwitchTriggeredConsumer(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Logger.Error("Consumer stopped unexpectedly", zap.Error(err))
	}

	logger.Logger.Info("Worker service shut down gracefully")
}

// newSenders 没有配置服务商的渠道只写日志
func newSenders(cfg *config.Config) *notify.Mux {
	mux := notify.NewMux().
		Handle(notify.ChannelPush, notify.LogSender{Channel: notify.ChannelPush}).
		Handle(notify.ChannelPhoneCall, notify.LogSender{Channel: notify.ChannelPhoneCall})

	if cfg.SendGridAPIKey != "" {
		mux.Handle(notify.ChannelEmail, mail.NewSender(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFromEmail))
	} else {
		mux.Handle(notify.ChannelEmail, notify.LogSender{Channel: notify.ChannelEmail})
	}

	client, err := sms.NewClient(cfg.SMSProvider)
	if err != nil {
		logger.Logger.Warn("Failed to initialize SMS client, SMS notifications will only be logged", zap.Error(err))
		mux.Handle(notify.ChannelSMS, notify.LogSender{Channel: notify.ChannelSMS})
	} else {
		mux.Handle(notify.ChannelSMS, sms.NewSender(client, cfg.SMSSignName, cfg.SMSTemplateCode))
	}

	return mux
}

func initTelemetry(ctx context.Context) func() {
	cfg := config.Cfg
	if !cfg.OTelEnabled {
		return func() {}
	}

	shutdown, err := otel.InitOpenTelemetry(ctx, otel.Config{
		ServiceName:    cfg.ServiceName + "-worker",
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
