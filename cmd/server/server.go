package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/jonboulle/clockwork"
	otelapi "go.opentelemetry.io/otel"
	"go.uber.org/zap"

	appconfig "DeadManSwitch/config"
	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/handler"
	"DeadManSwitch/internal/middleware"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/internal/router"
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
	// 日志部分
	logger.Init()
	defer logger.Sync()

	cfg := &appconfig.Cfg
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

	tracerOpts, tracerMW, shutdownOTel := initTelemetry(ctx)
	defer shutdownOTel()

	// API 不发布消息，不连接 RabbitMQ
	if err := storage.Init(storage.Database | storage.Redis); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(cfg.SnowflakeMachineID, cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	if err := token.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize token package", zap.Error(err))
	} // token 在中间件前初始化，middleware 依赖 token

	if err := middleware.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize middlewares", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	switches := service.NewSwitchService(
		repository.NewGormStore(database.DB()),
		directory.NewGormDirectory(database.DB()),
		token.NewLinkSigner(cfg.LinkTokenSecret, cfg.LinkTokenTTL(), clock.Now),
		clock,
	)

	logger.Logger.Info("Server starting",
		zap.String("service", cfg.ServiceName),
		zap.String("port", cfg.ServerPort),
		zap.String("environment", cfg.Environment),
		zap.Bool("rate_limit", cfg.RateLimitEnabled),
	)

	addr := net.JoinHostPort(cfg.ServerHost, cfg.ServerPort)
	h := server.Default(append([]config.Option{server.WithHostPorts(addr)}, tracerOpts...)...)

	h.Use(middleware.RecoverMiddleware(), middleware.CORSMiddleware())
	if tracerMW != nil {
		h.Use(tracerMW)
	}
	h.Use(middleware.MetricsMiddleware())

	router.Register(h, middleware.AuthMiddleware(), handler.NewSwitchHandler(switches), newLimits(cfg.RateLimitEnabled, clock))

	// 优雅关闭：在单独的 goroutine 中监听关闭信号并调用 Shutdown
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	logger.Logger.Info("HTTP server listening", zap.String("addr", addr))

	h.Spin()

	logger.Logger.Info("Server shutting down gracefully")
}

// newLimits 关闭限流时返回空的 Limits，路由不挂限流中间件
func newLimits(enabled bool, clock clockwork.Clock) router.Limits {
	if !enabled {
		return router.Limits{}
	}
	counter := middleware.NewRedisWindowCounter(redis.Client())
	return router.Limits{
		CheckIn:     middleware.NewRateLimiter(middleware.CheckInRateLimitConfig, counter, clock.Now),
		LinkCheckIn: middleware.NewRateLimiter(middleware.LinkCheckInRateLimitConfig, counter, clock.Now),
		Settings:    middleware.NewRateLimiter(middleware.SettingsRateLimitConfig, counter, clock.Now),
	}
}

func initTelemetry(ctx context.Context) ([]config.Option, app.HandlerFunc, func()) {
	cfg := appconfig.Cfg
	noop := func() {}
	if !cfg.OTelEnabled {
		return nil, nil, noop
	}

	shutdown, err := otel.InitOpenTelemetry(ctx, otel.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Logger.Warn("Failed to initialize OpenTelemetry, continuing without it", zap.Error(err))
		return nil, nil, noop
	}

	if err := middleware.InitHTTPMetrics(otelapi.Meter(cfg.ServiceName)); err != nil {
		logger.Logger.Warn("Failed to initialize HTTP metrics", zap.Error(err))
	}

	tracerOpt, tracerMW := middleware.NewServerTracerConfig()
	return []config.Option{tracerOpt}, tracerMW, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}
}
