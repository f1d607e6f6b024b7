package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"deadmanswitch"`
	PublicURL   string `env:"PUBLIC_URL" envDefault:"http://localhost:8888"` // 邮件中签到链接的前缀

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"deadmanswitch"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`
	// 只读副本，逗号分隔的 host:port，空则不启用读写分离
	PostgreSQLReplicas []string `env:"POSTGRESQL_REPLICAS" envSeparator:","`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"dms"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// JWT 配置，token 由认证服务签发，这里只校验
	JWTSecret        string `env:"JWT_SECRET"`
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"30"`
	JWTRefreshDays   int    `env:"JWT_REFRESH_DAYS" envDefault:"7"`

	// 邮件签到链接
	LinkTokenSecret   string `env:"LINK_TOKEN_SECRET"`
	LinkTokenTTLHours int    `env:"LINK_TOKEN_TTL_HOURS" envDefault:"72"`

	// 邮件 (SendGrid)
	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	MailFromName   string `env:"MAIL_FROM_NAME" envDefault:"Dead Man's Switch"`
	MailFromEmail  string `env:"MAIL_FROM_EMAIL" envDefault:"no-reply@example.com"`

	// 短信服务配置
	// AccessKey 和 SecretKey 通过阿里云 SDK 的环境变量自动获取
	// ALIBABA_CLOUD_ACCESS_KEY_ID 和 ALIBABA_CLOUD_ACCESS_KEY_SECRET
	SMSProvider     string `env:"SMS_PROVIDER" envDefault:"mock"` // aliyun, mock
	SMSSignName     string `env:"SMS_SIGN_NAME"`
	SMSTemplateCode string `env:"SMS_TEMPLATE_CODE"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// OpenTelemetry
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`

	// 速率限制配置, 配置在中间件内
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// 调度配置
	ReminderSweepInterval time.Duration `env:"REMINDER_SWEEP_INTERVAL" envDefault:"1h"`
	GraceSweepInterval    time.Duration `env:"GRACE_SWEEP_INTERVAL" envDefault:"6h"`
	OutboxRelayInterval   time.Duration `env:"OUTBOX_RELAY_INTERVAL" envDefault:"5m"`
	SweepWorkerPoolSize   int           `env:"SWEEP_WORKER_POOL_SIZE" envDefault:"8"`
	SweepBatchSize        int           `env:"SWEEP_BATCH_SIZE" envDefault:"200"`
	MaxSweepDuration      time.Duration `env:"MAX_SWEEP_DURATION" envDefault:"10m"`
	SweepRunOnStart       bool          `env:"SWEEP_RUN_ON_START" envDefault:"true"`

	// worker 配置
	WorkerPrefetch     int `env:"WORKER_PREFETCH" envDefault:"10"`
	DeliveryMaxAttempt int `env:"DELIVERY_MAX_ATTEMPT" envDefault:"5"`
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}
}

// Validate 在各个 main 中显式调用，测试不依赖完整的环境变量
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.LinkTokenSecret == "" {
		return fmt.Errorf("LINK_TOKEN_SECRET is required")
	}

	if c.SweepWorkerPoolSize <= 0 || c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_WORKER_POOL_SIZE and SWEEP_BATCH_SIZE must be positive")
	}

	if c.SendGridAPIKey == "" {
		log.Printf("WARN: SENDGRID_API_KEY is not set, email notifications will only be logged")
	}

	if c.SMSProvider == "aliyun" && (c.SMSSignName == "" || c.SMSTemplateCode == "") {
		log.Printf("WARN: SMS_SIGN_NAME or SMS_TEMPLATE_CODE is not set, SMS service may not work properly")
	}

	return nil
}

func (c *Config) GetDSN() string {
	return c.dsnFor(c.PostgreSQLHost, c.PostgreSQLPort)
}

// GetReplicaDSNs 副本沿用主库的账号和库名
func (c *Config) GetReplicaDSNs() []string {
	dsns := make([]string, 0, len(c.PostgreSQLReplicas))
	for _, r := range c.PostgreSQLReplicas {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		host, port := r, c.PostgreSQLPort
		if i := strings.LastIndex(r, ":"); i > 0 {
			host, port = r[:i], r[i+1:]
		}
		dsns = append(dsns, c.dsnFor(host, port))
	}
	return dsns
}

func (c *Config) dsnFor(host, port string) string {
	return "host=" + host +
		" port=" + port +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) LinkTokenTTL() time.Duration {
	return time.Duration(c.LinkTokenTTLHours) * time.Hour
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
