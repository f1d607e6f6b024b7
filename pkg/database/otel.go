package database

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var (
	// InitDatabaseMetrics 之前为 nil，记录时跳过
	dbQueriesTotal  metric.Int64Counter
	dbQueryDuration metric.Float64Histogram
	dbQueryErrors   metric.Int64Counter
)

// InitDatabaseMetrics 初始化数据库指标
func InitDatabaseMetrics(meter metric.Meter) error {
	var err error

	dbQueriesTotal, err = meter.Int64Counter(
		"db.queries.total",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return err
	}

	dbQueryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return err
	}

	dbQueryErrors, err = meter.Int64Counter(
		"db.query.errors",
		metric.WithDescription("Database queries that failed, excluding record not found"),
		metric.WithUnit("{error}"),
	)
	return err
}

const (
	startTimeKey = "otel:start_time"
	spanKey      = "otel:span"
)

var sensitiveSQL = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password)\s*=\s*'[^']*'`),
	regexp.MustCompile(`(?i)(token)\s*=\s*'[^']*'`),
	regexp.MustCompile(`(?i)(secret)\s*=\s*'[^']*'`),
	regexp.MustCompile(`(?i)(nonce)\s*=\s*'[^']*'`),
}

// OTELPlugin GORM OpenTelemetry 插件
type OTELPlugin struct {
	tracer trace.Tracer
	config PluginConfig
}

// PluginConfig 插件配置
type PluginConfig struct {
	ServiceName     string
	EnableSQLParams bool
	EnableMetrics   bool
	MaxSQLLength    int
}

func DefaultPluginConfig() PluginConfig {
	return PluginConfig{
		ServiceName:   "deadmanswitch",
		EnableMetrics: true,
		MaxSQLLength:  500,
	}
}

func NewOTELPlugin(config PluginConfig) *OTELPlugin {
	if config.ServiceName == "" {
		config.ServiceName = "deadmanswitch"
	}
	if config.MaxSQLLength <= 0 {
		config.MaxSQLLength = 500
	}

	return &OTELPlugin{
		tracer: otel.Tracer(config.ServiceName + ".gorm"),
		config: config,
	}
}

func (p *OTELPlugin) Name() string {
	return "otel_plugin"
}

// Initialize 在每类操作前后注册回调
func (p *OTELPlugin) Initialize(db *gorm.DB) error {
	callbacks := db.Callback()

	if err := callbacks.Query().Before("gorm:query").Register("otel:before_query", p.beforeCallback); err != nil {
		return err
	}
	if err := callbacks.Query().After("gorm:query").Register("otel:after_query", p.afterCallback); err != nil {
		return err
	}
	if err := callbacks.Create().Before("gorm:create").Register("otel:before_create", p.beforeCallback); err != nil {
		return err
	}
	if err := callbacks.Create().After("gorm:create").Register("otel:after_create", p.afterCallback); err != nil {
		return err
	}
	if err := callbacks.Update().Before("gorm:update").Register("otel:before_update", p.beforeCallback); err != nil {
		return err
	}
	if err := callbacks.Update().After("gorm:update").Register("otel:after_update", p.afterCallback); err != nil {
		return err
	}
	if err := callbacks.Delete().Before("gorm:delete").Register("otel:before_delete", p.beforeCallback); err != nil {
		return err
	}
	if err := callbacks.Delete().After("gorm:delete").Register("otel:after_delete", p.afterCallback); err != nil {
		return err
	}
	if err := callbacks.Row().Before("gorm:row").Register("otel:before_row", p.beforeCallback); err != nil {
		return err
	}
	if err := callbacks.Row().After("gorm:row").Register("otel:after_row", p.afterCallback); err != nil {
		return err
	}
	if err := callbacks.Raw().Before("gorm:raw").Register("otel:before_raw", p.beforeCallback); err != nil {
		return err
	}
	return callbacks.Raw().After("gorm:raw").Register("otel:after_raw", p.afterCallback)
}

func (p *OTELPlugin) beforeCallback(db *gorm.DB) {
	ctx, span := p.tracer.Start(db.Statement.Context, p.spanName(db),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			attribute.String("service.name", p.config.ServiceName),
		),
	)

	db.InstanceSet(startTimeKey, time.Now())
	db.InstanceSet(spanKey, span)
	db.Statement.Context = ctx
}

// afterCallback SQL 在执行后才完整，语句和参数属性放在这里设置
func (p *OTELPlugin) afterCallback(db *gorm.DB) {
	spanI, ok := db.InstanceGet(spanKey)
	if !ok {
		return
	}
	span, ok := spanI.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	var seconds float64
	if startI, ok := db.InstanceGet(startTimeKey); ok {
		if start, ok := startI.(time.Time); ok {
			seconds = time.Since(start).Seconds()
		}
	}

	operation := operationName(db.Statement.SQL.String())
	span.SetName(operation)
	span.SetAttributes(p.statementAttributes(db)...)
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

	failed := db.Error != nil && db.Error != gorm.ErrRecordNotFound
	if failed {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if p.config.EnableMetrics {
		recordQuery(db.Statement.Context, operation, db.Statement.Table, failed, seconds)
	}
}

func (p *OTELPlugin) spanName(db *gorm.DB) string {
	if table := db.Statement.Table; table != "" {
		return "db." + table
	}
	return "db.query"
}

func (p *OTELPlugin) statementAttributes(db *gorm.DB) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if table := db.Statement.Table; table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}

	sql := db.Statement.SQL.String()
	if len(sql) > p.config.MaxSQLLength {
		sql = sql[:p.config.MaxSQLLength] + "..."
	}
	attrs = append(attrs, semconv.DBStatement(SanitizeSQL(sql)))

	// 只记录参数个数，不记录值
	if p.config.EnableSQLParams && len(db.Statement.Vars) > 0 {
		attrs = append(attrs, attribute.Int("db.parameter_count", len(db.Statement.Vars)))
	}
	return attrs
}

// operationName 从 SQL 前缀取操作类型，SELECT ... FOR UPDATE 单独区分
func operationName(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case sql == "":
		return "db.unknown"
	case strings.HasPrefix(sql, "SELECT") && strings.Contains(sql, "FOR UPDATE"):
		return "db.select_for_update"
	case strings.HasPrefix(sql, "SELECT"):
		return "db.select"
	case strings.HasPrefix(sql, "INSERT"):
		return "db.insert"
	case strings.HasPrefix(sql, "UPDATE"):
		return "db.update"
	case strings.HasPrefix(sql, "DELETE"):
		return "db.delete"
	default:
		return "db.query"
	}
}

// SanitizeSQL 屏蔽内联的敏感字面量
func SanitizeSQL(sql string) string {
	for _, re := range sensitiveSQL {
		sql = re.ReplaceAllString(sql, "$1='***'")
	}
	return sql
}

func recordQuery(ctx context.Context, operation, table string, failed bool, seconds float64) {
	if dbQueriesTotal == nil || dbQueryDuration == nil {
		return
	}

	status := "success"
	if failed {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
		attribute.String("db.status", status),
	)
	dbQueriesTotal.Add(ctx, 1, attrs)
	dbQueryDuration.Record(ctx, seconds, attrs)
	if failed && dbQueryErrors != nil {
		dbQueryErrors.Add(ctx, 1, attrs)
	}
}

// WithDefaultOTELPlugin 使用默认配置添加插件
func WithDefaultOTELPlugin(db *gorm.DB, serviceName string) error {
	config := DefaultPluginConfig()
	config.ServiceName = serviceName
	return db.Use(NewOTELPlugin(config))
}
