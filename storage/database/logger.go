package database

import (
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"DeadManSwitch/config"
	"DeadManSwitch/pkg/logger"
)

func newLogger() gormlogger.Interface {
	return gormlogger.New(zapWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logLevel(config.Cfg.LoggerLevel, config.Cfg.IsDevelopment()),
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func logLevel(level string, development bool) gormlogger.LogLevel {
	if development {
		return gormlogger.Info
	}
	switch strings.ToUpper(level) {
	case "DEBUG":
		return gormlogger.Info
	case "ERROR":
		return gormlogger.Error
	case "SILENT":
		return gormlogger.Silent
	default:
		return gormlogger.Warn
	}
}

// zapWriter 把 gorm 的输出转到全局 zap logger
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Logger.Sugar().Infof(format, args...)
}
