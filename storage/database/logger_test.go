package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level       string
		development bool
		want        gormlogger.LogLevel
	}{
		{"INFO", true, gormlogger.Info},
		{"DEBUG", false, gormlogger.Info},
		{"error", false, gormlogger.Error},
		{"SILENT", false, gormlogger.Silent},
		{"INFO", false, gormlogger.Warn},
		{"", false, gormlogger.Warn},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, logLevel(tt.level, tt.development), "level=%q dev=%v", tt.level, tt.development)
	}
}
