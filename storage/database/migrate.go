package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"DeadManSwitch/config"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/pkg/logger"
)

// Migrate 创建开关相关的表。用户和继承人表归账户服务所有，只在开发环境下建出来方便联调
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	models := []interface{}{
		&model.Switch{},
		&model.CheckInEvent{},
		&model.NotificationRecord{},
		&model.AccessGrant{},
	}
	if config.Cfg.IsDevelopment() {
		models = append(models, &model.User{}, &model.Heir{})
	}

	if err := db.AutoMigrate(models...); err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully", zap.Int("tables", len(models)))
	return nil
}
