package middleware

import (
	"go.uber.org/zap"

	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/token"
)

// Init 初始化需要外部依赖的中间件，token.Init 之后调用
func Init() error {
	var err error
	authMiddleware, err = newAuthMiddleware(token.GetGenerator())
	if err != nil {
		logger.Logger.Error("Failed to initialize auth middleware", zap.Error(err))
		return err
	}

	logger.Logger.Info("All middlewares initialized successfully")
	return nil
}
