package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzap "github.com/hertz-contrib/logger/zap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"DeadManSwitch/config"
)

var (
	// Logger 默认是 Nop，未调用 Init 的测试和工具也可以直接使用
	Logger   = zap.NewNop()
	logClose io.Closer
)

// Options 日志输出配置
type Options struct {
	Level      string
	Format     string // json, text
	OutputPath string // stdout 或文件路径
	Console    bool   // 开发环境强制使用彩色文本
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Level:      cfg.LoggerLevel,
		Format:     cfg.LoggerFormat,
		OutputPath: cfg.LoggerOutputPath,
		Console:    cfg.IsDevelopment(),
	}
}

// Init 构建全局 Logger 并接管 hertz 的 hlog。日志文件打不开时退回 stdout
func Init() {
	opts := OptionsFromConfig(&config.Cfg)

	hzLogger, closer, openErr := Build(opts)
	if openErr != nil {
		opts.OutputPath = "stdout"
		hzLogger, closer, _ = Build(opts)
	}
	logClose = closer

	hlog.SetLogger(hzLogger)
	hlog.SetLevel(toHlogLevel(parseZapLevel(opts.Level)))

	Logger = hzLogger.Logger()
	Logger.Info("Logger initialized",
		zap.String("level", strings.ToUpper(opts.Level)),
		zap.String("format", opts.Format),
		zap.String("environment", config.Cfg.Environment),
	)
	if openErr != nil {
		Logger.Warn("Failed to open log file, falling back to stdout", zap.Error(openErr))
	}
}

// Build 按 Options 创建 hertz zap logger，写文件时返回需要关闭的句柄
func Build(opts Options) (*hertzzap.Logger, io.Closer, error) {
	ws, closer, err := buildWriteSyncer(opts.OutputPath)
	if err != nil {
		return nil, nil, err
	}

	level := zap.NewAtomicLevelAt(parseZapLevel(opts.Level))
	hzLogger := hertzzap.NewLogger(
		hertzzap.WithCoreEnc(buildEncoder(opts)),
		hertzzap.WithCoreWs(ws),
		hertzzap.WithCoreLevel(level),
		hertzzap.WithZapOptions(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		),
	)
	return hzLogger, closer, nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
	if logClose != nil {
		_ = logClose.Close()
		logClose = nil
	}
}

func buildEncoder(opts Options) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if opts.Console || strings.EqualFold(opts.Format, "text") {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func buildWriteSyncer(path string) (zapcore.WriteSyncer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil, nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return zapcore.AddSync(file), file, nil
}

func parseZapLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toHlogLevel(level zapcore.Level) hlog.Level {
	switch level {
	case zapcore.DebugLevel:
		return hlog.LevelDebug
	case zapcore.WarnLevel:
		return hlog.LevelWarn
	case zapcore.ErrorLevel:
		return hlog.LevelError
	default:
		return hlog.LevelInfo
	}
}
