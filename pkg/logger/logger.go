package logger

import (
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig controls log output, loaded from environment via pkg/config
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`       // debug, info, warn, error
	Filename   string `env:"LOG_FILENAME"`    // log file path; empty means stdout only
	MaxSize    int    `env:"LOG_MAX_SIZE"`    // max size in MB per file before rotation
	MaxAge     int    `env:"LOG_MAX_AGE"`     // days to keep rotated files
	MaxBackups int    `env:"LOG_MAX_BACKUPS"` // rotated files to keep
}

// Lg is the global logger instance, available after Init
var Lg *zap.Logger

// Init builds the global logger. mode "production" switches to JSON encoding.
func Init(cfg *LogConfig, mode string) error {
	if cfg == nil {
		cfg = &LogConfig{}
	}

	level := zapcore.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if mode == "production" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	syncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if cfg.Filename != "" {
		maxSize := cfg.MaxSize
		if maxSize == 0 {
			maxSize = 100
		}
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	Lg = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return nil
}

// GetLogger returns the shared logger, falling back to a development
// logger when Init has not run yet.
func GetLogger() *zap.Logger {
	return get()
}

func get() *zap.Logger {
	if Lg == nil {
		Lg, _ = zap.NewDevelopment(zap.AddCallerSkip(1))
	}
	return Lg
}

// Debug logs a message at debug level
func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

// Info logs a message at info level
func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

// Warn logs a message at warn level
func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

// Error logs a message at error level
func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

// Sync flushes buffered log entries
func Sync() {
	if Lg != nil {
		_ = Lg.Sync()
	}
}
