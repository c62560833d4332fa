package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка логирования
//
// Назначение:
// Инициализация структурированного логирования через zap.
//
// Формат:
// - "json" - машиночитаемый вывод для production
// - "console"/"text" - человекочитаемый вывод для разработки
//
// Уровни: debug, info, warn, error

// InitLogger создаёт и настраивает zap logger
//
// Параметры:
//   - level: минимальный уровень ("debug", "info", "warn", "error")
//   - format: "json" или "console"
//
// Возвращает ошибку при неизвестном уровне логирования.
func InitLogger(level, format string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         normalizeFormat(format),
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	return cfg.Build()
}

// MustInitLogger - InitLogger с паникой при ошибке (для main)
func MustInitLogger(level, format string) *zap.Logger {
	logger, err := InitLogger(level, format)
	if err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}
	return logger
}

// parseLevel преобразует строковый уровень в zapcore.Level
func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", level)
	}
}

// normalizeFormat приводит формат к поддерживаемым zap кодировкам
func normalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		return "console"
	default:
		return "json"
	}
}
