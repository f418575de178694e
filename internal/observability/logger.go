package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logRotationTime = 24 * time.Hour
	logMaxAge       = 7 * 24 * time.Hour
)

type LogConfig struct {
	Level string
	Dev   bool
	File  string
}

func LogConfigFromEnv() LogConfig {
	dev := os.Getenv("LOG_DEV") == "1"
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		if dev {
			level = "debug"
		} else {
			level = "info"
		}
	}
	return LogConfig{Level: level, Dev: dev, File: strings.TrimSpace(os.Getenv("LOG_FILE"))}
}

func levelFromString(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds the process logger. JSON goes to stdout and, when File is
// set, to a daily-rotated file as well. The returned closer releases the file.
func NewLogger(cfg LogConfig) (*zap.Logger, io.Closer, error) {
	level := levelFromString(cfg.Level)

	var encoder zapcore.Encoder
	if cfg.Dev {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)}
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rotator, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithRotationTime(logRotationTime),
			rotatelogs.WithMaxAge(logMaxAge),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		fileEncoderCfg := zap.NewProductionEncoderConfig()
		fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), zapcore.AddSync(rotator), level))
		closer = rotator
	}

	options := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Dev {
		options = append(options, zap.Development())
	}

	return zap.New(zapcore.NewTee(cores...), options...), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
