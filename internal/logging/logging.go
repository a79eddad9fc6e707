package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
)

func init() {
	// Sensible default so packages can log before Init runs (tests, CLI).
	// Level comes from LOG_LEVEL/DEBUG the same way the config file does.
	level := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if d := strings.ToLower(os.Getenv("DEBUG")); d == "1" || d == "true" || d == "yes" || d == "on" {
		level = "debug"
	}
	sugar = build(level, "console", "")
}

// Init configures the process-wide logger from configuration.
// format is "console" or "json"; outputPath optionally adds a log file
// alongside stdout.
func Init(level, format, outputPath string) {
	mu.Lock()
	defer mu.Unlock()
	sugar = build(level, format, outputPath)
}

func build(level, format, outputPath string) *zap.SugaredLogger {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = logLevel
	cfg.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		_ = os.MkdirAll(outputPath, 0o755)
		cfg.OutputPaths = append(cfg.OutputPaths, outputPath+"/pacs-index.log")
	}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}

func active() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// IsDebugEnabled reports whether debug messages will be emitted.
func IsDebugEnabled() bool {
	return active().Desugar().Core().Enabled(zap.DebugLevel)
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	active().Debugf(format, args...)
}

// Info logs an info message.
func Info(format string, args ...interface{}) {
	active().Infof(format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	active().Warnf(format, args...)
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	active().Errorf(format, args...)
}

// Fatal logs an error message and exits.
func Fatal(format string, args ...interface{}) {
	active().Fatalf(format, args...)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = active().Sync()
}
