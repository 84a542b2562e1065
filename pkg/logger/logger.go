package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// serviceName is stamped on every log line so aggregated logs from the wider
// platform can be filtered down to the battle core.
const serviceName = "learnyzer-battle"

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

// Init builds the global logger at the given level. An unrecognised level
// string falls back to info so a bad config value never silences logging.
func Init(level string) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	global = built
	return nil
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the owning module, the
// convention every package in this service logs under.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}
