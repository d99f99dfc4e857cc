package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Init builds the process-wide logger and returns it.
// env "dev" selects the human-readable console encoder; anything else emits JSON.
// Every entry carries the service name so agent logs can be told apart when shipped together.
func Init(service, env, level string) *zap.Logger {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	built, err := cfg.Build(zap.AddCaller(), zap.Fields(zap.String("service", service)))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	mu.Lock()
	log = built
	sugar = built.Sugar()
	mu.Unlock()

	built.Info("logger.initialized",
		zap.String("env", env),
		zap.String("level", level))
	return built
}

// L returns the structured logger, initialising a dev logger on first use.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		return Init("portal-agent", "dev", "info")
	}
	return l
}

// S returns the sugared logger.
func S() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s == nil {
		return Init("portal-agent", "dev", "info").Sugar()
	}
	return s
}

// Named returns a child of L() scoped to a component, e.g. "pipeline".
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes buffered entries; defer it in main.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
