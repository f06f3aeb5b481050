// Package logger provides the global structured logger for loom.
//
// The runtime never logs through a package-level zap singleton of its own;
// components receive a *zap.SugaredLogger (usually a Named child of this one)
// at construction time so tests can inject zap.NewNop().
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process-wide sugared logger. Commands initialize it once
	// at startup; library code receives children of it via constructors.
	Logger *zap.SugaredLogger

	// JSONOutput tracks whether structured JSON output is enabled
	JSONOutput bool
)

func init() {
	// Safe no-op logger at package load time so the logger is usable
	// before Initialize() is called
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. jsonOutput selects machine-readable
// JSON; otherwise a human-readable console encoder is used. level accepts the
// usual zap level names ("debug", "info", "warn", "error").
func Initialize(jsonOutput bool, level string) error {
	JSONOutput = jsonOutput

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var zapLogger *zap.Logger
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(lvl)
		zapLogger, err = config.Build()
		if err != nil {
			return err
		}
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encCfg),
				zapcore.AddSync(os.Stdout),
				lvl,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// SetLevel rebuilds the global logger at a new level. Used by the config
// watcher to apply log-level changes without a restart.
func SetLevel(level string) error {
	return Initialize(JSONOutput, level)
}

// Named returns a child of the global logger for a component.
func Named(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
