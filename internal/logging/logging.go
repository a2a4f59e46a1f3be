// Package logging builds the process-wide zap logger and the structured
// field helper every agent in the core uses to tag its log lines.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a SugaredLogger for a process. Debug enables debug-level
// output; production deployments of the simulator run with it off.
func New(debug bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		// Logger construction only fails on a malformed config; ours is
		// static, so this is unreachable outside of a broken build.
		panic(err)
	}
	return logger.Sugar()
}

// Fields prefixes a component's structured log lines with its identity so
// that a single log stream can be correlated across agents. component is
// a short name ("ring", "store", "orders", ...); id is the agent's own
// identifier (endpoint string, user id, ...).
func Fields(component, id string, kv ...interface{}) []interface{} {
	fields := make([]interface{}, 0, len(kv)+4)
	fields = append(fields, "component", component, "id", id)
	fields = append(fields, kv...)
	return fields
}
