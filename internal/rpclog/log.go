// Package rpclog is streamrpc's equivalent of grpc-go's grpclog package: a
// small indirection so the engines never call a concrete logging library
// directly, backed here by go.uber.org/zap instead of the standard log
// package.
package rpclog

import (
	"sync"

	"go.uber.org/zap"
)

// Logger is the minimal structured-logging surface the engines need.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

var (
	mu      sync.RWMutex
	current Logger = newDefault()
)

func newDefault() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &zapLogger{s: z.Sugar()}
}

// SetLogger replaces the process-wide logger used by every engine that
// hasn't been given one explicitly via Config.Logger. Like
// encoding.RegisterCodec, it is meant to be called at init time and is not
// safe to race against concurrent logging.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Default returns the current process-wide logger.
func Default() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Nop returns a Logger that discards everything, for tests that don't want
// log noise.
func Nop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}
