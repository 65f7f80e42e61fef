package piramid

import "go.uber.org/zap"

// Logger is the structured logging interface used throughout the engine.
// Components accept a Logger rather than a concrete type so callers can
// swap in their own backend; NopLogger is the default for library embedding.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps a *zap.Logger as a Logger. Passing nil falls back to
// zap's production logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l, _ = zap.NewProduction()
	}
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debug(msg string, keyvals ...any) { z.s.Debugw(msg, keyvals...) }
func (z *zapLogger) Info(msg string, keyvals ...any)  { z.s.Infow(msg, keyvals...) }
func (z *zapLogger) Warn(msg string, keyvals ...any)  { z.s.Warnw(msg, keyvals...) }
func (z *zapLogger) Error(msg string, keyvals ...any) { z.s.Errorw(msg, keyvals...) }

func (z *zapLogger) With(keyvals ...any) Logger {
	return &zapLogger{s: z.s.With(keyvals...)}
}

// nopLogger discards everything. It is the default so embedding this
// package never writes to a caller's stdout/stderr unasked.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any)    {}
func (nopLogger) Info(string, ...any)     {}
func (nopLogger) Warn(string, ...any)     {}
func (nopLogger) Error(string, ...any)    {}
func (n nopLogger) With(...any) Logger    { return n }

// NopLogger returns a Logger that discards all messages.
func NopLogger() Logger { return nopLogger{} }
