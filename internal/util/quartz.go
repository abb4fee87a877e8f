package util

import (
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// QuartzLogger routes the go-quartz scheduler logs into zap
type QuartzLogger struct {
	logger *zap.SugaredLogger
	level  zapcore.Level
}

var _ logger.Logger = (*QuartzLogger)(nil)

func NewQuartzLogger(l *zap.Logger) *QuartzLogger {
	return &QuartzLogger{
		logger: l.With(zap.String("component", "quartz")).Sugar(),
		level:  l.Level(),
	}
}

func (l *QuartzLogger) Trace(msg any) {
	l.logger.Debug(msg)
}

func (l *QuartzLogger) Tracef(format string, args ...any) {
	l.logger.Debugf(format, args...)
}

func (l *QuartzLogger) Debug(msg any) {
	l.logger.Debug(msg)
}

func (l *QuartzLogger) Debugf(format string, args ...any) {
	l.logger.Debugf(format, args...)
}

func (l *QuartzLogger) Info(msg any) {
	l.logger.Info(msg)
}

func (l *QuartzLogger) Infof(format string, args ...any) {
	l.logger.Infof(format, args...)
}

func (l *QuartzLogger) Warn(msg any) {
	l.logger.Warn(msg)
}

func (l *QuartzLogger) Warnf(format string, args ...any) {
	l.logger.Warnf(format, args...)
}

func (l *QuartzLogger) Error(msg any) {
	l.logger.Error(msg)
}

func (l *QuartzLogger) Errorf(format string, args ...any) {
	l.logger.Errorf(format, args...)
}

func (l *QuartzLogger) Enabled(level logger.Level) bool {
	if level >= logger.LevelOff {
		return false
	}
	return l.level.Enabled(zapLevel(level))
}

func zapLevel(level logger.Level) zapcore.Level {
	switch {
	case level < logger.LevelInfo:
		return zapcore.DebugLevel
	case level < logger.LevelWarn:
		return zapcore.InfoLevel
	case level < logger.LevelError:
		return zapcore.WarnLevel
	}
	return zapcore.ErrorLevel
}
