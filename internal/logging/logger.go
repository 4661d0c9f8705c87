package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(levelStr string) Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger writes one JSON object per line. Printf-style methods log the formatted text as msg;
// the w-suffixed methods take an event name and a field map.
type Logger struct {
	level Level
	z     *zap.Logger
}

func NewLogger(levelStr string) *Logger {
	return NewLoggerWithWriter(levelStr, os.Stdout)
}

func NewLoggerWithWriter(levelStr string, w io.Writer) *Logger {
	level := ParseLevel(levelStr)
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level.zapLevel())
	return &Logger{level: level, z: zap.New(core)}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{level: LevelError, z: zap.NewNop()}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{level: l.level, z: l.z.With(zap.String("component", component))}
}

func (l *Logger) Level() Level { return l.level }

func (l *Logger) Debug(format string, args ...interface{}) {
	l.z.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.z.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.z.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.z.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.z.Error(fmt.Sprintf(format, args...))
	_ = l.z.Sync()
	os.Exit(1)
}

func (l *Logger) Debugw(event string, fields map[string]any) {
	l.z.Debug(event, toFields(fields)...)
}

func (l *Logger) Infow(event string, fields map[string]any) {
	l.z.Info(event, toFields(fields)...)
}

func (l *Logger) Warnw(event string, fields map[string]any) {
	l.z.Warn(event, toFields(fields)...)
}

func (l *Logger) Errorw(event string, fields map[string]any) {
	l.z.Error(event, toFields(fields)...)
}

func (l *Logger) Sync() error {
	return l.z.Sync()
}

func toFields(fields map[string]any) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
