// Package observability owns the process-wide zap logger used by the CLI.
// Library code does not reach for the global: the engine takes a
// *zap.Logger through an option and defaults to a no-op logger.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gookit/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jward/taintflow/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

var levelColors = map[zapcore.Level]color.Color{
	zapcore.DebugLevel:  color.Cyan,
	zapcore.InfoLevel:   color.Green,
	zapcore.WarnLevel:   color.Yellow,
	zapcore.ErrorLevel:  color.Red,
	zapcore.DPanicLevel: color.Magenta,
	zapcore.PanicLevel:  color.Magenta,
	zapcore.FatalLevel:  color.Magenta,
}

// Initialize builds the global logger once. Console output goes to
// consoleWriter in cfg.Format; when cfg.File is set a JSON copy is written
// to a rotating file as well. Later calls are no-ops until ResetForTest.
func Initialize(cfg config.LogConfig, name string, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{zapcore.NewCore(encoder(cfg.Format), consoleWriter, level)}
		if cfg.File != "" {
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
			cores = append(cores, zapcore.NewCore(encoder("json"), fileWriter, level))
		}

		logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
		if name != "" {
			logger = logger.Named(name)
		}
		globalLogger.Store(logger)
	})
}

// InitializeLogger is Initialize writing the console stream to stderr, so
// that command output on stdout stays machine readable.
func InitializeLogger(cfg config.LogConfig, name string) {
	Initialize(cfg, name, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func encoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format == "json" {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(encCfg)
	}
	encCfg.EncodeLevel = colorLevelEncoder
	encCfg.EncodeName = func(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(loggerName + ".")
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

// colorLevelEncoder renders the upper-case level name in its color. gookit
// drops the escape codes when the terminal does not support them.
func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	text := strings.ToUpper(level.String())
	if c, ok := levelColors[level]; ok {
		text = c.Sprint(text)
	}
	enc.AppendString(text)
}

// GetLogger returns the global logger, or a no-op logger before
// initialization.
func GetLogger() *zap.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Sync flushes buffered entries. Errors from syncing a terminal are
// expected on some platforms and ignored.
func Sync() {
	l := globalLogger.Load()
	if l == nil {
		return
	}
	if err := l.Sync(); err != nil {
		msg := err.Error()
		if !strings.Contains(msg, "/dev/std") &&
			!strings.Contains(msg, "invalid argument") &&
			!strings.Contains(msg, "inappropriate ioctl") {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}
