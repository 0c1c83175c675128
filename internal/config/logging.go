package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents logging verbosity levels.
type LogLevel int

// Log level constants.
const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel parses a log level string.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LogLevelOff
	case "error":
		return LogLevelError
	case "info", "warn":
		return LogLevelInfo
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelError
	}
}

// String returns the string representation of a log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelOff:
		return "off"
	case LogLevelError:
		return "error"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "error"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelOff, LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Logger is a levelled printf-style logger backed by zap.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	atom     zap.AtomicLevel
	zl       *zap.Logger
	sugar    *zap.SugaredLogger
	file     *os.File
	filePath string
}

// NewLogger creates a logger writing to filePath. env "prod" selects JSON
// encoding; anything else uses the console encoder.
func NewLogger(level LogLevel, filePath, env string) (*Logger, error) {
	if level == LogLevelOff || filePath == "" {
		return NullLogger(), nil
	}

	filePath = ExpandHome(filePath)

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
		return nil, err
	}

	// #nosec G304 -- log file path is from validated config
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	logger := newLogger(level, zapcore.AddSync(f), env)
	logger.file = f
	logger.filePath = filePath
	return logger, nil
}

// NewWriterLogger creates a logger writing to w.
func NewWriterLogger(level LogLevel, w io.Writer, env string) *Logger {
	if level == LogLevelOff {
		return NullLogger()
	}
	return newLogger(level, zapcore.AddSync(w), env)
}

func newLogger(level LogLevel, ws zapcore.WriteSyncer, env string) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	var encoder zapcore.Encoder
	if env == "prod" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	zl := zap.New(zapcore.NewCore(encoder, ws, atom))
	return &Logger{
		level: level,
		atom:  atom,
		zl:    zl,
		sugar: zl.Sugar(),
	}
}

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	zl := zap.NewNop()
	return &Logger{
		level: LogLevelOff,
		atom:  zap.NewAtomicLevelAt(zapcore.FatalLevel),
		zl:    zl,
		sugar: zl.Sugar(),
	}
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.zl.Sync()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	if level == LogLevelOff {
		l.atom.SetLevel(zapcore.FatalLevel)
		return
	}
	l.atom.SetLevel(level.zapLevel())
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Zap returns the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

// Writer returns an io.Writer that writes to the logger at the specified level.
func (l *Logger) Writer(level LogLevel) io.Writer {
	return &logWriter{logger: l, level: level}
}

// logWriter implements io.Writer for the logger.
type logWriter struct {
	logger *Logger
	level  LogLevel
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	switch w.level {
	case LogLevelDebug:
		w.logger.Debug("%s", msg)
	case LogLevelInfo:
		w.logger.Info("%s", msg)
	case LogLevelOff:
	case LogLevelError:
		w.logger.Error("%s", msg)
	default:
		w.logger.Error("%s", msg)
	}
	return len(p), nil
}
