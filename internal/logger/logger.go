package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger with a debug flag
type Logger struct {
	debug bool
	*zap.SugaredLogger
}

// New creates a new logger writing to stderr when debug is enabled
func New(debug bool) *Logger {
	var writer io.Writer = io.Discard
	if debug {
		writer = os.Stderr
	}
	return NewWithWriter(debug, writer)
}

// NewWithWriter creates a logger writing console-encoded lines to w.
// Info and above are always written; Debugw and Printf only in debug mode.
func NewWithWriter(debug bool, w io.Writer) *Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return &Logger{
		debug:         debug,
		SugaredLogger: zap.New(core).Sugar(),
	}
}

// Nop returns a logger that discards everything, handy in tests
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// Named returns a child logger tagged with a subsystem name
func (l *Logger) Named(name string) *Logger {
	return &Logger{debug: l.debug, SugaredLogger: l.SugaredLogger.Named(name)}
}

// Printf logs if debug is enabled
func (l *Logger) Printf(format string, v ...interface{}) {
	if l.debug {
		l.SugaredLogger.Infof(format, v...)
	}
}

// Println logs if debug is enabled
func (l *Logger) Println(v ...interface{}) {
	if l.debug {
		l.SugaredLogger.Infoln(v...)
	}
}

// Fatalf always logs (fatal errors)
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.SugaredLogger.Fatalf(format, v...)
}

// IsDebug reports whether debug output is enabled
func (l *Logger) IsDebug() bool {
	return l.debug
}
